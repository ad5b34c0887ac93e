package domain

import "time"

// TokenKind identifies the purpose of a single-use verification token.
type TokenKind string

const (
	// KindEmailVerification tokens confirm ownership of an email address.
	KindEmailVerification TokenKind = "email_verification"
	// KindPasswordReset tokens authorize a credential replacement.
	KindPasswordReset TokenKind = "password_reset"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	return k == KindEmailVerification || k == KindPasswordReset
}

// User is the identity root. It is never hard-deleted by the core.
type User struct {
	ID            string
	Email         string
	Username      string
	DisplayName   string
	EmailVerified bool
	VerifiedAt    *time.Time
	Active        bool
	MFAEnabled    bool
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PasswordCredential is the single active password hash for a user.
type PasswordCredential struct {
	UserID    string
	Hash      string
	UpdatedAt time.Time
}

// RefreshToken is the persisted form of a refresh token. Only the SHA-256
// hash of the token value is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash [32]byte
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
	// ReplacedBy is the id of the successor when the token was revoked by
	// rotation. Logout and revoke-all leave it empty.
	ReplacedBy string
}

// Usable reports whether the token is unrevoked and unexpired at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Rotated reports whether the token was revoked because it was exchanged
// for a successor.
func (t RefreshToken) Rotated() bool {
	return t.RevokedAt != nil && t.ReplacedBy != ""
}

// VerificationToken is a single-use email verification or password reset
// token. Only the SHA-256 hash of the token value is stored.
type VerificationToken struct {
	ID        string
	UserID    string
	Kind      TokenKind
	TokenHash [32]byte
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token is unused and unexpired at now.
func (t VerificationToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// MFAEnrollment holds the sealed TOTP secret for a user.
type MFAEnrollment struct {
	UserID       string
	SealedSecret []byte
	Enabled      bool
	LastUsedStep int64
	LastUsedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BackupCode is one hashed MFA recovery code.
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  [32]byte
	UsedAt    *time.Time
	CreatedAt time.Time
}

// PurgeReport summarizes one maintenance sweep.
type PurgeReport struct {
	VerificationTokens int64
	RefreshTokens      int64
}
