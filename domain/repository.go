package domain

import (
	"context"
	"time"
)

// UserRepository persists User rows. Lookups return ErrNotFound when no row
// matches. Create returns ErrConflict when the email or username is taken.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	// CreateUserWithCredential inserts user and its password credential in
	// one transaction. On error neither row is stored.
	CreateUserWithCredential(ctx context.Context, user User, cred PasswordCredential) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	EmailOrUsernameTaken(ctx context.Context, email, username string) (emailTaken, usernameTaken bool, err error)
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
	SetMFAEnabled(ctx context.Context, userID string, enabled bool) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// CredentialRepository persists password hashes. UpsertCredential replaces
// the stored hash in a single statement.
type CredentialRepository interface {
	UpsertCredential(ctx context.Context, cred PasswordCredential) error
	GetCredential(ctx context.Context, userID string) (PasswordCredential, error)
}

// TokenRepository persists verification and refresh tokens.
//
// Every consume method is a conditional update; it reports false when another
// caller already consumed the row or the row expired, and never errors for
// that case.
type TokenRepository interface {
	InsertVerificationToken(ctx context.Context, token VerificationToken) error
	GetVerificationToken(ctx context.Context, kind TokenKind, hash [32]byte) (VerificationToken, error)
	ConsumeVerificationToken(ctx context.Context, id string, now time.Time) (bool, error)
	InvalidateVerificationTokens(ctx context.Context, userID string, kind TokenKind, now time.Time) (int64, error)
	CountVerificationTokensSince(ctx context.Context, userID string, kind TokenKind, since time.Time) (int64, error)

	InsertRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshToken(ctx context.Context, hash [32]byte) (RefreshToken, error)
	// RotateRefreshToken revokes oldID and inserts next in one transaction.
	// It reports false, and inserts nothing, when oldID was already revoked
	// or expired.
	RotateRefreshToken(ctx context.Context, oldID string, next RefreshToken, now time.Time) (bool, error)
	RevokeRefreshToken(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)

	PurgeTokens(ctx context.Context, now, createdBefore time.Time) (PurgeReport, error)
}

// MFARepository persists TOTP enrollments and backup codes.
type MFARepository interface {
	UpsertEnrollment(ctx context.Context, enrollment MFAEnrollment) error
	GetEnrollment(ctx context.Context, userID string) (MFAEnrollment, error)
	// EnableEnrollment flips a pending enrollment to enabled and records
	// step. It reports false when the enrollment is missing or already
	// enabled.
	EnableEnrollment(ctx context.Context, userID string, step int64, at time.Time) (bool, error)
	// AdvanceTOTPStep records step only if it is greater than the stored
	// last-used step.
	AdvanceTOTPStep(ctx context.Context, userID string, step int64, at time.Time) (bool, error)
	DeleteEnrollment(ctx context.Context, userID string) error

	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCode) error
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, at time.Time) (bool, error)
	CountUnusedBackupCodes(ctx context.Context, userID string) (int64, error)
	DeleteBackupCodes(ctx context.Context, userID string) error
}

// Persistence is the full storage contract consumed by the engine.
type Persistence interface {
	UserRepository
	CredentialRepository
	TokenRepository
	MFARepository
}
