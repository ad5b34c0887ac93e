package keystone

import (
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal/mfa"
	"github.com/MrEthical07/keystone/jwt"
	"github.com/MrEthical07/keystone/session"
)

// RegisterRequest is the input to [Engine.Register].
type RegisterRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// Profile is the public view of a user. It never carries credential
// material or tokens.
type Profile struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	MFAEnabled    bool       `json:"mfa_enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func profileFrom(u domain.User) *Profile {
	return &Profile{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
		MFAEnabled:    u.MFAEnabled,
		CreatedAt:     u.CreatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

// TokenPair is an access token plus its rotating refresh token.
type TokenPair = session.TokenPair

// AccessClaims are the verified claims of an access token.
type AccessClaims = jwt.AccessClaims

// PurgeReport counts rows removed by [Engine.PurgeExpired].
type PurgeReport = domain.PurgeReport

// LoginResult is either a full token pair or an MFA challenge, never both.
type LoginResult struct {
	UserID string `json:"user_id"`

	MFARequired     bool      `json:"mfa_required"`
	MFASessionToken string    `json:"mfa_session_token,omitempty"`
	MFAExpiresAt    time.Time `json:"mfa_expires_at,omitempty"`

	Tokens *TokenPair `json:"tokens,omitempty"`
}

// MFACodeKind selects TOTP or backup-code verification in
// [Engine.CompleteMFA].
type MFACodeKind = mfa.CodeKind

const (
	MFACodeTOTP   = mfa.CodeTOTP
	MFACodeBackup = mfa.CodeBackup
)

// MFAState is a user's enrollment state.
type MFAState = mfa.State

const (
	MFAUnenrolled = mfa.StateUnenrolled
	MFAPending    = mfa.StatePending
	MFAEnabled    = mfa.StateEnabled
)

// MFASetup carries the freshly generated TOTP secret and its otpauth://
// provisioning URI. Show it once; it is stored sealed.
type MFASetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}
