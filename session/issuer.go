package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal/vault"
	"github.com/MrEthical07/keystone/jwt"
)

// TokenPair is the credential bundle handed to a client after a completed
// login or a refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Issuer mints access tokens through a jwt.Manager and refresh tokens
// through the token vault.
type Issuer struct {
	access *jwt.Manager
	vault  *vault.Vault
}

// NewIssuer wires an Issuer.
func NewIssuer(access *jwt.Manager, v *vault.Vault) (*Issuer, error) {
	if access == nil || v == nil {
		return nil, domain.ErrEngineNotReady
	}
	return &Issuer{access: access, vault: v}, nil
}

// IssueTokens creates a fresh pair for an authenticated user.
func (i *Issuer) IssueTokens(ctx context.Context, userID string) (*TokenPair, error) {
	refresh, refreshExp, err := i.vault.IssueRefresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	return i.pair(userID, refresh, refreshExp)
}

// Refresh rotates old and returns the new pair with its owner. When the
// vault reports reuse, the owner is returned alongside
// domain.ErrTokenReuse so the caller can revoke the user's sessions.
func (i *Issuer) Refresh(ctx context.Context, old string) (*TokenPair, string, error) {
	rot, err := i.vault.RotateRefresh(ctx, old)
	if err != nil {
		if errors.Is(err, domain.ErrTokenReuse) {
			return nil, rot.UserID, err
		}
		return nil, "", err
	}
	pair, err := i.pair(rot.UserID, rot.Token, rot.ExpiresAt)
	if err != nil {
		return nil, rot.UserID, err
	}
	return pair, rot.UserID, nil
}

// Revoke invalidates one refresh token and returns its owner, or "" when
// the token was unknown.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) (string, error) {
	return i.vault.RevokeRefresh(ctx, refreshToken)
}

// RevokeAll invalidates every refresh token of userID.
func (i *Issuer) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return i.vault.RevokeAll(ctx, userID)
}

// ValidateAccess checks an access token without touching storage.
func (i *Issuer) ValidateAccess(token string) (*jwt.AccessClaims, error) {
	return i.access.ValidateAccess(token)
}

func (i *Issuer) pair(userID, refresh string, refreshExp time.Time) (*TokenPair, error) {
	access, _, err := i.access.CreateAccess(userID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(i.access.AccessTTL() / time.Second),
		RefreshExpiresAt: refreshExp,
	}, nil
}
