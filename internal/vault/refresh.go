package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal"
	"github.com/google/uuid"
)

// Rotation is the result of a successful refresh-token rotation.
type Rotation struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// IssueRefresh creates a refresh token for userID.
func (v *Vault) IssueRefresh(ctx context.Context, userID string) (string, time.Time, error) {
	rec, token, err := v.newRefresh(userID)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := v.repo.InsertRefreshToken(ctx, rec); err != nil {
		return "", time.Time{}, err
	}
	return token, rec.ExpiresAt, nil
}

// RotateRefresh revokes old and issues its replacement atomically.
//
// Unknown, expired, or logged-out input yields domain.ErrInvalidToken, as
// does losing a concurrent rotation of the same token. A token that was
// already rotated, presented after the reuse grace, yields
// domain.ErrTokenReuse together with the owning user id, so the caller can
// revoke every session for that user.
func (v *Vault) RotateRefresh(ctx context.Context, old string) (Rotation, error) {
	rec, err := v.lookupRefresh(ctx, old)
	if err != nil {
		return Rotation{}, err
	}

	now := v.clock.Now()
	if rec.RevokedAt != nil {
		if rec.Rotated() && now.Sub(*rec.RevokedAt) >= v.cfg.ReuseGrace {
			return Rotation{UserID: rec.UserID}, domain.ErrTokenReuse
		}
		return Rotation{}, domain.ErrInvalidToken
	}
	if !rec.Usable(now) {
		return Rotation{}, domain.ErrInvalidToken
	}

	next, token, err := v.newRefresh(rec.UserID)
	if err != nil {
		return Rotation{}, err
	}
	ok, err := v.repo.RotateRefreshToken(ctx, rec.ID, next, now)
	if err != nil {
		return Rotation{}, err
	}
	if !ok {
		// Lost the race to a concurrent rotation or revocation.
		return Rotation{}, domain.ErrInvalidToken
	}
	return Rotation{UserID: rec.UserID, Token: token, ExpiresAt: next.ExpiresAt}, nil
}

// RevokeRefresh invalidates a single refresh token. Unknown and already
// revoked tokens are not errors.
func (v *Vault) RevokeRefresh(ctx context.Context, token string) (string, error) {
	rec, err := v.lookupRefresh(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return "", nil
		}
		return "", err
	}
	if _, err := v.repo.RevokeRefreshToken(ctx, rec.ID, v.clock.Now()); err != nil {
		return "", err
	}
	return rec.UserID, nil
}

// RevokeAll invalidates every refresh token for userID and reports how
// many were live.
func (v *Vault) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return v.repo.RevokeAllRefreshTokens(ctx, userID, v.clock.Now())
}

func (v *Vault) newRefresh(userID string) (domain.RefreshToken, string, error) {
	token, hash, err := internal.NewOpaqueToken(v.random)
	if err != nil {
		return domain.RefreshToken{}, "", fmt.Errorf("vault: generate refresh token: %w", err)
	}
	id, err := uuid.NewRandomFromReader(v.random)
	if err != nil {
		return domain.RefreshToken{}, "", fmt.Errorf("vault: generate id: %w", err)
	}
	now := v.clock.Now()
	return domain.RefreshToken{
		ID:        id.String(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: now.Add(v.cfg.RefreshTTL),
		CreatedAt: now,
	}, token, nil
}

func (v *Vault) lookupRefresh(ctx context.Context, token string) (domain.RefreshToken, error) {
	hash, err := internal.HashOpaqueToken(token)
	if err != nil {
		return domain.RefreshToken{}, domain.ErrInvalidToken
	}
	rec, err := v.repo.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RefreshToken{}, domain.ErrInvalidToken
		}
		return domain.RefreshToken{}, err
	}
	return rec, nil
}
