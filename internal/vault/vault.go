// Package vault issues, redeems, and revokes opaque bearer tokens: single-use
// verification and reset tokens, and rotating refresh tokens.
//
// Only SHA-256 digests reach storage. Every consume is a conditional update
// in the repository so concurrent duplicates yield exactly one winner.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal"
	"github.com/google/uuid"
)

// Config controls token lifetimes.
type Config struct {
	RefreshTTL time.Duration
	// ReuseGrace is how long after a rotation the old token is rejected
	// without being treated as stolen. It absorbs a client retrying the
	// same refresh concurrently.
	ReuseGrace time.Duration
}

// Vault is the token lifecycle component.
type Vault struct {
	repo   domain.TokenRepository
	clock  domain.Clock
	random io.Reader
	cfg    Config
}

// New wires a Vault.
func New(repo domain.TokenRepository, clock domain.Clock, random io.Reader, cfg Config) (*Vault, error) {
	if repo == nil {
		return nil, domain.ErrEngineNotReady
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("vault: refresh ttl must be > 0")
	}
	if cfg.ReuseGrace < 0 {
		return nil, errors.New("vault: reuse grace must be >= 0")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if random == nil {
		random = domain.SystemRandom
	}
	return &Vault{repo: repo, clock: clock, random: random, cfg: cfg}, nil
}

// Issue creates a verification token of kind for userID and returns the
// plaintext. This is the only time the plaintext exists outside the caller.
func (v *Vault) Issue(ctx context.Context, userID string, kind domain.TokenKind, ttl time.Duration) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("vault: unknown token kind %q", kind)
	}
	if ttl <= 0 {
		return "", errors.New("vault: ttl must be > 0")
	}

	token, hash, err := internal.NewOpaqueToken(v.random)
	if err != nil {
		return "", fmt.Errorf("vault: generate token: %w", err)
	}
	id, err := uuid.NewRandomFromReader(v.random)
	if err != nil {
		return "", fmt.Errorf("vault: generate id: %w", err)
	}

	now := v.clock.Now()
	if err := v.repo.InsertVerificationToken(ctx, domain.VerificationToken{
		ID:        id.String(),
		UserID:    userID,
		Kind:      kind,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}); err != nil {
		return "", err
	}
	return token, nil
}

// Burn performs the same generation work as Issue without persisting
// anything. Anti-enumeration paths use it to match Issue's cost.
func (v *Vault) Burn() {
	_, _, _ = internal.NewOpaqueToken(v.random)
	_, _ = uuid.NewRandomFromReader(v.random)
}

// Redeem consumes token and returns its user. Malformed, unknown,
// wrong-kind, used and expired tokens all yield domain.ErrInvalidToken.
func (v *Vault) Redeem(ctx context.Context, token string, kind domain.TokenKind) (string, error) {
	rec, err := v.lookup(ctx, token, kind)
	if err != nil {
		return "", err
	}

	now := v.clock.Now()
	if !rec.Usable(now) {
		return "", domain.ErrInvalidToken
	}

	ok, err := v.repo.ConsumeVerificationToken(ctx, rec.ID, now)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrInvalidToken
	}
	return rec.UserID, nil
}

// ValidateWithoutConsuming reports whether token would currently redeem.
// Only infrastructure failures are errors.
func (v *Vault) ValidateWithoutConsuming(ctx context.Context, token string, kind domain.TokenKind) (bool, error) {
	rec, err := v.lookup(ctx, token, kind)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return false, nil
		}
		return false, err
	}
	return rec.Usable(v.clock.Now()), nil
}

// CountIssuedSince counts tokens of kind issued to userID at or after since.
func (v *Vault) CountIssuedSince(ctx context.Context, userID string, kind domain.TokenKind, since time.Time) (int64, error) {
	return v.repo.CountVerificationTokensSince(ctx, userID, kind, since)
}

// InvalidateOutstanding marks every unused token of kind for userID as used.
func (v *Vault) InvalidateOutstanding(ctx context.Context, userID string, kind domain.TokenKind) error {
	_, err := v.repo.InvalidateVerificationTokens(ctx, userID, kind, v.clock.Now())
	return err
}

func (v *Vault) lookup(ctx context.Context, token string, kind domain.TokenKind) (domain.VerificationToken, error) {
	hash, err := internal.HashOpaqueToken(token)
	if err != nil {
		return domain.VerificationToken{}, domain.ErrInvalidToken
	}
	rec, err := v.repo.GetVerificationToken(ctx, kind, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.VerificationToken{}, domain.ErrInvalidToken
		}
		return domain.VerificationToken{}, err
	}
	if rec.Kind != kind {
		return domain.VerificationToken{}, domain.ErrInvalidToken
	}
	return rec, nil
}

// PurgeExpired deletes rows that can never redeem again and were created
// before now-grace. It is idempotent and safe to run from several
// instances at once.
func (v *Vault) PurgeExpired(ctx context.Context, grace time.Duration) (domain.PurgeReport, error) {
	if grace < 0 {
		grace = 0
	}
	now := v.clock.Now()
	return v.repo.PurgeTokens(ctx, now, now.Add(-grace))
}
