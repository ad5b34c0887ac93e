package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal/vault"
	"github.com/MrEthical07/keystone/jwt"
	"github.com/MrEthical07/keystone/storage"
)

func newTestIssuer(t *testing.T) (*Issuer, *domain.ManualClock) {
	t.Helper()
	clock := domain.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	v, err := vault.New(storage.NewMemory(), clock, nil, vault.Config{RefreshTTL: 14 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("session-test-secret-0123456789abcdef"),
		Issuer:        "keystone",
		Audience:      "api",
	}, clock, nil)
	if err != nil {
		t.Fatalf("jwt.NewManager: %v", err)
	}
	iss, err := NewIssuer(m, v)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss, clock
}

func TestIssueTokensPair(t *testing.T) {
	iss, clock := newTestIssuer(t)
	pair, err := iss.IssueTokens(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}
	if pair.ExpiresIn != 900 {
		t.Fatalf("expected 900s expiry, got %d", pair.ExpiresIn)
	}
	if !pair.RefreshExpiresAt.Equal(clock.Now().Add(14 * 24 * time.Hour)) {
		t.Fatalf("unexpected refresh expiry %v", pair.RefreshExpiresAt)
	}
	claims, err := iss.ValidateAccess(pair.AccessToken)
	if err != nil || claims.UserID() != "u1" {
		t.Fatalf("ValidateAccess: claims=%+v err=%v", claims, err)
	}
}

func TestRefreshRotatesAndReportsReuse(t *testing.T) {
	iss, _ := newTestIssuer(t)
	ctx := context.Background()

	first, err := iss.IssueTokens(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}
	second, uid, err := iss.Refresh(ctx, first.RefreshToken)
	if err != nil || uid != "u1" {
		t.Fatalf("Refresh: uid=%q err=%v", uid, err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	_, uid, err = iss.Refresh(ctx, first.RefreshToken)
	if !errors.Is(err, domain.ErrTokenReuse) || uid != "u1" {
		t.Fatalf("expected reuse for u1, got uid=%q err=%v", uid, err)
	}

	if _, _, err := iss.Refresh(ctx, "not-a-token"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeAndRevokeAll(t *testing.T) {
	iss, _ := newTestIssuer(t)
	ctx := context.Background()

	a, _ := iss.IssueTokens(ctx, "u1")
	b, _ := iss.IssueTokens(ctx, "u1")

	owner, err := iss.Revoke(ctx, a.RefreshToken)
	if err != nil || owner != "u1" {
		t.Fatalf("Revoke: owner=%q err=%v", owner, err)
	}
	if owner, err := iss.Revoke(ctx, a.RefreshToken); err != nil || owner != "u1" {
		t.Fatalf("second Revoke must be a no-op: owner=%q err=%v", owner, err)
	}

	n, err := iss.RevokeAll(ctx, "u1")
	if err != nil || n != 1 {
		t.Fatalf("RevokeAll: n=%d err=%v", n, err)
	}
	if _, _, err := iss.Refresh(ctx, b.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("revoked token must not refresh, got %v", err)
	}
}

func TestAccessTokenExpiresWithClock(t *testing.T) {
	iss, clock := newTestIssuer(t)
	pair, err := iss.IssueTokens(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}
	clock.Advance(16 * time.Minute)
	if _, err := iss.ValidateAccess(pair.AccessToken); !errors.Is(err, domain.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}
