package keystone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/keystone/domain"
)

const newTestPassword = "Bb2@bbbb"

func TestResetPasswordRevokesEverySession(t *testing.T) {
	h := newTestHarness(t, testConfig())
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice")

	r1 := h.login(t, "alice@example.com", testPassword)
	r2 := h.login(t, "alice@example.com", testPassword)

	if err := h.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	token := h.lastToken(t, domain.NotifyPasswordReset, "alice@example.com")
	if !h.engine.ValidateResetToken(ctx, token) {
		t.Fatal("expected live reset token")
	}
	if !h.engine.ValidateResetToken(ctx, token) {
		t.Fatal("ValidateResetToken must not consume the token")
	}

	if err := h.engine.ResetPassword(ctx, token, newTestPassword); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	for name, pair := range map[string]*TokenPair{"R1": r1, "R2": r2} {
		if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken after reset, got %v", name, err)
		}
	}
	if _, err := h.engine.Login(ctx, "alice@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	h.login(t, "alice@example.com", newTestPassword)

	if err := h.engine.ResetPassword(ctx, token, "Cc3#cccc"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on replay, got %v", err)
	}
	if h.engine.ValidateResetToken(ctx, token) {
		t.Fatal("redeemed token must not validate")
	}
	waitFor(t, "password changed notice", func() bool {
		return len(h.notes.matching(domain.NotifyPasswordChanged, "alice@example.com")) == 1
	})
}

func TestResetPasswordPolicyFailureKeepsToken(t *testing.T) {
	h := newTestHarness(t, testConfig())
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice")

	if err := h.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	token := h.lastToken(t, domain.NotifyPasswordReset, "alice@example.com")

	if err := h.engine.ResetPassword(ctx, token, "weak"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !h.engine.ValidateResetToken(ctx, token) {
		t.Fatal("a rejected password must not spend the token")
	}
}

func TestResetTokenExpires(t *testing.T) {
	h := newTestHarness(t, testConfig())
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice")

	if err := h.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	token := h.lastToken(t, domain.NotifyPasswordReset, "alice@example.com")
	h.clock.Advance(time.Hour)

	if h.engine.ValidateResetToken(ctx, token) {
		t.Fatal("token must be dead at its expiry instant")
	}
	if err := h.engine.ResetPassword(ctx, token, newTestPassword); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	cfg := testConfig()
	cfg.Tokens.EnumerationFloor = 40 * time.Millisecond
	h := newTestHarness(t, cfg)
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice")
	h.register(t, "bob@example.com", "bob")
	if err := h.store.SetActive(ctx, mustUserID(t, h, "bob@example.com"), false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	for _, email := range []string{"alice@example.com", "nobody@example.com", "bob@example.com"} {
		start := time.Now()
		if err := h.engine.ForgotPassword(ctx, email); err != nil {
			t.Fatalf("ForgotPassword(%s) returned %v", email, err)
		}
		if elapsed := time.Since(start); elapsed < cfg.Tokens.EnumerationFloor {
			t.Fatalf("ForgotPassword(%s) returned after %s, before the latency floor", email, elapsed)
		}
	}

	h.engine.Close()
	if n := len(h.notes.matching(domain.NotifyPasswordReset, "alice@example.com")); n != 1 {
		t.Fatalf("expected one reset mail for alice, got %d", n)
	}
	for _, email := range []string{"nobody@example.com", "bob@example.com"} {
		if n := len(h.notes.matching(domain.NotifyPasswordReset, email)); n != 0 {
			t.Fatalf("expected no reset mail for %s, got %d", email, n)
		}
	}
}

func TestForgotPasswordHourlyCap(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	h := newTestHarness(t, cfg)
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice")

	for i := 0; i < cfg.Tokens.MaxResetPerHour+2; i++ {
		if err := h.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
			t.Fatalf("ForgotPassword #%d returned %v", i+1, err)
		}
	}
	h.clock.Advance(time.Hour + time.Second)
	if err := h.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword after the window returned %v", err)
	}

	h.engine.Close()
	want := cfg.Tokens.MaxResetPerHour + 1
	if n := len(h.notes.matching(domain.NotifyPasswordReset, "alice@example.com")); n != want {
		t.Fatalf("expected %d reset mails, got %d", want, n)
	}
}

func TestChangePassword(t *testing.T) {
	h := newTestHarness(t, testConfig())
	ctx := context.Background()
	profile := h.register(t, "alice@example.com", "alice")
	pair := h.login(t, "alice@example.com", testPassword)

	if err := h.engine.ChangePassword(ctx, profile.ID, "wrong-Password1!", newTestPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	err := h.engine.ChangePassword(ctx, profile.ID, testPassword, testPassword)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields[0].Rule != "reuse" {
		t.Fatalf("expected reuse violation, got %v", err)
	}

	if err := h.engine.ChangePassword(ctx, profile.ID, testPassword, newTestPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected sessions revoked after change, got %v", err)
	}
	h.login(t, "alice@example.com", newTestPassword)

	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricPasswordChangeInvalidOld] != 1 || snap.Counters[MetricPasswordChangeReuseRejected] != 1 || snap.Counters[MetricPasswordChangeSuccess] != 1 {
		t.Fatalf("unexpected password change counters: %+v", snap.Counters)
	}
}

func mustUserID(t *testing.T, h *testHarness, email string) string {
	t.Helper()
	u, err := h.store.GetUserByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("GetUserByEmail(%s) failed: %v", email, err)
	}
	return u.ID
}
