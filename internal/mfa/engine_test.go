package mfa

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/storage"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func newTestEngine(t *testing.T) (*Engine, *domain.ManualClock) {
	t.Helper()
	sealer, err := NewSealer(bytes.Repeat([]byte{0x42}, 32), rand.Reader)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	clock := domain.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e, err := New(storage.NewMemory(), sealer, clock, rand.Reader, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e, clock
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

func enroll(t *testing.T, e *Engine, clock *domain.ManualClock, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := e.BeginSetup(ctx, userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	codes, err := e.VerifySetup(ctx, userID, codeAt(t, setup.Secret, clock.Now()))
	if err != nil {
		t.Fatalf("VerifySetup failed: %v", err)
	}
	return setup.Secret, codes
}

func TestSetupLifecycle(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	st, err := e.Status(ctx, "u1")
	if err != nil || st != StateUnenrolled {
		t.Fatalf("expected unenrolled, got %q err=%v", st, err)
	}

	setup, err := e.BeginSetup(ctx, "u1", "alice@example.com")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") || setup.Secret == "" {
		t.Fatalf("unexpected setup %+v", setup)
	}
	if st, _ := e.Status(ctx, "u1"); st != StatePending {
		t.Fatalf("expected pending, got %q", st)
	}

	if _, err := e.VerifySetup(ctx, "u1", wrongCode(codeAt(t, setup.Secret, clock.Now()))); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	codes, err := e.VerifySetup(ctx, "u1", codeAt(t, setup.Secret, clock.Now()))
	if err != nil {
		t.Fatalf("VerifySetup failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}
	for _, c := range codes {
		if len(c) != 11 || c[5] != '-' {
			t.Fatalf("unexpected code format %q", c)
		}
	}

	if _, err := e.BeginSetup(ctx, "u1", "alice@example.com"); !errors.Is(err, domain.ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}
	if st, _ := e.Status(ctx, "u1"); st != StateEnabled {
		t.Fatalf("expected enabled, got %q", st)
	}
}

// wrongCode returns code with its last digit changed.
func wrongCode(code string) string {
	b := []byte(code)
	b[len(b)-1] = '0' + (b[len(b)-1]-'0'+5)%10
	return string(b)
}

func TestBeginSetupReplacesPendingSecret(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	first, err := e.BeginSetup(ctx, "u1", "a")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	second, err := e.BeginSetup(ctx, "u1", "a")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh secret")
	}

	firstCode := codeAt(t, first.Secret, clock.Now())
	if firstCode != codeAt(t, second.Secret, clock.Now()) {
		if _, err := e.VerifySetup(ctx, "u1", firstCode); !errors.Is(err, domain.ErrInvalidCode) {
			t.Fatalf("stale secret must not confirm, got %v", err)
		}
	}
	if _, err := e.VerifySetup(ctx, "u1", codeAt(t, second.Secret, clock.Now())); err != nil {
		t.Fatalf("VerifySetup with current secret failed: %v", err)
	}
}

func TestTOTPReplayRejected(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	secret, _ := enroll(t, e, clock, "u1")

	// The setup step is already spent.
	if _, err := e.VerifyLogin(ctx, "u1", codeAt(t, secret, clock.Now()), CodeTOTP); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("setup code replay: expected ErrInvalidCode, got %v", err)
	}

	clock.Advance(30 * time.Second)
	code := codeAt(t, secret, clock.Now())
	if _, err := e.VerifyLogin(ctx, "u1", code, CodeTOTP); err != nil {
		t.Fatalf("VerifyLogin failed: %v", err)
	}
	if _, err := e.VerifyLogin(ctx, "u1", code, CodeTOTP); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("replay: expected ErrInvalidCode, got %v", err)
	}

	// An older step inside the skew window is still a replay.
	clock.Advance(30 * time.Second)
	if _, err := e.VerifyLogin(ctx, "u1", codeAt(t, secret, clock.Now().Add(-60*time.Second)), CodeTOTP); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("old step: expected ErrInvalidCode, got %v", err)
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	secret, _ := enroll(t, e, clock, "u1")

	clock.Advance(5 * time.Minute)
	ahead := codeAt(t, secret, clock.Now().Add(30*time.Second))
	if _, err := e.VerifyLogin(ctx, "u1", ahead, CodeTOTP); err != nil {
		t.Fatalf("code one step ahead must verify, got %v", err)
	}

	clock.Advance(5 * time.Minute)
	stale := codeAt(t, secret, clock.Now().Add(-2*time.Minute))
	if stale != codeAt(t, secret, clock.Now()) {
		if _, err := e.VerifyLogin(ctx, "u1", stale, CodeTOTP); !errors.Is(err, domain.ErrInvalidCode) {
			t.Fatalf("code outside window: expected ErrInvalidCode, got %v", err)
		}
	}
}

func TestTOTPConcurrentSingleWinner(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	secret, _ := enroll(t, e, clock, "u1")
	clock.Advance(30 * time.Second)
	code := codeAt(t, secret, clock.Now())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.VerifyLogin(ctx, "u1", code, CodeTOTP); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestBackupCodeExhaustionAndRegeneration(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	_, codes := enroll(t, e, clock, "u1")

	for i, c := range codes {
		// Users type codes loosely.
		input := strings.ToLower(strings.ReplaceAll(c, "-", " "))
		res, err := e.VerifyLogin(ctx, "u1", input, CodeBackup)
		if err != nil {
			t.Fatalf("backup code %d failed: %v", i, err)
		}
		if res.Remaining != len(codes)-i-1 {
			t.Fatalf("expected %d remaining, got %d", len(codes)-i-1, res.Remaining)
		}
		if _, err := e.VerifyLogin(ctx, "u1", c, CodeBackup); !errors.Is(err, domain.ErrInvalidCode) {
			t.Fatalf("reused backup code: expected ErrInvalidCode, got %v", err)
		}
	}

	fresh, err := e.RegenerateBackupCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if _, err := e.VerifyLogin(ctx, "u1", codes[0], CodeBackup); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("old batch must be dead, got %v", err)
	}
	res, err := e.VerifyLogin(ctx, "u1", fresh[0], CodeBackup)
	if err != nil || res.Remaining != 9 {
		t.Fatalf("fresh code: res=%+v err=%v", res, err)
	}
	if e.LowOnBackupCodes(res) {
		t.Fatal("9 remaining is not low")
	}
}

func TestBackupCodeConcurrentSingleWinner(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	_, codes := enroll(t, e, clock, "u1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.VerifyLogin(ctx, "u1", codes[3], CodeBackup); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestDisableIsIdempotent(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	_, codes := enroll(t, e, clock, "u1")

	for i := 0; i < 2; i++ {
		if err := e.Disable(ctx, "u1"); err != nil {
			t.Fatalf("Disable #%d failed: %v", i, err)
		}
	}
	if st, _ := e.Status(ctx, "u1"); st != StateUnenrolled {
		t.Fatalf("expected unenrolled, got %q", st)
	}
	if _, err := e.VerifyLogin(ctx, "u1", codes[0], CodeBackup); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode after disable, got %v", err)
	}
	if _, err := e.RegenerateBackupCodes(ctx, "u1"); !errors.Is(err, domain.ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}
}

func TestVerifyLoginRejectsUnknownKind(t *testing.T) {
	e, clock := newTestEngine(t)
	_, codes := enroll(t, e, clock, "u1")
	if _, err := e.VerifyLogin(context.Background(), "u1", codes[0], CodeKind("sms")); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestSealerBindsUser(t *testing.T) {
	s, err := NewSealer(bytes.Repeat([]byte{7}, 32), rand.Reader)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	sealed, err := s.Seal("u1", []byte("JBSWY3DPEHPK3PXP"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, []byte("JBSWY3DPEHPK3PXP")) {
		t.Fatal("sealed output leaks plaintext")
	}
	pt, err := s.Open("u1", sealed)
	if err != nil || string(pt) != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("Open: pt=%q err=%v", pt, err)
	}
	if _, err := s.Open("u2", sealed); !errors.Is(err, ErrSealedSecret) {
		t.Fatalf("expected ErrSealedSecret for another user, got %v", err)
	}
	if _, err := NewSealer([]byte("short"), rand.Reader); !errors.Is(err, ErrShortMasterKey) {
		t.Fatalf("expected ErrShortMasterKey, got %v", err)
	}
}

func TestCanonicalizeBackupCode(t *testing.T) {
	cases := map[string]string{
		"ABCDE-FGHJK":   "ABCDEFGHJK",
		" abcde fghjk ": "ABCDEFGHJK",
		"ABCDE-FGHJ":    "",
		"ABCDE-FGHJ0":   "",
		"":              "",
	}
	for in, want := range cases {
		if got := CanonicalizeBackupCode(in); got != want {
			t.Errorf("CanonicalizeBackupCode(%q) = %q, want %q", in, got, want)
		}
	}
}
