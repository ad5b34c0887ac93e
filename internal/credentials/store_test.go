package credentials

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/password"
)

type mockCredentialRepo struct {
	mu     sync.Mutex
	hashes map[string]string
	writes int
}

func (m *mockCredentialRepo) UpsertCredential(_ context.Context, cred domain.PasswordCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes == nil {
		m.hashes = map[string]string{}
	}
	m.hashes[cred.UserID] = cred.Hash
	m.writes++
	return nil
}

func (m *mockCredentialRepo) GetCredential(_ context.Context, userID string) (domain.PasswordCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[userID]
	if !ok {
		return domain.PasswordCredential{}, domain.ErrNotFound
	}
	return domain.PasswordCredential{UserID: userID, Hash: h}, nil
}

func newTestStore(t *testing.T, params password.Params) (*Store, *mockCredentialRepo) {
	t.Helper()
	hasher, err := password.NewHasher(params, rand.Reader)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	repo := &mockCredentialRepo{}
	store, err := NewStore(repo, hasher, password.DefaultPolicy(), domain.NewManualClock(time.Unix(1_700_000_000, 0)))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store, repo
}

func cheapParams() password.Params {
	return password.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestSetPasswordRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, cheapParams())
	ctx := context.Background()

	if err := store.SetPassword(ctx, "u1", "Journal-Entry-7!"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	v, err := store.VerifyPassword(ctx, "u1", "Journal-Entry-7!")
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !v.Match {
		t.Fatal("expected accepted password to verify")
	}

	v, err = store.VerifyPassword(ctx, "u1", "Journal-Entry-8!")
	if err != nil {
		t.Fatalf("mismatch must not be an error, got %v", err)
	}
	if v.Match {
		t.Fatal("expected mismatch")
	}
}

func TestSetPasswordRejectedNeverStored(t *testing.T) {
	store, repo := newTestStore(t, cheapParams())

	err := store.SetPassword(context.Background(), "u1", "weakpass")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if repo.writes != 0 {
		t.Fatalf("expected no writes for rejected password, got %d", repo.writes)
	}
}

func TestVerifyPasswordMissingCredential(t *testing.T) {
	store, _ := newTestStore(t, cheapParams())

	_, err := store.VerifyPassword(context.Background(), "ghost", "Whatever-123!")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyPasswordReportsRehash(t *testing.T) {
	weak, repo := newTestStore(t, cheapParams())
	ctx := context.Background()
	if err := weak.SetPassword(ctx, "u1", "Upgrade-Path-1!"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	stronger := cheapParams()
	stronger.Iterations = 2
	hasher, err := password.NewHasher(stronger, rand.Reader)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	strong, err := NewStore(repo, hasher, password.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	v, err := strong.VerifyPassword(ctx, "u1", "Upgrade-Path-1!")
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !v.Match || !v.NeedsRehash {
		t.Fatalf("expected match needing rehash, got %+v", v)
	}

	if err := strong.Rehash(ctx, "u1", "Upgrade-Path-1!"); err != nil {
		t.Fatalf("Rehash failed: %v", err)
	}
	v, err = strong.VerifyPassword(ctx, "u1", "Upgrade-Path-1!")
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !v.Match || v.NeedsRehash {
		t.Fatalf("expected fresh hash to not need rehash, got %+v", v)
	}
}

func TestReplaceInvalidatesOldPassword(t *testing.T) {
	store, _ := newTestStore(t, cheapParams())
	ctx := context.Background()

	if err := store.SetPassword(ctx, "u1", "First-Password-1!"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if err := store.Replace(ctx, "u1", "Second-Password-2!"); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	v, _ := store.VerifyPassword(ctx, "u1", "First-Password-1!")
	if v.Match {
		t.Fatal("expected old password to stop working")
	}
	v, _ = store.VerifyPassword(ctx, "u1", "Second-Password-2!")
	if !v.Match {
		t.Fatal("expected new password to work")
	}
}
