package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open(context.Background(), Options{
		Driver:       DriverSQLite,
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// forEachStore runs fn against both persistence implementations so their
// conditional semantics stay identical.
func forEachStore(t *testing.T, fn func(t *testing.T, p domain.Persistence)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func seedUser(t *testing.T, p domain.Persistence, id, email, username string) domain.User {
	t.Helper()
	u := domain.User{
		ID:        id,
		Email:     email,
		Username:  username,
		Active:    true,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
	require.NoError(t, p.CreateUser(context.Background(), u))
	return u
}

func hashOf(s string) [32]byte { return sha256.Sum256([]byte(s)) }

func TestUserUniqueness(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		seedUser(t, p, "u1", "a@x.com", "alpha")

		err := p.CreateUser(ctx, domain.User{ID: "u2", Email: "a@x.com", Username: "beta", CreatedAt: epoch, UpdatedAt: epoch})
		assert.ErrorIs(t, err, domain.ErrConflict)

		emailTaken, usernameTaken, err := p.EmailOrUsernameTaken(ctx, "b@x.com", "alpha")
		require.NoError(t, err)
		assert.False(t, emailTaken)
		assert.True(t, usernameTaken)

		_, err = p.GetUserByEmail(ctx, "nobody@x.com")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMarkEmailVerified(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		seedUser(t, p, "u1", "a@x.com", "alpha")

		require.NoError(t, p.MarkEmailVerified(ctx, "u1", epoch.Add(time.Minute)))
		u, err := p.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, u.EmailVerified)
		require.NotNil(t, u.VerifiedAt)

		assert.ErrorIs(t, p.MarkEmailVerified(ctx, "ghost", epoch), domain.ErrNotFound)
	})
}

func TestCredentialUpsertReplaces(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		seedUser(t, p, "u1", "a@x.com", "alpha")

		require.NoError(t, p.UpsertCredential(ctx, domain.PasswordCredential{UserID: "u1", Hash: "h1", UpdatedAt: epoch}))
		require.NoError(t, p.UpsertCredential(ctx, domain.PasswordCredential{UserID: "u1", Hash: "h2", UpdatedAt: epoch}))

		cred, err := p.GetCredential(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "h2", cred.Hash)
	})
}

func TestCreateUserWithCredentialIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		u := domain.User{ID: "u1", Email: "a@x.com", Username: "alpha", Active: true, CreatedAt: epoch, UpdatedAt: epoch}
		require.NoError(t, p.CreateUserWithCredential(ctx, u, domain.PasswordCredential{UserID: "u1", Hash: "h1", UpdatedAt: epoch}))
		cred, err := p.GetCredential(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "h1", cred.Hash)

		// Duplicate email: no credential for the rejected id.
		dup := domain.User{ID: "u2", Email: "a@x.com", Username: "beta", CreatedAt: epoch, UpdatedAt: epoch}
		assert.ErrorIs(t, p.CreateUserWithCredential(ctx, dup, domain.PasswordCredential{UserID: "u2", Hash: "h2", UpdatedAt: epoch}), domain.ErrConflict)
		_, err = p.GetCredential(ctx, "u2")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// A failing credential insert rolls the user row back.
		require.NoError(t, p.UpsertCredential(ctx, domain.PasswordCredential{UserID: "u3", Hash: "stale", UpdatedAt: epoch}))
		fresh := domain.User{ID: "u3", Email: "c@x.com", Username: "gamma", CreatedAt: epoch, UpdatedAt: epoch}
		require.Error(t, p.CreateUserWithCredential(ctx, fresh, domain.PasswordCredential{UserID: "u3", Hash: "h3", UpdatedAt: epoch}))
		_, err = p.GetUserByID(ctx, "u3")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		taken, _, err := p.EmailOrUsernameTaken(ctx, "c@x.com", "")
		require.NoError(t, err)
		assert.False(t, taken)
	})
}

func TestVerificationTokenSingleUseUnderConcurrency(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		seedUser(t, p, "u1", "a@x.com", "alpha")
		require.NoError(t, p.InsertVerificationToken(ctx, domain.VerificationToken{
			ID:        "t1",
			UserID:    "u1",
			Kind:      domain.KindPasswordReset,
			TokenHash: hashOf("t1"),
			ExpiresAt: epoch.Add(time.Hour),
			CreatedAt: epoch,
		}))

		const workers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := p.ConsumeVerificationToken(ctx, "t1", epoch.Add(time.Minute))
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestVerificationTokenExpiredNotConsumable(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		require.NoError(t, p.InsertVerificationToken(ctx, domain.VerificationToken{
			ID:        "t1",
			UserID:    "u1",
			Kind:      domain.KindEmailVerification,
			TokenHash: hashOf("t1"),
			ExpiresAt: epoch.Add(time.Hour),
			CreatedAt: epoch,
		}))

		ok, err := p.ConsumeVerificationToken(ctx, "t1", epoch.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := p.GetVerificationToken(ctx, domain.KindEmailVerification, hashOf("t1"))
		require.NoError(t, err)
		assert.Nil(t, rec.UsedAt)

		_, err = p.GetVerificationToken(ctx, domain.KindPasswordReset, hashOf("t1"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCountAndInvalidateVerificationTokens(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("t%d", i)
			require.NoError(t, p.InsertVerificationToken(ctx, domain.VerificationToken{
				ID:        id,
				UserID:    "u1",
				Kind:      domain.KindPasswordReset,
				TokenHash: hashOf(id),
				ExpiresAt: epoch.Add(2 * time.Hour),
				CreatedAt: epoch.Add(time.Duration(i) * 20 * time.Minute),
			}))
		}

		n, err := p.CountVerificationTokensSince(ctx, "u1", domain.KindPasswordReset, epoch.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		invalidated, err := p.InvalidateVerificationTokens(ctx, "u1", domain.KindPasswordReset, epoch.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(3), invalidated)

		ok, err := p.ConsumeVerificationToken(ctx, "t2", epoch.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRefreshRotationSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		require.NoError(t, p.InsertRefreshToken(ctx, domain.RefreshToken{
			ID:        "r1",
			UserID:    "u1",
			TokenHash: hashOf("r1"),
			ExpiresAt: epoch.Add(24 * time.Hour),
			CreatedAt: epoch,
		}))

		const workers = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("next-%d", i)
				ok, err := p.RotateRefreshToken(ctx, "r1", domain.RefreshToken{
					ID:        id,
					UserID:    "u1",
					TokenHash: hashOf(id),
					ExpiresAt: epoch.Add(48 * time.Hour),
					CreatedAt: epoch.Add(time.Minute),
				}, epoch.Add(time.Minute))
				if err == nil && ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())

		old, err := p.GetRefreshToken(ctx, hashOf("r1"))
		require.NoError(t, err)
		assert.NotNil(t, old.RevokedAt)
		assert.True(t, strings.HasPrefix(old.ReplacedBy, "next-"), "rotated row records its successor")
		assert.True(t, old.Rotated())

		live := 0
		for i := 0; i < workers; i++ {
			if _, err := p.GetRefreshToken(ctx, hashOf(fmt.Sprintf("next-%d", i))); err == nil {
				live++
			}
		}
		assert.Equal(t, 1, live, "losing rotations must not insert")
	})
}

func TestRevokeAllRefreshTokens(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		for _, id := range []string{"r1", "r2", "r3"} {
			owner := "u1"
			if id == "r3" {
				owner = "u2"
			}
			require.NoError(t, p.InsertRefreshToken(ctx, domain.RefreshToken{
				ID: id, UserID: owner, TokenHash: hashOf(id), ExpiresAt: epoch.Add(time.Hour), CreatedAt: epoch,
			}))
		}

		n, err := p.RevokeAllRefreshTokens(ctx, "u1", epoch.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		other, err := p.GetRefreshToken(ctx, hashOf("r3"))
		require.NoError(t, err)
		assert.Nil(t, other.RevokedAt)

		ok, err := p.RevokeRefreshToken(ctx, "r1", epoch.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "second revoke is a no-op")
	})
}

func TestPurgeRespectsGrace(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		used := epoch.Add(time.Minute)
		rows := []domain.VerificationToken{
			{ID: "expired-old", ExpiresAt: epoch.Add(time.Hour), CreatedAt: epoch},
			{ID: "used-recent", ExpiresAt: epoch.Add(48 * time.Hour), CreatedAt: epoch.Add(23 * time.Hour), UsedAt: &used},
			{ID: "live", ExpiresAt: epoch.Add(48 * time.Hour), CreatedAt: epoch},
		}
		for _, r := range rows {
			r.UserID = "u1"
			r.Kind = domain.KindEmailVerification
			r.TokenHash = hashOf(r.ID)
			require.NoError(t, p.InsertVerificationToken(ctx, r))
		}

		now := epoch.Add(24 * time.Hour)
		report, err := p.PurgeTokens(ctx, now, now.Add(-2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.VerificationTokens)

		again, err := p.PurgeTokens(ctx, now, now.Add(-2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), again.VerificationTokens, "purge must be idempotent")

		_, err = p.GetVerificationToken(ctx, domain.KindEmailVerification, hashOf("used-recent"))
		assert.NoError(t, err, "rows inside the grace window survive")
	})
}

func TestEnrollmentLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		require.NoError(t, p.UpsertEnrollment(ctx, domain.MFAEnrollment{UserID: "u1", SealedSecret: []byte("s1"), CreatedAt: epoch, UpdatedAt: epoch}))
		require.NoError(t, p.UpsertEnrollment(ctx, domain.MFAEnrollment{UserID: "u1", SealedSecret: []byte("s2"), CreatedAt: epoch, UpdatedAt: epoch}))

		e, err := p.GetEnrollment(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []byte("s2"), e.SealedSecret)
		assert.False(t, e.Enabled)

		ok, err := p.AdvanceTOTPStep(ctx, "u1", 10, epoch)
		require.NoError(t, err)
		assert.False(t, ok, "pending enrollments do not advance")

		ok, err = p.EnableEnrollment(ctx, "u1", 100, epoch)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = p.EnableEnrollment(ctx, "u1", 101, epoch)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, p.UpsertEnrollment(ctx, domain.MFAEnrollment{UserID: "u1", SealedSecret: []byte("s3"), CreatedAt: epoch, UpdatedAt: epoch}))
		e, err = p.GetEnrollment(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []byte("s2"), e.SealedSecret, "enabled enrollment must not be overwritten")

		ok, err = p.AdvanceTOTPStep(ctx, "u1", 100, epoch)
		require.NoError(t, err)
		assert.False(t, ok, "same step is a replay")
		ok, err = p.AdvanceTOTPStep(ctx, "u1", 101, epoch)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, p.DeleteEnrollment(ctx, "u1"))
		require.NoError(t, p.DeleteEnrollment(ctx, "u1"))
		_, err = p.GetEnrollment(ctx, "u1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestBackupCodesReplaceAndConsume(t *testing.T) {
	forEachStore(t, func(t *testing.T, p domain.Persistence) {
		ctx := context.Background()
		batch := func(prefix string) []domain.BackupCode {
			out := make([]domain.BackupCode, 0, 3)
			for i := 0; i < 3; i++ {
				id := fmt.Sprintf("%s-%d", prefix, i)
				out = append(out, domain.BackupCode{ID: id, UserID: "u1", CodeHash: hashOf(id), CreatedAt: epoch})
			}
			return out
		}

		require.NoError(t, p.ReplaceBackupCodes(ctx, "u1", batch("a")))
		ok, err := p.ConsumeBackupCode(ctx, "u1", hashOf("a-0"), epoch)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = p.ConsumeBackupCode(ctx, "u1", hashOf("a-0"), epoch)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := p.CountUnusedBackupCodes(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, p.ReplaceBackupCodes(ctx, "u1", batch("b")))
		ok, err = p.ConsumeBackupCode(ctx, "u1", hashOf("a-1"), epoch)
		require.NoError(t, err)
		assert.False(t, ok, "regenerated batch invalidates old codes")

		require.NoError(t, p.DeleteBackupCodes(ctx, "u1"))
		n, err = p.CountUnusedBackupCodes(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestDeleteUserCascades(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "a@x.com", "alpha")
	require.NoError(t, s.UpsertCredential(ctx, domain.PasswordCredential{UserID: "u1", Hash: "h", UpdatedAt: epoch}))
	require.NoError(t, s.InsertRefreshToken(ctx, domain.RefreshToken{ID: "r1", UserID: "u1", TokenHash: hashOf("r1"), ExpiresAt: epoch.Add(time.Hour), CreatedAt: epoch}))

	counts, err := s.DeleteUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["users"])
	assert.Equal(t, int64(1), counts["refresh_tokens"])
	assert.Equal(t, int64(1), counts["password_credentials"])

	_, err = s.GetCredential(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
