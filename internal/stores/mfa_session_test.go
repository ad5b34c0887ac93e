package stores

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestMFASessionStore(t *testing.T) (*MFASessionStore, *miniredis.Miniredis, *domain.ManualClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := domain.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewMFASessionStore(rdb, "test", clock), mr, clock
}

func TestMFASessionSaveGetConsume(t *testing.T) {
	store, _, _ := newTestMFASessionStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "sess-1", "u1", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	rec, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.UserID != "u1" || rec.Attempts != 0 {
		t.Fatalf("unexpected record %+v", rec)
	}

	consumed, err := store.Consume(ctx, "sess-1")
	if err != nil || consumed.UserID != "u1" {
		t.Fatalf("Consume: rec=%+v err=%v", consumed, err)
	}
	if _, err := store.Consume(ctx, "sess-1"); !errors.Is(err, ErrMFASessionNotFound) {
		t.Fatalf("second consume: expected ErrMFASessionNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrMFASessionNotFound) {
		t.Fatalf("get after consume: expected ErrMFASessionNotFound, got %v", err)
	}
}

func TestMFASessionKeyIsHashed(t *testing.T) {
	store, mr, _ := newTestMFASessionStore(t)
	if _, err := store.Save(context.Background(), "plain-session-id", "u1", time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	for _, k := range mr.Keys() {
		if k == "test:s:plain-session-id" {
			t.Fatal("session id must not appear in keys")
		}
	}
}

func TestMFASessionExpiryFollowsClock(t *testing.T) {
	store, _, clock := newTestMFASessionStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "sess-1", "u1", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	clock.Advance(5 * time.Minute)

	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrMFASessionExpired) {
		t.Fatalf("expected ErrMFASessionExpired, got %v", err)
	}
	if _, err := store.Consume(ctx, "sess-1"); !errors.Is(err, ErrMFASessionNotFound) {
		t.Fatalf("expired record must be gone, got %v", err)
	}
}

func TestMFASessionNewerLoginSupersedes(t *testing.T) {
	store, _, _ := newTestMFASessionStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "old", "u1", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Save(ctx, "other-user", "u2", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Save(ctx, "new", "u1", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrMFASessionNotFound) {
		t.Fatalf("superseded session: expected ErrMFASessionNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "new"); err != nil {
		t.Fatalf("newest session must survive: %v", err)
	}
	if _, err := store.Get(ctx, "other-user"); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}
}

func TestMFASessionRecordFailure(t *testing.T) {
	store, _, _ := newTestMFASessionStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "sess-1", "u1", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	for i := 1; i < 5; i++ {
		exceeded, err := store.RecordFailure(ctx, "sess-1", 5)
		if err != nil || exceeded {
			t.Fatalf("failure %d: exceeded=%v err=%v", i, exceeded, err)
		}
		rec, err := store.Get(ctx, "sess-1")
		if err != nil || int(rec.Attempts) != i {
			t.Fatalf("attempts after %d failures: rec=%+v err=%v", i, rec, err)
		}
	}

	exceeded, err := store.RecordFailure(ctx, "sess-1", 5)
	if err != nil || !exceeded {
		t.Fatalf("fifth failure: exceeded=%v err=%v", exceeded, err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrMFASessionNotFound) {
		t.Fatalf("exhausted session must be deleted, got %v", err)
	}
	if _, err := store.RecordFailure(ctx, "sess-1", 5); !errors.Is(err, ErrMFASessionNotFound) {
		t.Fatalf("expected ErrMFASessionNotFound, got %v", err)
	}
}

func TestMFASessionConcurrentConsumeSingleWinner(t *testing.T) {
	store, _, _ := newTestMFASessionStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "sess-1", "u1", 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const workers = 12
	var wins, lost atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(ctx, "sess-1")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrMFASessionNotFound):
				lost.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || lost.Load() != workers-1 {
		t.Fatalf("expected 1 winner, got wins=%d lost=%d", wins.Load(), lost.Load())
	}
}

func TestDecodeMFAPendingRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, {9}, {mfaSessionRecordVersion1, 'X'}, {mfaSessionRecordVersion1, stateTagMFAPending, 0}} {
		if _, err := decodeMFAPending(data); err == nil {
			t.Fatalf("expected error for %v", data)
		}
	}
}
