package keystone

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// revocationQueue retries RevokeAll for users whose sessions could not be
// revoked inline after a credential change. Entries are best effort: a
// full queue or exhausted retries is logged and audited.
type revocationQueue struct {
	engine   *Engine
	ch       chan string
	attempts int
	backoff  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func newRevocationQueue(e *Engine, cfg TokenConfig) *revocationQueue {
	return &revocationQueue{
		engine:   e,
		ch:       make(chan string, cfg.RevocationQueueSize),
		attempts: cfg.RevocationRetryAttempts,
		backoff:  cfg.RevocationRetryBackoff,
	}
}

func (q *revocationQueue) enqueue(userID string) {
	if q == nil {
		return
	}
	select {
	case q.ch <- userID:
	default:
		q.abandon(context.Background(), userID, "queue_full")
	}
}

// Pending reports how many revocations are waiting for the worker.
func (e *Engine) PendingRevocations() int {
	if e == nil || e.revocations == nil {
		return 0
	}
	return len(e.revocations.ch)
}

func (q *revocationQueue) start(parent context.Context) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.started = true
	go q.run(ctx)
}

func (q *revocationQueue) stop() {
	if q == nil {
		return
	}
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (q *revocationQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-q.ch:
			q.retry(ctx, userID)
		}
	}
}

func (q *revocationQueue) retry(ctx context.Context, userID string) {
	e := q.engine
	attempt := 0
	b := retry.WithMaxRetries(uint64(q.attempts-1), retry.NewExponential(q.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		e.metricInc(MetricRevocationRetried)
		n, err := e.issuer.RevokeAll(ctx, userID)
		if err != nil {
			e.logger.WarnContext(ctx, "keystone: deferred session revocation failed",
				slog.String("user_id", userID),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return retry.RetryableError(err)
		}
		e.metricInc(MetricSessionsRevoked)
		e.logger.InfoContext(ctx, "keystone: deferred session revocation succeeded",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
			slog.Int64("revoked", n),
		)
		return nil
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		q.abandon(context.WithoutCancel(ctx), userID, "shutdown")
	default:
		q.abandon(ctx, userID, "retries_exhausted")
	}
}

func (q *revocationQueue) abandon(ctx context.Context, userID, reason string) {
	e := q.engine
	e.metricInc(MetricRevocationAbandoned)
	e.logger.ErrorContext(ctx, "keystone: session revocation abandoned; refresh tokens may remain valid",
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
	e.emitAudit(ctx, auditEventRevocationAbandoned, false, userID, nil, func() map[string]string {
		return map[string]string{"reason": reason, "attempts": strconv.Itoa(q.attempts)}
	})
}
