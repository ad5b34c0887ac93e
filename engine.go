package keystone

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal/audit"
	"github.com/MrEthical07/keystone/internal/credentials"
	"github.com/MrEthical07/keystone/internal/flows"
	"github.com/MrEthical07/keystone/internal/mfa"
	"github.com/MrEthical07/keystone/internal/notify"
	"github.com/MrEthical07/keystone/internal/stores"
	"github.com/MrEthical07/keystone/internal/vault"
	"github.com/MrEthical07/keystone/jwt"
	"github.com/MrEthical07/keystone/session"
)

// Engine is the authentication orchestrator. Build one with [New] and
// [Builder.Build]. All methods are safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	clock  domain.Clock
	random io.Reader

	store       domain.Persistence
	passwords   *credentials.Store
	vault       *vault.Vault
	mfa         *mfa.Engine
	access      *jwt.Manager
	issuer      *session.Issuer
	mfaSessions *stores.MFASessionStore

	limiters    limiterSet
	audit       *audit.Dispatcher
	notifier    *notify.Dispatcher
	metrics     *Metrics
	revocations *revocationQueue
}

// limiterSet holds one limiter per rate-limited operation. Nil members
// allow everything.
type limiterSet struct {
	login        domain.RateLimiter
	register     domain.RateLimiter
	reset        domain.RateLimiter
	verification domain.RateLimiter
}

// Start runs the background worker that retries failed session
// revocations. It returns immediately; the worker stops when ctx is done
// or Close is called.
func (e *Engine) Start(ctx context.Context) {
	if e == nil {
		return
	}
	e.revocations.start(ctx)
}

// Close stops the revocation worker, then drains pending notifications and
// audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.revocations.stop()
	e.notifier.Close()
	e.audit.Close()
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotificationsDropped reports notifications discarded because the
// delivery buffer was full.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.notifier.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]float64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) hooks() flows.Hooks {
	return flows.Hooks{
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,
		ClientIP:  ClientIPFromContext,
		Logger:    e.logger,
		Clock:     e.clock,
		EnqueueRevocation: func(userID string) {
			e.revocations.enqueue(userID)
		},
	}
}

func (e *Engine) notify(ctx context.Context, kind domain.NotificationKind, recipient string, data map[string]string) {
	if err := e.notifier.Send(ctx, kind, recipient, data); err != nil {
		e.logger.WarnContext(ctx, "keystone: notification not queued",
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
	}
}
