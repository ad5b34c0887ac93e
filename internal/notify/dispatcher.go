// Package notify delivers outbound notifications off the request path.
//
// The engine enqueues a message and returns; a worker pool calls the
// configured domain.Notifier with a per-message timeout. Failures are
// logged and never reach the caller.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/keystone/domain"
)

// Config controls buffering and delivery.
type Config struct {
	BufferSize int           `toml:"buffer_size"`
	Workers    int           `toml:"workers"`
	Timeout    time.Duration `toml:"timeout"`
}

// DefaultConfig returns a small pool suitable for an SMTP or HTTP relay.
func DefaultConfig() Config {
	return Config{BufferSize: 256, Workers: 2, Timeout: 10 * time.Second}
}

type message struct {
	kind      domain.NotificationKind
	recipient string
	data      map[string]string
}

// Dispatcher is an async domain.Notifier front.
type Dispatcher struct {
	cfg       Config
	notifier  domain.Notifier
	logger    *slog.Logger
	ch        chan message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts cfg.Workers delivery goroutines. A nil notifier
// yields a nil Dispatcher, which silently discards messages.
func NewDispatcher(cfg Config, notifier domain.Notifier, logger *slog.Logger) *Dispatcher {
	if notifier == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Dispatcher{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify")),
		ch:       make(chan message, cfg.BufferSize),
		done:     make(chan struct{}),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case m := <-d.ch:
			d.deliver(m)
		case <-d.done:
			for {
				select {
				case m := <-d.ch:
					d.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(m message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	if err := d.notifier.Send(ctx, m.kind, m.recipient, m.data); err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification delivery failed",
			slog.String("kind", string(m.kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Send enqueues a message. It never blocks: a full buffer drops the
// message with a warning.
func (d *Dispatcher) Send(_ context.Context, kind domain.NotificationKind, recipient string, data map[string]string) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	select {
	case d.ch <- message{kind: kind, recipient: recipient, data: data}:
	case <-d.done:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification dropped: buffer full", slog.String("kind", string(kind)))
	}
	return nil
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports messages discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed reports deliveries the notifier rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

var _ domain.Notifier = (*Dispatcher)(nil)
