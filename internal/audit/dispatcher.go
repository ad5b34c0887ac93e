package audit

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/keystone/domain"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`

	// Clock stamps events that arrive without a Timestamp.
	Clock domain.Clock `toml:"-"`
	// Logger reports sink panics. Nil discards them.
	Logger *slog.Logger `toml:"-"`
}

// Redacted replaces metadata values whose key names a credential.
const Redacted = "[redacted]"

var secretKeys = map[string]struct{}{
	"password":    {},
	"token":       {},
	"code":        {},
	"secret":      {},
	"backup_code": {},
	"totp":        {},
	"hash":        {},
}

var secretSuffixes = []string{"_password", "_token", "_secret", "_code", "_hash"}

// Dispatcher relays audit events from the request path to a Sink on one
// goroutine. Emit never runs the sink inline.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	clock  domain.Clock
	logger *slog.Logger

	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the relay goroutine. It returns nil when auditing
// is disabled; a nil *Dispatcher is safe to use.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		clock:  clock,
		logger: logger.With(slog.String("component", "audit")),
		queue:  make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands event to the sink. A panicking sink loses that event only.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("keystone: audit sink panicked",
				slog.String("event_type", event.Type),
				slog.Any("panic", r),
			)
		}
	}()
	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit queues event after stamping and redacting it. With DropIfFull a
// full buffer drops the event; otherwise Emit waits for space, ctx, or
// Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event = d.prepare(event)

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

func (d *Dispatcher) prepare(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.clock.Now()
	}
	event.Timestamp = event.Timestamp.UTC()
	event.Metadata = Redact(event.Metadata)
	return event
}

// Redact returns metadata with credential-shaped keys masked. The input
// map is never modified; it is copied only when something is masked.
func Redact(metadata map[string]string) map[string]string {
	var out map[string]string
	for k := range metadata {
		if !isSecretKey(k) {
			continue
		}
		if out == nil {
			out = maps.Clone(metadata)
		}
		out[k] = Redacted
	}
	if out == nil {
		return metadata
	}
	return out
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	if _, ok := secretKeys[k]; ok {
		return true
	}
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}

// Close stops accepting events and drains the buffer into the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped reports events discarded because the buffer was full or the
// caller gave up waiting.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered reports events the sink accepted.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Failed reports events lost to a panicking sink.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
