package domain

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"
)

// Clock is the only source of "now" for expiry and TTL decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable Clock for tests and replay tooling.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock fixed at now.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now.UTC()}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// RandomSource supplies cryptographically secure bytes.
type RandomSource = io.Reader

// SystemRandom is crypto/rand.Reader.
var SystemRandom RandomSource = rand.Reader

// NotificationKind selects the outbound message template.
type NotificationKind string

const (
	NotifyWelcome           NotificationKind = "welcome"
	NotifyEmailVerification NotificationKind = "email_verification"
	NotifyPasswordReset     NotificationKind = "password_reset"
	NotifyPasswordChanged   NotificationKind = "password_changed"
	NotifyEmailChanged      NotificationKind = "email_changed"
)

// Notifier delivers outbound messages. Failures are logged by the caller and
// never surfaced to end users.
type Notifier interface {
	Send(ctx context.Context, kind NotificationKind, recipient string, data map[string]string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, kind NotificationKind, recipient string, data map[string]string) error

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, kind NotificationKind, recipient string, data map[string]string) error {
	return f(ctx, kind, recipient, data)
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimiter is a request-volume ceiling keyed by an opaque string.
type RateLimiter interface {
	Check(ctx context.Context, key string) (Decision, error)
}
