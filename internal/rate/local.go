package rate

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"golang.org/x/time/rate"
)

const defaultMaxKeys = 10000

// LocalLimiter keeps one token bucket per key. The bucket refills Limit
// tokens per Period with a burst of Limit.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  Window
	clock   domain.Clock
	maxKeys int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(w Window, clock domain.Clock) (*LocalLimiter, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		window:  w,
		clock:   clock,
		maxKeys: defaultMaxKeys,
	}, nil
}

func (l *LocalLimiter) Check(_ context.Context, key string) (domain.Decision, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictIdle(now)
		}
		every := l.window.Period / time.Duration(l.window.Limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), l.window.Limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return domain.Decision{Allowed: true}, nil
	}
	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay <= 0 {
		delay = time.Second
	}
	return domain.Decision{Allowed: false, RetryAfter: delay}, nil
}

// Reset forgets key's bucket.
func (l *LocalLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// evictIdle drops buckets untouched for a full period; those are full again
// and indistinguishable from new ones.
func (l *LocalLimiter) evictIdle(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window.Period {
			delete(l.buckets, k)
		}
	}
}

var _ domain.RateLimiter = (*LocalLimiter)(nil)
