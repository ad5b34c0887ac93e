package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Window is a fixed-window budget: at most Limit hits per Period.
type Window struct {
	Limit  int           `toml:"limit"`
	Period time.Duration `toml:"period"`
}

func (w Window) Validate() error {
	if w.Limit <= 0 {
		return errors.New("rate: limit must be > 0")
	}
	if w.Period <= 0 {
		return errors.New("rate: period must be > 0")
	}
	return nil
}

// RedisLimiter is a fixed-window counter limiter.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	window Window
}

// NewRedisLimiter creates a limiter whose keys live under prefix.
func NewRedisLimiter(redisClient redis.UniversalClient, prefix string, w Window) (*RedisLimiter, error) {
	if redisClient == nil {
		return nil, errors.New("rate: nil redis client")
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "krl"
	}
	return &RedisLimiter{redis: redisClient, prefix: prefix, window: w}, nil
}

// Check counts a hit for key and reports whether it fits the window.
func (l *RedisLimiter) Check(ctx context.Context, key string) (domain.Decision, error) {
	k := l.prefix + ":" + key
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.PExpire(ctx, k, l.window.Period).Err(); err != nil {
			return domain.Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count <= int64(l.window.Limit) {
		return domain.Decision{Allowed: true}, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		// The key lost its TTL (or just expired); restore it so the
		// counter cannot stick forever.
		_ = l.redis.PExpire(ctx, k, l.window.Period).Err()
		ttl = l.window.Period
	}
	return domain.Decision{Allowed: false, RetryAfter: ttl}, nil
}

// Reset clears the counter for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

var _ domain.RateLimiter = (*RedisLimiter)(nil)
