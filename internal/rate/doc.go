// Package rate provides domain.RateLimiter implementations used by the
// engine and the HTTP middleware.
//
// # Window semantics
//
// RedisLimiter keeps fixed-window counters: INCR plus EXPIRE on the first
// hit of a window, shared by every instance pointed at the same Redis.
// LocalLimiter keeps an in-process token bucket per key and suits single
// instances and tests.
//
// Keys are opaque to this package. Callers compose them, for example
// "login:<ip>:<email>".
//
// # What this package must NOT do
//
//   - Decide what to do with a denial; callers turn it into errors or 429s.
//   - Be imported outside the keystone module.
package rate
