package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/MrEthical07/keystone"
	"github.com/MrEthical07/keystone/domain"
)

// ClientIP stores the request's remote host in the context with
// keystone.WithClientIP. Put a trusted proxy-header middleware (such as
// chi's RealIP) in front of it when running behind a proxy.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		next.ServeHTTP(w, r.WithContext(keystone.WithClientIP(r.Context(), host)))
	})
}

// KeyFunc derives the limiter key for a request.
type KeyFunc func(r *http.Request) string

// KeyByIP keys on the remote host under prefix.
func KeyByIP(prefix string) KeyFunc {
	return func(r *http.Request) string {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return prefix + ":" + host
	}
}

// RateLimit answers 429 with Retry-After when limiter denies the request.
// Limiter errors answer 503; a failing limiter never lets traffic through.
func RateLimit(limiter domain.RateLimiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			d, err := limiter.Check(r.Context(), key(r))
			if err != nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
