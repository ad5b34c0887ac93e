// Package middleware adapts a keystone Engine to net/http.
//
//   - [Guard] requires a valid bearer access token and stores its claims in
//     the request context.
//   - [ClientIP] records the caller's address with keystone.WithClientIP so
//     Engine rate-limit keys and audit records carry it.
//   - [RateLimit] turns a limiter denial into 429 with Retry-After.
//
// Authentication decisions stay in the Engine; this package only
// translates HTTP to Engine calls.
package middleware
