// Package internal holds token encoding helpers private to keystone.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - credentials: password credential store
//   - flows: pure-function flow orchestrators for every Engine operation
//   - logging: slog handler construction
//   - mfa: TOTP enrollment, verification, and backup codes
//   - notify: async fire-and-forget notification dispatch
//   - rate: Redis and in-process rate limiters
//   - stores: Redis-backed MFA pending-session store
//   - vault: verification, reset, and refresh token lifecycle
//
// # What this package must NOT do
//
//   - Export types that appear in the public keystone API.
//   - Be imported by any package outside the keystone module.
package internal
