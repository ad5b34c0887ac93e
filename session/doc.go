// Package session owns the login state machine and token-pair issuance.
//
// # Login state
//
// A login is one of [Unauthenticated], [MFAPending] or [Authenticated].
// [Advance] is the only way to move between them; anything else returns
// [ErrIllegalTransition]. The pending state is persisted server-side by the
// engine so a second completion of the same MFA challenge cannot succeed.
//
// # Token pairs
//
// [Issuer] mints a signed access token and an opaque rotating refresh
// token. Access tokens are validated statelessly.
//
// # What this package must NOT do
//
//   - Import keystone (no upward imports).
//   - Decide whether a password or MFA code is correct.
package session
