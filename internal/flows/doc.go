// Package flows contains the orchestration for every Engine operation.
//
// Each flow function (RunRegister, RunLogin, RunResetPassword, ...) takes
// a typed dependency struct and returns plain results. Components are
// consumed through the small interfaces declared in deps.go so the flows
// can be tested without the root package.
//
// # Architecture boundaries
//
// Flows coordinate the credential store, token vault, MFA engine, session
// issuer, pending-MFA store, rate limiter, notifier, audit and metrics.
// They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import keystone (to avoid import cycles).
//   - Put passwords, tokens or codes into audit metadata or log attributes.
package flows
