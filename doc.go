// Package keystone is the authentication core of a personal-data web
// application: registration, password credentials, email verification,
// password reset, TOTP second factor, and access/refresh token issuance.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config] and value types. Flow orchestration, token storage, the MFA
// engine and rate limiting live under internal/ and are never exported.
//
// # Components
//
//   - CredentialStore: argon2id password hashing and policy (internal/credentials, password/).
//   - TokenVault: hashed single-use verification, reset and refresh tokens (internal/vault).
//   - MFAEngine: TOTP enrollment with replay defense and backup codes (internal/mfa).
//   - SessionIssuer: JWT access tokens, refresh rotation and the tagged login
//     state (session/, jwt/, internal/stores).
//   - AuthOrchestrator: [Engine], composing the above (internal/flows).
//
// # Concurrency
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Every single-use artifact is consumed with an atomic
// conditional update, so among concurrent redemptions exactly one wins.
//
// # Anti-enumeration
//
// ResendVerification and ForgotPassword return nil for unknown, inactive and
// already-verified accounts, perform equivalent work, and pad their latency
// to a configured floor.
package keystone
