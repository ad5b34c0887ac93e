// Package stores keeps the pending half of an MFA login in Redis.
//
// A record is written when a password check succeeds for an account with
// MFA enabled and lives until the second factor is verified, the attempt
// cap is hit, or its TTL passes. Records are versioned and binary encoded;
// keys are the SHA-256 of the challenge id, so the plaintext id never
// reaches Redis.
//
// Consume and RecordFailure run in WATCH/MULTI transactions with retry on
// contention. Of several concurrent Consume calls for one record, at most
// one succeeds.
//
// This package does not verify codes or issue tokens; those belong to
// internal/mfa and internal/flows.
package stores
