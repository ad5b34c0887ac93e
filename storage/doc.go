// Package storage implements domain.Persistence with GORM over PostgreSQL
// (pgx) or SQLite, plus an in-memory variant for tests and single-process
// development.
//
// # Atomicity
//
// Single-use consumes (verification tokens, backup codes, TOTP steps,
// refresh rotation) are conditional UPDATEs whose RowsAffected decides the
// winner. No read-modify-write happens in Go for those paths.
//
// # What this package must NOT do
//
//   - Enforce password policy or token semantics beyond the conditions above.
//   - Run destructive migrations. Migrate only creates missing tables and indexes.
package storage
