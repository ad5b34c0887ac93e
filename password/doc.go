// Package password implements argon2id hashing and the password composition
// policy.
//
// # Output format
//
// Hashes are PHC strings with unpadded base64 segments:
//
//	$argon2id$v=19$m=<memory>,t=<iterations>,p=<threads>$<salt>$<key>
//
// [Hasher.NeedsRehash] reports hashes produced with weaker parameters so the
// caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package hashes, verifies, and checks policy. Persisting the result is
// the credential store's job.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Log plaintext passwords or hash parameters at runtime.
package password
