// Package domain holds the records, collaborator contracts, and error
// taxonomy shared by every keystone component.
//
// # Architecture boundaries
//
// domain is a leaf package. Components (credentials, vault, mfa, session)
// and the persistence adapter in storage depend on it; it depends on
// nothing inside the module.
//
// # What this package must NOT do
//
//   - Perform I/O or hold state.
//   - Import component or storage packages.
package domain
