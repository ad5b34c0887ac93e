// Package jwt mints and verifies short-lived access tokens.
//
// Verification is stateless: a token is accepted when its signature, issuer,
// audience and expiry check out against the injected clock. There is no
// revocation list; the short AccessTTL bounds exposure after logout.
package jwt
