package internal

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

const (
	// OpaqueTokenSize is the raw entropy of every issued bearer token.
	OpaqueTokenSize = 32
	// ChallengeIDSize is the raw entropy of an MFA pending-session id.
	ChallengeIDSize = 24
)

// ErrMalformedToken is returned for tokens that do not decode to the
// expected size.
var ErrMalformedToken = errors.New("malformed token")

// NewOpaqueToken draws OpaqueTokenSize bytes from r and returns the
// base64url form together with its SHA-256 digest.
func NewOpaqueToken(r io.Reader) (string, [32]byte, error) {
	var raw [OpaqueTokenSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return "", [32]byte{}, err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), sha256.Sum256(raw[:]), nil
}

// HashOpaqueToken decodes token and returns the digest it was stored under.
// Tokens of the wrong shape fail before any lookup happens.
func HashOpaqueToken(token string) ([32]byte, error) {
	if base64.RawURLEncoding.DecodedLen(len(token)) != OpaqueTokenSize {
		return [32]byte{}, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != OpaqueTokenSize {
		return [32]byte{}, ErrMalformedToken
	}
	return sha256.Sum256(raw), nil
}

// NewChallengeID returns a random base64url identifier.
func NewChallengeID(r io.Reader) (string, error) {
	var raw [ChallengeIDSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidChallengeID reports whether id has the shape NewChallengeID produces.
func ValidChallengeID(id string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil && len(raw) == ChallengeIDSize
}
