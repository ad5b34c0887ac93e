package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minIterations  uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	phcAlgorithm          = "argon2id"
)

var (
	// ErrMalformedHash is returned for stored hashes that are not argon2id PHC strings.
	ErrMalformedHash = errors.New("password: malformed argon2id hash")
	// ErrNoRandom is returned when the hasher was built without a random source.
	ErrNoRandom = errors.New("password: random source required")
)

// Params are the argon2id cost parameters.
type Params struct {
	Memory      uint32 `toml:"memory_kb"`
	Iterations  uint32 `toml:"iterations"`
	Parallelism uint8  `toml:"parallelism"`
	SaltLength  uint32 `toml:"salt_length"`
	KeyLength   uint32 `toml:"key_length"`
}

// DefaultParams follows the OWASP argon2id baseline.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate rejects parameters below the package floor.
func (p Params) Validate() error {
	switch {
	case p.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case p.Iterations < minIterations:
		return errors.New("password iterations must be >= 1")
	case p.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case p.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return nil
}

// Hasher produces and checks argon2id PHC strings. A Hasher is safe for
// concurrent use when its random source is.
type Hasher struct {
	params Params
	random io.Reader
	dummy  string
}

// NewHasher validates params and precomputes the dummy hash used by Burn.
func NewHasher(params Params, random io.Reader) (*Hasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if random == nil {
		return nil, ErrNoRandom
	}
	h := &Hasher{params: params, random: random}
	dummy, err := h.Hash("keystone-dummy-credential")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Params returns the parameters new hashes are produced with.
func (h *Hasher) Params() Params {
	return h.params
}

// Hash derives a fresh salted hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(h.random, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return encodePHC(h.params, salt, key), nil
}

// Verify compares plaintext against encoded in constant time. A mismatch is
// (false, nil); only an unparseable hash is an error.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	stored, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(plaintext), stored.salt, stored.params.Iterations, stored.params.Memory, stored.params.Parallelism, uint32(len(stored.key)))
	return subtle.ConstantTimeCompare(key, stored.key) == 1, nil
}

// Burn runs a full verification against a fixed hash so that unknown-user
// paths cost the same as a real password check.
func (h *Hasher) Burn(plaintext string) {
	_, _ = h.Verify(plaintext, h.dummy)
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the hasher's.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	stored, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	p := stored.params
	return p.Memory < h.params.Memory ||
		p.Iterations < h.params.Iterations ||
		p.Parallelism < h.params.Parallelism ||
		uint32(len(stored.key)) != h.params.KeyLength, nil
}

type phc struct {
	params Params
	salt   []byte
	key    []byte
}

func encodePHC(p Params, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm, argon2.Version,
		p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// decodePHC accepts both padded and unpadded base64 segments.
func decodePHC(encoded string) (phc, error) {
	var out phc

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != phcAlgorithm {
		return out, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return out, ErrMalformedHash
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return out, ErrMalformedHash
	}
	if memory < minMemoryKB || iterations < minIterations || parallelism < minParallelism {
		return out, ErrMalformedHash
	}

	salt, err := decodeSegment(fields[4])
	if err != nil || uint32(len(salt)) < minSaltLength {
		return out, ErrMalformedHash
	}
	key, err := decodeSegment(fields[5])
	if err != nil || uint32(len(key)) < minKeyLength {
		return out, ErrMalformedHash
	}

	out.params = Params{
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: parallelism,
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}
	out.salt = salt
	out.key = key
	return out, nil
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
