package mfa

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoTOTP = "keystone-totp-secret-v1"

// MinMasterKeyLen is the shortest accepted sealing master key.
const MinMasterKeyLen = 32

var (
	ErrShortMasterKey = errors.New("mfa: master key must be at least 32 bytes")
	ErrSealedSecret   = errors.New("mfa: sealed secret cannot be opened")
)

// Sealer encrypts TOTP secrets at rest with XChaCha20-Poly1305. The user id
// is bound as associated data so a sealed blob cannot be moved between
// accounts.
type Sealer struct {
	key    [chacha20poly1305.KeySize]byte
	random io.Reader
}

// NewSealer derives the AEAD key from master with HKDF-SHA256.
func NewSealer(master []byte, random io.Reader) (*Sealer, error) {
	if len(master) < MinMasterKeyLen {
		return nil, ErrShortMasterKey
	}
	if random == nil {
		return nil, errors.New("mfa: nil random source")
	}
	s := &Sealer{random: random}
	hk := hkdf.New(sha256.New, master, nil, []byte(hkdfInfoTOTP))
	if _, err := io.ReadFull(hk, s.key[:]); err != nil {
		return nil, fmt.Errorf("mfa: derive key: %w", err)
	}
	return s, nil
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(userID string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(s.random, out); err != nil {
		return nil, fmt.Errorf("mfa: nonce: %w", err)
	}
	return aead.Seal(out, out[:chacha20poly1305.NonceSizeX], plaintext, []byte(userID)), nil
}

func (s *Sealer) Open(userID string, sealed []byte) ([]byte, error) {
	if len(sealed) <= chacha20poly1305.NonceSizeX {
		return nil, ErrSealedSecret
	}
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, err
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, []byte(userID))
	if err != nil {
		return nil, ErrSealedSecret
	}
	return pt, nil
}
