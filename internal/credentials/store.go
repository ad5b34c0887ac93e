// Package credentials owns password credentials: policy enforcement,
// hashing, persistence, and verification. Raw passwords never leave this
// package; hashes leave it only through NewCredential, for repositories
// that insert the credential together with its user.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/password"
)

// Verdict is the outcome of a password check.
type Verdict struct {
	Match       bool
	NeedsRehash bool
}

// Store hashes and verifies passwords against a CredentialRepository.
type Store struct {
	repo   domain.CredentialRepository
	hasher *password.Hasher
	policy password.Policy
	clock  domain.Clock
}

// NewStore wires a credential store.
func NewStore(repo domain.CredentialRepository, hasher *password.Hasher, policy password.Policy, clock domain.Clock) (*Store, error) {
	if repo == nil || hasher == nil {
		return nil, domain.ErrEngineNotReady
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{repo: repo, hasher: hasher, policy: policy, clock: clock}, nil
}

// CheckPolicy validates plaintext without touching storage.
func (s *Store) CheckPolicy(plaintext string) error {
	return s.policy.Check(plaintext)
}

// SetPassword validates, hashes, and persists the credential for userID.
// Passwords that fail policy never reach storage.
func (s *Store) SetPassword(ctx context.Context, userID, plaintext string) error {
	if err := s.policy.Check(plaintext); err != nil {
		return err
	}
	return s.store(ctx, userID, plaintext)
}

// NewCredential validates and hashes plaintext without persisting it.
func (s *Store) NewCredential(userID, plaintext string) (domain.PasswordCredential, error) {
	if err := s.policy.Check(plaintext); err != nil {
		return domain.PasswordCredential{}, err
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return domain.PasswordCredential{}, err
	}
	return domain.PasswordCredential{UserID: userID, Hash: hash, UpdatedAt: s.clock.Now()}, nil
}

// Replace swaps the credential for userID in one upsert. Callers revoke
// sessions after it returns.
func (s *Store) Replace(ctx context.Context, userID, plaintext string) error {
	return s.SetPassword(ctx, userID, plaintext)
}

func (s *Store) store(ctx context.Context, userID, plaintext string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	return s.repo.UpsertCredential(ctx, domain.PasswordCredential{
		UserID:    userID,
		Hash:      hash,
		UpdatedAt: s.clock.Now(),
	})
}

// VerifyPassword compares plaintext against the stored hash. A mismatch is
// a normal (Verdict{}, nil) outcome; domain.ErrNotFound means no credential
// exists.
func (s *Store) VerifyPassword(ctx context.Context, userID, plaintext string) (Verdict, error) {
	cred, err := s.repo.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.hasher.Burn(plaintext)
		}
		return Verdict{}, err
	}

	ok, err := s.hasher.Verify(plaintext, cred.Hash)
	if err != nil {
		return Verdict{}, fmt.Errorf("credentials: stored hash for %s: %w", userID, err)
	}
	if !ok {
		return Verdict{}, nil
	}

	needs, err := s.hasher.NeedsRehash(cred.Hash)
	if err != nil {
		needs = false
	}
	return Verdict{Match: true, NeedsRehash: needs}, nil
}

// Rehash stores a fresh hash of an already verified plaintext under the
// current parameters. Policy is not re-checked so legacy passwords keep
// working.
func (s *Store) Rehash(ctx context.Context, userID, plaintext string) error {
	return s.store(ctx, userID, plaintext)
}

// Burn spends one verification worth of work for unknown-account paths.
func (s *Store) Burn(plaintext string) {
	s.hasher.Burn(plaintext)
}
