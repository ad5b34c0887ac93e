package storage

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/keystone/domain"
)

// Memory is a mutex-guarded domain.Persistence. It mirrors the conditional
// semantics of Store and is meant for tests and single-process development.
type Memory struct {
	mu           sync.Mutex
	users        map[string]domain.User
	credentials  map[string]domain.PasswordCredential
	verification map[string]domain.VerificationToken
	refresh      map[string]domain.RefreshToken
	enrollments  map[string]domain.MFAEnrollment
	backupCodes  map[string][]domain.BackupCode
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:        map[string]domain.User{},
		credentials:  map[string]domain.PasswordCredential{},
		verification: map[string]domain.VerificationToken{},
		refresh:      map[string]domain.RefreshToken{},
		enrollments:  map[string]domain.MFAEnrollment{},
		backupCodes:  map[string][]domain.BackupCode{},
	}
}

func (m *Memory) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUniqueLocked(u); err != nil {
		return err
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) CreateUserWithCredential(_ context.Context, u domain.User, cred domain.PasswordCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUniqueLocked(u); err != nil {
		return err
	}
	if _, ok := m.credentials[u.ID]; ok {
		return domain.ErrConflict
	}
	cred.UserID = u.ID
	m.users[u.ID] = u
	m.credentials[u.ID] = cred
	return nil
}

func (m *Memory) checkUniqueLocked(u domain.User) error {
	if _, ok := m.users[u.ID]; ok {
		return domain.ErrConflict
	}
	for _, existing := range m.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return domain.ErrConflict
		}
	}
	return nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *Memory) EmailOrUsernameTaken(_ context.Context, email, username string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var e, n bool
	for _, u := range m.users {
		e = e || u.Email == email
		n = n || u.Username == username
	}
	return e, n, nil
}

func (m *Memory) updateUser(id string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&u)
	m.users[id] = u
	return nil
}

func (m *Memory) MarkEmailVerified(_ context.Context, userID string, at time.Time) error {
	return m.updateUser(userID, func(u *domain.User) {
		u.EmailVerified = true
		u.VerifiedAt = &at
		u.UpdatedAt = at
	})
}

func (m *Memory) SetMFAEnabled(_ context.Context, userID string, enabled bool) error {
	return m.updateUser(userID, func(u *domain.User) { u.MFAEnabled = enabled })
}

func (m *Memory) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	return m.updateUser(userID, func(u *domain.User) { u.LastLoginAt = &at })
}

// SetActive toggles the account's active flag.
func (m *Memory) SetActive(_ context.Context, userID string, active bool) error {
	return m.updateUser(userID, func(u *domain.User) { u.Active = active })
}

func (m *Memory) UpsertCredential(_ context.Context, cred domain.PasswordCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[cred.UserID] = cred
	return nil
}

func (m *Memory) GetCredential(_ context.Context, userID string) (domain.PasswordCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return domain.PasswordCredential{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *Memory) InsertVerificationToken(_ context.Context, t domain.VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.verification {
		if existing.TokenHash == t.TokenHash {
			return domain.ErrConflict
		}
	}
	m.verification[t.ID] = t
	return nil
}

func (m *Memory) GetVerificationToken(_ context.Context, kind domain.TokenKind, hash [32]byte) (domain.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.verification {
		if t.TokenHash == hash && t.Kind == kind {
			return t, nil
		}
	}
	return domain.VerificationToken{}, domain.ErrNotFound
}

func (m *Memory) ConsumeVerificationToken(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.verification[id]
	if !ok || !t.Usable(now) {
		return false, nil
	}
	t.UsedAt = &now
	m.verification[id] = t
	return true, nil
}

func (m *Memory) InvalidateVerificationTokens(_ context.Context, userID string, kind domain.TokenKind, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.verification {
		if t.UserID == userID && t.Kind == kind && t.UsedAt == nil {
			t.UsedAt = &now
			m.verification[id] = t
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountVerificationTokensSince(_ context.Context, userID string, kind domain.TokenKind, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.verification {
		if t.UserID == userID && t.Kind == kind && !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertRefreshToken(_ context.Context, t domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[t.ID] = t
	return nil
}

func (m *Memory) GetRefreshToken(_ context.Context, hash [32]byte) (domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.refresh {
		if t.TokenHash == hash {
			return t, nil
		}
	}
	return domain.RefreshToken{}, domain.ErrNotFound
}

func (m *Memory) RotateRefreshToken(_ context.Context, oldID string, next domain.RefreshToken, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.refresh[oldID]
	if !ok || !old.Usable(now) {
		return false, nil
	}
	old.RevokedAt = &now
	old.ReplacedBy = next.ID
	m.refresh[oldID] = old
	m.refresh[next.ID] = next
	return true, nil
}

func (m *Memory) RevokeRefreshToken(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt = &now
	m.refresh[id] = t
	return true, nil
}

func (m *Memory) RevokeAllRefreshTokens(_ context.Context, userID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.refresh {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			m.refresh[id] = t
			n++
		}
	}
	return n, nil
}

func (m *Memory) PurgeTokens(_ context.Context, now, createdBefore time.Time) (domain.PurgeReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var report domain.PurgeReport
	for id, t := range m.verification {
		if (!now.Before(t.ExpiresAt) || t.UsedAt != nil) && t.CreatedAt.Before(createdBefore) {
			delete(m.verification, id)
			report.VerificationTokens++
		}
	}
	for id, t := range m.refresh {
		if (!now.Before(t.ExpiresAt) || t.RevokedAt != nil) && t.CreatedAt.Before(createdBefore) {
			delete(m.refresh, id)
			report.RefreshTokens++
		}
	}
	return report, nil
}

func (m *Memory) UpsertEnrollment(_ context.Context, e domain.MFAEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.enrollments[e.UserID]; ok {
		if existing.Enabled {
			return nil
		}
		e.CreatedAt = existing.CreatedAt
	}
	m.enrollments[e.UserID] = e
	return nil
}

func (m *Memory) GetEnrollment(_ context.Context, userID string) (domain.MFAEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[userID]
	if !ok {
		return domain.MFAEnrollment{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *Memory) EnableEnrollment(_ context.Context, userID string, step int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[userID]
	if !ok || e.Enabled {
		return false, nil
	}
	e.Enabled = true
	e.LastUsedStep = step
	e.LastUsedAt = &at
	e.UpdatedAt = at
	m.enrollments[userID] = e
	return true, nil
}

func (m *Memory) AdvanceTOTPStep(_ context.Context, userID string, step int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[userID]
	if !ok || !e.Enabled || e.LastUsedStep >= step {
		return false, nil
	}
	e.LastUsedStep = step
	e.LastUsedAt = &at
	e.UpdatedAt = at
	m.enrollments[userID] = e
	return true, nil
}

func (m *Memory) DeleteEnrollment(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.enrollments, userID)
	return nil
}

func (m *Memory) ReplaceBackupCodes(_ context.Context, userID string, codes []domain.BackupCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backupCodes[userID] = append([]domain.BackupCode(nil), codes...)
	return nil
}

func (m *Memory) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.backupCodes[userID]
	for i := range codes {
		if codes[i].CodeHash == hash && codes[i].UsedAt == nil {
			codes[i].UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CountUnusedBackupCodes(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.backupCodes[userID] {
		if c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteBackupCodes(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backupCodes, userID)
	return nil
}

var (
	_ domain.Persistence = (*Memory)(nil)
	_ domain.Persistence = (*Store)(nil)
)
