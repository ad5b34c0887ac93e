package storage

import (
	"context"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateUser inserts u. A duplicate email or username is domain.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	row := toUserRow(u)
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) CreateUserWithCredential(ctx context.Context, u domain.User, cred domain.PasswordCredential) error {
	userRow := toUserRow(u)
	credRow := credentialRow{UserID: u.ID, Hash: cred.Hash, UpdatedAt: cred.UpdatedAt}
	return mapErr(s.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&userRow).Error; err != nil {
			return err
		}
		return tx.Create(&credRow).Error
	}))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return domain.User{}, mapErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "email = ?", email).Error; err != nil {
		return domain.User{}, mapErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) EmailOrUsernameTaken(ctx context.Context, email, username string) (bool, bool, error) {
	var rows []userRow
	err := s.db.WithContext(ctx).
		Select("email", "username").
		Where("email = ? OR username = ?", email, username).
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return false, false, err
	}
	var emailTaken, usernameTaken bool
	for _, r := range rows {
		emailTaken = emailTaken || r.Email == email
		usernameTaken = usernameTaken || r.Username == username
	}
	return emailTaken, usernameTaken, nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&userRow{}).
		Where("id = ?", userID).
		Updates(map[string]any{"email_verified": true, "verified_at": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	return s.db.WithContext(ctx).
		Model(&userRow{}).
		Where("id = ?", userID).
		Update("mfa_enabled", enabled).Error
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&userRow{}).
		Where("id = ?", userID).
		Update("last_login_at", at).Error
}

// SetActive toggles the account's active flag. Operator tooling uses it;
// the core only reads the flag.
func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	res := s.db.WithContext(ctx).
		Model(&userRow{}).
		Where("id = ?", userID).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteUser removes the user and every dependent row in one transaction
// and reports per-table counts.
func (s *Store) DeleteUser(ctx context.Context, userID string) (map[string]int64, error) {
	deleted := map[string]int64{}
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		dependents := []struct {
			label string
			model any
		}{
			{"mfa_backup_codes", &backupCodeRow{}},
			{"mfa_enrollments", &mfaEnrollmentRow{}},
			{"refresh_tokens", &refreshTokenRow{}},
			{"verification_tokens", &verificationTokenRow{}},
			{"password_credentials", &credentialRow{}},
		}
		for _, d := range dependents {
			res := tx.Where("user_id = ?", userID).Delete(d.model)
			if res.Error != nil {
				return res.Error
			}
			deleted[d.label] = res.RowsAffected
		}
		res := tx.Where("id = ?", userID).Delete(&userRow{})
		if res.Error != nil {
			return res.Error
		}
		deleted["users"] = res.RowsAffected
		return nil
	})
	return deleted, err
}

func (s *Store) UpsertCredential(ctx context.Context, cred domain.PasswordCredential) error {
	row := credentialRow{UserID: cred.UserID, Hash: cred.Hash, UpdatedAt: cred.UpdatedAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hash", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) GetCredential(ctx context.Context, userID string) (domain.PasswordCredential, error) {
	var row credentialRow
	if err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error; err != nil {
		return domain.PasswordCredential{}, mapErr(err)
	}
	return domain.PasswordCredential{UserID: row.UserID, Hash: row.Hash, UpdatedAt: row.UpdatedAt}, nil
}
