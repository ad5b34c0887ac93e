package storage

import (
	"context"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertEnrollment overwrites a pending enrollment. Enabled enrollments are
// left untouched; callers check state before calling.
func (s *Store) UpsertEnrollment(ctx context.Context, e domain.MFAEnrollment) error {
	row := mfaEnrollmentRow{
		UserID:       e.UserID,
		SealedSecret: e.SealedSecret,
		Enabled:      e.Enabled,
		LastUsedStep: e.LastUsedStep,
		LastUsedAt:   e.LastUsedAt,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sealed_secret", "enabled", "last_used_step", "last_used_at", "updated_at"}),
		Where:     clause.Where{Exprs: []clause.Expression{clause.Eq{Column: clause.Column{Table: "mfa_enrollments", Name: "enabled"}, Value: false}}},
	}).Create(&row).Error
}

func (s *Store) GetEnrollment(ctx context.Context, userID string) (domain.MFAEnrollment, error) {
	var row mfaEnrollmentRow
	if err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error; err != nil {
		return domain.MFAEnrollment{}, mapErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) EnableEnrollment(ctx context.Context, userID string, step int64, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&mfaEnrollmentRow{}).
		Where("user_id = ? AND enabled = ?", userID, false).
		Updates(map[string]any{"enabled": true, "last_used_step": step, "last_used_at": at, "updated_at": at})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) AdvanceTOTPStep(ctx context.Context, userID string, step int64, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&mfaEnrollmentRow{}).
		Where("user_id = ? AND enabled = ? AND last_used_step < ?", userID, true, step).
		Updates(map[string]any{"last_used_step": step, "last_used_at": at, "updated_at": at})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) DeleteEnrollment(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&mfaEnrollmentRow{}).Error
}

// ReplaceBackupCodes deletes every existing code for userID and inserts
// codes in one transaction.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []domain.BackupCode) error {
	return s.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&backupCodeRow{}).Error; err != nil {
			return err
		}
		if len(codes) == 0 {
			return nil
		}
		rows := make([]backupCodeRow, 0, len(codes))
		for _, c := range codes {
			rows = append(rows, backupCodeRow{
				ID:        c.ID,
				UserID:    userID,
				CodeHash:  append([]byte(nil), c.CodeHash[:]...),
				UsedAt:    c.UsedAt,
				CreatedAt: c.CreatedAt,
			})
		}
		return tx.Create(&rows).Error
	})
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&backupCodeRow{}).
		Where("user_id = ? AND code_hash = ? AND used_at IS NULL", userID, hash[:]).
		Update("used_at", at)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) CountUnusedBackupCodes(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&backupCodeRow{}).
		Where("user_id = ? AND used_at IS NULL", userID).
		Count(&n).Error
	return n, err
}

func (s *Store) DeleteBackupCodes(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&backupCodeRow{}).Error
}
