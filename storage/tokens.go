package storage

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"gorm.io/gorm"
)

var errRotationLost = errors.New("storage: rotation lost")

func (s *Store) InsertVerificationToken(ctx context.Context, t domain.VerificationToken) error {
	row := verificationTokenRow{
		ID:        t.ID,
		UserID:    t.UserID,
		Kind:      string(t.Kind),
		TokenHash: t.TokenHash[:],
		ExpiresAt: t.ExpiresAt,
		UsedAt:    t.UsedAt,
		CreatedAt: t.CreatedAt,
	}
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetVerificationToken(ctx context.Context, kind domain.TokenKind, hash [32]byte) (domain.VerificationToken, error) {
	var row verificationTokenRow
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND kind = ?", hash[:], string(kind)).
		First(&row).Error
	if err != nil {
		return domain.VerificationToken{}, mapErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&verificationTokenRow{}).
		Where("id = ? AND used_at IS NULL AND expires_at > ?", id, now).
		Update("used_at", now)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) InvalidateVerificationTokens(ctx context.Context, userID string, kind domain.TokenKind, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&verificationTokenRow{}).
		Where("user_id = ? AND kind = ? AND used_at IS NULL", userID, string(kind)).
		Update("used_at", now)
	return res.RowsAffected, res.Error
}

func (s *Store) CountVerificationTokensSince(ctx context.Context, userID string, kind domain.TokenKind, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&verificationTokenRow{}).
		Where("user_id = ? AND kind = ? AND created_at >= ?", userID, string(kind), since).
		Count(&n).Error
	return n, err
}

func (s *Store) InsertRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	row := toRefreshRow(t)
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetRefreshToken(ctx context.Context, hash [32]byte) (domain.RefreshToken, error) {
	var row refreshTokenRow
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hash[:]).First(&row).Error; err != nil {
		return domain.RefreshToken{}, mapErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, next domain.RefreshToken, now time.Time) (bool, error) {
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&refreshTokenRow{}).
			Where("id = ? AND revoked_at IS NULL AND expires_at > ?", oldID, now).
			Updates(map[string]any{"revoked_at": now, "replaced_by": next.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errRotationLost
		}
		row := toRefreshRow(next)
		return tx.Create(&row).Error
	})
	if errors.Is(err, errRotationLost) {
		return false, nil
	}
	return err == nil, mapErr(err)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&refreshTokenRow{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", now)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&refreshTokenRow{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}

// PurgeTokens deletes rows that can no longer be redeemed and were created
// before createdBefore. Each DELETE is a single statement so concurrent
// sweeps only race on already-deleted rows.
func (s *Store) PurgeTokens(ctx context.Context, now, createdBefore time.Time) (domain.PurgeReport, error) {
	var report domain.PurgeReport

	res := s.db.WithContext(ctx).
		Where("(expires_at <= ? OR used_at IS NOT NULL) AND created_at < ?", now, createdBefore).
		Delete(&verificationTokenRow{})
	if res.Error != nil {
		return report, res.Error
	}
	report.VerificationTokens = res.RowsAffected

	res = s.db.WithContext(ctx).
		Where("(expires_at <= ? OR revoked_at IS NOT NULL) AND created_at < ?", now, createdBefore).
		Delete(&refreshTokenRow{})
	if res.Error != nil {
		return report, res.Error
	}
	report.RefreshTokens = res.RowsAffected
	return report, nil
}

func toRefreshRow(t domain.RefreshToken) refreshTokenRow {
	return refreshTokenRow{
		ID:         t.ID,
		UserID:     t.UserID,
		TokenHash:  t.TokenHash[:],
		ExpiresAt:  t.ExpiresAt,
		CreatedAt:  t.CreatedAt,
		RevokedAt:  t.RevokedAt,
		ReplacedBy: t.ReplacedBy,
	}
}
