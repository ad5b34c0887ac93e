package storage

import (
	"time"

	"github.com/MrEthical07/keystone/domain"
)

type userRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	Email         string `gorm:"size:320;uniqueIndex;not null"`
	Username      string `gorm:"size:64;uniqueIndex;not null"`
	DisplayName   string `gorm:"size:128"`
	EmailVerified bool   `gorm:"not null"`
	VerifiedAt    *time.Time
	Active        bool `gorm:"not null"`
	MFAEnabled    bool `gorm:"column:mfa_enabled;not null"`
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (userRow) TableName() string { return "users" }

type credentialRow struct {
	UserID    string `gorm:"primaryKey;size:36"`
	Hash      string `gorm:"size:256;not null"`
	UpdatedAt time.Time
}

func (credentialRow) TableName() string { return "password_credentials" }

type verificationTokenRow struct {
	ID        string     `gorm:"primaryKey;size:36"`
	UserID    string     `gorm:"size:36;index:idx_verification_user_kind,priority:1;not null"`
	Kind      string     `gorm:"size:32;index:idx_verification_user_kind,priority:2;not null"`
	TokenHash []byte     `gorm:"size:32;uniqueIndex;not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	UsedAt    *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"index"`
}

func (verificationTokenRow) TableName() string { return "verification_tokens" }

type refreshTokenRow struct {
	ID         string     `gorm:"primaryKey;size:36"`
	UserID     string     `gorm:"size:36;index;not null"`
	TokenHash  []byte     `gorm:"size:32;uniqueIndex;not null"`
	ExpiresAt  time.Time  `gorm:"index;not null"`
	CreatedAt  time.Time  `gorm:"index"`
	RevokedAt  *time.Time `gorm:"index"`
	ReplacedBy string     `gorm:"size:36"`
}

func (refreshTokenRow) TableName() string { return "refresh_tokens" }

type mfaEnrollmentRow struct {
	UserID       string `gorm:"primaryKey;size:36"`
	SealedSecret []byte `gorm:"not null"`
	Enabled      bool   `gorm:"not null"`
	LastUsedStep int64  `gorm:"not null"`
	LastUsedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (mfaEnrollmentRow) TableName() string { return "mfa_enrollments" }

type backupCodeRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:36;uniqueIndex:idx_backup_user_hash,priority:1;not null"`
	CodeHash  []byte `gorm:"size:32;uniqueIndex:idx_backup_user_hash,priority:2;not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (backupCodeRow) TableName() string { return "mfa_backup_codes" }

func allModels() []any {
	return []any{
		&userRow{},
		&credentialRow{},
		&verificationTokenRow{},
		&refreshTokenRow{},
		&mfaEnrollmentRow{},
		&backupCodeRow{},
	}
}

func toUserRow(u domain.User) userRow {
	return userRow{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
		VerifiedAt:    u.VerifiedAt,
		Active:        u.Active,
		MFAEnabled:    u.MFAEnabled,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:            r.ID,
		Email:         r.Email,
		Username:      r.Username,
		DisplayName:   r.DisplayName,
		EmailVerified: r.EmailVerified,
		VerifiedAt:    r.VerifiedAt,
		Active:        r.Active,
		MFAEnabled:    r.MFAEnabled,
		LastLoginAt:   r.LastLoginAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r verificationTokenRow) toDomain() domain.VerificationToken {
	out := domain.VerificationToken{
		ID:        r.ID,
		UserID:    r.UserID,
		Kind:      domain.TokenKind(r.Kind),
		ExpiresAt: r.ExpiresAt,
		UsedAt:    r.UsedAt,
		CreatedAt: r.CreatedAt,
	}
	copy(out.TokenHash[:], r.TokenHash)
	return out
}

func (r refreshTokenRow) toDomain() domain.RefreshToken {
	out := domain.RefreshToken{
		ID:         r.ID,
		UserID:     r.UserID,
		ExpiresAt:  r.ExpiresAt,
		CreatedAt:  r.CreatedAt,
		RevokedAt:  r.RevokedAt,
		ReplacedBy: r.ReplacedBy,
	}
	copy(out.TokenHash[:], r.TokenHash)
	return out
}

func (r mfaEnrollmentRow) toDomain() domain.MFAEnrollment {
	return domain.MFAEnrollment{
		UserID:       r.UserID,
		SealedSecret: r.SealedSecret,
		Enabled:      r.Enabled,
		LastUsedStep: r.LastUsedStep,
		LastUsedAt:   r.LastUsedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
