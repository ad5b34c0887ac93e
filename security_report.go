package keystone

import "time"

// SecurityReport summarizes the security posture of a built Engine. It
// holds no key material and is safe to log.
type SecurityReport struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Argon2           PasswordConfigReport
	Policy           PasswordPolicyReport

	VerificationTTL  time.Duration
	ResetTTL         time.Duration
	MaxResetPerHour  int
	EnumerationFloor time.Duration

	TOTPPeriod          uint
	TOTPSkew            uint
	BackupCodeCount     int
	MFASessionTTL       time.Duration
	MFAAttemptCapActive bool

	RateLimitingActive bool
	RateLimitBackend   string
	AuditEnabled       bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type PasswordPolicyReport struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	backend := cfg.RateLimit.Backend
	limiting := e.limiters.login != nil
	if limiting && !cfg.RateLimit.Enabled {
		backend = "injected"
	}
	if !limiting {
		backend = ""
	}

	return SecurityReport{
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.Tokens.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Hash.Memory,
			Iterations:  cfg.Password.Hash.Iterations,
			Parallelism: cfg.Password.Hash.Parallelism,
			SaltLength:  cfg.Password.Hash.SaltLength,
			KeyLength:   cfg.Password.Hash.KeyLength,
		},
		Policy: PasswordPolicyReport{
			MinLength:     cfg.Password.Policy.MinLength,
			MaxLength:     cfg.Password.Policy.MaxLength,
			RequireUpper:  cfg.Password.Policy.RequireUpper,
			RequireLower:  cfg.Password.Policy.RequireLower,
			RequireDigit:  cfg.Password.Policy.RequireDigit,
			RequireSymbol: cfg.Password.Policy.RequireSymbol,
		},
		VerificationTTL:     cfg.Tokens.VerificationTTL,
		ResetTTL:            cfg.Tokens.ResetTTL,
		MaxResetPerHour:     cfg.Tokens.MaxResetPerHour,
		EnumerationFloor:    cfg.Tokens.EnumerationFloor,
		TOTPPeriod:          cfg.MFA.Period,
		TOTPSkew:            cfg.MFA.Skew,
		BackupCodeCount:     cfg.MFA.BackupCodeCount,
		MFASessionTTL:       cfg.MFA.SessionTTL,
		MFAAttemptCapActive: cfg.MFA.MaxAttempts > 0,
		RateLimitingActive:  limiting,
		RateLimitBackend:    backend,
		AuditEnabled:        cfg.Audit.Enabled,
	}
}
