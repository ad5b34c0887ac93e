// Package mfa implements TOTP enrollment and verification with replay
// defense, plus single-use backup codes.
//
// Per-user state moves Unenrolled -> Pending -> Enabled. BeginSetup may be
// repeated while Pending; only Disable returns an Enabled user to
// Unenrolled.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrEthical07/keystone/domain"
	"github.com/google/uuid"
)

// CodeKind selects the verifier for VerifyLogin.
type CodeKind string

const (
	CodeTOTP   CodeKind = "totp"
	CodeBackup CodeKind = "backup"
)

// State is a user's enrollment state.
type State string

const (
	StateUnenrolled State = "unenrolled"
	StatePending    State = "pending"
	StateEnabled    State = "enabled"
)

// Config controls TOTP parameters and backup-code batches.
type Config struct {
	Issuer          string `toml:"issuer"`
	Period          uint   `toml:"period"`
	Skew            uint   `toml:"skew"`
	BackupCodeCount int    `toml:"backup_code_count"`
	LowBackupCodes  int    `toml:"low_backup_codes"`
}

// DefaultConfig returns 30s steps, +-1 step skew, and 10 backup codes.
func DefaultConfig() Config {
	return Config{
		Issuer:          "keystone",
		Period:          30,
		Skew:            1,
		BackupCodeCount: 10,
		LowBackupCodes:  2,
	}
}

func (c Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("mfa: issuer must not be empty")
	}
	if c.Period == 0 {
		return errors.New("mfa: period must be > 0")
	}
	if c.Skew > 3 {
		return errors.New("mfa: skew must be <= 3")
	}
	if c.BackupCodeCount <= 0 {
		return errors.New("mfa: backup code count must be > 0")
	}
	if c.LowBackupCodes < 0 || c.LowBackupCodes >= c.BackupCodeCount {
		return errors.New("mfa: low backup code threshold must be in [0, count)")
	}
	return nil
}

// Result reports the outcome of a successful VerifyLogin.
type Result struct {
	Kind      CodeKind
	Remaining int
}

// Engine is the MFA component.
type Engine struct {
	repo   domain.MFARepository
	sealer *Sealer
	clock  domain.Clock
	random io.Reader
	cfg    Config
}

// New wires an Engine.
func New(repo domain.MFARepository, sealer *Sealer, clock domain.Clock, random io.Reader, cfg Config) (*Engine, error) {
	if repo == nil || sealer == nil {
		return nil, domain.ErrEngineNotReady
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if random == nil {
		random = domain.SystemRandom
	}
	return &Engine{repo: repo, sealer: sealer, clock: clock, random: random, cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// BeginSetup generates and stores a fresh pending secret, replacing any
// earlier pending one.
func (e *Engine) BeginSetup(ctx context.Context, userID, accountName string) (Setup, error) {
	existing, err := e.repo.GetEnrollment(ctx, userID)
	switch {
	case err == nil && existing.Enabled:
		return Setup{}, domain.ErrMFAAlreadyEnabled
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return Setup{}, err
	}

	key, err := e.generateKey(accountName)
	if err != nil {
		return Setup{}, fmt.Errorf("mfa: generate secret: %w", err)
	}
	sealed, err := e.sealer.Seal(userID, []byte(key.Secret()))
	if err != nil {
		return Setup{}, err
	}

	now := e.clock.Now()
	if err := e.repo.UpsertEnrollment(ctx, domain.MFAEnrollment{
		UserID:       userID,
		SealedSecret: sealed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return Setup{}, err
	}

	// A concurrent confirm may have enabled the earlier secret; the upsert
	// leaves enabled rows alone, so re-read to detect it.
	current, err := e.repo.GetEnrollment(ctx, userID)
	if err != nil {
		return Setup{}, err
	}
	if current.Enabled {
		return Setup{}, domain.ErrMFAAlreadyEnabled
	}
	return Setup{Secret: key.Secret(), URI: key.URL()}, nil
}

// VerifySetup confirms a pending enrollment with a current code, enables
// it, and returns a fresh batch of formatted backup codes.
func (e *Engine) VerifySetup(ctx context.Context, userID, code string) ([]string, error) {
	enr, err := e.repo.GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCode
		}
		return nil, err
	}
	if enr.Enabled {
		return nil, domain.ErrMFAAlreadyEnabled
	}

	secret, err := e.sealer.Open(userID, enr.SealedSecret)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	step, ok, err := e.matchStep(string(secret), code, now, -1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidCode
	}

	enabled, err := e.repo.EnableEnrollment(ctx, userID, step, now)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, domain.ErrInvalidCode
	}
	return e.replaceBackupCodes(ctx, userID)
}

// VerifyLogin checks a second-factor code for an enabled user. A TOTP code
// is accepted only for a step later than the last accepted one; a backup
// code is consumed.
func (e *Engine) VerifyLogin(ctx context.Context, userID, code string, kind CodeKind) (Result, error) {
	enr, err := e.repo.GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, domain.ErrInvalidCode
		}
		return Result{}, err
	}
	if !enr.Enabled {
		return Result{}, domain.ErrInvalidCode
	}

	now := e.clock.Now()
	switch kind {
	case CodeTOTP:
		secret, err := e.sealer.Open(userID, enr.SealedSecret)
		if err != nil {
			return Result{}, err
		}
		step, ok, err := e.matchStep(string(secret), code, now, enr.LastUsedStep)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, domain.ErrInvalidCode
		}
		advanced, err := e.repo.AdvanceTOTPStep(ctx, userID, step, now)
		if err != nil {
			return Result{}, err
		}
		if !advanced {
			return Result{}, domain.ErrInvalidCode
		}
	case CodeBackup:
		canonical := CanonicalizeBackupCode(code)
		if canonical == "" {
			return Result{}, domain.ErrInvalidCode
		}
		consumed, err := e.repo.ConsumeBackupCode(ctx, userID, BackupCodeHash(userID, canonical), now)
		if err != nil {
			return Result{}, err
		}
		if !consumed {
			return Result{}, domain.ErrInvalidCode
		}
	default:
		return Result{}, domain.ErrInvalidCode
	}

	remaining, err := e.repo.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: kind, Remaining: int(remaining)}, nil
}

// LowOnBackupCodes reports whether r should trigger a low-codes warning.
func (e *Engine) LowOnBackupCodes(r Result) bool {
	return r.Remaining <= e.cfg.LowBackupCodes
}

// Disable removes the enrollment and every backup code. It is idempotent.
func (e *Engine) Disable(ctx context.Context, userID string) error {
	if err := e.repo.DeleteBackupCodes(ctx, userID); err != nil {
		return err
	}
	return e.repo.DeleteEnrollment(ctx, userID)
}

// RegenerateBackupCodes replaces the batch for an enabled user.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	st, err := e.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st != StateEnabled {
		return nil, domain.ErrMFANotEnabled
	}
	return e.replaceBackupCodes(ctx, userID)
}

func (e *Engine) Status(ctx context.Context, userID string) (State, error) {
	enr, err := e.repo.GetEnrollment(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return StateUnenrolled, nil
	case err != nil:
		return "", err
	case enr.Enabled:
		return StateEnabled, nil
	default:
		return StatePending, nil
	}
}

func (e *Engine) replaceBackupCodes(ctx context.Context, userID string) ([]string, error) {
	now := e.clock.Now()
	records := make([]domain.BackupCode, 0, e.cfg.BackupCodeCount)
	codes := make([]string, 0, e.cfg.BackupCodeCount)
	seen := make(map[string]struct{}, e.cfg.BackupCodeCount)
	for len(codes) < e.cfg.BackupCodeCount {
		raw, err := newBackupCode(e.random)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		id, err := uuid.NewRandomFromReader(e.random)
		if err != nil {
			return nil, fmt.Errorf("mfa: backup code id: %w", err)
		}
		records = append(records, domain.BackupCode{
			ID:        id.String(),
			UserID:    userID,
			CodeHash:  BackupCodeHash(userID, raw),
			CreatedAt: now,
		})
		codes = append(codes, FormatBackupCode(raw))
	}

	if err := e.repo.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, err
	}
	return codes, nil
}
