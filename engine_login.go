package keystone

import (
	"context"

	"github.com/MrEthical07/keystone/internal/flows"
)

// Login verifies email and password. For an account with MFA enabled it
// returns an MFA challenge and no tokens; complete it with
// [Engine.CompleteMFA]. Unknown accounts and wrong passwords are both
// ErrInvalidCredentials. An inactive account is ErrAccountDisabled, but
// only once the password has been verified.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	res, err := flows.RunLogin(ctx, email, password, e.loginDeps())
	if err != nil {
		return nil, err
	}
	return loginResultFrom(res), nil
}

// CompleteMFA finishes a pending login with a TOTP code or a backup code.
// An unknown, expired or already completed challenge is ErrInvalidToken; a
// wrong code is ErrInvalidCode and counts against MFA.MaxAttempts.
func (e *Engine) CompleteMFA(ctx context.Context, mfaSessionToken, code string, kind MFACodeKind) (*LoginResult, error) {
	res, err := flows.RunCompleteMFA(ctx, mfaSessionToken, code, kind, e.loginDeps())
	if err != nil {
		return nil, err
	}
	return loginResultFrom(res), nil
}

// IssueTokens mints a fresh access/refresh pair for userID. Callers are
// responsible for having authenticated the user.
func (e *Engine) IssueTokens(ctx context.Context, userID string) (*TokenPair, error) {
	pair, err := e.issuer.IssueTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionCreated)
	return pair, nil
}

func loginResultFrom(res *flows.LoginResult) *LoginResult {
	return &LoginResult{
		UserID:          res.UserID,
		MFARequired:     res.MFARequired,
		MFASessionToken: res.MFASessionToken,
		MFAExpiresAt:    res.MFAExpiresAt,
		Tokens:          res.Tokens,
	}
}

func (e *Engine) loginDeps() flows.LoginDeps {
	return flows.LoginDeps{
		Hooks:          e.hooks(),
		Users:          e.store,
		Passwords:      e.passwords,
		Sessions:       e.issuer,
		MFA:            e.mfa,
		MFASessions:    e.mfaSessions,
		Limiter:        e.limiters.login,
		Random:         e.random,
		MFASessionTTL:  e.config.MFA.SessionTTL,
		MFAMaxAttempts: e.config.MFA.MaxAttempts,
		Metrics: flows.LoginMetrics{
			LoginSuccess:        int(MetricLoginSuccess),
			LoginFailure:        int(MetricLoginFailure),
			LoginRateLimited:    int(MetricLoginRateLimited),
			MFARequired:         int(MetricMFALoginRequired),
			MFASuccess:          int(MetricMFALoginSuccess),
			MFAFailure:          int(MetricMFALoginFailure),
			MFAAttemptsExceeded: int(MetricMFAAttemptsExceeded),
			BackupCodeUsed:      int(MetricBackupCodeUsed),
			BackupCodesLow:      int(MetricBackupCodesLow),
			SessionCreated:      int(MetricSessionCreated),
		},
		Events: flows.LoginEvents{
			LoginSuccess:        auditEventLoginSuccess,
			LoginFailure:        auditEventLoginFailure,
			MFARequired:         auditEventMFARequired,
			MFASuccess:          auditEventMFASuccess,
			MFAFailure:          auditEventMFAFailure,
			MFAAttemptsExceeded: auditEventMFAAttemptsExceeded,
			BackupCodeUsed:      auditEventBackupCodeUsed,
			BackupCodesLow:      auditEventBackupCodesLow,
		},
	}
}
