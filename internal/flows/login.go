package flows

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal"
	"github.com/MrEthical07/keystone/internal/mfa"
	"github.com/MrEthical07/keystone/internal/stores"
	"github.com/MrEthical07/keystone/session"
)

// LoginResult is either a token pair or an MFA challenge, never both.
type LoginResult struct {
	UserID          string
	MFARequired     bool
	MFASessionToken string
	MFAExpiresAt    time.Time
	Tokens          *session.TokenPair
}

type LoginMetrics struct {
	LoginSuccess        int
	LoginFailure        int
	LoginRateLimited    int
	MFARequired         int
	MFASuccess          int
	MFAFailure          int
	MFAAttemptsExceeded int
	BackupCodeUsed      int
	BackupCodesLow      int
	SessionCreated      int
}

type LoginEvents struct {
	LoginSuccess        string
	LoginFailure        string
	MFARequired         string
	MFASuccess          string
	MFAFailure          string
	MFAAttemptsExceeded string
	BackupCodeUsed      string
	BackupCodesLow      string
}

type LoginDeps struct {
	Hooks

	Users       domain.UserRepository
	Passwords   Passwords
	Sessions    Sessions
	MFA         MFA
	MFASessions MFASessions
	Limiter     domain.RateLimiter
	Random      io.Reader

	MFASessionTTL  time.Duration
	MFAMaxAttempts int

	Metrics LoginMetrics
	Events  LoginEvents
}

func normalizeLoginDeps(deps *LoginDeps) {
	deps.Hooks.normalize()
	if deps.Random == nil {
		deps.Random = domain.SystemRandom
	}
}

// RunLogin checks a password and either issues tokens or parks the login
// in the MFA-pending state. Unknown accounts and wrong passwords are
// indistinguishable; account status is reported only after a correct
// password.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*LoginResult, error) {
	normalizeLoginDeps(&deps)
	if deps.Users == nil || deps.Passwords == nil || deps.Sessions == nil {
		return nil, domain.ErrEngineNotReady
	}

	email = NormalizeEmail(email)
	if err := checkLimit(ctx, deps.Limiter, "login:"+deps.ClientIP(ctx)+":"+email); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
		}
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", err, func() map[string]string {
			return map[string]string{"reason": "rate_limited"}
		})
		return nil, err
	}

	fail := func(userID, reason string, err error) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return nil, err
	}

	user, err := deps.Users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			deps.Passwords.Burn(password)
			return fail("", "user_not_found", domain.ErrInvalidCredentials)
		}
		return nil, err
	}

	verdict, err := deps.Passwords.VerifyPassword(ctx, user.ID, password)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fail(user.ID, "no_credential", domain.ErrInvalidCredentials)
		}
		return nil, err
	}
	if !verdict.Match {
		return fail(user.ID, "password_mismatch", domain.ErrInvalidCredentials)
	}
	if !user.Active {
		return fail(user.ID, "account_disabled", domain.ErrAccountDisabled)
	}

	if verdict.NeedsRehash {
		if err := deps.Passwords.Rehash(ctx, user.ID, password); err != nil {
			deps.Logger.WarnContext(ctx, "keystone: password rehash failed",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
		}
	}

	now := deps.Clock.Now()
	state, err := session.Advance(session.Unauthenticated{}, session.PasswordVerified{
		UserID:           user.ID,
		MFARequired:      user.MFAEnabled,
		PendingExpiresAt: now.Add(deps.MFASessionTTL),
	}, now)
	if err != nil {
		return nil, err
	}

	if pending, ok := state.(session.MFAPending); ok {
		if deps.MFA == nil || deps.MFASessions == nil {
			return nil, domain.ErrEngineNotReady
		}
		challenge, err := internal.NewChallengeID(deps.Random)
		if err != nil {
			return nil, err
		}
		rec, err := deps.MFASessions.Save(ctx, challenge, pending.UserID, deps.MFASessionTTL)
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.MFARequired)
		deps.EmitAudit(ctx, deps.Events.MFARequired, true, user.ID, nil, nil)
		return &LoginResult{
			UserID:          user.ID,
			MFARequired:     true,
			MFASessionToken: challenge,
			MFAExpiresAt:    rec.ExpiresAt,
		}, nil
	}

	tokens, err := issueForLogin(ctx, user.ID, deps)
	if err != nil {
		return fail(user.ID, "issue_tokens", err)
	}
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.ID, nil, nil)
	return &LoginResult{UserID: user.ID, Tokens: tokens}, nil
}

// RunCompleteMFA finishes a pending login with a TOTP or backup code. The
// pending session is single use: of concurrent completions at most one
// receives tokens.
func RunCompleteMFA(ctx context.Context, mfaSessionToken, code string, kind mfa.CodeKind, deps LoginDeps) (*LoginResult, error) {
	normalizeLoginDeps(&deps)
	if deps.Users == nil || deps.Sessions == nil || deps.MFA == nil || deps.MFASessions == nil {
		return nil, domain.ErrEngineNotReady
	}

	fail := func(userID, reason string, err error) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.MFAFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, false, userID, err, func() map[string]string {
			return map[string]string{"reason": reason, "kind": string(kind)}
		})
		return nil, err
	}

	if !internal.ValidChallengeID(mfaSessionToken) {
		return fail("", "malformed_session", domain.ErrInvalidToken)
	}
	rec, err := deps.MFASessions.Get(ctx, mfaSessionToken)
	if err != nil {
		if errors.Is(err, stores.ErrMFASessionNotFound) || errors.Is(err, stores.ErrMFASessionExpired) {
			return fail("", "session_not_found", domain.ErrInvalidToken)
		}
		return nil, err
	}
	var state session.State = session.MFAPending{UserID: rec.UserID, ExpiresAt: rec.ExpiresAt}

	result, err := deps.MFA.VerifyLogin(ctx, rec.UserID, code, kind)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidCode) {
			return nil, err
		}
		if deps.MFAMaxAttempts > 0 {
			exceeded, recErr := deps.MFASessions.RecordFailure(ctx, mfaSessionToken, deps.MFAMaxAttempts)
			if recErr != nil && !errors.Is(recErr, stores.ErrMFASessionNotFound) && !errors.Is(recErr, stores.ErrMFASessionExpired) {
				deps.Logger.WarnContext(ctx, "keystone: record mfa failure failed", slog.Any("error", recErr))
			}
			if exceeded {
				deps.MetricInc(deps.Metrics.MFAAttemptsExceeded)
				deps.EmitAudit(ctx, deps.Events.MFAAttemptsExceeded, false, rec.UserID, domain.ErrInvalidCode, nil)
			}
		}
		return fail(rec.UserID, "invalid_code", domain.ErrInvalidCode)
	}

	if _, err := deps.MFASessions.Consume(ctx, mfaSessionToken); err != nil {
		if errors.Is(err, stores.ErrMFASessionNotFound) || errors.Is(err, stores.ErrMFASessionExpired) {
			return fail(rec.UserID, "session_consumed", domain.ErrInvalidToken)
		}
		return nil, err
	}
	if state, err = session.Advance(state, session.MFAVerified{}, deps.Clock.Now()); err != nil {
		return fail(rec.UserID, "session_expired", domain.ErrInvalidToken)
	}

	if kind == mfa.CodeBackup {
		deps.MetricInc(deps.Metrics.BackupCodeUsed)
		deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, rec.UserID, nil, func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(result.Remaining)}
		})
	}
	if deps.MFA.LowOnBackupCodes(result) {
		deps.MetricInc(deps.Metrics.BackupCodesLow)
		deps.Logger.WarnContext(ctx, "keystone: backup codes running low",
			slog.String("user_id", rec.UserID),
			slog.Int("remaining", result.Remaining),
		)
		deps.EmitAudit(ctx, deps.Events.BackupCodesLow, true, rec.UserID, nil, func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(result.Remaining)}
		})
	}

	authenticated := state.(session.Authenticated)
	user, err := deps.Users.GetUserByID(ctx, authenticated.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fail(rec.UserID, "user_missing", domain.ErrInvalidToken)
		}
		return nil, err
	}
	if !user.Active {
		return fail(user.ID, "account_disabled", domain.ErrAccountDisabled)
	}

	tokens, err := issueForLogin(ctx, user.ID, deps)
	if err != nil {
		return fail(user.ID, "issue_tokens", err)
	}
	deps.MetricInc(deps.Metrics.MFASuccess)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.MFASuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{"kind": string(kind)}
	})
	return &LoginResult{UserID: user.ID, Tokens: tokens}, nil
}

func issueForLogin(ctx context.Context, userID string, deps LoginDeps) (*session.TokenPair, error) {
	tokens, err := deps.Sessions.IssueTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	deps.MetricInc(deps.Metrics.SessionCreated)
	if err := deps.Users.TouchLastLogin(ctx, userID, deps.Clock.Now()); err != nil {
		deps.Logger.WarnContext(ctx, "keystone: update last login failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
	return tokens, nil
}
