package flows

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/keystone/domain"
)

type PasswordResetMetrics struct {
	PasswordResetRequest        int
	PasswordResetConfirmSuccess int
	PasswordResetConfirmFailure int
	SessionsRevoked             int
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
}

type PasswordResetDeps struct {
	Hooks

	Users     domain.UserRepository
	Passwords Passwords
	Tokens    Tokens
	Sessions  Sessions
	Notify    NotifyFunc
	Limiter   domain.RateLimiter

	ResetTTL         time.Duration
	MaxPerHour       int
	EnumerationFloor time.Duration

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	deps.Hooks.normalize()
	if deps.Notify == nil {
		deps.Notify = func(context.Context, domain.NotificationKind, string, map[string]string) {}
	}
}

// RunForgotPassword sends a reset link to an existing active account,
// at most MaxPerHour times per hour. It returns nil for unknown, inactive
// and capped addresses alike, after the same latency floor.
func RunForgotPassword(ctx context.Context, email string, deps PasswordResetDeps) error {
	start := time.Now()
	normalizePasswordResetDeps(&deps)
	if deps.Users == nil || deps.Tokens == nil {
		return domain.ErrEngineNotReady
	}

	email = NormalizeEmail(email)
	if err := checkLimit(ctx, deps.Limiter, "reset:"+deps.ClientIP(ctx)+":"+email); err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", err, func() map[string]string {
			return map[string]string{"reason": "rate_limited"}
		})
		return err
	}
	deps.MetricInc(deps.Metrics.PasswordResetRequest)

	req := emailRequest{
		kind:       domain.KindPasswordReset,
		ttl:        deps.ResetTTL,
		maxPerHour: deps.MaxPerHour,
		notifyKind: domain.NotifyPasswordReset,
		eligible: func(u domain.User) bool {
			return u.Active
		},
	}
	userID, err := runEmailRequest(ctx, email, req, deps.Users, deps.Tokens, deps.Notify, deps.Hooks)
	if padErr := padLatency(ctx, start, deps.EnumerationFloor); padErr != nil && err == nil {
		err = padErr
	}
	if err != nil {
		return err
	}
	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, userID, nil, nil)
	return nil
}

// RunValidateResetToken reports whether token would currently redeem.
// Infrastructure errors read as false.
func RunValidateResetToken(ctx context.Context, token string, deps PasswordResetDeps) bool {
	normalizePasswordResetDeps(&deps)
	if deps.Tokens == nil {
		return false
	}
	ok, err := deps.Tokens.ValidateWithoutConsuming(ctx, token, domain.KindPasswordReset)
	if err != nil {
		deps.Logger.WarnContext(ctx, "keystone: validate reset token failed", slog.Any("error", err))
		return false
	}
	return ok
}

// RunResetPassword redeems a reset token and replaces the owner's
// password, then revokes every session. The new password is checked
// before the token is spent.
func RunResetPassword(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.Users == nil || deps.Passwords == nil || deps.Tokens == nil || deps.Sessions == nil {
		return domain.ErrEngineNotReady
	}

	verr := &domain.ValidationError{}
	if err := mergePolicy(verr, deps.Passwords.CheckPolicy(newPassword), "new_password"); err != nil {
		return err
	}
	if err := verr.OrNil(); err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", err, func() map[string]string {
			return map[string]string{"reason": "password_policy"}
		})
		return err
	}

	userID, err := deps.Tokens.Redeem(ctx, token, domain.KindPasswordReset)
	if err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", err, func() map[string]string {
			return map[string]string{"reason": "token"}
		})
		return err
	}

	if err := deps.Passwords.Replace(ctx, userID, newPassword); err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.Logger.ErrorContext(ctx, "keystone: replace credential after reset failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return err
	}

	revoked := completeCredentialChange(ctx, userID, credentialChange{
		hooks:    deps.Hooks,
		users:    deps.Users,
		sessions: deps.Sessions,
		notify:   deps.Notify,
	})
	if err := deps.Tokens.InvalidateOutstanding(ctx, userID, domain.KindPasswordReset); err != nil {
		deps.Logger.WarnContext(ctx, "keystone: invalidate outstanding reset tokens failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
	if revoked > 0 {
		deps.MetricInc(deps.Metrics.SessionsRevoked)
	}
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, userID, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)}
	})
	return nil
}

type credentialChange struct {
	hooks    Hooks
	users    domain.UserRepository
	sessions Sessions
	notify   NotifyFunc
}

// completeCredentialChange runs after a password was durably replaced:
// revoke every session, then tell the owner. Neither step can fail the
// operation.
func completeCredentialChange(ctx context.Context, userID string, c credentialChange) int64 {
	revoked := c.hooks.revokeAll(ctx, c.sessions, userID)

	user, err := c.users.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.hooks.Logger.WarnContext(ctx, "keystone: load user for password change notice failed",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
		}
		return revoked
	}
	c.notify(ctx, domain.NotifyPasswordChanged, user.Email, map[string]string{
		"username": user.Username,
	})
	return revoked
}
