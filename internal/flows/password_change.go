package flows

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/MrEthical07/keystone/domain"
)

type PasswordChangeMetrics struct {
	PasswordChangeSuccess       int
	PasswordChangeInvalidOld    int
	PasswordChangeReuseRejected int
	SessionsRevoked             int
}

type PasswordChangeEvents struct {
	PasswordChange string
}

type PasswordChangeDeps struct {
	Hooks

	Users     domain.UserRepository
	Passwords Passwords
	Sessions  Sessions
	Notify    NotifyFunc

	Metrics PasswordChangeMetrics
	Events  PasswordChangeEvents
}

// RunChangePassword replaces the password of an authenticated user after
// re-checking the old one, then revokes every session.
func RunChangePassword(ctx context.Context, userID, oldPassword, newPassword string, deps PasswordChangeDeps) error {
	deps.Hooks.normalize()
	if deps.Notify == nil {
		deps.Notify = func(context.Context, domain.NotificationKind, string, map[string]string) {}
	}
	if deps.Users == nil || deps.Passwords == nil || deps.Sessions == nil {
		return domain.ErrEngineNotReady
	}

	verdict, err := deps.Passwords.VerifyPassword(ctx, userID, oldPassword)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil || !verdict.Match {
		deps.MetricInc(deps.Metrics.PasswordChangeInvalidOld)
		deps.EmitAudit(ctx, deps.Events.PasswordChange, false, userID, domain.ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "old_password_mismatch"}
		})
		return domain.ErrInvalidCredentials
	}

	verr := &domain.ValidationError{}
	if newPassword == oldPassword {
		deps.MetricInc(deps.Metrics.PasswordChangeReuseRejected)
		verr.Add("new_password", "reuse", "must differ from the current password")
	}
	if err := mergePolicy(verr, deps.Passwords.CheckPolicy(newPassword), "new_password"); err != nil {
		return err
	}
	if err := verr.OrNil(); err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordChange, false, userID, err, func() map[string]string {
			return map[string]string{"reason": "validation"}
		})
		return err
	}

	if err := deps.Passwords.Replace(ctx, userID, newPassword); err != nil {
		deps.Logger.ErrorContext(ctx, "keystone: replace credential failed",
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

	deps.MetricInc(deps.Metrics.PasswordChangeSuccess)
	if revoked > 0 {
		deps.MetricInc(deps.Metrics.SessionsRevoked)
	}
	deps.EmitAudit(ctx, deps.Events.PasswordChange, true, userID, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)}
	})
	return nil
}
