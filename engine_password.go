package keystone

import (
	"context"

	"github.com/MrEthical07/keystone/internal/flows"
)

// ForgotPassword sends a password reset link to an existing active account,
// at most Tokens.MaxResetPerHour times an hour. It returns nil for unknown
// and inactive addresses too, and pads its latency to
// Tokens.EnumerationFloor, so responses do not reveal whether an account
// exists.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	return flows.RunForgotPassword(ctx, email, e.passwordResetDeps())
}

// ValidateResetToken reports whether token is a live reset token without
// consuming it.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) bool {
	return flows.RunValidateResetToken(ctx, token, e.passwordResetDeps())
}

// ResetPassword checks newPassword against the policy, redeems token, and
// replaces the credential. Every refresh token of the user is revoked
// afterwards; a revocation failure is retried in the background and does
// not fail the reset.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	return flows.RunResetPassword(ctx, token, newPassword, e.passwordResetDeps())
}

// ChangePassword replaces the password of an authenticated user after
// re-verifying oldPassword, then revokes every refresh token of the user.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	return flows.RunChangePassword(ctx, userID, oldPassword, newPassword, flows.PasswordChangeDeps{
		Hooks:     e.hooks(),
		Users:     e.store,
		Passwords: e.passwords,
		Sessions:  e.issuer,
		Notify:    e.notify,
		Metrics: flows.PasswordChangeMetrics{
			PasswordChangeSuccess:       int(MetricPasswordChangeSuccess),
			PasswordChangeInvalidOld:    int(MetricPasswordChangeInvalidOld),
			PasswordChangeReuseRejected: int(MetricPasswordChangeReuseRejected),
			SessionsRevoked:             int(MetricSessionsRevoked),
		},
		Events: flows.PasswordChangeEvents{
			PasswordChange: auditEventPasswordChange,
		},
	})
}

func (e *Engine) passwordResetDeps() flows.PasswordResetDeps {
	return flows.PasswordResetDeps{
		Hooks:            e.hooks(),
		Users:            e.store,
		Passwords:        e.passwords,
		Tokens:           e.vault,
		Sessions:         e.issuer,
		Notify:           e.notify,
		Limiter:          e.limiters.reset,
		ResetTTL:         e.config.Tokens.ResetTTL,
		MaxPerHour:       e.config.Tokens.MaxResetPerHour,
		EnumerationFloor: e.config.Tokens.EnumerationFloor,
		Metrics: flows.PasswordResetMetrics{
			PasswordResetRequest:        int(MetricPasswordResetRequest),
			PasswordResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			PasswordResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
			SessionsRevoked:             int(MetricSessionsRevoked),
		},
		Events: flows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetConfirm: auditEventPasswordResetConfirm,
		},
	}
}
