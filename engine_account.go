package keystone

import (
	"context"

	"github.com/MrEthical07/keystone/internal/flows"
)

// Register creates an unverified account, stores its password credential,
// and sends a verification link plus a welcome message. Every field
// violation is reported together in one *ValidationError; a taken email or
// username is ErrConflict.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	user, err := flows.RunRegister(ctx, flows.RegisterInput{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	}, e.registerDeps())
	if err != nil {
		return nil, err
	}
	return profileFrom(user), nil
}

// VerifyEmail redeems an email verification token. Any failure, including
// replay of a used token, is ErrInvalidToken.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	return flows.RunVerifyEmail(ctx, token, e.emailVerificationDeps())
}

// ResendVerification sends a fresh verification link when email belongs to
// an active, unverified account. It returns nil for every other address
// after equivalent work, so callers cannot enumerate accounts.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	return flows.RunResendVerification(ctx, email, e.emailVerificationDeps())
}

// Profile returns the public view of userID.
func (e *Engine) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profileFrom(user), nil
}

func (e *Engine) registerDeps() flows.RegisterDeps {
	return flows.RegisterDeps{
		Hooks:           e.hooks(),
		Users:           e.store,
		Passwords:       e.passwords,
		Tokens:          e.vault,
		Notify:          e.notify,
		Limiter:         e.limiters.register,
		Random:          e.random,
		VerificationTTL: e.config.Tokens.VerificationTTL,
		Metrics: flows.RegisterMetrics{
			RegisterSuccess:     int(MetricRegisterSuccess),
			RegisterConflict:    int(MetricRegisterConflict),
			RegisterInvalid:     int(MetricRegisterInvalid),
			RegisterRateLimited: int(MetricRegisterRateLimited),
		},
		Events: flows.RegisterEvents{
			Register: auditEventRegister,
		},
	}
}

func (e *Engine) emailVerificationDeps() flows.EmailVerificationDeps {
	return flows.EmailVerificationDeps{
		Hooks:            e.hooks(),
		Users:            e.store,
		Tokens:           e.vault,
		Notify:           e.notify,
		Limiter:          e.limiters.verification,
		VerificationTTL:  e.config.Tokens.VerificationTTL,
		MaxPerHour:       e.config.Tokens.MaxVerificationPerHour,
		EnumerationFloor: e.config.Tokens.EnumerationFloor,
		Metrics: flows.EmailVerificationMetrics{
			EmailVerificationRequest: int(MetricEmailVerificationRequest),
			EmailVerificationSuccess: int(MetricEmailVerificationSuccess),
			EmailVerificationFailure: int(MetricEmailVerificationFailure),
		},
		Events: flows.EmailVerificationEvents{
			EmailVerificationRequest: auditEventEmailVerificationRequest,
			EmailVerificationConfirm: auditEventEmailVerificationConfirm,
		},
	}
}
