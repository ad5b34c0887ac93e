package flows

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/keystone/domain"
)

type EmailVerificationMetrics struct {
	EmailVerificationRequest int
	EmailVerificationSuccess int
	EmailVerificationFailure int
}

type EmailVerificationEvents struct {
	EmailVerificationRequest string
	EmailVerificationConfirm string
}

type EmailVerificationDeps struct {
	Hooks

	Users   domain.UserRepository
	Tokens  Tokens
	Notify  NotifyFunc
	Limiter domain.RateLimiter

	VerificationTTL  time.Duration
	MaxPerHour       int
	EnumerationFloor time.Duration

	Metrics EmailVerificationMetrics
	Events  EmailVerificationEvents
}

func normalizeEmailVerificationDeps(deps *EmailVerificationDeps) {
	deps.Hooks.normalize()
	if deps.Notify == nil {
		deps.Notify = func(context.Context, domain.NotificationKind, string, map[string]string) {}
	}
}

// RunVerifyEmail redeems an email verification token and marks the
// owner's address verified. Any token failure is domain.ErrInvalidToken.
func RunVerifyEmail(ctx context.Context, token string, deps EmailVerificationDeps) error {
	normalizeEmailVerificationDeps(&deps)
	if deps.Users == nil || deps.Tokens == nil {
		return domain.ErrEngineNotReady
	}

	userID, err := deps.Tokens.Redeem(ctx, token, domain.KindEmailVerification)
	if err != nil {
		deps.MetricInc(deps.Metrics.EmailVerificationFailure)
		deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, false, "", err, nil)
		return err
	}

	if err := deps.Users.MarkEmailVerified(ctx, userID, deps.Clock.Now()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			deps.MetricInc(deps.Metrics.EmailVerificationFailure)
			return domain.ErrInvalidToken
		}
		return err
	}
	if err := deps.Tokens.InvalidateOutstanding(ctx, userID, domain.KindEmailVerification); err != nil {
		deps.Logger.WarnContext(ctx, "keystone: invalidate remaining verification tokens failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}

	deps.MetricInc(deps.Metrics.EmailVerificationSuccess)
	deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, true, userID, nil, nil)
	return nil
}

// RunResendVerification sends a fresh verification link to an existing,
// active, unverified account. The result and latency are the same for
// every other address.
func RunResendVerification(ctx context.Context, email string, deps EmailVerificationDeps) error {
	start := time.Now()
	normalizeEmailVerificationDeps(&deps)
	if deps.Users == nil || deps.Tokens == nil {
		return domain.ErrEngineNotReady
	}

	email = NormalizeEmail(email)
	if err := checkLimit(ctx, deps.Limiter, "resend:"+deps.ClientIP(ctx)+":"+email); err != nil {
		deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, false, "", err, func() map[string]string {
			return map[string]string{"reason": "rate_limited"}
		})
		return err
	}
	deps.MetricInc(deps.Metrics.EmailVerificationRequest)

	req := emailRequest{
		kind:       domain.KindEmailVerification,
		ttl:        deps.VerificationTTL,
		maxPerHour: deps.MaxPerHour,
		notifyKind: domain.NotifyEmailVerification,
		eligible: func(u domain.User) bool {
			return u.Active && !u.EmailVerified
		},
	}
	userID, err := runEmailRequest(ctx, email, req, deps.Users, deps.Tokens, deps.Notify, deps.Hooks)
	if padErr := padLatency(ctx, start, deps.EnumerationFloor); padErr != nil && err == nil {
		err = padErr
	}
	if err != nil {
		return err
	}
	deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, true, userID, nil, nil)
	return nil
}

type emailRequest struct {
	kind       domain.TokenKind
	ttl        time.Duration
	maxPerHour int
	notifyKind domain.NotificationKind
	eligible   func(domain.User) bool
}

// runEmailRequest issues and sends a token when email belongs to an
// eligible user under the hourly cap. Every other branch burns the same
// token generation work. The returned user id is for audit only.
func runEmailRequest(ctx context.Context, email string, req emailRequest, users domain.UserRepository, tokens Tokens, notify NotifyFunc, hooks Hooks) (string, error) {
	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			tokens.Burn()
			return "", nil
		}
		return "", err
	}
	if !req.eligible(user) {
		tokens.Burn()
		return "", nil
	}

	if req.maxPerHour > 0 {
		since := hooks.Clock.Now().Add(-time.Hour)
		n, err := tokens.CountIssuedSince(ctx, user.ID, req.kind, since)
		if err != nil {
			return "", err
		}
		if n >= int64(req.maxPerHour) {
			tokens.Burn()
			hooks.Logger.InfoContext(ctx, "keystone: hourly token cap reached",
				slog.String("user_id", user.ID),
				slog.String("kind", string(req.kind)),
			)
			return user.ID, nil
		}
	}

	token, err := tokens.Issue(ctx, user.ID, req.kind, req.ttl)
	if err != nil {
		return "", err
	}
	notify(ctx, req.notifyKind, user.Email, map[string]string{
		"username": user.Username,
		"token":    token,
	})
	return user.ID, nil
}
