package flows

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/session"
)

type RefreshMetrics struct {
	RefreshSuccess       int
	RefreshFailure       int
	RefreshReuseDetected int
	Logout               int
	LogoutAll            int
	SessionsRevoked      int
}

type RefreshEvents struct {
	RefreshSuccess string
	RefreshInvalid string
	RefreshReuse   string
	Logout         string
	LogoutAll      string
}

type RefreshDeps struct {
	Hooks

	Users    domain.UserRepository
	Sessions Sessions

	Metrics RefreshMetrics
	Events  RefreshEvents
}

// RunRefresh rotates a refresh token. A token presented after rotation is
// treated as stolen: every session of its owner is revoked and the caller
// sees domain.ErrInvalidToken.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) (*session.TokenPair, error) {
	deps.Hooks.normalize()
	if deps.Users == nil || deps.Sessions == nil {
		return nil, domain.ErrEngineNotReady
	}

	pair, userID, err := deps.Sessions.Refresh(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenReuse):
			deps.MetricInc(deps.Metrics.RefreshReuseDetected)
			revoked := deps.revokeAll(ctx, deps.Sessions, userID)
			if revoked > 0 {
				deps.MetricInc(deps.Metrics.SessionsRevoked)
			}
			deps.Logger.WarnContext(ctx, "keystone: refresh token reuse detected",
				slog.String("user_id", userID),
				slog.Int64("sessions_revoked", revoked),
			)
			deps.EmitAudit(ctx, deps.Events.RefreshReuse, false, userID, domain.ErrTokenReuse, func() map[string]string {
				return map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)}
			})
			return nil, domain.ErrInvalidToken
		case errors.Is(err, domain.ErrInvalidToken):
			deps.MetricInc(deps.Metrics.RefreshFailure)
			deps.EmitAudit(ctx, deps.Events.RefreshInvalid, false, "", err, nil)
			return nil, domain.ErrInvalidToken
		default:
			deps.MetricInc(deps.Metrics.RefreshFailure)
			return nil, err
		}
	}

	user, err := deps.Users.GetUserByID(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil || !user.Active {
		if _, revokeErr := deps.Sessions.Revoke(ctx, pair.RefreshToken); revokeErr != nil {
			deps.Logger.WarnContext(ctx, "keystone: revoke refresh for inactive account failed", slog.Any("error", revokeErr))
		}
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.RefreshInvalid, false, userID, domain.ErrAccountDisabled, func() map[string]string {
			return map[string]string{"reason": "account_disabled"}
		})
		return nil, domain.ErrAccountDisabled
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.EmitAudit(ctx, deps.Events.RefreshSuccess, true, userID, nil, nil)
	return pair, nil
}

// RunLogout revokes a single refresh token. Unknown and already revoked
// tokens succeed.
func RunLogout(ctx context.Context, refreshToken string, deps RefreshDeps) error {
	deps.Hooks.normalize()
	if deps.Sessions == nil {
		return domain.ErrEngineNotReady
	}
	userID, err := deps.Sessions.Revoke(ctx, refreshToken)
	if err != nil {
		return err
	}
	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, userID, nil, nil)
	return nil
}

// RunLogoutAll revokes every refresh token of userID.
func RunLogoutAll(ctx context.Context, userID string, deps RefreshDeps) error {
	deps.Hooks.normalize()
	if deps.Sessions == nil {
		return domain.ErrEngineNotReady
	}
	n, err := deps.Sessions.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}
	deps.MetricInc(deps.Metrics.LogoutAll)
	deps.EmitAudit(ctx, deps.Events.LogoutAll, true, userID, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.FormatInt(n, 10)}
	})
	return nil
}

// PurgeDeps captures the maintenance sweep dependencies.
type PurgeDeps struct {
	Hooks

	Purge func(ctx context.Context, grace time.Duration) (domain.PurgeReport, error)
	Grace time.Duration
}

// RunPurge deletes dead token rows. It is idempotent.
func RunPurge(ctx context.Context, deps PurgeDeps) (domain.PurgeReport, error) {
	deps.Hooks.normalize()
	if deps.Purge == nil {
		return domain.PurgeReport{}, domain.ErrEngineNotReady
	}
	report, err := deps.Purge(ctx, deps.Grace)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "keystone: purge expired tokens failed", slog.Any("error", err))
		return domain.PurgeReport{}, err
	}
	deps.Logger.InfoContext(ctx, "keystone: purged expired tokens",
		slog.Int64("verification_tokens", report.VerificationTokens),
		slog.Int64("refresh_tokens", report.RefreshTokens),
	)
	return report, nil
}
