package keystone

import (
	"context"
	"time"

	"github.com/MrEthical07/keystone/internal/flows"
)

// Refresh rotates refreshToken and returns a new pair. Presenting a token
// that was already rotated revokes every session of its owner and returns
// ErrInvalidToken.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return flows.RunRefresh(ctx, refreshToken, e.refreshDeps())
}

// Logout revokes one refresh token. It is idempotent.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	return flows.RunLogout(ctx, refreshToken, e.refreshDeps())
}

// LogoutAll revokes every refresh token of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	return flows.RunLogoutAll(ctx, userID, e.refreshDeps())
}

// ValidateAccess verifies an access token's signature and claims without
// touching storage. Failures are ErrExpiredToken or ErrInvalidToken.
// Revocation takes effect when the access token expires.
func (e *Engine) ValidateAccess(token string) (*AccessClaims, error) {
	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}
	claims, err := e.issuer.ValidateAccess(token)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}
	e.metricInc(MetricValidateSuccess)
	return claims, nil
}

// PurgeExpired deletes expired, used and revoked token rows older than
// Tokens.PurgeGrace. It is idempotent and safe to run from several
// replicas at once.
func (e *Engine) PurgeExpired(ctx context.Context) (PurgeReport, error) {
	report, err := flows.RunPurge(ctx, flows.PurgeDeps{
		Hooks: e.hooks(),
		Purge: e.vault.PurgeExpired,
		Grace: e.config.Tokens.PurgeGrace,
	})
	if err != nil {
		return PurgeReport{}, err
	}
	e.metrics.Add(MetricTokensPurged, uint64(report.VerificationTokens+report.RefreshTokens))
	return report, nil
}

func (e *Engine) refreshDeps() flows.RefreshDeps {
	return flows.RefreshDeps{
		Hooks:    e.hooks(),
		Users:    e.store,
		Sessions: e.issuer,
		Metrics: flows.RefreshMetrics{
			RefreshSuccess:       int(MetricRefreshSuccess),
			RefreshFailure:       int(MetricRefreshFailure),
			RefreshReuseDetected: int(MetricRefreshReuseDetected),
			Logout:               int(MetricLogout),
			LogoutAll:            int(MetricLogoutAll),
			SessionsRevoked:      int(MetricSessionsRevoked),
		},
		Events: flows.RefreshEvents{
			RefreshSuccess: auditEventRefreshSuccess,
			RefreshInvalid: auditEventRefreshInvalid,
			RefreshReuse:   auditEventRefreshReuse,
			Logout:         auditEventLogout,
			LogoutAll:      auditEventLogoutAll,
		},
	}
}
