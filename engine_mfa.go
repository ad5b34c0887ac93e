package keystone

import (
	"context"

	"github.com/MrEthical07/keystone/internal/flows"
)

// BeginMFASetup generates a TOTP secret for userID and returns it with its
// provisioning URI. Calling it again before confirmation replaces the
// pending secret. An enrolled user gets ErrMFAAlreadyEnabled.
func (e *Engine) BeginMFASetup(ctx context.Context, userID string) (*MFASetup, error) {
	setup, err := flows.RunBeginMFASetup(ctx, userID, e.mfaManageDeps())
	if err != nil {
		return nil, err
	}
	return &MFASetup{Secret: setup.Secret, URI: setup.URI}, nil
}

// ConfirmMFASetup enables MFA with a current code and returns the initial
// backup codes. They are shown once and stored hashed.
func (e *Engine) ConfirmMFASetup(ctx context.Context, userID, code string) ([]string, error) {
	return flows.RunConfirmMFASetup(ctx, userID, code, e.mfaManageDeps())
}

// DisableMFA removes the enrollment and backup codes after re-verifying the
// password, then revokes every session. It is idempotent.
func (e *Engine) DisableMFA(ctx context.Context, userID, password string) error {
	return flows.RunDisableMFA(ctx, userID, password, e.mfaManageDeps())
}

// RegenerateBackupCodes replaces every backup code after re-verifying the
// password. Previously issued codes stop working.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	return flows.RunRegenerateBackupCodes(ctx, userID, password, e.mfaManageDeps())
}

func (e *Engine) MFAStatus(ctx context.Context, userID string) (MFAState, error) {
	return flows.RunMFAStatus(ctx, userID, e.mfaManageDeps())
}

func (e *Engine) mfaManageDeps() flows.MFAManageDeps {
	return flows.MFAManageDeps{
		Hooks:     e.hooks(),
		Users:     e.store,
		Passwords: e.passwords,
		MFA:       e.mfa,
		Sessions:  e.issuer,
		Metrics: flows.MFAManageMetrics{
			MFASetupRequested:    int(MetricMFASetupRequested),
			MFAEnabled:           int(MetricMFAEnabled),
			MFADisabled:          int(MetricMFADisabled),
			BackupCodesGenerated: int(MetricBackupCodesGenerated),
			SessionsRevoked:      int(MetricSessionsRevoked),
		},
		Events: flows.MFAManageEvents{
			MFASetupRequested:    auditEventMFASetupRequested,
			MFAEnabled:           auditEventMFAEnabled,
			MFADisabled:          auditEventMFADisabled,
			BackupCodesGenerated: auditEventBackupCodesGenerated,
		},
	}
}
