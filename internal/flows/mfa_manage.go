package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal/mfa"
)

type MFAManageMetrics struct {
	MFASetupRequested    int
	MFAEnabled           int
	MFADisabled          int
	BackupCodesGenerated int
	SessionsRevoked      int
}

type MFAManageEvents struct {
	MFASetupRequested    string
	MFAEnabled           string
	MFADisabled          string
	BackupCodesGenerated string
}

type MFAManageDeps struct {
	Hooks

	Users     domain.UserRepository
	Passwords Passwords
	MFA       MFA
	Sessions  Sessions

	Metrics MFAManageMetrics
	Events  MFAManageEvents
}

func checkMFAManageDeps(deps *MFAManageDeps) error {
	deps.Hooks.normalize()
	if deps.Users == nil || deps.Passwords == nil || deps.MFA == nil || deps.Sessions == nil {
		return domain.ErrEngineNotReady
	}
	return nil
}

// RunBeginMFASetup starts TOTP enrollment for an authenticated user. The
// provisioning URI is labelled with the user's email.
func RunBeginMFASetup(ctx context.Context, userID string, deps MFAManageDeps) (mfa.Setup, error) {
	if err := checkMFAManageDeps(&deps); err != nil {
		return mfa.Setup{}, err
	}
	user, err := deps.Users.GetUserByID(ctx, userID)
	if err != nil {
		return mfa.Setup{}, err
	}
	setup, err := deps.MFA.BeginSetup(ctx, user.ID, user.Email)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.MFASetupRequested, false, userID, err, nil)
		return mfa.Setup{}, err
	}
	deps.MetricInc(deps.Metrics.MFASetupRequested)
	deps.EmitAudit(ctx, deps.Events.MFASetupRequested, true, userID, nil, nil)
	return setup, nil
}

// RunConfirmMFASetup enables MFA with a first valid code and returns the
// initial backup codes.
func RunConfirmMFASetup(ctx context.Context, userID, code string, deps MFAManageDeps) ([]string, error) {
	if err := checkMFAManageDeps(&deps); err != nil {
		return nil, err
	}
	codes, err := deps.MFA.VerifySetup(ctx, userID, code)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.MFAEnabled, false, userID, err, nil)
		return nil, err
	}
	if err := deps.Users.SetMFAEnabled(ctx, userID, true); err != nil {
		return nil, err
	}
	deps.MetricInc(deps.Metrics.MFAEnabled)
	deps.MetricInc(deps.Metrics.BackupCodesGenerated)
	deps.EmitAudit(ctx, deps.Events.MFAEnabled, true, userID, nil, nil)
	return codes, nil
}

// RunDisableMFA turns MFA off after re-checking the password, then revokes
// every session. Disabling an unenrolled user is a no-op success.
func RunDisableMFA(ctx context.Context, userID, password string, deps MFAManageDeps) error {
	if err := checkMFAManageDeps(&deps); err != nil {
		return err
	}
	if err := reverifyPassword(ctx, userID, password, deps); err != nil {
		deps.EmitAudit(ctx, deps.Events.MFADisabled, false, userID, err, nil)
		return err
	}
	if err := deps.MFA.Disable(ctx, userID); err != nil {
		return err
	}
	if err := deps.Users.SetMFAEnabled(ctx, userID, false); err != nil {
		return err
	}
	if deps.revokeAll(ctx, deps.Sessions, userID) > 0 {
		deps.MetricInc(deps.Metrics.SessionsRevoked)
	}
	deps.MetricInc(deps.Metrics.MFADisabled)
	deps.EmitAudit(ctx, deps.Events.MFADisabled, true, userID, nil, nil)
	return nil
}

// RunRegenerateBackupCodes replaces the backup codes after re-checking the
// password.
func RunRegenerateBackupCodes(ctx context.Context, userID, password string, deps MFAManageDeps) ([]string, error) {
	if err := checkMFAManageDeps(&deps); err != nil {
		return nil, err
	}
	if err := reverifyPassword(ctx, userID, password, deps); err != nil {
		deps.EmitAudit(ctx, deps.Events.BackupCodesGenerated, false, userID, err, nil)
		return nil, err
	}
	codes, err := deps.MFA.RegenerateBackupCodes(ctx, userID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.BackupCodesGenerated, false, userID, err, nil)
		return nil, err
	}
	deps.MetricInc(deps.Metrics.BackupCodesGenerated)
	deps.EmitAudit(ctx, deps.Events.BackupCodesGenerated, true, userID, nil, nil)
	return codes, nil
}

// RunMFAStatus reports the enrollment state.
func RunMFAStatus(ctx context.Context, userID string, deps MFAManageDeps) (mfa.State, error) {
	if err := checkMFAManageDeps(&deps); err != nil {
		return "", err
	}
	return deps.MFA.Status(ctx, userID)
}

func reverifyPassword(ctx context.Context, userID, password string, deps MFAManageDeps) error {
	verdict, err := deps.Passwords.VerifyPassword(ctx, userID, password)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCredentials
		}
		return err
	}
	if !verdict.Match {
		return domain.ErrInvalidCredentials
	}
	return nil
}
