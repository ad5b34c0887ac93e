package keystone

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal/audit"
)

// AuditEvent is one security-relevant record. It never carries passwords,
// tokens, codes or secrets.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// MultiSink fans events out to several sinks.
type MultiSink = audit.MultiSink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// NewChannelSink returns a sink that forwards events to a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewSlogSink logs failures at warn and successes at info.
func NewSlogSink(logger *slog.Logger) *audit.SlogSink { return audit.NewSlogSink(logger) }

const (
	auditEventRegister                 = "register"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "verify_email"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventPasswordChange           = "password_change"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventMFARequired              = "mfa_required"
	auditEventMFASuccess               = "mfa_success"
	auditEventMFAFailure               = "mfa_failure"
	auditEventMFAAttemptsExceeded      = "mfa_attempts_exceeded"
	auditEventBackupCodeUsed           = "backup_code_used"
	auditEventBackupCodesLow           = "backup_codes_low"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshReuse             = "refresh_reuse"
	auditEventLogout                   = "logout"
	auditEventLogoutAll                = "logout_all"
	auditEventMFASetupRequested        = "mfa_setup_requested"
	auditEventMFAEnabled               = "mfa_enabled"
	auditEventMFADisabled              = "mfa_disabled"
	auditEventBackupCodesGenerated     = "backup_codes_generated"
	auditEventRevocationAbandoned      = "revocation_abandoned"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrMFAAlreadyEnabled  AuditErrorCode = "mfa_already_enabled"
	auditErrMFANotEnabled      AuditErrorCode = "mfa_not_enabled"
	auditErrCanceled           AuditErrorCode = "canceled"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now(),
		Type:      eventType,
		UserID:    userID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	e.audit.Emit(ctx, event)
}

// auditErrorCode maps err to a fixed label so raw error text, which may
// quote input, never reaches the audit trail.
func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrTokenReuse):
		return auditErrRefreshReuse
	case errors.Is(err, domain.ErrValidation):
		return auditErrValidation
	case errors.Is(err, domain.ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, domain.ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, domain.ErrExpiredToken):
		return auditErrExpiredToken
	case errors.Is(err, domain.ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, domain.ErrConflict):
		return auditErrConflict
	case errors.Is(err, domain.ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, domain.ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, domain.ErrMFAAlreadyEnabled):
		return auditErrMFAAlreadyEnabled
	case errors.Is(err, domain.ErrMFANotEnabled):
		return auditErrMFANotEnabled
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
