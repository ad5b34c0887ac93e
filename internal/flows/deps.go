package flows

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal/credentials"
	"github.com/MrEthical07/keystone/internal/mfa"
	"github.com/MrEthical07/keystone/internal/stores"
	"github.com/MrEthical07/keystone/session"
)

// Passwords is the credential store surface used by flows.
type Passwords interface {
	CheckPolicy(plaintext string) error
	NewCredential(userID, plaintext string) (domain.PasswordCredential, error)
	Replace(ctx context.Context, userID, plaintext string) error
	VerifyPassword(ctx context.Context, userID, plaintext string) (credentials.Verdict, error)
	Rehash(ctx context.Context, userID, plaintext string) error
	Burn(plaintext string)
}

// Tokens is the verification-token surface of the vault.
type Tokens interface {
	Issue(ctx context.Context, userID string, kind domain.TokenKind, ttl time.Duration) (string, error)
	Burn()
	Redeem(ctx context.Context, token string, kind domain.TokenKind) (string, error)
	ValidateWithoutConsuming(ctx context.Context, token string, kind domain.TokenKind) (bool, error)
	CountIssuedSince(ctx context.Context, userID string, kind domain.TokenKind, since time.Time) (int64, error)
	InvalidateOutstanding(ctx context.Context, userID string, kind domain.TokenKind) error
}

// Sessions issues, rotates and revokes token pairs.
type Sessions interface {
	IssueTokens(ctx context.Context, userID string) (*session.TokenPair, error)
	Refresh(ctx context.Context, old string) (*session.TokenPair, string, error)
	Revoke(ctx context.Context, refreshToken string) (string, error)
	RevokeAll(ctx context.Context, userID string) (int64, error)
}

// MFA is the second-factor engine surface.
type MFA interface {
	BeginSetup(ctx context.Context, userID, accountName string) (mfa.Setup, error)
	VerifySetup(ctx context.Context, userID, code string) ([]string, error)
	VerifyLogin(ctx context.Context, userID, code string, kind mfa.CodeKind) (mfa.Result, error)
	LowOnBackupCodes(r mfa.Result) bool
	Disable(ctx context.Context, userID string) error
	RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error)
	Status(ctx context.Context, userID string) (mfa.State, error)
}

// MFASessions persists pending MFA logins.
type MFASessions interface {
	Save(ctx context.Context, sessionID, userID string, ttl time.Duration) (stores.MFAPending, error)
	Get(ctx context.Context, sessionID string) (stores.MFAPending, error)
	Consume(ctx context.Context, sessionID string) (stores.MFAPending, error)
	RecordFailure(ctx context.Context, sessionID string, maxAttempts int) (bool, error)
}

// NotifyFunc hands a message to the asynchronous notifier. It never blocks
// on delivery.
type NotifyFunc func(ctx context.Context, kind domain.NotificationKind, recipient string, data map[string]string)

// Hooks carries the callbacks shared by every flow. Nil members are
// replaced with no-ops.
type Hooks struct {
	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)
	ClientIP  func(context.Context) string
	Logger    *slog.Logger
	Clock     domain.Clock
	// EnqueueRevocation schedules a background retry of RevokeAll for a
	// user whose sessions could not be revoked inline.
	EnqueueRevocation func(userID string)
}

func (h *Hooks) normalize() {
	if h.MetricInc == nil {
		h.MetricInc = func(int) {}
	}
	if h.EmitAudit == nil {
		h.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if h.ClientIP == nil {
		h.ClientIP = func(context.Context) string { return "" }
	}
	if h.Logger == nil {
		h.Logger = slog.New(slog.DiscardHandler)
	}
	if h.Clock == nil {
		h.Clock = domain.SystemClock{}
	}
	if h.EnqueueRevocation == nil {
		h.EnqueueRevocation = func(string) {}
	}
}

// revokeAll terminates every session of userID. A failure is logged and
// queued for retry; it never fails the calling operation.
func (h *Hooks) revokeAll(ctx context.Context, sessions Sessions, userID string) int64 {
	n, err := sessions.RevokeAll(ctx, userID)
	if err != nil {
		h.Logger.ErrorContext(ctx, "keystone: revoke all sessions failed; queued for retry",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		h.EnqueueRevocation(userID)
		return 0
	}
	return n
}

// checkLimit consults limiter for key. A nil limiter allows everything;
// limiter backend errors fail closed.
func checkLimit(ctx context.Context, limiter domain.RateLimiter, key string) error {
	if limiter == nil {
		return nil
	}
	d, err := limiter.Check(ctx, key)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &domain.RateLimitError{RetryAfter: d.RetryAfter}
	}
	return nil
}
