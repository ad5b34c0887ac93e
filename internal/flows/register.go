package flows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/google/uuid"
)

type RegisterInput struct {
	Email       string
	Username    string
	Password    string
	DisplayName string
}

type RegisterMetrics struct {
	RegisterSuccess     int
	RegisterConflict    int
	RegisterInvalid     int
	RegisterRateLimited int
}

type RegisterEvents struct {
	Register string
}

type RegisterDeps struct {
	Hooks

	Users           domain.UserRepository
	Passwords       Passwords
	Tokens          Tokens
	Notify          NotifyFunc
	Limiter         domain.RateLimiter
	Random          io.Reader
	VerificationTTL time.Duration

	Metrics RegisterMetrics
	Events  RegisterEvents
}

func normalizeRegisterDeps(deps *RegisterDeps) {
	deps.Hooks.normalize()
	if deps.Notify == nil {
		deps.Notify = func(context.Context, domain.NotificationKind, string, map[string]string) {}
	}
	if deps.Random == nil {
		deps.Random = domain.SystemRandom
	}
}

// RunRegister creates an unverified user with a password credential and
// sends the first verification token. The returned user carries no
// credential material.
func RunRegister(ctx context.Context, in RegisterInput, deps RegisterDeps) (domain.User, error) {
	normalizeRegisterDeps(&deps)
	if deps.Users == nil || deps.Passwords == nil || deps.Tokens == nil {
		return domain.User{}, domain.ErrEngineNotReady
	}

	ip := deps.ClientIP(ctx)
	if err := checkLimit(ctx, deps.Limiter, "register:"+ip); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			deps.MetricInc(deps.Metrics.RegisterRateLimited)
		}
		deps.EmitAudit(ctx, deps.Events.Register, false, "", err, func() map[string]string {
			return map[string]string{"reason": "rate_limited"}
		})
		return domain.User{}, err
	}

	email := NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	displayName := strings.TrimSpace(in.DisplayName)

	verr := &domain.ValidationError{}
	validateEmail(verr, email)
	validateUsername(verr, username)
	validateDisplayName(verr, displayName)
	if err := mergePolicy(verr, deps.Passwords.CheckPolicy(in.Password), "password"); err != nil {
		return domain.User{}, err
	}
	if err := verr.OrNil(); err != nil {
		deps.MetricInc(deps.Metrics.RegisterInvalid)
		deps.EmitAudit(ctx, deps.Events.Register, false, "", err, func() map[string]string {
			return map[string]string{"reason": "validation"}
		})
		return domain.User{}, err
	}

	emailTaken, usernameTaken, err := deps.Users.EmailOrUsernameTaken(ctx, email, username)
	if err != nil {
		return domain.User{}, err
	}
	if emailTaken || usernameTaken {
		deps.MetricInc(deps.Metrics.RegisterConflict)
		deps.EmitAudit(ctx, deps.Events.Register, false, "", domain.ErrConflict, func() map[string]string {
			return map[string]string{
				"email_taken":    fmt.Sprint(emailTaken),
				"username_taken": fmt.Sprint(usernameTaken),
			}
		})
		return domain.User{}, domain.ErrConflict
	}

	id, err := uuid.NewRandomFromReader(deps.Random)
	if err != nil {
		return domain.User{}, fmt.Errorf("register: user id: %w", err)
	}
	now := deps.Clock.Now()
	user := domain.User{
		ID:          id.String(),
		Email:       email,
		Username:    username,
		DisplayName: displayName,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	cred, err := deps.Passwords.NewCredential(user.ID, in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("register: hash password: %w", err)
	}
	if err := deps.Users.CreateUserWithCredential(ctx, user, cred); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			deps.MetricInc(deps.Metrics.RegisterConflict)
			deps.EmitAudit(ctx, deps.Events.Register, false, "", err, func() map[string]string {
				return map[string]string{"reason": "concurrent_insert"}
			})
			return domain.User{}, err
		}
		deps.Logger.ErrorContext(ctx, "keystone: create user failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return domain.User{}, err
	}

	token, err := deps.Tokens.Issue(ctx, user.ID, domain.KindEmailVerification, deps.VerificationTTL)
	if err != nil {
		// The account exists; the user can ask for a new link.
		deps.Logger.WarnContext(ctx, "keystone: issue verification token failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	} else {
		deps.Notify(ctx, domain.NotifyEmailVerification, user.Email, map[string]string{
			"username": user.Username,
			"token":    token,
		})
	}
	deps.Notify(ctx, domain.NotifyWelcome, user.Email, map[string]string{
		"username":     user.Username,
		"display_name": user.DisplayName,
	})

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.Register, true, user.ID, nil, nil)
	return user, nil
}
