package keystone

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/keystone/domain"
	"github.com/MrEthical07/keystone/internal/audit"
	"github.com/MrEthical07/keystone/internal/credentials"
	"github.com/MrEthical07/keystone/internal/mfa"
	"github.com/MrEthical07/keystone/internal/notify"
	"github.com/MrEthical07/keystone/internal/rate"
	"github.com/MrEthical07/keystone/internal/stores"
	"github.com/MrEthical07/keystone/internal/vault"
	"github.com/MrEthical07/keystone/jwt"
	"github.com/MrEthical07/keystone/password"
	"github.com/MrEthical07/keystone/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config      Config
	redis       redis.UniversalClient
	persistence domain.Persistence

	logger    *slog.Logger
	notifier  domain.Notifier
	auditSink AuditSink
	clock     domain.Clock
	random    io.Reader
	limiter   domain.RateLimiter

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithPersistence sets the storage adapter, usually a *storage.Store.
func (b *Builder) WithPersistence(p domain.Persistence) *Builder {
	b.persistence = p
	return b
}

// WithRedis sets the client holding pending MFA logins and, with the redis
// backend, rate-limit counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithNotifier sets the outbound message transport. Without one,
// notifications are discarded.
func (b *Builder) WithNotifier(n domain.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source used for every expiry decision.
func (b *Builder) WithClock(c domain.Clock) *Builder {
	b.clock = c
	return b
}

// WithRandom overrides the source of token, salt, secret and id bytes.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

// WithRateLimiter replaces the configured limiters with l for every
// rate-limited operation. Keys are prefixed by operation.
func (b *Builder) WithRateLimiter(l domain.RateLimiter) *Builder {
	b.limiter = l
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. Call
// [Engine.Start] to run the background revocation worker and
// [Engine.Close] on shutdown.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.persistence == nil {
		return nil, errors.New("persistence required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.MFA.MasterKey) < mfa.MinMasterKeyLen {
		return nil, fmt.Errorf("MFA MasterKey must be at least %d bytes", mfa.MinMasterKeyLen)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := b.clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	random := b.random
	if random == nil {
		random = domain.SystemRandom
	}

	hasher, err := password.NewHasher(cfg.Password.Hash, random)
	if err != nil {
		return nil, err
	}
	passwords, err := credentials.NewStore(b.persistence, hasher, cfg.Password.Policy, clock)
	if err != nil {
		return nil, err
	}

	tokens, err := vault.New(b.persistence, clock, random, vault.Config{
		RefreshTTL: cfg.Tokens.RefreshTTL,
		ReuseGrace: cfg.Tokens.RefreshReuseGrace,
	})
	if err != nil {
		return nil, err
	}

	sealer, err := mfa.NewSealer(cfg.MFA.MasterKey, random)
	if err != nil {
		return nil, err
	}
	second, err := mfa.New(b.persistence, sealer, clock, random, mfaEngineConfig(cfg.MFA))
	if err != nil {
		return nil, err
	}

	access, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	}, clock, random)
	if err != nil {
		return nil, err
	}
	issuer, err := session.NewIssuer(access, tokens)
	if err != nil {
		return nil, err
	}

	limiters, err := b.buildLimiters(cfg.RateLimit, clock)
	if err != nil {
		return nil, err
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}

	e := &Engine{
		config:      cfg,
		logger:      logger,
		clock:       clock,
		random:      random,
		store:       b.persistence,
		passwords:   passwords,
		vault:       tokens,
		mfa:         second,
		access:      access,
		issuer:      issuer,
		mfaSessions: stores.NewMFASessionStore(b.redis, cfg.MFA.RedisPrefix, clock),
		limiters:    limiters,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Clock:      clock,
			Logger:     logger,
		}, sink),
		notifier: notify.NewDispatcher(notify.Config{
			BufferSize: cfg.Notify.BufferSize,
			Workers:    cfg.Notify.Workers,
			Timeout:    cfg.Notify.Timeout,
		}, b.notifier, logger),
		metrics: NewMetrics(cfg.Metrics),
	}
	e.revocations = newRevocationQueue(e, cfg.Tokens)

	b.built = true
	return e, nil
}

func (b *Builder) buildLimiters(cfg RateLimitConfig, clock domain.Clock) (limiterSet, error) {
	if b.limiter != nil {
		return limiterSet{login: b.limiter, register: b.limiter, reset: b.limiter, verification: b.limiter}, nil
	}
	if !cfg.Enabled {
		return limiterSet{}, nil
	}

	build := func(name string, w RateWindow) (domain.RateLimiter, error) {
		window := rate.Window{Limit: w.Limit, Period: w.Period}
		if cfg.Backend == "local" {
			return rate.NewLocalLimiter(window, clock)
		}
		return rate.NewRedisLimiter(b.redis, cfg.RedisPrefix+":"+name, window)
	}

	var (
		set limiterSet
		err error
	)
	if set.login, err = build("login", cfg.Login); err != nil {
		return limiterSet{}, err
	}
	if set.register, err = build("register", cfg.Register); err != nil {
		return limiterSet{}, err
	}
	if set.reset, err = build("reset", cfg.PasswordReset); err != nil {
		return limiterSet{}, err
	}
	if set.verification, err = build("verification", cfg.Verification); err != nil {
		return limiterSet{}, err
	}
	return set, nil
}

func mfaEngineConfig(c MFAConfig) mfa.Config {
	return mfa.Config{
		Issuer:          c.Issuer,
		Period:          c.Period,
		Skew:            c.Skew,
		BackupCodeCount: c.BackupCodeCount,
		LowBackupCodes:  c.LowBackupCodes,
	}
}
