package keystone

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/MrEthical07/keystone/password"
	"github.com/MrEthical07/keystone/storage"
)

// Config is the full engine configuration. Build copies it; mutate a Config
// only before handing it to [Builder.WithConfig].
type Config struct {
	JWT       JWTConfig       `toml:"jwt"`
	Password  PasswordConfig  `toml:"password"`
	Tokens    TokenConfig     `toml:"tokens"`
	MFA       MFAConfig       `toml:"mfa"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Audit     AuditConfig     `toml:"audit"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Notify    NotifyConfig    `toml:"notify"`
	Logging   LoggingConfig   `toml:"logging"`
	Storage   storage.Options `toml:"storage"`
	Redis     RedisConfig     `toml:"redis"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing. Key material never comes from
// the TOML file directly; use the *_file paths or KEYSTONE_JWT_* variables.
type JWTConfig struct {
	AccessTTL     time.Duration `toml:"access_ttl"`
	SigningMethod string        `toml:"signing_method"` // "ed25519" (default) or "hs256"
	Issuer        string        `toml:"issuer"`
	Audience      string        `toml:"audience"`
	Leeway        time.Duration `toml:"leeway"`
	KeyID         string        `toml:"key_id"`

	PrivateKeyFile string `toml:"private_key_file"`
	PublicKeyFile  string `toml:"public_key_file"`

	PrivateKey []byte `toml:"-"`
	PublicKey  []byte `toml:"-"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters and the acceptance policy.
type PasswordConfig struct {
	Hash   password.Params `toml:"hash"`
	Policy password.Policy `toml:"policy"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls verification, reset and refresh token lifetimes and
// the background revocation retry queue.
type TokenConfig struct {
	VerificationTTL time.Duration `toml:"verification_ttl"`
	ResetTTL        time.Duration `toml:"reset_ttl"`
	RefreshTTL      time.Duration `toml:"refresh_ttl"`

	// RefreshReuseGrace is how long a just-rotated refresh token is
	// rejected quietly before presenting it counts as theft.
	RefreshReuseGrace time.Duration `toml:"refresh_reuse_grace"`

	// MaxResetPerHour and MaxVerificationPerHour cap tokens issued to one
	// user in a rolling hour. Requests over the cap are silently dropped.
	MaxResetPerHour        int `toml:"max_reset_per_hour"`
	MaxVerificationPerHour int `toml:"max_verification_per_hour"`

	// EnumerationFloor is the minimum latency of ForgotPassword and
	// ResendVerification, measured from entry.
	EnumerationFloor time.Duration `toml:"enumeration_floor"`

	// PurgeGrace keeps dead rows this long after creation before
	// PurgeExpired deletes them.
	PurgeGrace time.Duration `toml:"purge_grace"`

	RevocationQueueSize     int           `toml:"revocation_queue_size"`
	RevocationRetryAttempts int           `toml:"revocation_retry_attempts"`
	RevocationRetryBackoff  time.Duration `toml:"revocation_retry_backoff"`
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls TOTP parameters, backup codes and the pending-login
// record kept between password and second-factor verification.
type MFAConfig struct {
	Issuer          string `toml:"issuer"`
	Period          uint   `toml:"period"`
	Skew            uint   `toml:"skew"`
	BackupCodeCount int    `toml:"backup_code_count"`
	LowBackupCodes  int    `toml:"low_backup_codes"`

	SessionTTL time.Duration `toml:"session_ttl"`
	// MaxAttempts wrong codes delete the pending login. Zero, the default,
	// leaves throttling to the injected RateLimiter.
	MaxAttempts int    `toml:"max_attempts"`
	RedisPrefix string `toml:"redis_prefix"`

	// MasterKey seals TOTP secrets at rest. Set it from KEYSTONE_MFA_MASTER_KEY
	// (base64) or in code; it is never read from TOML.
	MasterKey []byte `toml:"-"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateWindow allows at most Limit attempts per Period.
type RateWindow struct {
	Limit  int           `toml:"limit"`
	Period time.Duration `toml:"period"`
}

// RateLimitConfig configures the limiters built when no limiter is injected
// through [Builder.WithRateLimiter].
type RateLimitConfig struct {
	Enabled bool `toml:"enabled"`
	// Backend is "redis" (shared across replicas) or "local".
	Backend     string `toml:"backend"`
	RedisPrefix string `toml:"redis_prefix"`

	Login         RateWindow `toml:"login"`
	Register      RateWindow `toml:"register"`
	PasswordReset RateWindow `toml:"password_reset"`
	Verification  RateWindow `toml:"verification"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig controls asynchronous notification delivery.
type NotifyConfig struct {
	BufferSize int           `toml:"buffer_size"`
	Workers    int           `toml:"workers"`
	Timeout    time.Duration `toml:"timeout"`
}

/*
====================================
LOGGING CONFIG
====================================
*/

// LoggingConfig is consumed by the daemon when it builds the process
// logger; the Engine itself takes a ready *slog.Logger.
type LoggingConfig struct {
	Service     string `toml:"service"`
	Environment string `toml:"environment"`
	Level       string `toml:"level"`
	Format      string `toml:"format"`
}

/*
====================================
REDIS CONFIG
====================================
*/

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"-"`
	DB       int    `toml:"db"`
}

// DefaultConfig returns the production defaults. Keys must still be
// supplied before Build.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "keystone",
		},
		Password: PasswordConfig{
			Hash:   password.DefaultParams(),
			Policy: password.DefaultPolicy(),
		},
		Tokens: TokenConfig{
			VerificationTTL:         24 * time.Hour,
			ResetTTL:                time.Hour,
			RefreshTTL:              14 * 24 * time.Hour,
			RefreshReuseGrace:       2 * time.Second,
			MaxResetPerHour:         3,
			MaxVerificationPerHour:  3,
			EnumerationFloor:        250 * time.Millisecond,
			PurgeGrace:              24 * time.Hour,
			RevocationQueueSize:     1024,
			RevocationRetryAttempts: 5,
			RevocationRetryBackoff:  time.Second,
		},
		MFA: MFAConfig{
			Issuer:          "keystone",
			Period:          30,
			Skew:            1,
			BackupCodeCount: 10,
			LowBackupCodes:  2,
			SessionTTL:      5 * time.Minute,
			MaxAttempts:     0,
			RedisPrefix:     "kmfa",
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Backend:       "redis",
			RedisPrefix:   "krl",
			Login:         RateWindow{Limit: 10, Period: 15 * time.Minute},
			Register:      RateWindow{Limit: 5, Period: time.Hour},
			PasswordReset: RateWindow{Limit: 5, Period: time.Hour},
			Verification:  RateWindow{Limit: 5, Period: time.Hour},
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Notify: NotifyConfig{
			BufferSize: 256,
			Workers:    2,
			Timeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Service: "keystone",
			Level:   "info",
			Format:  "json",
		},
		Storage: storage.Options{
			Driver:       "postgres",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
			AutoMigrate:  true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.MFA.MasterKey = cloneBytes(cfg.MFA.MasterKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run with. Key material
// is checked as well, so call it after keys are loaded.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if err := c.Password.Hash.Validate(); err != nil {
		return err
	}
	if err := c.Password.Policy.Validate(); err != nil {
		return err
	}

	// Tokens
	if c.Tokens.VerificationTTL <= 0 || c.Tokens.ResetTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens TTLs must be > 0")
	}
	if c.Tokens.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Tokens RefreshTTL must exceed JWT AccessTTL")
	}
	if c.Tokens.MaxResetPerHour <= 0 || c.Tokens.MaxVerificationPerHour <= 0 {
		return errors.New("Tokens per-hour caps must be > 0")
	}
	if c.Tokens.EnumerationFloor < 0 {
		return errors.New("Tokens EnumerationFloor must be >= 0")
	}
	if c.Tokens.RefreshReuseGrace < 0 {
		return errors.New("Tokens RefreshReuseGrace must be >= 0")
	}
	if c.Tokens.PurgeGrace < 0 {
		return errors.New("Tokens PurgeGrace must be >= 0")
	}
	if c.Tokens.RevocationQueueSize <= 0 {
		return errors.New("Tokens RevocationQueueSize must be > 0")
	}
	if c.Tokens.RevocationRetryAttempts <= 0 || c.Tokens.RevocationRetryBackoff <= 0 {
		return errors.New("Tokens revocation retry settings must be > 0")
	}

	// MFA
	if c.MFA.SessionTTL <= 0 {
		return errors.New("MFA SessionTTL must be > 0")
	}
	if c.MFA.MaxAttempts < 0 {
		return errors.New("MFA MaxAttempts must be >= 0")
	}
	if c.MFA.RedisPrefix == "" {
		return errors.New("MFA RedisPrefix must not be empty")
	}
	if err := mfaEngineConfig(c.MFA).Validate(); err != nil {
		return err
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if c.RateLimit.Backend != "redis" && c.RateLimit.Backend != "local" {
			return errors.New("RateLimit Backend must be redis or local")
		}
		for name, w := range map[string]RateWindow{
			"login":          c.RateLimit.Login,
			"register":       c.RateLimit.Register,
			"password_reset": c.RateLimit.PasswordReset,
			"verification":   c.RateLimit.Verification,
		} {
			if w.Limit <= 0 || w.Period <= 0 {
				return fmt.Errorf("RateLimit %s window must have limit and period > 0", name)
			}
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Notify
	if c.Notify.BufferSize <= 0 || c.Notify.Workers <= 0 || c.Notify.Timeout <= 0 {
		return errors.New("Notify settings must be > 0")
	}
	return nil
}

// LoadConfig decodes the TOML file at path over DefaultConfig, then loads
// any key files it names. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("decode %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.loadKeyFiles(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadKeyFiles() error {
	if c.JWT.PrivateKeyFile != "" {
		b, err := os.ReadFile(c.JWT.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("read jwt private key: %w", err)
		}
		c.JWT.PrivateKey = b
	}
	if c.JWT.PublicKeyFile != "" {
		b, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("read jwt public key: %w", err)
		}
		c.JWT.PublicKey = b
	}
	return nil
}

// ApplyEnv overlays KEYSTONE_* environment variables on c. Secrets are
// base64 (standard encoding).
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	secret := func(key string, dst *[]byte) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("KEYSTONE_JWT_SIGNING_METHOD", &c.JWT.SigningMethod)
	str("KEYSTONE_JWT_ISSUER", &c.JWT.Issuer)
	str("KEYSTONE_JWT_AUDIENCE", &c.JWT.Audience)
	dur("KEYSTONE_JWT_ACCESS_TTL", &c.JWT.AccessTTL)
	secret("KEYSTONE_JWT_PRIVATE_KEY", &c.JWT.PrivateKey)
	secret("KEYSTONE_JWT_PUBLIC_KEY", &c.JWT.PublicKey)
	secret("KEYSTONE_MFA_MASTER_KEY", &c.MFA.MasterKey)

	dur("KEYSTONE_REFRESH_TTL", &c.Tokens.RefreshTTL)
	dur("KEYSTONE_REFRESH_REUSE_GRACE", &c.Tokens.RefreshReuseGrace)
	dur("KEYSTONE_ENUMERATION_FLOOR", &c.Tokens.EnumerationFloor)
	num("KEYSTONE_PASSWORD_MIN_LENGTH", &c.Password.Policy.MinLength)

	str("KEYSTONE_STORAGE_DRIVER", &c.Storage.Driver)
	str("KEYSTONE_STORAGE_DSN", &c.Storage.DSN)
	str("KEYSTONE_REDIS_ADDR", &c.Redis.Addr)
	str("KEYSTONE_REDIS_PASSWORD", &c.Redis.Password)
	num("KEYSTONE_REDIS_DB", &c.Redis.DB)

	flag("KEYSTONE_RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	str("KEYSTONE_RATE_LIMIT_BACKEND", &c.RateLimit.Backend)
	flag("KEYSTONE_AUDIT_ENABLED", &c.Audit.Enabled)
	flag("KEYSTONE_METRICS_ENABLED", &c.Metrics.Enabled)

	str("KEYSTONE_LOG_LEVEL", &c.Logging.Level)
	str("KEYSTONE_LOG_FORMAT", &c.Logging.Format)
	str("KEYSTONE_ENVIRONMENT", &c.Logging.Environment)

	return errors.Join(errs...)
}
