package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/sqlstore"
	"go.uber.org/zap/zapcore"
)

// Config is the full engine configuration. Start from [DefaultConfig] or
// [LoadConfig]; the zero value does not validate.
type Config struct {
	Session           SessionConfig
	Tokens            TokenConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	RateLimit         RateLimitConfig
	Store             StoreConfig
	Redis             RedisConfig
	Password          PasswordConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	Log               LogConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	DefaultTTL    time.Duration
	RememberMeTTL time.Duration
	// MaxLineageHops bounds the parent and successor walks of a lineage
	// revoke.
	MaxLineageHops int
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds the HMAC key shared by the refresh, reset and
// verification codecs. Each codec scopes tokens to its own audience.
type TokenConfig struct {
	SigningKey []byte
	KeyID      string
	Issuer     string
	// RetiredKeys are still accepted on decode, keyed by kid.
	RetiredKeys map[string][]byte
}

type PasswordResetConfig struct {
	TTL time.Duration
}

type EmailVerificationConfig struct {
	TTL time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule bounds one category: more than MaxAttempts inside Window blocks
// the identity for Block.
type RateRule struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

type RateLimitConfig struct {
	Enabled      bool
	RedisEnabled bool
	// RedisFallbackMode applies while Redis is unreachable: memory keeps
	// enforcing per instance, deny rejects everything.
	RedisFallbackMode RateFallbackMode
	// RedisFailureBlock is how long Redis is left alone after a failure.
	RedisFailureBlock time.Duration
	StoreTimeout      time.Duration
	RedisPrefix       string
	// JanitorInterval sweeps expired entries from the in-process store.
	// Zero disables the janitor.
	JanitorInterval time.Duration
	// Rules is keyed by category name, e.g. "login-by-ip".
	Rules map[string]RateRule
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StoreConfig is used when the builder is not handed repositories
// directly. Driver is "sqlite" or "postgres".
type StoreConfig struct {
	Driver string
	DSN    string
	// Timeout bounds each repository call.
	Timeout     time.Duration
	AutoMigrate bool
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// PasswordConfig holds Argon2id parameters for the reset flow.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// LogConfig is only used by NewLogger; an engine given its own logger
// ignores it.
type LogConfig struct {
	Level       string
	Development bool
}

// DefaultConfig returns the defaults with no signing key set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		Session: SessionConfig{
			DefaultTTL:     24 * time.Hour,
			RememberMeTTL:  30 * 24 * time.Hour,
			MaxLineageHops: 1024,
		},
		Tokens: TokenConfig{
			KeyID: "v1",
		},
		PasswordReset: PasswordResetConfig{
			TTL: 30 * time.Minute,
		},
		EmailVerification: EmailVerificationConfig{
			TTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RedisEnabled:      false,
			RedisFallbackMode: RateFallbackMemory,
			RedisFailureBlock: 30 * time.Second,
			StoreTimeout:      200 * time.Millisecond,
			RedisPrefix:       "arl",
			JanitorInterval:   time.Minute,
			Rules: map[string]RateRule{
				RateLoginByPrincipal.String():      {MaxAttempts: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
				RateLoginByIP.String():             {MaxAttempts: 20, Window: time.Minute, Block: 15 * time.Minute},
				RateRegisterByIP.String():          {MaxAttempts: 5, Window: time.Hour, Block: time.Hour},
				RatePasswordResetByIP.String():     {MaxAttempts: 5, Window: 15 * time.Minute, Block: time.Hour},
				RateEmailVerificationByIP.String(): {MaxAttempts: 10, Window: 15 * time.Minute, Block: time.Hour},
			},
		},
		Store: StoreConfig{
			Driver:      string(sqlstore.DriverSQLite),
			Timeout:     2 * time.Second,
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: time.Second,
		},
		Password: PasswordConfig{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
			MinLength:   pw.MinLength,
			MaxLength:   pw.MaxLength,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.SigningKey = cloneBytes(cfg.Tokens.SigningKey)
	if cfg.Tokens.RetiredKeys != nil {
		out.Tokens.RetiredKeys = make(map[string][]byte, len(cfg.Tokens.RetiredKeys))
		for kid, key := range cfg.Tokens.RetiredKeys {
			out.Tokens.RetiredKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.RateLimit.Rules != nil {
		out.RateLimit.Rules = make(map[string]RateRule, len(cfg.RateLimit.Rules))
		for name, rule := range cfg.RateLimit.Rules {
			out.RateLimit.Rules[name] = rule
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Validate reports the first problem found. Unknown rate-limit category
// names fail with ErrUnknownCategory.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if len(c.Tokens.SigningKey) < 32 {
		return errors.New("Tokens.SigningKey must be at least 32 bytes")
	}
	if c.Session.DefaultTTL <= 0 {
		return errors.New("Session.DefaultTTL must be > 0")
	}
	if c.Session.RememberMeTTL < 0 {
		return errors.New("Session.RememberMeTTL must be >= 0")
	}
	if c.Session.MaxLineageHops < 0 {
		return errors.New("Session.MaxLineageHops must be >= 0")
	}
	if c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset.TTL must be > 0")
	}
	if c.EmailVerification.TTL <= 0 {
		return errors.New("EmailVerification.TTL must be > 0")
	}

	if _, err := c.rateConfig(); err != nil {
		return err
	}
	if c.RateLimit.JanitorInterval < 0 {
		return errors.New("RateLimit.JanitorInterval must be >= 0")
	}
	if c.RateLimit.RedisEnabled && strings.TrimSpace(c.RateLimit.RedisPrefix) == "" {
		return errors.New("RateLimit.RedisPrefix must be set when redis is enabled")
	}

	if c.Store.DSN != "" {
		if _, err := sqlstore.ParseDriver(c.Store.Driver); err != nil {
			return fmt.Errorf("Store.Driver: %w", err)
		}
	}
	if c.Store.Timeout < 0 {
		return errors.New("Store.Timeout must be >= 0")
	}
	if c.Redis.DB < 0 {
		return errors.New("Redis.DB must be >= 0")
	}

	if err := c.passwordConfig().Validate(); err != nil {
		return err
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics.EnableLatencyHistograms requires Metrics.Enabled")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil && c.Log.Level != "" {
		return fmt.Errorf("Log.Level: %w", err)
	}
	return nil
}

func (c *Config) rateConfig() (rate.Config, error) {
	rules := make(map[rate.Category]rate.Rule, len(c.RateLimit.Rules))
	for name, r := range c.RateLimit.Rules {
		cat, err := rate.ParseCategory(strings.TrimSpace(name))
		if err != nil {
			return rate.Config{}, err
		}
		rules[cat] = rate.Rule{MaxAttempts: r.MaxAttempts, Window: r.Window, Block: r.Block}
	}

	rc := rate.Config{
		Enabled:      c.RateLimit.Enabled,
		RedisEnabled: c.RateLimit.RedisEnabled,
		FallbackMode: c.RateLimit.RedisFallbackMode,
		FailureBlock: c.RateLimit.RedisFailureBlock,
		Timeout:      c.RateLimit.StoreTimeout,
		Rules:        rules,
	}
	if rc.FallbackMode == "" {
		rc.FallbackMode = rate.FallbackMemory
	}
	if err := rc.Validate(); err != nil {
		return rate.Config{}, err
	}
	return rc, nil
}

func (c *Config) sessionConfig() session.Config {
	return session.Config{
		DefaultTTL:     c.Session.DefaultTTL,
		RememberMeTTL:  c.Session.RememberMeTTL,
		MaxLineageHops: c.Session.MaxLineageHops,
		Timeout:        c.Store.Timeout,
	}
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
		MinLength:   c.Password.MinLength,
		MaxLength:   c.Password.MaxLength,
	}
}
