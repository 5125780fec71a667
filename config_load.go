package authcore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every environment key LoadConfig reads, e.g.
// AUTHCORE_TOKENS_SIGNINGKEY or AUTHCORE_RATELIMIT_REDISENABLED.
const EnvPrefix = "AUTHCORE"

// LoadConfig starts from the defaults, overlays the file at path (if any)
// and then the environment, and validates the result. A ".env" file is
// read as dotenv; other extensions follow viper's detection. A missing
// file is an error only when path was given explicitly.
//
// Signing keys may be written raw or as "base64:<std encoding>".
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setConfigDefaults(v, defaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := readConfigFile(v, path); err != nil {
			return Config{}, err
		}
	}

	cfg, err := configFromViper(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readConfigFile merges path into v. Structured files (yaml, json, toml)
// use the dotted keys directly. A dotenv file uses the same names as the
// environment, so each known key is looked up under its env spelling.
func readConfigFile(v *viper.Viper, path string) error {
	base := filepath.Base(path)
	if base != ".env" && !strings.HasSuffix(base, ".env") {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("env")
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	for _, key := range v.AllKeys() {
		envKey := strings.ToLower(EnvPrefix + "_" + strings.ReplaceAll(key, ".", "_"))
		if file.IsSet(envKey) {
			v.SetDefault(key, file.Get(envKey))
		}
	}
	return nil
}

func setConfigDefaults(v *viper.Viper, d Config) {
	v.SetDefault("session.defaultttl", d.Session.DefaultTTL)
	v.SetDefault("session.remembermettl", d.Session.RememberMeTTL)
	v.SetDefault("session.maxlineagehops", d.Session.MaxLineageHops)

	v.SetDefault("tokens.signingkey", "")
	v.SetDefault("tokens.keyid", d.Tokens.KeyID)
	v.SetDefault("tokens.issuer", d.Tokens.Issuer)

	v.SetDefault("passwordreset.ttl", d.PasswordReset.TTL)
	v.SetDefault("emailverification.ttl", d.EmailVerification.TTL)

	v.SetDefault("ratelimit.enabled", d.RateLimit.Enabled)
	v.SetDefault("ratelimit.redisenabled", d.RateLimit.RedisEnabled)
	v.SetDefault("ratelimit.redisfallbackmode", string(d.RateLimit.RedisFallbackMode))
	v.SetDefault("ratelimit.redisfailureblock", d.RateLimit.RedisFailureBlock)
	v.SetDefault("ratelimit.storetimeout", d.RateLimit.StoreTimeout)
	v.SetDefault("ratelimit.redisprefix", d.RateLimit.RedisPrefix)
	v.SetDefault("ratelimit.janitorinterval", d.RateLimit.JanitorInterval)
	for name, r := range d.RateLimit.Rules {
		key := ruleKey(name)
		v.SetDefault(key+".maxattempts", r.MaxAttempts)
		v.SetDefault(key+".window", r.Window)
		v.SetDefault(key+".block", r.Block)
	}

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.timeout", d.Store.Timeout)
	v.SetDefault("store.automigrate", d.Store.AutoMigrate)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.dialtimeout", d.Redis.DialTimeout)

	v.SetDefault("password.memory", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.saltlength", d.Password.SaltLength)
	v.SetDefault("password.keylength", d.Password.KeyLength)
	v.SetDefault("password.minlength", d.Password.MinLength)
	v.SetDefault("password.maxlength", d.Password.MaxLength)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffersize", d.Audit.BufferSize)
	v.SetDefault("audit.dropiffull", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enablelatencyhistograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// ruleKey turns "login-by-ip" into "ratelimit.rules.login_by_ip" so the
// env form is AUTHCORE_RATELIMIT_RULES_LOGIN_BY_IP_MAXATTEMPTS.
func ruleKey(category string) string {
	return "ratelimit.rules." + strings.ReplaceAll(category, "-", "_")
}

func configFromViper(v *viper.Viper) (Config, error) {
	cfg := defaultConfig()

	cfg.Session.DefaultTTL = v.GetDuration("session.defaultttl")
	cfg.Session.RememberMeTTL = v.GetDuration("session.remembermettl")
	cfg.Session.MaxLineageHops = v.GetInt("session.maxlineagehops")

	key, err := decodeKey(v.GetString("tokens.signingkey"))
	if err != nil {
		return Config{}, fmt.Errorf("tokens.signingkey: %w", err)
	}
	cfg.Tokens.SigningKey = key
	cfg.Tokens.KeyID = v.GetString("tokens.keyid")
	cfg.Tokens.Issuer = v.GetString("tokens.issuer")
	if retired := v.GetStringMapString("tokens.retiredkeys"); len(retired) > 0 {
		cfg.Tokens.RetiredKeys = make(map[string][]byte, len(retired))
		for kid, raw := range retired {
			k, err := decodeKey(raw)
			if err != nil {
				return Config{}, fmt.Errorf("tokens.retiredkeys.%s: %w", kid, err)
			}
			cfg.Tokens.RetiredKeys[kid] = k
		}
	}

	cfg.PasswordReset.TTL = v.GetDuration("passwordreset.ttl")
	cfg.EmailVerification.TTL = v.GetDuration("emailverification.ttl")

	cfg.RateLimit.Enabled = v.GetBool("ratelimit.enabled")
	cfg.RateLimit.RedisEnabled = v.GetBool("ratelimit.redisenabled")
	cfg.RateLimit.RedisFallbackMode = RateFallbackMode(strings.ToLower(v.GetString("ratelimit.redisfallbackmode")))
	cfg.RateLimit.RedisFailureBlock = v.GetDuration("ratelimit.redisfailureblock")
	cfg.RateLimit.StoreTimeout = v.GetDuration("ratelimit.storetimeout")
	cfg.RateLimit.RedisPrefix = v.GetString("ratelimit.redisprefix")
	cfg.RateLimit.JanitorInterval = v.GetDuration("ratelimit.janitorinterval")

	for name := range v.GetStringMap("ratelimit.rules") {
		if _, err := ParseRateCategory(strings.ReplaceAll(name, "_", "-")); err != nil {
			return Config{}, err
		}
	}
	rules := make(map[string]RateRule, len(cfg.RateLimit.Rules))
	for name := range cfg.RateLimit.Rules {
		key := ruleKey(name)
		rules[name] = RateRule{
			MaxAttempts: v.GetInt(key + ".maxattempts"),
			Window:      v.GetDuration(key + ".window"),
			Block:       v.GetDuration(key + ".block"),
		}
	}
	cfg.RateLimit.Rules = rules

	cfg.Store.Driver = v.GetString("store.driver")
	cfg.Store.DSN = v.GetString("store.dsn")
	cfg.Store.Timeout = v.GetDuration("store.timeout")
	cfg.Store.AutoMigrate = v.GetBool("store.automigrate")

	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.DialTimeout = v.GetDuration("redis.dialtimeout")

	cfg.Password.Memory = v.GetUint32("password.memory")
	cfg.Password.Time = v.GetUint32("password.time")
	cfg.Password.Parallelism = uint8(v.GetUint("password.parallelism"))
	cfg.Password.SaltLength = v.GetUint32("password.saltlength")
	cfg.Password.KeyLength = v.GetUint32("password.keylength")
	cfg.Password.MinLength = v.GetInt("password.minlength")
	cfg.Password.MaxLength = v.GetInt("password.maxlength")

	cfg.Audit.Enabled = v.GetBool("audit.enabled")
	cfg.Audit.BufferSize = v.GetInt("audit.buffersize")
	cfg.Audit.DropIfFull = v.GetBool("audit.dropiffull")

	cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	cfg.Metrics.EnableLatencyHistograms = v.GetBool("metrics.enablelatencyhistograms")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Development = v.GetBool("log.development")

	return cfg, nil
}

func decodeKey(raw string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(raw, "base64:"); ok {
		key, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, errors.New("invalid base64 key")
		}
		return key, nil
	}
	if raw == "" {
		return nil, nil
	}
	return []byte(raw), nil
}

// NewLogger builds a zap logger from cfg: the production JSON config, or
// the development console config when Development is set.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to parse log level: %w", err)
		}
		zc.Level = level
	}
	logger, err := zc.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize zap logger: %w", err)
	}
	return logger, nil
}

// LoadConfigFromEnv is LoadConfig reading the file named by
// AUTHCORE_CONFIG, if set.
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(os.Getenv(EnvPrefix + "_CONFIG"))
}
