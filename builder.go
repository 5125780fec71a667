package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/sqlstore"
	"github.com/MrEthical07/authcore/token"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	sqlDB       *sqlstore.DB
	sessionRepo session.Repository
	tokenRepo   stores.TokenRepository
	users       UserStore
	hasher      PasswordHasher

	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the rate-limit Redis client. Without it, Build dials
// Config.Redis when RateLimit.RedisEnabled is set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSQLStore uses db as the session repository, token repository and
// user store, unless those were set individually.
func (b *Builder) WithSQLStore(db *sqlstore.DB) *Builder {
	b.sqlDB = db
	return b
}

func (b *Builder) WithSessionRepository(repo session.Repository) *Builder {
	b.sessionRepo = repo
	return b
}

func (b *Builder) WithTokenRepository(repo stores.TokenRepository) *Builder {
	b.tokenRepo = repo
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithPasswordHasher overrides the Argon2id hasher built from
// Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination. With Audit.Enabled and no sink,
// events go to the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for every engine decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
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

// Build validates the configuration and wires the engine. Resources it
// opens itself (a SQL store from Config.Store, a Redis client from
// Config.Redis) are released by Engine.Close.
func (b *Builder) Build() (eng *Engine, err error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	// -------- STORAGE --------
	db := b.sqlDB
	needRepos := b.sessionRepo == nil || b.tokenRepo == nil || b.users == nil
	if db == nil && needRepos && cfg.Store.DSN != "" {
		db, err = openStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		closers = append(closers, db.Close)
		logger.Info("authcore: sql store opened", zap.String("driver", string(db.Driver())))
	}

	sessionRepo, tokenRepo, users := b.sessionRepo, b.tokenRepo, b.users
	if db != nil {
		if sessionRepo == nil {
			sessionRepo = db
		}
		if tokenRepo == nil {
			tokenRepo = db
		}
		if users == nil {
			users = db
		}
	}
	if sessionRepo == nil || tokenRepo == nil {
		return nil, errors.New("session and token repositories required")
	}
	if users == nil {
		return nil, errors.New("user store required")
	}

	hasher := b.hasher
	if hasher == nil {
		argon, err := password.NewArgon2(cfg.passwordConfig())
		if err != nil {
			return nil, err
		}
		hasher = argon
	}

	// -------- CODECS AND STORES --------
	codecs := make(map[token.Purpose]*token.Codec, 3)
	for _, p := range []token.Purpose{token.PurposeRefresh, token.PurposePasswordReset, token.PurposeEmailVerification} {
		c, err := token.New(token.Config{
			Purpose:     p,
			Key:         cfg.Tokens.SigningKey,
			KeyID:       cfg.Tokens.KeyID,
			Issuer:      cfg.Tokens.Issuer,
			RetiredKeys: cfg.Tokens.RetiredKeys,
		})
		if err != nil {
			return nil, err
		}
		codecs[p] = c
	}

	sessions, err := session.NewStore(sessionRepo, codecs[token.PurposeRefresh], cfg.sessionConfig(), logger)
	if err != nil {
		return nil, err
	}
	resets, err := stores.NewService(
		stores.Purpose{Name: token.PurposePasswordReset, TTL: cfg.PasswordReset.TTL},
		codecs[token.PurposePasswordReset], tokenRepo, cfg.Store.Timeout,
	)
	if err != nil {
		return nil, err
	}
	verifications, err := stores.NewService(
		stores.Purpose{Name: token.PurposeEmailVerification, TTL: cfg.EmailVerification.TTL},
		codecs[token.PurposeEmailVerification], tokenRepo, cfg.Store.Timeout,
	)
	if err != nil {
		return nil, err
	}

	// -------- RATE LIMITER --------
	rc, err := cfg.rateConfig()
	if err != nil {
		return nil, err
	}
	var primary rate.Store
	if rc.RedisEnabled {
		client := b.redis
		if client == nil {
			owned := redis.NewClient(&redis.Options{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			closers = append(closers, owned.Close)
			client = owned
		}
		primary = rate.NewRedisStore(client, cfg.RateLimit.RedisPrefix)
	}
	limiter, err := rate.New(rc, primary, nil, logger, now)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:        cloneConfig(cfg),
		sessions:      sessions,
		resets:        resets,
		verifications: verifications,
		resetCodec:    codecs[token.PurposePasswordReset],
		limiter:       limiter,
		users:         users,
		hasher:        hasher,
		logger:        logger,
		metrics:       NewMetrics(cfg.Metrics),
		now:           now,
		closers:       closers,
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = internalaudit.NewZapSink(logger)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	if cfg.RateLimit.Enabled && cfg.RateLimit.JanitorInterval > 0 {
		jctx, cancel := context.WithCancel(context.Background())
		engine.stopJanitor = cancel
		engine.janitorDone = make(chan struct{})
		go func() {
			defer close(engine.janitorDone)
			limiter.Local().RunJanitor(jctx, cfg.RateLimit.JanitorInterval)
		}()
	}

	return engine, nil
}

func openStore(sc StoreConfig) (*sqlstore.DB, error) {
	driver, err := sqlstore.ParseDriver(sc.Driver)
	if err != nil {
		return nil, err
	}
	if sc.AutoMigrate {
		if err := sqlstore.Migrate(driver, sc.DSN, "up"); err != nil {
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
	}

	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sqlstore.Open(ctx, driver, sc.DSN)
}
