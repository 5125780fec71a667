package authcore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/sqlstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Tokens.SigningKey = append([]byte(nil), testSigningKey...)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.JanitorInterval = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestSQLStore(t *testing.T) *sqlstore.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authcore.db")
	if err := sqlstore.Migrate(sqlstore.DriverSQLite, path, "up"); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	db, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// flakySessions is the SQL session repository with switchable revoke
// failures.
type flakySessions struct {
	*sqlstore.DB

	mu            sync.Mutex
	revokeErr     error
	revokeUserErr error
}

func (f *flakySessions) failRevokes(one, all error) {
	f.mu.Lock()
	f.revokeErr, f.revokeUserErr = one, all
	f.mu.Unlock()
}

func (f *flakySessions) RevokeSession(ctx context.Context, id string, reason session.RevokeReason, now time.Time) (bool, error) {
	f.mu.Lock()
	err := f.revokeErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.DB.RevokeSession(ctx, id, reason, now)
}

func (f *flakySessions) RevokeSessionsForUser(ctx context.Context, userID string, reason session.RevokeReason, now time.Time) (int, error) {
	f.mu.Lock()
	err := f.revokeUserErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.DB.RevokeSessionsForUser(ctx, userID, reason, now)
}

type testEnv struct {
	engine   *Engine
	db       *sqlstore.DB
	sessions *flakySessions
	clock    *testClock
}

func newTestEngine(t *testing.T, cfg Config, opts ...func(*Builder)) *testEnv {
	t.Helper()
	db := newTestSQLStore(t)
	clock := newTestClock()

	sessions := &flakySessions{DB: db}

	b := New().WithConfig(cfg).WithSQLStore(db).WithSessionRepository(sessions).WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return &testEnv{engine: engine, db: db, sessions: sessions, clock: clock}
}

func (env *testEnv) createUser(t *testing.T, id, email string) {
	t.Helper()
	err := env.db.CreateUser(context.Background(), &sqlstore.User{
		ID:           id,
		Email:        email,
		PasswordHash: "unset",
		CreatedAt:    env.clock.Now(),
		UpdatedAt:    env.clock.Now(),
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
}

func clientCtx(ip string) context.Context {
	ctx := WithClientIP(context.Background(), ip)
	return WithUserAgent(ctx, "test-agent/1.0")
}
