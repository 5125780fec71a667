package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FallbackMode selects the behavior while the distributed store is down.
type FallbackMode string

const (
	// FallbackMemory keeps enforcing with the process-local store.
	FallbackMemory FallbackMode = "memory"
	// FallbackDeny rejects every attempt until the store is probed again.
	FallbackDeny FallbackMode = "deny"
)

// Config holds limiter tuning parameters.
type Config struct {
	Enabled      bool
	RedisEnabled bool
	FallbackMode FallbackMode
	// FailureBlock is the re-probe cooldown: after a store failure the
	// distributed store is not contacted again until it has elapsed.
	FailureBlock time.Duration
	Timeout      time.Duration
	Rules        map[Category]Rule
}

// Validate checks that every category has a usable rule and that no unknown
// category is configured.
func (c Config) Validate() error {
	for cat := range c.Rules {
		if !cat.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
		}
	}
	for _, cat := range Categories() {
		rule, ok := c.Rules[cat]
		if !ok {
			return fmt.Errorf("rate limit rule for %s missing", cat)
		}
		if err := rule.validate(cat); err != nil {
			return err
		}
	}
	switch c.FallbackMode {
	case FallbackMemory, FallbackDeny:
	default:
		return fmt.Errorf("rate limit fallback mode %q must be memory or deny", c.FallbackMode)
	}
	if c.RedisEnabled && c.FailureBlock <= 0 {
		return errors.New("rate limit FailureBlock must be > 0 when redis is enabled")
	}
	if c.Timeout < 0 {
		return errors.New("rate limit Timeout must be >= 0")
	}
	return nil
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Count      int64
	// Degraded is set when the answer came from the fallback policy
	// instead of the distributed store.
	Degraded bool
}

// Limiter applies fixed-window counters with blocks per category.
type Limiter struct {
	cfg     Config
	primary Store
	local   *MemoryStore
	now     func() time.Time
	logger  *zap.Logger

	failedAt atomic.Int64

	// pending holds keys whose success arrived while the distributed store
	// was unreachable; their reset is replayed before the next check.
	mu      sync.Mutex
	pending map[string]struct{}
}

// maxPendingResets bounds the replay set during a long outage.
const maxPendingResets = 10_000

// New validates cfg and builds a Limiter. primary may be nil only when
// RedisEnabled is false. local defaults to a fresh MemoryStore.
func New(cfg Config, primary Store, local *MemoryStore, logger *zap.Logger, now func() time.Time) (*Limiter, error) {
	if cfg.FallbackMode == "" {
		cfg.FallbackMode = FallbackMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RedisEnabled && primary == nil {
		return nil, errors.New("rate limit redis enabled without a store")
	}
	if now == nil {
		now = time.Now
	}
	if local == nil {
		local = NewMemoryStore(now)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rules := make(map[Category]Rule, len(cfg.Rules))
	for k, v := range cfg.Rules {
		rules[k] = v
	}
	cfg.Rules = rules

	return &Limiter{
		cfg:     cfg,
		primary: primary,
		local:   local,
		now:     now,
		logger:  logger,
		pending: make(map[string]struct{}),
	}, nil
}

// Check counts one attempt for identity in cat. Store failures never
// surface; they are absorbed by the fallback policy. The only error is an
// unknown category.
func (l *Limiter) Check(ctx context.Context, cat Category, identity string) (Decision, error) {
	rule, ok := l.cfg.Rules[cat]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	if !l.cfg.Enabled {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	key := limiterKey(cat, identity)

	if !l.distributed() {
		return l.evaluateLocal(ctx, cat, rule, key, now, false), nil
	}

	if remaining, cooling := l.cooldown(now); cooling {
		if l.cfg.FallbackMode == FallbackDeny {
			return Decision{RetryAfter: remaining, Degraded: true}, nil
		}
		return l.evaluateLocal(ctx, cat, rule, key, now, true), nil
	}

	err := l.replayReset(ctx, key)
	var d Decision
	if err == nil {
		d, err = l.evaluate(ctx, l.primary, rule, key, now)
	}
	if err == nil {
		l.recovered()
		return d, nil
	}

	l.failed(now, cat, err)
	if l.cfg.FallbackMode == FallbackDeny {
		return Decision{RetryAfter: l.cfg.FailureBlock, Degraded: true}, nil
	}
	return l.evaluateLocal(ctx, cat, rule, key, now, true), nil
}

// Enforce is Check returning a *BlockedError on rejection.
func (l *Limiter) Enforce(ctx context.Context, cat Category, identity string) error {
	d, err := l.Check(ctx, cat, identity)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &BlockedError{Category: cat, RetryAfter: d.RetryAfter}
	}
	return nil
}

// RecordSuccess clears the counter and block for identity in cat. When the
// distributed store cannot be reached the reset is remembered and replayed
// on the next Check for the same identity.
func (l *Limiter) RecordSuccess(ctx context.Context, cat Category, identity string) error {
	if _, ok := l.cfg.Rules[cat]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	if !l.cfg.Enabled {
		return nil
	}

	now := l.now()
	key := limiterKey(cat, identity)
	_ = l.local.Reset(ctx, key)

	if !l.distributed() {
		return nil
	}
	if _, cooling := l.cooldown(now); cooling {
		l.deferReset(key)
		return nil
	}

	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()
	if err := l.primary.Reset(callCtx, key); err != nil {
		l.failed(now, cat, err)
		l.deferReset(key)
		return nil
	}
	l.clearPending(key)
	l.recovered()
	return nil
}

// Degraded reports whether the limiter is inside a re-probe cooldown.
func (l *Limiter) Degraded() bool {
	_, cooling := l.cooldown(l.now())
	return cooling
}

// Local exposes the process-local store for janitor wiring and tests.
func (l *Limiter) Local() *MemoryStore {
	return l.local
}

func (l *Limiter) deferReset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) >= maxPendingResets {
		l.logger.Warn("authcore: rate limit pending resets full, dropping", zap.String("key", key))
		return
	}
	l.pending[key] = struct{}{}
}

func (l *Limiter) clearPending(key string) {
	l.mu.Lock()
	delete(l.pending, key)
	l.mu.Unlock()
}

func (l *Limiter) replayReset(ctx context.Context, key string) error {
	l.mu.Lock()
	_, ok := l.pending[key]
	l.mu.Unlock()
	if !ok {
		return nil
	}

	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()
	if err := l.primary.Reset(callCtx, key); err != nil {
		return err
	}
	l.clearPending(key)
	return nil
}

func (l *Limiter) distributed() bool {
	return l.cfg.RedisEnabled && l.primary != nil
}

func (l *Limiter) cooldown(now time.Time) (time.Duration, bool) {
	failed := l.failedAt.Load()
	if failed == 0 {
		return 0, false
	}
	remaining := time.Unix(0, failed).Add(l.cfg.FailureBlock).Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

func (l *Limiter) failed(now time.Time, cat Category, err error) {
	if l.failedAt.Swap(now.UnixNano()) == 0 {
		l.logger.Warn("authcore: rate limit store unavailable, using fallback",
			zap.String("category", cat.String()),
			zap.String("fallback_mode", string(l.cfg.FallbackMode)),
			zap.Duration("reprobe_after", l.cfg.FailureBlock),
			zap.Error(err),
		)
	}
}

func (l *Limiter) recovered() {
	if l.failedAt.Swap(0) != 0 {
		l.logger.Info("authcore: rate limit store recovered")
	}
}

func (l *Limiter) evaluateLocal(ctx context.Context, cat Category, rule Rule, key string, now time.Time, degraded bool) Decision {
	d, err := l.evaluate(ctx, l.local, rule, key, now)
	if err != nil {
		l.logger.Error("authcore: local rate limit store failed, admitting",
			zap.String("category", cat.String()),
			zap.Error(err),
		)
		d = Decision{Allowed: true}
	}
	d.Degraded = degraded
	return d
}

func (l *Limiter) evaluate(ctx context.Context, s Store, rule Rule, key string, now time.Time) (Decision, error) {
	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()

	until, blocked, err := s.BlockExpiry(callCtx, key)
	if err != nil {
		return Decision{}, err
	}
	if blocked && now.Before(until) {
		return Decision{RetryAfter: until.Sub(now)}, nil
	}

	count, err := s.IncrementWindow(callCtx, key, rule.Window)
	if err != nil {
		return Decision{}, err
	}
	if count > int64(rule.MaxAttempts) {
		until = now.Add(rule.Block)
		if err := s.SetBlock(callCtx, key, until, rule.Block); err != nil {
			return Decision{}, err
		}
		return Decision{RetryAfter: rule.Block, Count: count}, nil
	}

	return Decision{Allowed: true, Count: count}, nil
}

func (l *Limiter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.cfg.Timeout)
}

func limiterKey(cat Category, identity string) string {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		identity = "-"
	}
	return cat.String() + ":" + identity
}
