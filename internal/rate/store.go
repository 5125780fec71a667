package rate

import (
	"context"
	"time"
)

// Store holds window counters and block markers. Implementations must make
// IncrementWindow atomic: one round trip that increments and returns the
// post-increment count, starting the window expiry on the first hit.
type Store interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	SetBlock(ctx context.Context, key string, until time.Time, ttl time.Duration) error
	BlockExpiry(ctx context.Context, key string) (time.Time, bool, error)
	Reset(ctx context.Context, key string) error
}
