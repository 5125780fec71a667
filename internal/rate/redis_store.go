package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// The PTTL branch repairs a counter left without expiry.
const incrementWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var incrementWindowLua = redis.NewScript(incrementWindowScript)

// RedisStore keeps counters and blocks in Redis so every instance shares
// them.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore builds a Store on client with keys under prefix, "arl" when
// empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "arl"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
	}
}

func (s *RedisStore) counterKey(key string) string {
	return s.prefix + ":c:" + key
}

func (s *RedisStore) blockKey(key string) string {
	return s.prefix + ":b:" + key
}

// IncrementWindow bumps the counter for key, starting its window on the first hit.
func (s *RedisStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := incrementWindowLua.Run(ctx, s.redis, []string{s.counterKey(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return count, nil
}

// SetBlock records a block on key until the given time.
func (s *RedisStore) SetBlock(ctx context.Context, key string, until time.Time, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.blockKey(key), until.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// BlockExpiry returns the block end for key, if one is set.
func (s *RedisStore) BlockExpiry(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := s.redis.Get(ctx, s.blockKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: corrupt block marker", ErrStoreFailure)
	}
	return time.UnixMilli(ms), true, nil
}

// Reset drops the counter and block for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.counterKey(key), s.blockKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}
