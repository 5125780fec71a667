package rate

import (
	"context"
	"sync"
	"time"
)

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local Store. It is constructed explicitly and
// injected; state is never shared across instances. Expired entries are
// dropped lazily on access and by Sweep.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]memCounter
	blocks   map[string]time.Time
}

// NewMemoryStore returns an empty store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:      now,
		counters: make(map[string]memCounter),
		blocks:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) IncrementWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key]
	if !now.Before(c.expiresAt) {
		c = memCounter{expiresAt: now.Add(window)}
	}
	c.count++
	s.counters[key] = c
	return c.count, nil
}

func (s *MemoryStore) SetBlock(_ context.Context, key string, until time.Time, _ time.Duration) error {
	s.mu.Lock()
	s.blocks[key] = until
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) BlockExpiry(_ context.Context, key string) (time.Time, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if !now.Before(until) {
		delete(s.blocks, key)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.counters, key)
	delete(s.blocks, key)
	s.mu.Unlock()
	return nil
}

// Clear drops all state. Test hook.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.counters = make(map[string]memCounter)
	s.blocks = make(map[string]time.Time)
	s.mu.Unlock()
}

// Sweep removes expired counters and blocks and reports how many entries
// remain.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.counters {
		if !now.Before(c.expiresAt) {
			delete(s.counters, k)
		}
	}
	for k, until := range s.blocks {
		if !now.Before(until) {
			delete(s.blocks, k)
		}
	}
	return len(s.counters) + len(s.blocks)
}

// RunJanitor sweeps every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
