package rate

import (
	"errors"
	"time"
)

var (
	ErrRateLimited     = errors.New("rate limited")
	ErrStoreFailure    = errors.New("rate limit store unavailable")
	ErrUnknownCategory = errors.New("unknown rate limit category")
)

// BlockedError is returned by Limiter.Enforce when an attempt is rejected.
type BlockedError struct {
	Category   Category
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return ErrRateLimited.Error() + ": " + e.Category.String()
}

func (e *BlockedError) Unwrap() error {
	return ErrRateLimited
}
