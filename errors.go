package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/sqlstore"
	"github.com/MrEthical07/authcore/token"
)

// Token and session outcomes. These are the sub-package sentinels, so
// errors.Is works against either name.
var (
	ErrInvalidToken     = token.ErrInvalid
	ErrTokenExpired     = stores.ErrExpired
	ErrTokenAlreadyUsed = stores.ErrAlreadyUsed
	ErrSessionRevoked   = session.ErrRevoked
	ErrSessionExpired   = session.ErrExpired
	ErrSessionNotFound  = session.ErrNotFound
	ErrReuseDetected    = session.ErrReuseDetected

	ErrRateLimitExceeded = rate.ErrRateLimited
	ErrUnknownCategory   = rate.ErrUnknownCategory

	ErrUserNotFound = sqlstore.ErrUserNotFound
)

var (
	// ErrStoreUnavailable means a repository call failed or timed out. It is
	// retryable and never means the credential was accepted.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUnauthorized is what PublicError shows for every credential
	// rejection.
	ErrUnauthorized = errors.New("invalid or expired")
	// ErrServiceUnavailable is what PublicError shows for store failures.
	ErrServiceUnavailable = errors.New("service temporarily unavailable")

	ErrEngineNotReady  = errors.New("engine not initialized")
	ErrPasswordPolicy  = errors.New("password policy violation")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownReason   = errors.New("unknown revoke reason")
)

// RateLimitError is returned when a category blocks an identity.
type RateLimitError struct {
	Category   RateCategory
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Category, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// PublicError collapses err into what an unauthenticated caller may see.
// Credential failures all read the same; rate limits keep their retry-after;
// store failures become ErrServiceUnavailable. Anything else passes through.
func PublicError(err error) error {
	if err == nil {
		return nil
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl
	}

	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return ErrServiceUnavailable
	case errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenAlreadyUsed),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrReuseDetected):
		return ErrUnauthorized
	}
	return err
}

// storeError rewrites sub-package unavailability into ErrStoreUnavailable,
// keeping the original chain. A reuse error whose lineage revoke failed
// matches both, so callers retry instead of treating containment as done.
func storeError(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, session.ErrUnavailable) || errors.Is(err, stores.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
