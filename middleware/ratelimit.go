package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
)

// RateChecker is the slice of *authcore.Engine that RateLimit needs.
type RateChecker interface {
	CheckRateLimit(ctx context.Context, cat authcore.RateCategory, identity string) error
}

// IdentityFunc picks the rate-limit identity for a request. Returning ""
// lets per-IP categories fall back to the client IP.
type IdentityFunc func(r *http.Request) string

// RateLimit counts one attempt in cat before calling next. Blocked
// requests get 429 with Retry-After in whole seconds, rounded up.
func RateLimit(limiter RateChecker, cat authcore.RateCategory, identity IdentityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			var id string
			if identity != nil {
				id = identity(r)
			}

			err := limiter.CheckRateLimit(r.Context(), cat, id)
			var rl *authcore.RateLimitError
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.As(err, &rl):
				secs := int64(math.Ceil(rl.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
			case errors.Is(err, authcore.ErrEngineNotReady):
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			case errors.Is(err, authcore.ErrInvalidArgument):
				http.Error(w, "bad request", http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		})
	}
}

// FormValue uses a form field, e.g. the email on a login form, as the
// identity.
func FormValue(field string) IdentityFunc {
	return func(r *http.Request) string {
		return r.FormValue(field)
	}
}
