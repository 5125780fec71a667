package authcore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// CheckRateLimit counts one attempt for identity in cat and returns a
// *RateLimitError when it is rejected. For the per-IP categories an empty
// identity falls back to the client IP in ctx. An empty principal for
// login-by-principal is ErrInvalidArgument.
//
// Redis outages never surface here; the configured fallback answers
// instead.
func (e *Engine) CheckRateLimit(ctx context.Context, cat RateCategory, identity string) error {
	if err := e.ready(); err != nil {
		return err
	}
	identity, err := e.rateIdentity(ctx, cat, identity)
	if err != nil {
		return err
	}

	d, err := e.limiter.Check(ctx, cat, identity)
	if err != nil {
		return err
	}
	if d.Degraded {
		e.metricInc(MetricRateLimitDegraded)
	}
	if d.Allowed {
		e.metricInc(MetricRateLimitAdmitted)
		return nil
	}

	e.metricInc(MetricRateLimitBlocked)
	rl := &RateLimitError{Category: cat, RetryAfter: d.RetryAfter}
	e.emitAudit(ctx, auditEventRateLimited, false, auditFields{category: cat.String()}, rl, func() map[string]string {
		return map[string]string{
			"retry_after_ms": strconv.FormatInt(d.RetryAfter.Milliseconds(), 10),
			"degraded":       strconv.FormatBool(d.Degraded),
		}
	})
	return rl
}

// RecordRateLimitSuccess clears the counter and any block for identity in
// cat, typically after a successful login.
func (e *Engine) RecordRateLimitSuccess(ctx context.Context, cat RateCategory, identity string) error {
	if err := e.ready(); err != nil {
		return err
	}
	identity, err := e.rateIdentity(ctx, cat, identity)
	if err != nil {
		return err
	}
	return e.limiter.RecordSuccess(ctx, cat, identity)
}

func (e *Engine) rateIdentity(ctx context.Context, cat RateCategory, identity string) (string, error) {
	if strings.TrimSpace(identity) != "" {
		return identity, nil
	}
	if cat == RateLoginByPrincipal {
		// Every empty principal would share one bucket.
		return "", fmt.Errorf("%w: principal required for %s", ErrInvalidArgument, cat)
	}
	return clientIPFromContext(ctx), nil
}
