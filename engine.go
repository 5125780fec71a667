package authcore

import (
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"go.uber.org/zap"
)

// Engine is the trust core: refresh sessions, single-use tokens and rate
// limits behind one API. Build it with [New]; it is safe for concurrent
// use.
type Engine struct {
	config        Config
	sessions      *session.Store
	resets        *stores.Service
	verifications *stores.Service
	resetCodec    *token.Codec
	limiter       *rate.Limiter
	users         UserStore
	hasher        PasswordHasher
	logger        *zap.Logger
	audit         *internalaudit.Dispatcher
	metrics       *Metrics
	now           func() time.Time

	stopJanitor func()
	janitorDone chan struct{}
	closers     []func() error
}

// Close stops background work, flushes audit events and releases
// resources the builder opened. Injected clients are left open.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	if e.stopJanitor != nil {
		e.stopJanitor()
		<-e.janitorDone
		e.stopJanitor = nil
	}
	if e.audit != nil {
		e.audit.Close()
	}

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// RateLimitDegraded reports whether the limiter is currently answering
// from its fallback policy.
func (e *Engine) RateLimitDegraded() bool {
	if e == nil || e.limiter == nil {
		return false
	}
	return e.limiter.Degraded()
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil || e.limiter == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func (e *Engine) metricInc(id MetricID) {
	if e.metrics != nil {
		e.metrics.Inc(id)
	}
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		e.metrics.Observe(id, time.Since(start))
	}
}

// fail counts store unavailability and returns err unchanged otherwise.
func (e *Engine) fail(err error) error {
	err = storeError(err)
	if errors.Is(err, ErrStoreUnavailable) {
		e.metricInc(MetricStoreUnavailable)
	}
	return err
}
