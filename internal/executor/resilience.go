package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// RetryConfig tunes the backoff applied to transient backend failures.
// This retry layer sits below the phase retry budget: it absorbs
// transport flakes so they never consume a graded attempt.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the standard backoff tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerRegistry hands out one circuit breaker per backend name, so
// concurrent runs sharing a backend share its failure state.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the breaker for a backend name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	logger := r.logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller's doing, not backend health.
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	r.breakers[name] = cb
	return cb
}

// Resilient decorates a backend with retry and circuit breaking.
type Resilient struct {
	name    string
	exec    PhaseExecutor
	rev     Reviewer
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  *zap.Logger
}

// WithResilience wraps a backend. The name keys the circuit breaker in
// the registry; use one name per physical backend.
func WithResilience(name string, backend Backend, reg *BreakerRegistry, retry RetryConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{
		name:    name,
		exec:    backend,
		rev:     backend,
		breaker: reg.Get(name),
		retry:   retry,
		logger:  logger,
	}
}

// Execute runs the inner executor with backoff and circuit breaking.
func (r *Resilient) Execute(ctx context.Context, req Request) (*Result, error) {
	v, err := r.call(ctx, fmt.Sprintf("execute %s", req.Phase), func() (interface{}, error) {
		return r.exec.Execute(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// Review runs the inner reviewer with backoff and circuit breaking.
func (r *Resilient) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	v, err := r.call(ctx, fmt.Sprintf("review %s", req.Phase), func() (interface{}, error) {
		return r.rev.Review(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ReviewResult), nil
}

// call executes fn through the breaker, retrying retryable failures
// until the backoff budget runs out.
func (r *Resilient) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	var result interface{}

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		v, err := r.breaker.Execute(fn)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("circuit open for %s: %w", r.name, err))
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			if !pipeline.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			r.logger.Debug("retrying backend call",
				zap.String("backend", r.name),
				zap.String("op", op),
				zap.Error(err))
			return err
		}

		result = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retry.InitialInterval
	b.MaxInterval = r.retry.MaxInterval
	b.MaxElapsedTime = r.retry.MaxElapsedTime
	b.Multiplier = r.retry.Multiplier
	b.RandomizationFactor = r.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

var _ PhaseExecutor = (*Resilient)(nil)
var _ Reviewer = (*Resilient)(nil)
