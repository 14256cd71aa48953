// Package retry provides the single retry/backoff executor used by every
// repository operation. Only transient store failures are retried; the
// classification lives in apperrors so retry policy cannot drift per call
// site.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxAttempts  int           // total invocations, including the first
	BaseDelay    time.Duration // delay before the second attempt
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, +/- fraction of the delay
}

// DefaultConfig returns the policy used for store operations: 3 attempts,
// 100ms initial delay doubling up to 30s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Executor wraps operations with the shared retry policy. Construct once and
// share; it is safe for concurrent use.
type Executor struct {
	cfg    *Config
	logger *zap.Logger
}

// NewExecutor creates an Executor. A nil cfg uses DefaultConfig; a nil
// logger disables attempt logging.
func NewExecutor(cfg *Config, logger *zap.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// applyJitter spreads delays to prevent thundering herd.
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// nextDelay picks the wait before the next attempt: the server-suggested
// retry-after when the error carries one, otherwise the current backoff.
func (e *Executor) nextDelay(err error, backoff time.Duration) time.Duration {
	if hint, ok := apperrors.RetryAfterHint(err); ok {
		return hint
	}
	return applyJitter(backoff, e.cfg.JitterFactor)
}

// Do executes fn until it succeeds, fails permanently, or the attempt budget
// is exhausted. Callers must ensure fn is safe to repeat; the executor never
// checks idempotency itself. Context cancellation is honored before each
// attempt and during waits and is never retried.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := DoWithResult(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult is Do for operations that return a value.
func DoWithResult[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := e.cfg.BaseDelay

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !apperrors.IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := e.nextDelay(err, backoff)
		e.logger.Warn("retrying store operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		backoff = time.Duration(float64(backoff) * e.cfg.Multiplier)
		if backoff > e.cfg.MaxDelay {
			backoff = e.cfg.MaxDelay
		}
	}

	return zero, &apperrors.RetriesExhaustedError{Attempts: e.cfg.MaxAttempts, Err: lastErr}
}
