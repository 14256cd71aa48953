package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

func testConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != 100*time.Millisecond {
		t.Errorf("expected BaseDelay=100ms, got %v", cfg.BaseDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("expected MaxDelay=30s, got %v", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %f", cfg.Multiplier)
	}
	if cfg.JitterFactor != 0.1 {
		t.Errorf("expected JitterFactor=0.1, got %f", cfg.JitterFactor)
	}
}

func TestDo_Success(t *testing.T) {
	e := NewExecutor(testConfig(), nil)

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterTransientFailures(t *testing.T) {
	e := NewExecutor(testConfig(), nil)

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("connection reset: %w", apperrors.ErrUnavailable)
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	e := NewExecutor(testConfig(), nil)

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return apperrors.ErrVersionConflict
	})
	if !errors.Is(err, apperrors.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestDo_AttemptBudgetExhausted(t *testing.T) {
	e := NewExecutor(testConfig(), nil)

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return apperrors.ErrUnavailable
	})
	if calls != 3 {
		t.Errorf("expected exactly MaxAttempts=3 calls, got %d", calls)
	}

	var exhausted *apperrors.RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetriesExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected Attempts=3, got %d", exhausted.Attempts)
	}
	// The last transient error stays reachable through the wrapper.
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Errorf("expected wrapped ErrUnavailable, got %v", err)
	}
}

func TestDo_RetryAfterHintHonored(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = time.Hour // the hint must win over backoff
	e := NewExecutor(cfg, nil)

	hint := 5 * time.Millisecond
	calls := 0
	start := time.Now()
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &apperrors.ThrottledError{RetryAfter: hint}
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if elapsed < hint {
		t.Errorf("second attempt ran before the retry-after hint: %v < %v", elapsed, hint)
	}
	if elapsed > time.Second {
		t.Errorf("computed backoff used instead of hint: waited %v", elapsed)
	}
}

func TestDo_CanceledBeforeFirstAttempt(t *testing.T) {
	e := NewExecutor(testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := e.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected 0 calls after cancellation, got %d", calls)
	}
}

func TestDo_CanceledDuringBackoffWait(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = time.Hour
	e := NewExecutor(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- e.Do(ctx, "op", func(ctx context.Context) error {
			calls++
			return apperrors.ErrUnavailable
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation during backoff")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDo_ContextErrorNeverWrapped(t *testing.T) {
	e := NewExecutor(testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := e.Do(ctx, "op", func(ctx context.Context) error {
		cancel()
		return apperrors.ErrUnavailable
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	var exhausted *apperrors.RetriesExhaustedError
	if errors.As(err, &exhausted) {
		t.Errorf("cancellation must not surface as RetriesExhaustedError")
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	e := NewExecutor(testConfig(), nil)

	calls := 0
	got, err := DoWithResult(context.Background(), e, "op", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, apperrors.ErrUnavailable
		}
		return 42, nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestApplyJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := applyJitter(base, 0.1)
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside +/-10%% of %v", d, base)
		}
	}
	if d := applyJitter(base, 0); d != base {
		t.Errorf("zero jitter must return the delay unchanged, got %v", d)
	}
}
