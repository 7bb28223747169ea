// Package retry wraps upstream calls with exponential backoff. The upstream
// market-data API is rate and availability constrained; single-attempt
// fetches fail intermittently, so every scheduled fetch unit (catalog page,
// price batch, global snapshot) goes through here.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls the backoff policy. After the initial attempt, up to
// MaxRetries retries are made with delay BaseDelay * 2^attempt.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration

	// Sleep overrides the delay mechanism, for tests. When nil, the delay
	// honors context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op, retrying failures per cfg. Exhausting the retries surfaces the
// last failure wrapped as a terminal fetch failure; it is never swallowed.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay * (1 << (attempt - 1))
			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("giving up after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// Void runs an operation that produces no value.
func Void(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
