// Package retry provides a bounded fixed-delay retry executor.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Do invokes op; on failure it sleeps delay and retries, up to attempts
// total invocations, then propagates the last error. Fixed delay, no
// backoff, no jitter. Safe to wrap any side-effecting call including a
// transaction commit: the caller owns idempotency, usually via
// insert-dedup keys.
//
// Parameters:
//   - ctx (context.Context): aborts the wait between attempts
//   - name (string): operation name for log context
//   - attempts (int): total invocation budget, minimum 1
//   - delay (time.Duration): fixed sleep between attempts
//   - op (func() error): the operation to run
//
// Returns:
//   - error: nil on success, the last error once the budget is exhausted
func Do(ctx context.Context, name string, attempts int, delay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}

		remaining := attempts - i - 1
		if remaining == 0 {
			break
		}

		log.Warn().
			Str("component", "retry").
			Str("op", name).
			Int("remaining", remaining).
			Err(lastErr).
			Msg("operation failed, will retry")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry %s canceled: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("retry %s exhausted after %d attempts: %w", name, attempts, lastErr)
}

// Do1 is Do for operations returning a value.
func Do1[T any](ctx context.Context, name string, attempts int, delay time.Duration, op func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, name, attempts, delay, func() error {
		v, opErr := op()
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
