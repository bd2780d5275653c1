package ai

import (
	"context"
	"fmt"
	"time"
)

const (
	// defaultMaxRetries is the default number of retry attempts
	defaultMaxRetries = 3
)

// sleep waits for d or until ctx is done. Tests replace it to avoid real waits.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// Returns the result of the first successful call or the last error after maxAttempts.
// Permanent errors (bad credentials, malformed requests) and context
// cancellation stop the loop early.
func retryWithBackoff[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}

		lastErr = err
		if isPermanentError(err) {
			return result, err
		}

		if attempt < maxAttempts {
			if err := sleep(ctx, getBackoffDuration(lastErr, attempt)); err != nil {
				return result, fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
			}
		}
	}

	return result, fmt.Errorf("all retry attempts failed: %w", lastErr)
}
