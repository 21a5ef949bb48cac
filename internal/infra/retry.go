package infra

import (
	"context"
	"time"
)

// Retry executes op with exponential backoff, retrying only while
// isRetryable approves the error. The last error is returned after the
// attempt budget is exhausted.
func Retry(ctx context.Context, cfg RetryConfig, isRetryable func(error) bool, op func() error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= time.Duration(factor)
	}
	return lastErr
}
