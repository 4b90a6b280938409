package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExhaustedError is returned when every allowed attempt failed
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Execute calls fn until it succeeds, the policy runs out of attempts, the
// error is not retryable or ctx is done. Attempts are numbered from 1 and the
// number actually made is returned alongside the last error.
func Execute(ctx context.Context, policy *Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	if policy == nil {
		policy = NewPolicy(0)
	}
	limit := policy.MaxAttempts()

	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		// A cancelled run is never retried
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return attempt, err
		}
		if !policy.retryable(err) {
			return attempt, err
		}
		if attempt == limit {
			break
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}

		if delay := policy.delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}

	return limit, &ExhaustedError{Attempts: limit, Err: lastErr}
}
