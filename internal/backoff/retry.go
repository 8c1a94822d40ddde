package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Retry executes fn with exponential backoff between failures, up to
// maxAttempts times. The fn receives the current attempt number (1-indexed).
// Context cancellation is checked before each attempt and honored during the
// backoff sleep.
func Retry(ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}

		if attempt < maxAttempts {
			if err := SleepWithBackoff(ctx, policy, attempt); err != nil {
				return err
			}
		}
	}

	return errors.Join(ErrMaxAttemptsExhausted, lastErr)
}
