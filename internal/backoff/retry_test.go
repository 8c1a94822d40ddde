package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps retry tests quick.
var fastPolicy = Policy{InitialMs: 1, MaxMs: 2, Factor: 1}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy, 3, func(attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy, 5, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("persistent")
	calls := 0
	err := Retry(context.Background(), fastPolicy, 3, func(attempt int) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("error = %v, want wrapped last error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastPolicy, 3, func(attempt int) error {
		calls++
		return errors.New("should not run")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestSleepWithContextZeroDuration(t *testing.T) {
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Errorf("error = %v, want nil", err)
	}
}
