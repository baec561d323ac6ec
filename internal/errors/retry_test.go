package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", New(KindTransientExternal, "fake", "still warming up")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryWithResult() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := New(KindValidation, "fake", "bad input")
	err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Retry() error = %v, want %v", err, permanent)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent errors)", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		return New(KindTransientExternal, "fake", "always failing")
	})
	if err == nil {
		t.Fatal("Retry() expected error after exhausting attempts")
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4 (initial try plus MaxAttempts retries)", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Minute}, func(ctx context.Context) error {
		attempts++
		cancel()
		return New(KindTransientExternal, "fake", "transient")
	})
	if err == nil {
		t.Fatal("Retry() expected error after context cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want wrapped context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancel during backoff)", attempts)
	}
}

func TestRetryDoesNotRetryCircuitOpen(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		return Wrap(KindTransientExternal, "llm", ErrCircuitOpen, "service unavailable")
	})
	if err == nil {
		t.Fatal("Retry() expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (breaker rejections fail fast)", attempts)
	}
}

func TestCalculateBackoffBounds(t *testing.T) {
	config := DefaultRetryConfig()

	for attempt := 0; attempt < 6; attempt++ {
		delay := calculateBackoff(attempt, config)
		if delay <= 0 {
			t.Errorf("attempt %d: delay = %v, want positive", attempt, delay)
		}
		if delay > config.MaxDelay {
			t.Errorf("attempt %d: delay = %v exceeds max %v", attempt, delay, config.MaxDelay)
		}
	}

	// Without jitter the progression is exactly exponential until the cap
	noJitter := RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, want := range expected {
		if got := calculateBackoff(attempt, noJitter); got != want {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, want)
		}
	}
}
