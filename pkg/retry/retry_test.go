package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTestError
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_GivesUp(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(4), func(context.Context) error {
		attempts++
		return errTestError
	})

	if !errors.Is(err, errTestError) {
		t.Errorf("Expected wrapped test error, got: %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got: %d", attempts)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), fastConfig(0), func(context.Context) error {
		attempts++
		return errTestError
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_PermanentStops(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		attempts++
		return Permanent(errTestError)
	})

	if err != errTestError {
		t.Errorf("Expected the unwrapped permanent error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestDo_RetryablePredicate(t *testing.T) {
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, context.DeadlineExceeded) }

	attempts := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		return context.DeadlineExceeded
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	cfg := fastConfig(10)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Do(ctx, cfg, func(context.Context) error { return errTestError })

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Do did not stop waiting on cancellation")
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errTestError
		}
		return "turn:turn.example.org", nil
	})

	if err != nil || got != "turn:turn.example.org" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for attempt, w := range want {
		if got := Backoff(cfg, attempt); got != w {
			t.Errorf("Backoff(%d) = %s, want %s", attempt, got, w)
		}
	}

	cfg.Jitter = 0.5
	for i := 0; i < 100; i++ {
		d := Backoff(cfg, 0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", d)
		}
	}
}
