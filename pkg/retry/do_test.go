package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithMaxAttempts(5), WithBackoff(Fixed(time.Millisecond)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("persistent")
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	}, WithMaxAttempts(3), WithBackoff(Fixed(time.Millisecond)))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_RetryIfStopsEarly(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	}, WithMaxAttempts(5), WithRetryIf(func(err error) bool {
		return !errors.Is(err, fatal)
	}))
	if !errors.Is(err, fatal) {
		t.Fatalf("expected %v, got %v", fatal, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func(ctx context.Context) error {
		return errors.New("should not matter")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := Exponential(time.Second, 5*time.Second)
	if got := b.Next(0); got != time.Second {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := b.Next(1); got != 2*time.Second {
		t.Errorf("attempt 1: got %v", got)
	}
	if got := b.Next(10); got != 5*time.Second {
		t.Errorf("attempt 10 should cap at max, got %v", got)
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryableError(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
	if !IsRetryableError(errors.New("io failure")) {
		t.Error("ordinary errors should be retryable")
	}
}
