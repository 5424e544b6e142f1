package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func TestPolicy_Do_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Millisecond, 0), Retryable: func(error) bool { return true }}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestPolicy_Do_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Millisecond, 0), Retryable: func(error) bool { return true }}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestPolicy_Do_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		Backoff:     ExponentialBackoff(time.Millisecond, time.Millisecond, 0),
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected errPermanent, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a non-retryable error to stop after 1 attempt, got %d", calls)
	}
}

func TestPolicy_Do_ExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Millisecond, 0), Retryable: func(error) bool { return true }}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected errTransient after exhaustion, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestPolicy_Do_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, Backoff: ExponentialBackoff(50*time.Millisecond, 50*time.Millisecond, 0), Retryable: func(error) bool { return true }}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExponentialBackoff_CapsAtMax(t *testing.T) {
	backoff := ExponentialBackoff(time.Second, 4*time.Second, 0)
	if d := backoff(1); d != time.Second {
		t.Errorf("attempt 1: expected 1s, got %v", d)
	}
	if d := backoff(2); d != 2*time.Second {
		t.Errorf("attempt 2: expected 2s, got %v", d)
	}
	if d := backoff(10); d != 4*time.Second {
		t.Errorf("attempt 10: expected capped 4s, got %v", d)
	}
}
