package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy is the generic "retry(n, backoff, predicate)" combinator
// named in the design notes: an attempt count, a per-attempt backoff
// function, and a predicate deciding whether an error is retryable at
// all. Every backed-off loop in this repo (bus reconnect, payment
// retries, refund retries) is a parameterization of this one type.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// ExponentialBackoff returns the classic base*2^(attempt-1) schedule,
// capped at max, with up to jitter extra delay added.
func ExponentialBackoff(base, max, jitter time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := base << (attempt - 1)
		if d > max || d <= 0 {
			d = max
		}
		if jitter > 0 {
			d += time.Duration(rand.Int63n(int64(jitter)))
		}
		return d
	}
}

// Do runs op up to MaxAttempts times, sleeping Backoff(attempt) between
// tries, stopping early if Retryable(err) is false or the context is
// cancelled. It returns the last error if every attempt is exhausted.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return lastErr
}
