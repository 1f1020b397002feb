package util

import (
	"context"
	"math"
	"time"
)

// Backoff is an exponential retry policy. Attempt n (1-based) that fails is
// followed by a sleep of BaseDelay * Multiplier^(n-1), capped at MaxDelay
// when MaxDelay is positive.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultBackoff makes 3 attempts sleeping 1s then 2s.
var DefaultBackoff = Backoff{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}

// Delay returns the sleep after the given failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.BaseDelay <= 0 {
		return 0
	}
	m := b.Multiplier
	if m < 1 {
		m = 1
	}
	d := time.Duration(float64(b.BaseDelay) * math.Pow(m, float64(attempt-1)))
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Retry calls fn until it succeeds, returns an error that retryable rejects,
// or MaxAttempts is reached. It returns the number of attempts made and the
// last error. A nil retryable treats every error as retryable. The function
// respects context cancellation between retries.
func Retry(ctx context.Context, b Backoff, retryable func(error) bool, fn func(attempt int) error) (int, error) {
	maxAttempts := max(b.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(err) {
			return attempt, err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(b.Delay(attempt)):
			}
		}
	}

	return maxAttempts, err
}
