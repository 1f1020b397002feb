package util

import (
	"context"
	"sync"
	"time"
)

// Gate is a process-wide admission control point. Every outbound provider
// request must pass Wait first.
type Gate interface {
	Wait(ctx context.Context) error
}

// Clock abstracts time so rate limiting can be tested deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// RateLimiter admits at most limit requests in any rolling window. It keeps a
// log of admission times, so unlike a token bucket it never allows a burst
// that straddles a window boundary to exceed the limit.
type RateLimiter struct {
	limit  int
	window time.Duration
	clock  Clock

	mu     sync.Mutex
	stamps []time.Time // admission times, oldest first
}

var _ Gate = (*RateLimiter)(nil)

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
// A nil clock means the wall clock.
func NewRateLimiter(limit int, window time.Duration, clock Clock) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if clock == nil {
		clock = RealClock
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		stamps: make([]time.Time, 0, limit),
	}
}

// Wait blocks until a slot in the current window is free or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rl.mu.Lock()
		now := rl.clock.Now()
		rl.prune(now)
		if len(rl.stamps) < rl.limit {
			rl.stamps = append(rl.stamps, now)
			rl.mu.Unlock()
			return nil
		}
		wait := rl.stamps[0].Add(rl.window).Sub(now)
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rl.clock.After(wait):
		}
	}
}

// InFlight returns how many admissions fall inside the current window.
func (rl *RateLimiter) InFlight() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.prune(rl.clock.Now())
	return len(rl.stamps)
}

// prune drops admissions that have left the window. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.stamps) && !rl.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.stamps = append(rl.stamps[:0], rl.stamps[i:]...)
	}
}
