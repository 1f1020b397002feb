package util

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript admits one request if fewer than limit members of the
// sorted set fall inside the window. It returns 0 on admission, otherwise the
// number of milliseconds until the oldest member leaves the window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return 0
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
  wait = 1
end
return wait
`)

// RedisRateLimiter is a Gate shared by several processes through a Redis
// sorted set. Admission times come from the caller's clock so all processes
// must run with synchronized clocks.
type RedisRateLimiter struct {
	client redis.Scripter
	key    string
	limit  int
	window time.Duration
	clock  Clock
}

var _ Gate = (*RedisRateLimiter)(nil)

// NewRedisRateLimiter creates a limiter keyed by key. A nil clock means the
// wall clock.
func NewRedisRateLimiter(client redis.Scripter, key string, limit int, window time.Duration, clock Clock) *RedisRateLimiter {
	if limit < 1 {
		limit = 1
	}
	if clock == nil {
		clock = RealClock
	}
	return &RedisRateLimiter{client: client, key: key, limit: limit, window: window, clock: clock}
}

// Wait blocks until Redis admits the request or ctx is cancelled.
func (rl *RedisRateLimiter) Wait(ctx context.Context) error {
	member := uuid.NewString()
	for {
		now := rl.clock.Now().UnixMilli()
		wait, err := slidingWindowScript.Run(ctx, rl.client, []string{rl.key},
			now, rl.window.Milliseconds(), rl.limit, member).Int64()
		if err != nil {
			return fmt.Errorf("rate gate %s: %w", rl.key, err)
		}
		if wait == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rl.clock.After(time.Duration(wait) * time.Millisecond):
		}
	}
}
