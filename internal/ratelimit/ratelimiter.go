// Package ratelimit enforces per-owner requests-per-minute limits.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is the sliding window every limit is expressed over.
const Window = time.Minute

// Limiter enforces per-key request limits.
type Limiter interface {
	AllowWithDetails(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
	GetCurrentUsage(ctx context.Context, key string) (int64, error)
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// AllowWithDetails always allows and reports an unlimited budget.
func (l *NoopLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	return true, -1, time.Time{}, nil
}

// GetCurrentUsage reports nothing, since nothing is recorded.
func (l *NoopLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	return 0, nil
}

// slidingWindow trims the window, checks the budget and records the
// request in one round trip. Denied requests are not recorded.
//
// KEYS[1] window key; ARGV: now_ms, window_ms, limit, member
// Returns {allowed, count_after, oldest_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window * 2)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RateLimiter implements distributed rate limiting using Redis sorted sets
type RateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

func windowKey(key string) string {
	return "ratelimit:" + key
}

// AllowWithDetails checks and records a request. A limit of zero or less
// disables limiting and reports remaining as -1.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := rl.now().UnixMilli()
	res, err := slidingWindow.Run(ctx, rl.client, []string{windowKey(key)},
		now, Window.Milliseconds(), limit, strconv.FormatInt(now, 10)+":"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := res[0] == 1
	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	resetAt := time.UnixMilli(res[2]).Add(Window)

	return allowed, remaining, resetAt, nil
}

// GetCurrentUsage returns the number of allowed requests in the window
// ending now
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	k := windowKey(key)
	windowStart := rl.now().Add(-Window).UnixMilli()

	if err := rl.client.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(windowStart, 10)).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}

	return count, nil
}
