// Package ratelimit implements the per-endpoint sliding-window limits.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMisconfigured is returned when no limiter backend is available in an
// environment that requires one.
var ErrMisconfigured = errors.New("rate limiter not configured")

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r Result) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	return max(secs, 0)
}

// Limiter checks and records one request under key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// slidingWindow keeps one sorted-set member per accepted request, scored by
// its timestamp in milliseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)

if current < limit then
	local counter = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. counter)
	redis.call('PEXPIRE', key, window_ms)
	redis.call('PEXPIRE', key .. ':seq', window_ms)
	return {1, limit - current - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = 0
if #oldest >= 2 then
	retry = tonumber(oldest[2]) + window_ms - now
end
return {0, 0, retry}
`)

// RedisLimiter is a Limiter shared by every server instance.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisLimiter returns a RedisLimiter storing keys under prefix.
func NewRedisLimiter(client redis.Scripter, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now()
	redisKey := key
	if l.prefix != "" {
		redisKey = l.prefix + ":" + key
	}

	raw, err := slidingWindow.Run(ctx, l.client, []string{redisKey},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run sliding window script: %w", err)
	}
	if len(raw) < 3 {
		return Result{}, fmt.Errorf("unexpected sliding window result length %d", len(raw))
	}

	res := Result{Allowed: raw[0] == 1, Remaining: int(raw[1])}
	if !res.Allowed && raw[2] > 0 {
		res.RetryAfter = time.Duration(raw[2]) * time.Millisecond
	}
	return res, nil
}
