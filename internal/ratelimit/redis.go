package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, then records the hit only if a slot is
// free. The check and the add run atomically so concurrent callers never
// see a count above the limit.
//
// KEYS[1] sorted set; ARGV now_ms, window_ms, limit, member.
// Returns {allowed, count, oldest_ms}.
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
local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
redis.call('PEXPIRE', key, window)
return {allowed, count, oldest}
`)

// redisLimiter keeps one sorted set per key scored by request time in
// milliseconds.
type redisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedis(client *redis.Client, prefix string, limit int, window time.Duration) Limiter {
	return &redisLimiter{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	if l.limit <= 0 || l.window <= 0 {
		return Result{Allowed: true, Limit: l.limit}, nil
	}
	nowMs := l.now().UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	reply, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + key},
		nowMs, l.window.Milliseconds(), l.limit, member).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	return l.result(reply)
}

func (l *redisLimiter) result(reply []int64) (Result, error) {
	if len(reply) != 3 {
		return Result{}, fmt.Errorf("unexpected rate limit reply: %v", reply)
	}
	res := Result{
		Limit:   l.limit,
		ResetAt: time.UnixMilli(reply[2]).Add(l.window),
	}
	if reply[0] == 1 {
		res.Allowed = true
		res.Remaining = max(l.limit-int(reply[1]), 0)
	}
	return res, nil
}
