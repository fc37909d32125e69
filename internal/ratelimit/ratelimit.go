// Package ratelimit implements a Redis-backed token bucket shared by all
// server instances. Refill, decision, and persistence happen inside one Lua
// script, so concurrent callers on the same key can never over-allocate.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasper/vidmeta/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidRequest is returned when bucket parameters are not positive.
var ErrInvalidRequest = errors.New("invalid bucket parameters")

// Request describes one consumption attempt against a bucket.
type Request struct {
	Tokens       int64         // tokens to consume
	Capacity     int64         // bucket capacity
	RefillTokens int64         // tokens added per refill period
	RefillPeriod time.Duration // length of one refill period
}

// Result is the outcome of a consumption attempt.
type Result struct {
	Allowed   bool
	Remaining int64
	// ResetAt estimates when enough tokens will exist for the requested
	// amount. It is derived from the shortfall and the refill rate, not a
	// fixed window boundary; on an allowed request it is the present.
	ResetAt time.Time
}

// The script performs read-refill-decide-write in one round trip.
// Refill advances the stored timestamp by whole periods only; the
// fractional remainder stays behind so repeated calls do not drift.
// Returns {allowed(1/0), remaining, resetEpochMillis}.
const consumeScript = `
local key              = KEYS[1]
local capacity         = tonumber(ARGV[1])
local refill_tokens    = tonumber(ARGV[2])
local refill_period_ms = tonumber(ARGV[3])
local now_ms           = tonumber(ARGV[4])
local requested        = tonumber(ARGV[5])

local data    = redis.call('HMGET', key, 'tokens', 'ts')
local tokens  = tonumber(data[1])
local last_ts = tonumber(data[2])

if tokens == nil or last_ts == nil then
    tokens  = capacity
    last_ts = now_ms
end

local elapsed = now_ms - last_ts
if elapsed > 0 then
    local periods = math.floor(elapsed / refill_period_ms)
    if periods > 0 then
        tokens  = math.min(capacity, tokens + periods * refill_tokens)
        last_ts = last_ts + periods * refill_period_ms
    end
end

local allowed   = 0
local shortfall = 0
if tokens >= requested then
    tokens  = tokens - requested
    allowed = 1
else
    shortfall = requested - tokens
end

redis.call('HMSET', key, 'tokens', tokens, 'ts', last_ts)
redis.call('PEXPIRE', key, refill_period_ms * 2)

local reset_in_ms = 0
if shortfall > 0 then
    reset_in_ms = math.ceil(shortfall * refill_period_ms / refill_tokens)
end

return {allowed, tokens, now_ms + reset_in_ms}
`

// Limiter executes token bucket decisions against a shared Redis store.
type Limiter struct {
	rdb    redis.Cmdable
	script *redis.Script
	log    *logger.Logger
	nowFn  func() time.Time
}

// New creates a Limiter on top of the given Redis client.
func New(rdb redis.Cmdable, log *logger.Logger) *Limiter {
	return &Limiter{
		rdb:    rdb,
		script: redis.NewScript(consumeScript),
		log:    log,
		nowFn:  time.Now,
	}
}

// TryConsume attempts to take req.Tokens from the bucket at key.
//
// The limiter fails closed: when the store is unreachable the request is
// denied and the store error is returned alongside the denial.
func (l *Limiter) TryConsume(ctx context.Context, key string, req Request) (Result, error) {
	if req.Tokens <= 0 || req.Capacity <= 0 || req.RefillTokens <= 0 || req.RefillPeriod <= 0 {
		return Result{}, ErrInvalidRequest
	}

	now := l.nowFn().UnixMilli()
	vals, err := l.script.Run(ctx, l.rdb,
		[]string{key},
		req.Capacity,
		req.RefillTokens,
		req.RefillPeriod.Milliseconds(),
		now,
		req.Tokens,
	).Int64Slice()
	if err != nil {
		l.log.WithError(err).WithField("key", key).Error("Rate limiter script failed, denying")
		return Result{Allowed: false, ResetAt: l.nowFn()}, fmt.Errorf("rate limiter unavailable: %w", err)
	}
	if len(vals) != 3 {
		return Result{Allowed: false, ResetAt: l.nowFn()}, fmt.Errorf("rate limiter returned %d values, want 3", len(vals))
	}

	return Result{
		Allowed:   vals[0] == 1,
		Remaining: vals[1],
		ResetAt:   time.UnixMilli(vals[2]),
	}, nil
}

// GlobalKey is the bucket shared by every import submission.
func GlobalKey() string {
	return "import:rate:global"
}

// UserKey is the per-requester bucket.
func UserKey(username string) string {
	return "import:rate:user:" + username
}
