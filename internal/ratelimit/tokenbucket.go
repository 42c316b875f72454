// Package ratelimit implements the per-API-key token bucket (spec §4.C2)
// and a lighter in-process connection-rate guard for the tunnel's
// unauthenticated upgrade endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript atomically refills and debits one token from the bucket
// identified by KEYS[1]. Running the whole check-and-decrement as a single
// Lua script is what makes it safe against concurrent callers sharing the
// same Redis-backed bucket (§4.C2: "implement via a server-side script or
// equivalent CAS loop").
//
// ARGV: capacity, refillPerSecond, now (unix seconds, float), ttlSeconds
// Returns: {allowed (0/1), tokensRemaining, resetUnixSeconds}
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refillPerSecond = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])

if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * refillPerSecond)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("EXPIRE", key, ttl)

local deficit = capacity - tokens
local secondsToFull = 0
if refillPerSecond > 0 then
  secondsToFull = deficit / refillPerSecond
end

return {allowed, tostring(tokens), tostring(now + secondsToFull)}
`

// Limiter checks and debits token buckets stored in Redis, one hash per key.
type Limiter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLimiter constructs a Limiter against an existing Redis client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, ttl: 120 * time.Second}
}

// Decision is the outcome of one rate-limit check, carrying everything
// needed to populate the X-RateLimit-* response headers (§6.5).
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Check performs one atomic token-bucket check for the given key, with
// capacity == refillPerMinute (spec §4.C2: "capacity = refill/minute = tier limit").
func (l *Limiter) Check(ctx context.Context, key string, capacity int) (Decision, error) {
	refillPerSecond := float64(capacity) / 60.0
	now := float64(time.Now().UTC().UnixNano()) / 1e9

	res, err := l.rdb.Eval(ctx, tokenBucketScript, []string{bucketKey(key)},
		capacity, refillPerSecond, now, int(l.ttl.Seconds())).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: eval failed: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result shape")
	}

	allowed := toInt64(arr[0]) == 1
	tokensRemaining := toFloat(arr[1])
	resetUnix := toFloat(arr[2])

	return Decision{
		Allowed:   allowed,
		Limit:     capacity,
		Remaining: int(tokensRemaining),
		ResetAt:   time.Unix(int64(resetUnix), 0).UTC(),
	}, nil
}

func bucketKey(key string) string {
	return "herald:ratelimit:" + key
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		var n int64
		fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		var f float64
		fmt.Sscanf(t, "%g", &f)
		return f
	case int64:
		return float64(t)
	default:
		return 0
	}
}
