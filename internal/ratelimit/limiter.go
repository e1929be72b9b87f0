// Package ratelimit enforces per-key, per-route request budgets with a
// token bucket kept in Redis, shared across gateway instances.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/logging"
)

// Window names for violation reporting.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

const bucketTTL = time.Hour

// tokenBucketScript refills and takes from a bucket atomically. The bucket
// is a hash {tokens, last_refill}; a missing hash starts full. Refill is
// continuous at capacity per window.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(bucket[1])
local last = tonumber(bucket[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end

local elapsed = now - last
if elapsed > 0 then
	tokens = math.min(capacity, tokens + elapsed * capacity / window_ms)
	last = now
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_refill', last)
redis.call('EXPIRE', KEYS[1], ttl)
return allowed
`)

// Outcome is the result of a rate limit check.
type Outcome struct {
	Allowed bool
	Window  string // which window denied, empty when allowed
	Limit   int    // the denying window's capacity
}

var allowed = Outcome{Allowed: true}

// Limiter checks request budgets against Redis. Redis being down or slow
// never blocks traffic: errors log a warning and the request passes.
type Limiter struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewLimiter creates a limiter. keyPrefix namespaces bucket keys; empty
// selects "nexusgate".
func NewLimiter(client redis.UniversalClient, keyPrefix string) *Limiter {
	if keyPrefix == "" {
		keyPrefix = "nexusgate"
	}
	return &Limiter{client: client, keyPrefix: keyPrefix}
}

// Allow takes one token from the minute and hour buckets for the
// (apiKeyID, routeID) pair. The minute window is checked first and
// short-circuits, so a minute-denied request consumes no hour token.
// A non-positive capacity means that window is unlimited and its bucket
// is left untouched.
func (l *Limiter) Allow(ctx context.Context, apiKeyID, routeID int64, perMinute, perHour int) Outcome {
	if perMinute > 0 {
		if !l.take(ctx, l.bucketKey(apiKeyID, routeID, WindowMinute), perMinute, time.Minute) {
			return Outcome{Window: WindowMinute, Limit: perMinute}
		}
	}
	if perHour > 0 {
		if !l.take(ctx, l.bucketKey(apiKeyID, routeID, WindowHour), perHour, time.Hour) {
			return Outcome{Window: WindowHour, Limit: perHour}
		}
	}
	return allowed
}

func (l *Limiter) take(ctx context.Context, key string, capacity int, window time.Duration) bool {
	res, err := tokenBucketScript.Run(ctx, l.client, []string{key},
		capacity,
		window.Milliseconds(),
		time.Now().UnixMilli(),
		int(bucketTTL.Seconds()),
	).Int()
	if err != nil {
		logging.Warn("Rate limit check failed, allowing request",
			zap.String("bucket", key),
			zap.Error(err))
		return true
	}
	return res == 1
}

func (l *Limiter) bucketKey(apiKeyID, routeID int64, window string) string {
	return l.keyPrefix + ":" + strconv.FormatInt(apiKeyID, 10) +
		":" + strconv.FormatInt(routeID, 10) + ":" + window
}

// take applies the same refill-and-take step as the Redis script, over an
// in-memory bucket state. Kept in Go so the bucket math has direct unit
// coverage.
func take(tokens float64, lastRefill, now int64, capacity int, window time.Duration) (float64, bool) {
	elapsed := now - lastRefill
	if elapsed > 0 {
		tokens += float64(elapsed) * float64(capacity) / float64(window.Milliseconds())
		if max := float64(capacity); tokens > max {
			tokens = max
		}
	}
	if tokens >= 1 {
		return tokens - 1, true
	}
	return tokens, false
}
