package api

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether subject may perform one more request in scope.
// When the request is refused, retryAfterSeconds says when to try again.
type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string) (allowed bool, retryAfterSeconds int, err error)
}

// fixedWindowScript counts one hit in the window of KEYS[1] and decides against the limit in ARGV[2].
// It returns {allowed, ttl_ms}; ttl_ms is only meaningful when allowed is 0.
var fixedWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if hits <= tonumber(ARGV[2]) then
  return {1, 0}
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {0, ttl}
`)

// RedisRateLimiter is a fixed-window limiter shared by every replica.
// A nil client, or a non-positive limit or window, disables it.
type RedisRateLimiter struct {
	client   redis.UniversalClient
	prefix   string
	limit    int
	windowMs int64
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "rental:rate_limit"
	}
	var windowMs int64
	if window > 0 {
		windowMs = max(window.Milliseconds(), 1000)
	}
	return &RedisRateLimiter{client: client, prefix: prefix, limit: limit, windowMs: windowMs}
}

func (r *RedisRateLimiter) enabled() bool {
	return r != nil && r.client != nil && r.limit > 0 && r.windowMs > 0
}

// Allow fails open: a Redis error lets the request through and is returned for logging.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope, subject string) (bool, int, error) {
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if !r.enabled() || scope == "" || subject == "" {
		return true, 0, nil
	}

	key := r.prefix + ":" + scope + ":" + subject
	result, err := fixedWindowScript.Run(ctx, r.client, []string{key}, r.windowMs, r.limit).Int64Slice()
	if err != nil {
		return true, 0, err
	}
	if len(result) != 2 {
		return true, 0, fmt.Errorf("unexpected redis limiter reply of %d values", len(result))
	}
	if result[0] == 1 {
		return true, 0, nil
	}

	ttlMs := result[1]
	if ttlMs <= 0 {
		ttlMs = r.windowMs
	}
	return false, max(int(math.Ceil(float64(ttlMs)/1000.0)), 1), nil
}

// LocalRateLimiter is an in-process token bucket per scope and subject, used when Redis is not configured.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
	now      func() time.Time
}

// NewLocalRateLimiter allows perMinute requests per minute with bursts of the same size.
func NewLocalRateLimiter(perMinute int) *LocalRateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		now:      time.Now,
	}
}

func (l *LocalRateLimiter) Allow(ctx context.Context, scope, subject string) (bool, int, error) {
	key := scope + ":" + subject

	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.every, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	now := l.now()
	if limiter.AllowN(now, 1) {
		return true, 0, nil
	}
	reservation := limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)

	retryAfter := int(math.Ceil(delay.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter, nil
}
