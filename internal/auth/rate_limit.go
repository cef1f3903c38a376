package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"finora/internal/observability"
)

const (
	DefaultRateLimitMax    = 10
	DefaultRateLimitWindow = 15 * time.Minute
)

// RateLimiter decides whether one more hit for key fits in the window. When
// it does not, retryAfter says how long until it would.
type RateLimiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimitMiddleware throttles requests per client IP. Limiter failures let
// the request through.
func RateLimitMiddleware(limiter RateLimiter, logger *observability.Logger, metrics *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		allowed, retryAfter, err := limiter.Allow(r.Context(), ip, time.Now().UTC())
		if err != nil {
			logger.Warn("rate_limit_unavailable", map[string]any{"error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			metrics.rateLimitHit()
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeFailure(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many requests, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MemoryRateLimiter is a sliding-window limiter local to this process.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	hitByKey  map[string][]time.Time
	maxMemory int
}

var _ RateLimiter = (*MemoryRateLimiter)(nil)

func NewMemoryRateLimiter(maxHits int, window time.Duration) *MemoryRateLimiter {
	if maxHits <= 0 {
		maxHits = DefaultRateLimitMax
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}

	return &MemoryRateLimiter{
		maxHits:   maxHits,
		window:    window,
		hitByKey:  make(map[string][]time.Time),
		maxMemory: 5000,
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitByKey[key]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.maxHits {
		retryAfter := filtered[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.hitByKey[key] = filtered
		return false, retryAfter, nil
	}

	filtered = append(filtered, now)
	l.hitByKey[key] = filtered

	if len(l.hitByKey) > l.maxMemory {
		for k, value := range l.hitByKey {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(l.hitByKey, k)
			}
		}
	}

	return true, 0, nil
}

// RedisRateLimiter shares the sliding window across instances through a
// sorted set per key.
type RedisRateLimiter struct {
	client  redis.Cmdable
	prefix  string
	maxHits int
	window  time.Duration
}

var _ RateLimiter = (*RedisRateLimiter)(nil)

func NewRedisRateLimiter(client redis.Cmdable, prefix string, maxHits int, window time.Duration) *RedisRateLimiter {
	if prefix == "" {
		prefix = "finora:ratelimit:"
	}
	if maxHits <= 0 {
		maxHits = DefaultRateLimitMax
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RedisRateLimiter{client: client, prefix: prefix, maxHits: maxHits, window: window}
}

// Returns {1, 0} when admitted, {0, oldest hit in ms} otherwise.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count >= limit then
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		return {0, tonumber(oldest[2])}
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms)
	return {1, 0}
`)

func (l *RedisRateLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error) {
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10)

	result, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + key},
		nowMs,
		now.Add(-l.window).UnixMilli(),
		l.maxHits,
		l.window.Milliseconds(),
		member,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("redis rate limit: unexpected result %v", result)
	}

	if result[0] == 1 {
		return true, 0, nil
	}
	retryAfter := time.Duration(result[1]+l.window.Milliseconds()-nowMs) * time.Millisecond
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}
