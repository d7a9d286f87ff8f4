// Package distributed provides Redis-backed alternatives to the in-memory
// RateLimiterCounter and DPoPJTIStore in internal/store, for deployments
// that run more than one authd process against shared state. Grounded on
// wisbric-nightowl's internal/auth/ratelimit.go (INCR+EXPIRE login rate
// limiting) and internal/platform/redis.go's client construction.
package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter mirrors store.RateLimiterCounter's fixed-window increment
// contract but backs it with Redis INCR+EXPIRE, so the window survives
// process restarts and is shared across every authd instance.
type RateLimiter struct {
	client   *redis.Client
	prefix   string
	failOpen bool
}

// NewRateLimiter builds a Redis-backed rate limiter. prefix namespaces keys
// (e.g. "authd:ratelimit:"); failOpen mirrors store.RateLimiterCounter's
// FailOpen semantics: fail-open for user-facing endpoints, fail-closed
// for brute-force counters.
func NewRateLimiter(client *redis.Client, prefix string, failOpen bool) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, failOpen: failOpen}
}

// RateLimitResult mirrors store.RateLimitResult.
type RateLimitResult struct {
	Allowed    bool
	Current    int
	Limit      int
	RetryAfter time.Duration
}

// Increment bumps key's counter for a fixed window of windowSeconds,
// setting the expiry only on the window's first increment so repeated
// INCRs inside the same window don't reset the TTL.
func (r *RateLimiter) Increment(ctx context.Context, key string, windowSeconds, maxRequests int) (RateLimitResult, error) {
	fullKey := r.prefix + key
	window := time.Duration(windowSeconds) * time.Second

	count, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return r.onError(maxRequests), fmt.Errorf("distributed: rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return r.onError(maxRequests), fmt.Errorf("distributed: rate limit expire: %w", err)
		}
	}

	result := RateLimitResult{
		Current: int(count),
		Limit:   maxRequests,
		Allowed: count <= int64(maxRequests),
	}
	if !result.Allowed {
		ttl, err := r.client.TTL(ctx, fullKey).Result()
		if err == nil && ttl > 0 {
			result.RetryAfter = ttl
		}
	}
	return result, nil
}

func (r *RateLimiter) onError(maxRequests int) RateLimitResult {
	return RateLimitResult{Allowed: r.failOpen, Limit: maxRequests}
}

// Reset clears key's counter, used after a successful authentication to
// forgive prior failed attempts.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
