package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultRateLimitShards is the default shard count for the in-memory
// RateLimiterCounter.
const DefaultRateLimitShards = 64

// RateLimitResult is the result of one increment call.
type RateLimitResult struct {
	Allowed    bool
	Current    int
	Limit      int
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// RateLimiterCounter is a fixed-window counter:
// increment(key, windowSeconds, maxRequests). The window boundary is
// floor(now/windowSeconds)*windowSeconds, so every caller within the same
// window agrees on its start without coordination. Grounded on the same
// sharded-single-writer shape as the rest of this package; unlike the other
// stores, FailOpen controls what Increment returns when a storage error
// would otherwise occur: fail-open for user-facing endpoints, fail-closed
// for brute-force counters like SCIM auth and OTP.
type RateLimiterCounter struct {
	ring     *shard.Ring
	data     *shard.Buckets[window]
	FailOpen bool
	logger   log.Logger
}

// NewRateLimiterCounter starts an in-memory sharded rate limiter. Set
// failOpen to true for user-facing endpoints, false for brute-force-prone
// endpoints (SCIM auth, OTP verification).
func NewRateLimiterCounter(shardCount int, failOpen bool, logger log.Logger) *RateLimiterCounter {
	return &RateLimiterCounter{
		ring:     shard.New(shardCount, 256),
		data:     shard.NewBuckets[window](shardCount),
		FailOpen: failOpen,
		logger:   logger,
	}
}

// Close releases the shard workers.
func (r *RateLimiterCounter) Close() { r.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (r *RateLimiterCounter) QueueDepths() []int { return r.ring.QueueDepths() }

func windowStart(now time.Time, windowSeconds int) time.Time {
	sec := now.Unix()
	ws := int64(windowSeconds)
	boundary := (sec / ws) * ws
	return time.Unix(boundary, 0).UTC()
}

// Increment bumps key's counter for the current fixed window and reports
// whether the request is allowed. On an internal error, the result honors
// FailOpen: true returns Allowed:true, false returns Allowed:false, both
// with the error surfaced so the caller can log it.
func (r *RateLimiterCounter) Increment(ctx context.Context, key string, windowSeconds, maxRequests int, now time.Time) (RateLimitResult, error) {
	ws := windowStart(now, windowSeconds)
	var result RateLimitResult
	err := r.ring.Do(ctx, key, func() error {
		return r.data.Mutate(key, func(w window, ok bool) (window, bool, error) {
			if !ok || w.start.Before(ws) {
				w = window{start: ws, count: 0}
			}
			w.count++
			result = RateLimitResult{
				Current: w.count,
				Limit:   maxRequests,
				Allowed: w.count <= maxRequests,
			}
			if !result.Allowed {
				result.RetryAfter = ws.Add(time.Duration(windowSeconds) * time.Second).Sub(now)
			}
			return w, false, nil
		})
	})
	if err != nil {
		if r.FailOpen {
			return RateLimitResult{Allowed: true, Limit: maxRequests}, err
		}
		return RateLimitResult{Allowed: false, Limit: maxRequests}, err
	}
	return result, nil
}

// GarbageCollect removes windows older than the given cutoff. Callers
// should pass now minus the widest windowSeconds in use.
func (r *RateLimiterCounter) GarbageCollect(cutoff time.Time) int {
	return r.data.DeleteWhere(func(_ string, w window) bool {
		return w.start.Before(cutoff)
	})
}
