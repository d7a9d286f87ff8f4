package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultDPoPJTIShards is the default shard count for DPoPJTIStore. DPoP
// proofs are minted per-request on every token/protected-resource call, so
// this store takes the widest shard count in the package to keep any single
// writer's queue shallow under load.
const DefaultDPoPJTIShards = 64

// DPoPJTIStore is a pure replay barrier: it remembers every DPoP proof
// JTI seen (with the htm and htu it came with) within the proof's validity
// window, so a captured proof cannot be replayed (RFC 9449 §11.1). Records
// are keyed by JTI alone: a repeated JTI is a replay whatever its htm+htu.
// Grounded on the single-use-consume pattern shared by every other store in
// this package, specialized to a record with no payload beyond its own
// existence.
type DPoPJTIStore struct {
	ring   *shard.Ring
	data   *shard.Buckets[DPoPProof]
	logger log.Logger
}

// NewDPoPJTIStore starts a sharded DPoP JTI replay barrier.
func NewDPoPJTIStore(shardCount int, logger log.Logger) *DPoPJTIStore {
	return &DPoPJTIStore{
		ring:   shard.New(shardCount, 256),
		data:   shard.NewBuckets[DPoPProof](shardCount),
		logger: logger,
	}
}

// Close releases the shard workers.
func (s *DPoPJTIStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *DPoPJTIStore) QueueDepths() []int { return s.ring.QueueDepths() }

// Seen atomically records jti as used if and only if it has not been seen
// before within its validity window, returning ErrAlreadyExists on replay.
// Exactly one caller presenting the same jti concurrently observes success.
func (s *DPoPJTIStore) Seen(ctx context.Context, jti, htm, htu string, ttl time.Duration, now time.Time) error {
	return s.ring.Do(ctx, jti, func() error {
		return s.data.Mutate(jti, func(existing DPoPProof, ok bool) (DPoPProof, bool, error) {
			if ok && now.Before(existing.ExpiresAt) {
				return existing, false, ErrAlreadyExists
			}
			return DPoPProof{
				JTI:       jti,
				HTM:       htm,
				HTU:       htu,
				IssuedAt:  now,
				ExpiresAt: now.Add(ttl),
			}, false, nil
		})
	})
}

// GarbageCollect removes JTI records expired as of now.
func (s *DPoPJTIStore) GarbageCollect(now time.Time) int {
	return s.data.DeleteWhere(func(_ string, rec DPoPProof) bool {
		return now.After(rec.ExpiresAt)
	})
}
