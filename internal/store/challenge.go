package store

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultChallengeShards is the default shard count for ChallengeStore.
const DefaultChallengeShards = 16

// ChallengeStore holds single-use OTP/WebAuthn/magic-link/device
// verification challenges, sharded by challenge ID. Grounded on dexidp/dex's
// storage.AuthRequest pattern of a short-lived, single-consume record, here
// specialized to a bare challenge-hash comparison rather than a full
// authorization request.
type ChallengeStore struct {
	ring   *shard.Ring
	data   *shard.Buckets[Challenge]
	logger log.Logger
}

// NewChallengeStore starts a sharded challenge store.
func NewChallengeStore(shardCount int, logger log.Logger) *ChallengeStore {
	return &ChallengeStore{
		ring:   shard.New(shardCount, 64),
		data:   shard.NewBuckets[Challenge](shardCount),
		logger: logger,
	}
}

// Close releases the shard workers.
func (s *ChallengeStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *ChallengeStore) QueueDepths() []int { return s.ring.QueueDepths() }

// Store persists a new challenge with the given ttl. ErrAlreadyExists if the
// ID is already in use (IDs are conventionally "{kind}:{session_key}", so
// collisions mean a duplicate challenge was requested for the same flow).
func (s *ChallengeStore) Store(ctx context.Context, rec Challenge, ttl time.Duration, now time.Time) error {
	rec.ExpiresAt = now.Add(ttl)
	return s.ring.Do(ctx, rec.ID, func() error {
		return s.data.Mutate(rec.ID, func(_ Challenge, ok bool) (Challenge, bool, error) {
			if ok {
				return Challenge{}, false, ErrAlreadyExists
			}
			return rec, false, nil
		})
	})
}

// Consume atomically validates presentedHash against the stored challenge
// hash using a constant-time comparison and marks it consumed, so a second
// concurrent presentation of the same code can never also succeed.
func (s *ChallengeStore) Consume(ctx context.Context, id string, presentedHash []byte, now time.Time) (Challenge, error) {
	var result Challenge
	err := s.ring.Do(ctx, id, func() error {
		return s.data.Mutate(id, func(rec Challenge, ok bool) (Challenge, bool, error) {
			if !ok {
				return Challenge{}, false, ErrNotFound
			}
			if rec.Consumed {
				return rec, false, ErrAlreadyConsumed
			}
			if now.After(rec.ExpiresAt) {
				return rec, false, ErrExpired
			}
			if subtle.ConstantTimeCompare(rec.ChallengeHash, presentedHash) != 1 {
				return rec, false, ErrChallengeMismatch
			}
			rec.Consumed = true
			result = rec
			return rec, false, nil
		})
	})
	if err != nil {
		return Challenge{}, err
	}
	return result, nil
}

// GarbageCollect removes challenges expired as of now.
func (s *ChallengeStore) GarbageCollect(now time.Time) int {
	return s.data.DeleteWhere(func(_ string, rec Challenge) bool {
		return now.After(rec.ExpiresAt)
	})
}
