package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultRevocationShards is the default shard count for
// TokenRevocationStore.
const DefaultRevocationShards = 32

// revokedEntry is a tombstone: its presence means the key is revoked, its
// value the time revocation was recorded (kept so GarbageCollect can expire
// tombstones once the underlying token would have expired anyway).
type revokedEntry struct {
	RevokedAt time.Time
	ExpiresAt time.Time
}

// TokenRevocationStore is the admin-facing revocation surface behind the
// RFC 7009 revoke endpoint: it tombstones individual
// access-token JTIs and delegates whole-family refresh revocation to a
// RefreshTokenRotator, so introspection and the token endpoint share one
// source of truth for "is this credential still live."
type TokenRevocationStore struct {
	ring    *shard.Ring
	jtis    *shard.Buckets[revokedEntry]
	rotator *RefreshTokenRotator
	logger  log.Logger
}

// NewTokenRevocationStore starts a sharded revocation store bound to the
// refresh token rotator whose families it can revoke.
func NewTokenRevocationStore(shardCount int, rotator *RefreshTokenRotator, logger log.Logger) *TokenRevocationStore {
	return &TokenRevocationStore{
		ring:    shard.New(shardCount, 64),
		jtis:    shard.NewBuckets[revokedEntry](shardCount),
		rotator: rotator,
		logger:  logger,
	}
}

// Close releases the shard workers.
func (s *TokenRevocationStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *TokenRevocationStore) QueueDepths() []int { return s.ring.QueueDepths() }

// RevokeAccessToken tombstones an access token's jti until its own
// expiresAt, per RFC 7009 revoking an access token by value. Idempotent.
func (s *TokenRevocationStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt, now time.Time) error {
	return s.ring.Do(ctx, jti, func() error {
		return s.jtis.Mutate(jti, func(_ revokedEntry, _ bool) (revokedEntry, bool, error) {
			return revokedEntry{RevokedAt: now, ExpiresAt: expiresAt}, false, nil
		})
	})
}

// IsAccessTokenRevoked reports whether jti has been revoked.
func (s *TokenRevocationStore) IsAccessTokenRevoked(jti string) bool {
	_, ok := s.jtis.Get(jti)
	return ok
}

// RevokeRefreshFamily revokes every handle in a refresh token's rotation
// family, per RFC 7009 revoking a refresh token cascading to its whole
// chain, and per admin-triggered
// "sign out everywhere."
func (s *TokenRevocationStore) RevokeRefreshFamily(ctx context.Context, familyID string, now time.Time) error {
	return s.rotator.RevokeFamily(ctx, familyID, now)
}

// GarbageCollect removes access-token tombstones past their own expiry —
// once the token itself would no longer validate, the tombstone is
// redundant.
func (s *TokenRevocationStore) GarbageCollect(now time.Time) int {
	return s.jtis.DeleteWhere(func(_ string, rec revokedEntry) bool {
		return now.After(rec.ExpiresAt)
	})
}
