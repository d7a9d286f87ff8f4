package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultPARShards is the default shard count for PARRequestStore, the
// same order of traffic as challenges.
const DefaultPARShards = 16

// PARRequestStore holds Pushed Authorization Requests (RFC 9126), keyed by
// the server-minted request_uri, single-use like AuthorizationCodeStore but
// without PKCE/DPoP binding at this stage — those are validated once the
// request_uri is redeemed at /authorize.
type PARRequestStore struct {
	ring   *shard.Ring
	data   *shard.Buckets[PARRequest]
	logger log.Logger
}

// NewPARRequestStore starts a sharded PAR request store.
func NewPARRequestStore(shardCount int, logger log.Logger) *PARRequestStore {
	return &PARRequestStore{
		ring:   shard.New(shardCount, 64),
		data:   shard.NewBuckets[PARRequest](shardCount),
		logger: logger,
	}
}

// Close releases the shard workers.
func (s *PARRequestStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *PARRequestStore) QueueDepths() []int { return s.ring.QueueDepths() }

// Store persists a freshly pushed request_uri with the given ttl (RFC 9126
// mandates a short lifetime, typically 60s).
func (s *PARRequestStore) Store(ctx context.Context, rec PARRequest, ttl time.Duration, now time.Time) error {
	rec.ExpiresAt = now.Add(ttl)
	return s.ring.Do(ctx, rec.RequestURI, func() error {
		return s.data.Mutate(rec.RequestURI, func(_ PARRequest, ok bool) (PARRequest, bool, error) {
			if ok {
				return PARRequest{}, false, ErrAlreadyExists
			}
			return rec, false, nil
		})
	})
}

// Consume atomically validates clientID against the pushed request and
// marks it consumed, so a request_uri can only ever be redeemed once.
func (s *PARRequestStore) Consume(ctx context.Context, requestURI, clientID string, now time.Time) (PARRequest, error) {
	var result PARRequest
	err := s.ring.Do(ctx, requestURI, func() error {
		return s.data.Mutate(requestURI, func(rec PARRequest, ok bool) (PARRequest, bool, error) {
			if !ok {
				return PARRequest{}, false, ErrNotFound
			}
			if rec.Consumed {
				return rec, false, ErrAlreadyConsumed
			}
			if now.After(rec.ExpiresAt) {
				return rec, false, ErrExpired
			}
			if rec.ClientID != clientID {
				return rec, false, ErrClientMismatch
			}
			rec.Consumed = true
			result = rec
			return rec, false, nil
		})
	})
	if err != nil {
		return PARRequest{}, err
	}
	return result, nil
}

// GarbageCollect removes requests expired as of now.
func (s *PARRequestStore) GarbageCollect(now time.Time) int {
	return s.data.DeleteWhere(func(_ string, rec PARRequest) bool {
		return now.After(rec.ExpiresAt)
	})
}
