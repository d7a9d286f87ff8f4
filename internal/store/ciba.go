package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultCIBAShards mirrors DefaultDeviceCodeShards; CIBA is structurally
// the device flow's backchannel twin.
const DefaultCIBAShards = 32

// CIBARequestStore implements Client-Initiated Backchannel Authentication
// polling state, structurally identical to DeviceCodeStore minus the
// user_code index (the end user never types anything; the request is
// identified solely by auth_req_id delivered out of band).
type CIBARequestStore struct {
	ring   *shard.Ring
	data   *shard.Buckets[CIBARequest]
	logger log.Logger
}

// NewCIBARequestStore starts a sharded CIBA request store.
func NewCIBARequestStore(shardCount int, logger log.Logger) *CIBARequestStore {
	return &CIBARequestStore{
		ring:   shard.New(shardCount, 64),
		data:   shard.NewBuckets[CIBARequest](shardCount),
		logger: logger,
	}
}

// Close releases the shard workers.
func (s *CIBARequestStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *CIBARequestStore) QueueDepths() []int { return s.ring.QueueDepths() }

// Store persists a new pending CIBA request.
func (s *CIBARequestStore) Store(ctx context.Context, rec CIBARequest, ttl time.Duration, now time.Time) error {
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(ttl)
	rec.Status = DeviceStatusPending
	return s.ring.Do(ctx, rec.AuthReqID, func() error {
		return s.data.Mutate(rec.AuthReqID, func(_ CIBARequest, ok bool) (CIBARequest, bool, error) {
			if ok {
				return CIBARequest{}, false, ErrAlreadyExists
			}
			return rec, false, nil
		})
	})
}

// Approve marks the request approved for the given subject.
func (s *CIBARequestStore) Approve(ctx context.Context, authReqID, userID, sub string, now time.Time) error {
	return s.ring.Do(ctx, authReqID, func() error {
		return s.data.Mutate(authReqID, func(rec CIBARequest, ok bool) (CIBARequest, bool, error) {
			if !ok {
				return CIBARequest{}, false, ErrNotFound
			}
			if now.After(rec.ExpiresAt) {
				return rec, false, ErrExpired
			}
			rec.Status = DeviceStatusApproved
			rec.UserID = userID
			rec.Sub = sub
			return rec, false, nil
		})
	})
}

// Deny marks the request denied.
func (s *CIBARequestStore) Deny(ctx context.Context, authReqID string) error {
	return s.ring.Do(ctx, authReqID, func() error {
		return s.data.Mutate(authReqID, func(rec CIBARequest, ok bool) (CIBARequest, bool, error) {
			if !ok {
				return CIBARequest{}, false, ErrNotFound
			}
			rec.Status = DeviceStatusDenied
			return rec, false, nil
		})
	})
}

// Poll mirrors DeviceCodeStore.Poll's slow_down/authorization_pending/
// consume-once state machine, keyed by auth_req_id instead of device_code.
func (s *CIBARequestStore) Poll(ctx context.Context, authReqID string, now time.Time) (CIBARequest, error) {
	var result CIBARequest
	var pollErr error
	err := s.ring.Do(ctx, authReqID, func() error {
		return s.data.Mutate(authReqID, func(rec CIBARequest, ok bool) (CIBARequest, bool, error) {
			if !ok {
				return CIBARequest{}, false, ErrNotFound
			}
			if now.After(rec.ExpiresAt) {
				return rec, false, ErrExpired
			}
			last := rec.LastPollAt
			if last.IsZero() {
				last = rec.CreatedAt
			}
			if now.Sub(last) < rec.Interval {
				pollErr = ErrSlowDown
				rec.LastPollAt = now
				return rec, false, nil
			}
			rec.LastPollAt = now

			switch rec.Status {
			case DeviceStatusPending:
				pollErr = ErrAuthorizationPending
				return rec, false, nil
			case DeviceStatusDenied:
				pollErr = ErrAccessDenied
				return rec, false, nil
			case DeviceStatusApproved:
				if rec.Consumed {
					pollErr = ErrAlreadyConsumed
					return rec, false, nil
				}
				rec.Consumed = true
				result = rec
				return rec, false, nil
			default:
				pollErr = ErrExpired
				return rec, false, nil
			}
		})
	})
	if err != nil {
		return CIBARequest{}, err
	}
	if pollErr != nil {
		return CIBARequest{}, pollErr
	}
	return result, nil
}

// GarbageCollect removes requests expired as of now.
func (s *CIBARequestStore) GarbageCollect(now time.Time) int {
	return s.data.DeleteWhere(func(_ string, rec CIBARequest) bool {
		return now.After(rec.ExpiresAt)
	})
}
