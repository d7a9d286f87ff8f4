package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultDeviceCodeShards matches the flow/refresh default; device flow
// traffic is lighter than authorization codes but still benefits from
// independent shard writers per poller.
const DefaultDeviceCodeShards = 32

// ErrSlowDown is returned by Poll when the client polls before
// LastPollAt+interval has elapsed (RFC 8628 §3.5 slow_down).
var ErrSlowDown = &oauthTimingError{"store: device code polled too frequently"}

// ErrAuthorizationPending is returned by Poll while the user has not yet
// approved or denied the request (RFC 8628 §3.5 authorization_pending).
var ErrAuthorizationPending = &oauthTimingError{"store: device code authorization pending"}

// ErrAccessDenied is returned by Poll once the user has denied the request
// (RFC 8628 §3.5 access_denied).
var ErrAccessDenied = &oauthTimingError{"store: device code denied"}

type oauthTimingError struct{ msg string }

func (e *oauthTimingError) Error() string { return e.msg }

// DeviceCodeStore implements the RFC 8628 device authorization grant's
// server-side state: a device_code/user_code pair moving from pending to
// approved/denied/expired as the user completes the browser-side flow,
// polled by the device. Grounded on dexidp/dex's
// server/deviceflowhandlers.go (device token polling with min-interval
// slow_down enforcement) and storage.DeviceRequest/DeviceToken.
type DeviceCodeStore struct {
	ring        *shard.Ring
	byCode      *shard.Buckets[DeviceCode]
	userCodeIdx *shard.Buckets[string] // user_code -> device_code
	logger      log.Logger
}

// NewDeviceCodeStore starts a sharded device code store.
func NewDeviceCodeStore(shardCount int, logger log.Logger) *DeviceCodeStore {
	return &DeviceCodeStore{
		ring:        shard.New(shardCount, 64),
		byCode:      shard.NewBuckets[DeviceCode](shardCount),
		userCodeIdx: shard.NewBuckets[string](shardCount),
		logger:      logger,
	}
}

// Close releases the shard workers.
func (s *DeviceCodeStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *DeviceCodeStore) QueueDepths() []int { return s.ring.QueueDepths() }

// Store persists a new pending device code/user code pair.
func (s *DeviceCodeStore) Store(ctx context.Context, rec DeviceCode, ttl time.Duration, now time.Time) error {
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(ttl)
	rec.Status = DeviceStatusPending
	err := s.ring.Do(ctx, rec.DeviceCode, func() error {
		return s.byCode.Mutate(rec.DeviceCode, func(_ DeviceCode, ok bool) (DeviceCode, bool, error) {
			if ok {
				return DeviceCode{}, false, ErrAlreadyExists
			}
			return rec, false, nil
		})
	})
	if err != nil {
		return err
	}
	return s.userCodeIdx.Mutate(rec.UserCode, func(_ string, _ bool) (string, bool, error) {
		return rec.DeviceCode, false, nil
	})
}

// LookupByUserCode resolves the user_code a human types at the verification
// URI into the underlying device_code record.
func (s *DeviceCodeStore) LookupByUserCode(userCode string) (DeviceCode, error) {
	deviceCode, ok := s.userCodeIdx.Get(userCode)
	if !ok {
		return DeviceCode{}, ErrNotFound
	}
	rec, ok := s.byCode.Get(deviceCode)
	if !ok {
		return DeviceCode{}, ErrNotFound
	}
	return rec, nil
}

// Approve marks the device code approved for the given subject, called from
// the browser-side flow once the user authenticates and consents.
func (s *DeviceCodeStore) Approve(ctx context.Context, deviceCode, userID, sub string, now time.Time) error {
	return s.ring.Do(ctx, deviceCode, func() error {
		return s.byCode.Mutate(deviceCode, func(rec DeviceCode, ok bool) (DeviceCode, bool, error) {
			if !ok {
				return DeviceCode{}, false, ErrNotFound
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

// Deny marks the device code denied.
func (s *DeviceCodeStore) Deny(ctx context.Context, deviceCode string, now time.Time) error {
	return s.ring.Do(ctx, deviceCode, func() error {
		return s.byCode.Mutate(deviceCode, func(rec DeviceCode, ok bool) (DeviceCode, bool, error) {
			if !ok {
				return DeviceCode{}, false, ErrNotFound
			}
			rec.Status = DeviceStatusDenied
			return rec, false, nil
		})
	})
}

// Poll is called by the device on its polling interval. It enforces the
// minimum interval (slow_down), reports authorization_pending while
// unresolved, and consumes the record exactly once on the first poll that
// observes Approved, mirroring RFC 8628 §3.5's state machine.
func (s *DeviceCodeStore) Poll(ctx context.Context, deviceCode string, minInterval time.Duration, now time.Time) (DeviceCode, error) {
	var result DeviceCode
	var pollErr error
	err := s.ring.Do(ctx, deviceCode, func() error {
		return s.byCode.Mutate(deviceCode, func(rec DeviceCode, ok bool) (DeviceCode, bool, error) {
			if !ok {
				return DeviceCode{}, false, ErrNotFound
			}
			if now.After(rec.ExpiresAt) {
				return rec, false, ErrExpired
			}
			// The interval clock starts at issuance: a first poll inside the
			// minimum interval is already too fast.
			last := rec.LastPollAt
			if last.IsZero() {
				last = rec.CreatedAt
			}
			if now.Sub(last) < minInterval {
				pollErr = ErrSlowDown
				rec.LastPollAt = now
				rec.PollCount++
				return rec, false, nil
			}
			rec.LastPollAt = now
			rec.PollCount++

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
		return DeviceCode{}, err
	}
	if pollErr != nil {
		return DeviceCode{}, pollErr
	}
	return result, nil
}

// GarbageCollect removes device codes expired as of now. The user_code
// index is left to age out independently; stale entries resolve to a
// missing byCode record and are treated as not-found.
func (s *DeviceCodeStore) GarbageCollect(now time.Time) int {
	return s.byCode.DeleteWhere(func(_ string, rec DeviceCode) bool {
		return now.After(rec.ExpiresAt)
	})
}
