package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultSessionShards is the default shard count for SessionStore.
const DefaultSessionShards = 32

// SessionStore holds server-side login sessions, sharded by session_id.
type SessionStore struct {
	ring   *shard.Ring
	data   *shard.Buckets[Session]
	logger log.Logger
}

// NewSessionStore starts a sharded session store with shardCount shards.
func NewSessionStore(shardCount int, logger log.Logger) *SessionStore {
	return &SessionStore{
		ring:   shard.New(shardCount, 64),
		data:   shard.NewBuckets[Session](shardCount),
		logger: logger,
	}
}

// Close releases the shard workers.
func (s *SessionStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *SessionStore) QueueDepths() []int { return s.ring.QueueDepths() }

// CreateSession stores a new session with the given TTL.
func (s *SessionStore) CreateSession(ctx context.Context, sessionID, userID, tenantID string, ttl time.Duration, amr []string, acr string, now time.Time) error {
	return s.ring.Do(ctx, sessionID, func() error {
		return s.data.Mutate(sessionID, func(_ Session, ok bool) (Session, bool, error) {
			if ok {
				return Session{}, false, ErrAlreadyExists
			}
			return Session{
				SessionID: sessionID,
				UserID:    userID,
				TenantID:  tenantID,
				CreatedAt: now,
				ExpiresAt: now.Add(ttl),
				AMR:       amr,
				ACR:       acr,
			}, false, nil
		})
	})
}

// GetSession returns the session if it exists and is not revoked or
// expired as of now. A revoked session is never observable as active.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string, now time.Time) (Session, error) {
	sess, ok := s.data.Get(sessionID)
	if !ok || sess.Revoked {
		return Session{}, ErrNotFound
	}
	if now.After(sess.ExpiresAt) {
		return Session{}, ErrExpired
	}
	return sess, nil
}

// TouchSession extends expiry to now+idleTTL, capped by the session's
// absolute lifetime (createdAt+absoluteTTL), so session lifetime
// is min(absolute_ttl, idle_ttl from last touch).
func (s *SessionStore) TouchSession(ctx context.Context, sessionID string, idleTTL, absoluteTTL time.Duration, now time.Time) error {
	return s.ring.Do(ctx, sessionID, func() error {
		return s.data.Mutate(sessionID, func(sess Session, ok bool) (Session, bool, error) {
			if !ok || sess.Revoked {
				return Session{}, false, ErrNotFound
			}
			absoluteExpiry := sess.CreatedAt.Add(absoluteTTL)
			newExpiry := now.Add(idleTTL)
			if newExpiry.After(absoluteExpiry) {
				newExpiry = absoluteExpiry
			}
			sess.ExpiresAt = newExpiry
			return sess, false, nil
		})
	})
}

// RevokeSession marks a session revoked. Idempotent.
func (s *SessionStore) RevokeSession(ctx context.Context, sessionID string) error {
	return s.ring.Do(ctx, sessionID, func() error {
		return s.data.Mutate(sessionID, func(sess Session, ok bool) (Session, bool, error) {
			if !ok {
				return Session{}, false, ErrNotFound
			}
			sess.Revoked = true
			return sess, false, nil
		})
	})
}

// GarbageCollect removes sessions expired as of now, returning the count
// removed.
func (s *SessionStore) GarbageCollect(ctx context.Context, now time.Time) (int, error) {
	n := s.data.DeleteWhere(func(_ string, sess Session) bool {
		return now.After(sess.ExpiresAt)
	})
	if n > 0 && s.logger != nil {
		s.logger.Debugf("session gc removed %d expired sessions", n)
	}
	return n, nil
}
