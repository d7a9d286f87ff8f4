package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/oidccrypto"
	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultCodeShards is the default shard count for AuthorizationCodeStore.
const DefaultCodeShards = 64

// AuthorizationCodeStore holds single-use authorization codes, sharded by
// code. Grounded on dexidp/dex storage/memory.go's authCodes map plus the
// PKCE verification dex performs in server/handlers.go's
// calculateCodeChallenge, folded into one atomic Consume call.
type AuthorizationCodeStore struct {
	ring   *shard.Ring
	data   *shard.Buckets[AuthorizationCode]
	logger log.Logger
}

// NewAuthorizationCodeStore starts a sharded authorization code store.
func NewAuthorizationCodeStore(shardCount int, logger log.Logger) *AuthorizationCodeStore {
	return &AuthorizationCodeStore{
		ring:   shard.New(shardCount, 128),
		data:   shard.NewBuckets[AuthorizationCode](shardCount),
		logger: logger,
	}
}

// Close releases the shard workers.
func (s *AuthorizationCodeStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *AuthorizationCodeStore) QueueDepths() []int { return s.ring.QueueDepths() }

// Store persists a freshly minted code with the given ttl.
func (s *AuthorizationCodeStore) Store(ctx context.Context, rec AuthorizationCode, ttl time.Duration, now time.Time) error {
	rec.IssuedAt = now
	rec.ExpiresAt = now.Add(ttl)
	return s.ring.Do(ctx, rec.Code, func() error {
		return s.data.Mutate(rec.Code, func(_ AuthorizationCode, ok bool) (AuthorizationCode, bool, error) {
			if ok {
				return AuthorizationCode{}, false, ErrAlreadyExists
			}
			return rec, false, nil
		})
	})
}

// Consume atomically validates and marks a code consumed. It fails if the
// code is absent, expired, already consumed, bound to a different client or
// redirect_uri, fails PKCE verification, or (when DPoP-bound) presents a
// mismatched proof thumbprint — every check the consume contract names,
// performed inside the owning shard's single writer so two concurrent
// exchanges of the same code can never both succeed.
func (s *AuthorizationCodeStore) Consume(ctx context.Context, code, clientID, redirectURI, codeVerifier, dpopJKT string, now time.Time) (AuthorizationCode, error) {
	var result AuthorizationCode
	err := s.ring.Do(ctx, code, func() error {
		return s.data.Mutate(code, func(rec AuthorizationCode, ok bool) (AuthorizationCode, bool, error) {
			if !ok {
				return AuthorizationCode{}, false, ErrNotFound
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
			if rec.RedirectURI != redirectURI {
				return rec, false, ErrRedirectMismatch
			}
			if !oidccrypto.VerifyPKCE(rec.PKCE.CodeChallengeMethod, rec.PKCE.CodeChallenge, codeVerifier) {
				return rec, false, ErrPKCEMismatch
			}
			if rec.DPoPJKT != "" && rec.DPoPJKT != dpopJKT {
				return rec, false, ErrDPoPMismatch
			}
			rec.Consumed = true
			result = rec
			return rec, false, nil
		})
	})
	if err != nil {
		return AuthorizationCode{}, err
	}
	return result, nil
}

// SetIssuedFamily stashes the refresh token family minted for code the
// first time it was exchanged, so a later double-spend attempt can
// revoke every token derived from it.
func (s *AuthorizationCodeStore) SetIssuedFamily(ctx context.Context, code, familyID string) error {
	return s.ring.Do(ctx, code, func() error {
		return s.data.Mutate(code, func(rec AuthorizationCode, ok bool) (AuthorizationCode, bool, error) {
			if !ok {
				return AuthorizationCode{}, false, ErrNotFound
			}
			rec.IssuedFamilyID = familyID
			return rec, false, nil
		})
	})
}

// Peek returns a code's record without consuming it, for reuse handling
// after Consume reports ErrAlreadyConsumed.
func (s *AuthorizationCodeStore) Peek(code string) (AuthorizationCode, bool) {
	return s.data.Get(code)
}

// GarbageCollect removes codes expired as of now.
func (s *AuthorizationCodeStore) GarbageCollect(ctx context.Context, now time.Time) int {
	return s.data.DeleteWhere(func(_ string, rec AuthorizationCode) bool {
		return now.After(rec.ExpiresAt)
	})
}
