package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nullstack-id/authd/internal/oidccrypto"
	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultRefreshTokenShards matches the flow-state shard count (32),
// since a refresh family is exercised about as often as a flow.
const DefaultRefreshTokenShards = 32

// MintParams describes a new refresh token handle to create, either the
// first of a new family (FamilyID == "") or a rotation successor
// (FamilyID and PriorHandle set).
type MintParams struct {
	FamilyID    string
	PriorHandle string
	ClientID    string
	UserID      string
	TenantID    string
	Scope       []string
	ACR         string
	AMR         []string
	DPoPJKT     string
	Nonce       string
	TTL         time.Duration
}

// RefreshTokenRotator rotates refresh token families: a family
// is a linked list of handles; rotation moves the tip forward; presenting
// any non-tip handle revokes the whole family. Generalizes dexidp/dex's
// single-slot RefreshToken/ObsoleteToken pair (storage/storage.go) into an
// explicit chain, and carries dex's RefreshTokenPolicy lifetime knobs
// (server/rotation.go) as TTL parameters supplied by the caller.
type RefreshTokenRotator struct {
	ring     *shard.Ring
	handles  *shard.Buckets[RefreshToken]
	families *shard.Buckets[[]string]
	logger   log.Logger
}

// NewRefreshTokenRotator starts a rotator sharded by family_id.
func NewRefreshTokenRotator(shardCount int, logger log.Logger) *RefreshTokenRotator {
	return &RefreshTokenRotator{
		ring:     shard.New(shardCount, 128),
		handles:  shard.NewBuckets[RefreshToken](shardCount),
		families: shard.NewBuckets[[]string](shardCount),
		logger:   logger,
	}
}

// Close releases the shard workers.
func (r *RefreshTokenRotator) Close() { r.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (r *RefreshTokenRotator) QueueDepths() []int { return r.ring.QueueDepths() }

// Mint creates a new handle: the head of a new family when p.FamilyID is
// empty, or a rotation successor when p.FamilyID and p.PriorHandle are set.
func (r *RefreshTokenRotator) Mint(ctx context.Context, p MintParams, now time.Time) (handle string, familyID string, err error) {
	familyID = p.FamilyID
	if familyID == "" {
		familyID = uuid.NewString()
	}
	handle = oidccrypto.NewOpaqueToken(32)

	err = r.ring.Do(ctx, familyID, func() error {
		rec := RefreshToken{
			Handle:         handle,
			FamilyID:       familyID,
			ClientID:       p.ClientID,
			UserID:         p.UserID,
			TenantID:       p.TenantID,
			Scope:          p.Scope,
			ACR:            p.ACR,
			AMR:            p.AMR,
			DPoPJKT:        p.DPoPJKT,
			Nonce:          p.Nonce,
			IssuedAt:       now,
			ExpiresAt:      now.Add(p.TTL),
			PreviousHandle: p.PriorHandle,
		}
		if err := r.handles.Mutate(handle, func(_ RefreshToken, ok bool) (RefreshToken, bool, error) {
			if ok {
				return RefreshToken{}, false, ErrAlreadyExists
			}
			return rec, false, nil
		}); err != nil {
			return err
		}
		return r.appendToFamily(familyID, handle)
	})
	if err != nil {
		return "", "", err
	}
	return handle, familyID, nil
}

func (r *RefreshTokenRotator) appendToFamily(familyID, handle string) error {
	return r.families.Mutate(familyID, func(list []string, _ bool) ([]string, bool, error) {
		return append(list, handle), false, nil
	})
}

// ExchangeResult is what a successful rotation returns: the freshly minted
// successor plus the claims carried over from the grant.
type ExchangeResult struct {
	NewHandle string
	Claims    RefreshToken
}

// ExchangeParams narrows Exchange's behavior for the caller's request:
// RequestedScope, when non-nil, must be a subset of the grant's current
// scope and becomes the successor's
// scope; PresentedDPoPJKT, when the grant is DPoP-bound, must match the
// thumbprint recorded at issuance.
type ExchangeParams struct {
	RequestedScope   []string
	PresentedDPoPJKT string
}

// Exchange validates handle for clientID and, if it is the family's live
// tip, atomically mints a successor and supersedes handle — mint-successor,
// persist-supersession, invalidate-predecessor executed as one unit on the
// family's shard. If handle is not the tip (already superseded),
// the entire family is revoked and ErrReuseDetected is returned.
func (r *RefreshTokenRotator) Exchange(ctx context.Context, handle, clientID string, params ExchangeParams, ttl time.Duration, now time.Time) (ExchangeResult, error) {
	rec, ok := r.handles.Get(handle)
	if !ok {
		return ExchangeResult{}, ErrNotFound
	}
	familyID := rec.FamilyID

	var result ExchangeResult
	err := r.ring.Do(ctx, familyID, func() error {
		rec, ok := r.handles.Get(handle)
		if !ok {
			return ErrNotFound
		}
		if rec.ClientID != clientID {
			return ErrClientMismatch
		}
		if rec.IsRevoked() {
			return ErrReuseDetected
		}
		if now.After(rec.ExpiresAt) {
			return ErrExpired
		}
		if rec.SupersededBy != "" {
			// Non-tip handle presented: reuse detected, revoke whole family.
			r.revokeFamilyLocked(familyID, now)
			return ErrReuseDetected
		}
		if rec.DPoPJKT != "" && rec.DPoPJKT != params.PresentedDPoPJKT {
			return ErrDPoPMismatch
		}

		scope := rec.Scope
		if params.RequestedScope != nil {
			if !scopeSubset(params.RequestedScope, rec.Scope) {
				return ErrScopeExpansion
			}
			scope = params.RequestedScope
		}

		newHandle := oidccrypto.NewOpaqueToken(32)
		newRec := RefreshToken{
			Handle:         newHandle,
			FamilyID:       familyID,
			ClientID:       rec.ClientID,
			UserID:         rec.UserID,
			TenantID:       rec.TenantID,
			Scope:          scope,
			ACR:            rec.ACR,
			AMR:            rec.AMR,
			DPoPJKT:        rec.DPoPJKT,
			Nonce:          rec.Nonce,
			IssuedAt:       now,
			ExpiresAt:      now.Add(ttl),
			PreviousHandle: handle,
		}

		if err := r.handles.Mutate(newHandle, func(_ RefreshToken, ok bool) (RefreshToken, bool, error) {
			if ok {
				return RefreshToken{}, false, ErrAlreadyExists
			}
			return newRec, false, nil
		}); err != nil {
			return err
		}
		if err := r.handles.Mutate(handle, func(old RefreshToken, _ bool) (RefreshToken, bool, error) {
			old.SupersededBy = newHandle
			return old, false, nil
		}); err != nil {
			return err
		}
		if err := r.appendToFamily(familyID, newHandle); err != nil {
			return err
		}

		result = ExchangeResult{NewHandle: newHandle, Claims: newRec}
		return nil
	})
	if err != nil {
		return ExchangeResult{}, err
	}
	return result, nil
}

// Peek returns a handle's current record without consuming or rotating it,
// for read-only callers like introspection.
func (r *RefreshTokenRotator) Peek(handle string) (RefreshToken, error) {
	rec, ok := r.handles.Get(handle)
	if !ok {
		return RefreshToken{}, ErrNotFound
	}
	return rec, nil
}

// RevokeFamily revokes every handle ever issued in familyID, running on the
// family's shard; TokenRevocationStore calls it from outside. The reuse path
// in Exchange is already on that shard and calls revokeFamilyLocked directly.
func (r *RefreshTokenRotator) RevokeFamily(ctx context.Context, familyID string, now time.Time) error {
	return r.ring.Do(ctx, familyID, func() error {
		r.revokeFamilyLocked(familyID, now)
		return nil
	})
}

func (r *RefreshTokenRotator) revokeFamilyLocked(familyID string, now time.Time) {
	list, _ := r.families.Get(familyID)
	for _, h := range list {
		_ = r.handles.Mutate(h, func(old RefreshToken, ok bool) (RefreshToken, bool, error) {
			if !ok {
				return RefreshToken{}, true, nil
			}
			if old.RevokedAt.IsZero() {
				old.RevokedAt = now
			}
			return old, false, nil
		})
	}
}

// IsFamilyRevoked reports whether any handle in the family carries a
// non-zero RevokedAt, i.e. the family is no longer usable.
func (r *RefreshTokenRotator) IsFamilyRevoked(familyID string) bool {
	list, _ := r.families.Get(familyID)
	for _, h := range list {
		if rec, ok := r.handles.Get(h); ok && rec.IsRevoked() {
			return true
		}
	}
	return false
}

// GarbageCollect removes handles expired (and therefore unreachable) as of
// now. Family index entries referencing removed handles are left dangling;
// RevokeFamily and reuse-detection tolerate missing handles as no-ops.
func (r *RefreshTokenRotator) GarbageCollect(now time.Time) int {
	return r.handles.DeleteWhere(func(_ string, rec RefreshToken) bool {
		return now.After(rec.ExpiresAt)
	})
}

// scopeSubset reports whether every entry of requested also appears in
// granted: narrowing is allowed, expansion is invalid_scope.
func scopeSubset(requested, granted []string) bool {
	allowed := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		allowed[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}
