package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-id/authd/internal/store"
	"github.com/nullstack-id/authd/internal/tenant"
)

func TestRevokeAccessTokenIdempotent(t *testing.T) {
	keys, rotator, revocation, auth := newTestFixture(t)
	svc := NewRevocationService(auth, revocation, rotator)
	now := time.Now()

	at := mintTestAccessToken(t, keys, time.Hour, now)

	require.NoError(t, svc.Revoke(context.Background(), "admin-rp", testClientSecret, at.JWT, now))
	assert.True(t, revocation.IsAccessTokenRevoked(at.JTI))

	// revoke(T); revoke(T) == revoke(T)
	require.NoError(t, svc.Revoke(context.Background(), "admin-rp", testClientSecret, at.JWT, now))
	assert.True(t, revocation.IsAccessTokenRevoked(at.JTI))
}

func TestRevokeRefreshTokenRevokesFamily(t *testing.T) {
	_, rotator, revocation, auth := newTestFixture(t)
	svc := NewRevocationService(auth, revocation, rotator)
	now := time.Now()

	handle, familyID, err := rotator.Mint(context.Background(), store.MintParams{
		ClientID: "admin-rp",
		UserID:   "user-1",
		TenantID: "acme",
		Scope:    []string{"openid"},
		TTL:      time.Hour,
	}, now)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), "admin-rp", testClientSecret, handle, now))
	assert.True(t, rotator.IsFamilyRevoked(familyID))

	_, err = rotator.Exchange(context.Background(), handle, "admin-rp", store.ExchangeParams{}, time.Hour, now)
	require.Error(t, err)
}

func TestRevokeCrossClientAccessTokenIsNoOp(t *testing.T) {
	keys, rotator, revocation, auth := newTestFixture(t)
	svc := NewRevocationService(auth, revocation, rotator)
	now := time.Now()

	at := mintTestAccessToken(t, keys, time.Hour, now)

	// RFC 7009 §2.1: a token issued to another client is not revoked, and
	// the response doesn't leak that it exists.
	require.NoError(t, svc.Revoke(context.Background(), "other-rp", testClientSecret, at.JWT, now))
	assert.False(t, revocation.IsAccessTokenRevoked(at.JTI))
}

func TestRevokeCrossClientRefreshTokenIsNoOp(t *testing.T) {
	_, rotator, revocation, auth := newTestFixture(t)
	svc := NewRevocationService(auth, revocation, rotator)
	now := time.Now()

	handle, familyID, err := rotator.Mint(context.Background(), store.MintParams{
		ClientID: "admin-rp",
		UserID:   "user-1",
		TenantID: "acme",
		Scope:    []string{"openid"},
		TTL:      time.Hour,
	}, now)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), "other-rp", testClientSecret, handle, now))
	assert.False(t, rotator.IsFamilyRevoked(familyID))

	// The rightful owner's handle still rotates normally.
	_, err = rotator.Exchange(context.Background(), handle, "admin-rp", store.ExchangeParams{}, time.Hour, now)
	require.NoError(t, err)
}

func TestRevokeUnknownTokenSucceeds(t *testing.T) {
	_, rotator, revocation, auth := newTestFixture(t)
	svc := NewRevocationService(auth, revocation, rotator)

	// RFC 7009 §2.2: unknown or malformed tokens still revoke successfully.
	assert.NoError(t, svc.Revoke(context.Background(), "admin-rp", testClientSecret, "unknown-opaque-handle", time.Now()))
	assert.NoError(t, svc.Revoke(context.Background(), "admin-rp", testClientSecret, "also.not.valid", time.Now()))
}

func TestRevokeRequiresClientAuth(t *testing.T) {
	_, rotator, revocation, auth := newTestFixture(t)
	svc := NewRevocationService(auth, revocation, rotator)

	err := svc.Revoke(context.Background(), "admin-rp", "wrong-secret", "whatever", time.Now())
	assert.ErrorIs(t, err, tenant.ErrInvalidClientSecret)
}
