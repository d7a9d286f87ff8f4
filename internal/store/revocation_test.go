package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRevocationStoreAccessTokenIdempotent(t *testing.T) {
	rotator := NewRefreshTokenRotator(2, nil)
	defer rotator.Close()
	s := NewTokenRevocationStore(4, rotator, nil)
	defer s.Close()
	now := time.Now()

	assert.False(t, s.IsAccessTokenRevoked("jti-1"))
	require.NoError(t, s.RevokeAccessToken(context.Background(), "jti-1", now.Add(time.Hour), now))
	assert.True(t, s.IsAccessTokenRevoked("jti-1"))

	// RFC 7009: revoking again is a no-op, not an error.
	require.NoError(t, s.RevokeAccessToken(context.Background(), "jti-1", now.Add(time.Hour), now))
	assert.True(t, s.IsAccessTokenRevoked("jti-1"))
}

func TestTokenRevocationStoreRevokesRefreshFamily(t *testing.T) {
	rotator := NewRefreshTokenRotator(2, nil)
	defer rotator.Close()
	s := NewTokenRevocationStore(4, rotator, nil)
	defer s.Close()
	now := time.Now()

	handle, familyID, err := rotator.Mint(context.Background(), MintParams{ClientID: "client-a", TTL: time.Hour}, now)
	require.NoError(t, err)

	require.NoError(t, s.RevokeRefreshFamily(context.Background(), familyID, now))

	_, err = rotator.Exchange(context.Background(), handle, "client-a", ExchangeParams{}, time.Hour, now)
	assert.ErrorIs(t, err, ErrReuseDetected)
}

func TestTokenRevocationStoreGarbageCollect(t *testing.T) {
	rotator := NewRefreshTokenRotator(2, nil)
	defer rotator.Close()
	s := NewTokenRevocationStore(4, rotator, nil)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.RevokeAccessToken(context.Background(), "expiring", now.Add(time.Second), now))
	removed := s.GarbageCollect(now.Add(time.Minute))
	assert.Equal(t, 1, removed)
	assert.False(t, s.IsAccessTokenRevoked("expiring"))
}
