package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshTokenRotatorMintAndExchange(t *testing.T) {
	r := NewRefreshTokenRotator(4, nil)
	defer r.Close()
	now := time.Now()

	handle, familyID, err := r.Mint(context.Background(), MintParams{
		ClientID: "client-a", UserID: "user-1", Scope: []string{"openid", "offline_access"}, TTL: time.Hour,
	}, now)
	require.NoError(t, err)
	assert.NotEmpty(t, familyID)

	res, err := r.Exchange(context.Background(), handle, "client-a", ExchangeParams{}, time.Hour, now.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, handle, res.NewHandle)
	assert.Equal(t, familyID, res.Claims.FamilyID)
}

func TestRefreshTokenRotatorReuseDetectionRevokesFamily(t *testing.T) {
	// Presenting a superseded handle revokes the whole family, including
	// the handle that legitimately superseded it.
	r := NewRefreshTokenRotator(4, nil)
	defer r.Close()
	now := time.Now()

	handle1, familyID, err := r.Mint(context.Background(), MintParams{
		ClientID: "client-a", UserID: "user-1", Scope: []string{"openid"}, TTL: time.Hour,
	}, now)
	require.NoError(t, err)

	res, err := r.Exchange(context.Background(), handle1, "client-a", ExchangeParams{}, time.Hour, now)
	require.NoError(t, err)
	handle2 := res.NewHandle

	// Attacker (or a retry race) replays the already-superseded handle1.
	_, err = r.Exchange(context.Background(), handle1, "client-a", ExchangeParams{}, time.Hour, now)
	assert.ErrorIs(t, err, ErrReuseDetected)

	// The legitimate successor is now also unusable.
	_, err = r.Exchange(context.Background(), handle2, "client-a", ExchangeParams{}, time.Hour, now)
	assert.ErrorIs(t, err, ErrReuseDetected)

	assert.True(t, r.IsFamilyRevoked(familyID))
}

func TestRefreshTokenRotatorScopeNarrowingAllowedExpansionRejected(t *testing.T) {
	r := NewRefreshTokenRotator(4, nil)
	defer r.Close()
	now := time.Now()

	handle, _, err := r.Mint(context.Background(), MintParams{
		ClientID: "client-a", Scope: []string{"openid", "profile", "email"}, TTL: time.Hour,
	}, now)
	require.NoError(t, err)

	res, err := r.Exchange(context.Background(), handle, "client-a", ExchangeParams{
		RequestedScope: []string{"openid", "profile"},
	}, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile"}, res.Claims.Scope)

	_, err = r.Exchange(context.Background(), res.NewHandle, "client-a", ExchangeParams{
		RequestedScope: []string{"openid", "profile", "admin"},
	}, time.Hour, now)
	assert.ErrorIs(t, err, ErrScopeExpansion)
}

func TestRefreshTokenRotatorExchangeRejectsClientMismatchAndExpired(t *testing.T) {
	r := NewRefreshTokenRotator(4, nil)
	defer r.Close()
	now := time.Now()

	handle, _, err := r.Mint(context.Background(), MintParams{ClientID: "client-a", TTL: time.Second}, now)
	require.NoError(t, err)

	_, err = r.Exchange(context.Background(), handle, "client-b", ExchangeParams{}, time.Hour, now)
	assert.ErrorIs(t, err, ErrClientMismatch)

	_, err = r.Exchange(context.Background(), handle, "client-a", ExchangeParams{}, time.Hour, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRefreshTokenRotatorDPoPBindingInherited(t *testing.T) {
	r := NewRefreshTokenRotator(4, nil)
	defer r.Close()
	now := time.Now()

	handle, _, err := r.Mint(context.Background(), MintParams{
		ClientID: "client-a", DPoPJKT: "thumb-1", TTL: time.Hour,
	}, now)
	require.NoError(t, err)

	_, err = r.Exchange(context.Background(), handle, "client-a", ExchangeParams{PresentedDPoPJKT: "thumb-2"}, time.Hour, now)
	assert.ErrorIs(t, err, ErrDPoPMismatch)

	res, err := r.Exchange(context.Background(), handle, "client-a", ExchangeParams{PresentedDPoPJKT: "thumb-1"}, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, "thumb-1", res.Claims.DPoPJKT)
}

func TestRefreshTokenRotatorRevokeFamilyDirectly(t *testing.T) {
	r := NewRefreshTokenRotator(4, nil)
	defer r.Close()
	now := time.Now()

	handle, familyID, err := r.Mint(context.Background(), MintParams{ClientID: "client-a", TTL: time.Hour}, now)
	require.NoError(t, err)

	require.NoError(t, r.RevokeFamily(context.Background(), familyID, now))
	_, err = r.Exchange(context.Background(), handle, "client-a", ExchangeParams{}, time.Hour, now)
	assert.ErrorIs(t, err, ErrReuseDetected)
}
