package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceCodeStoreLifecycle(t *testing.T) {
	s := NewDeviceCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	rec := DeviceCode{DeviceCode: "dc-1", UserCode: "ABCD-EFGH", ClientID: "client-a"}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	looked, err := s.LookupByUserCode("ABCD-EFGH")
	require.NoError(t, err)
	assert.Equal(t, "dc-1", looked.DeviceCode)

	// Before approval, polling reports authorization_pending.
	_, err = s.Poll(context.Background(), "dc-1", 0, now)
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	require.NoError(t, s.Approve(context.Background(), "dc-1", "user-1", "sub-1", now))

	got, err := s.Poll(context.Background(), "dc-1", 0, now)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	// Consumed exactly once.
	_, err = s.Poll(context.Background(), "dc-1", 0, now)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestDeviceCodeStoreSlowDownDoesNotWidenInterval(t *testing.T) {
	// A slow_down response does not itself change the interval the client
	// must honor on its next attempt.
	s := NewDeviceCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	rec := DeviceCode{DeviceCode: "dc-2", UserCode: "WXYZ-1234", ClientID: "client-a"}
	minInterval := 5 * time.Second
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	// The interval clock starts at issuance: a first poll only 2s in is
	// already too fast.
	_, err := s.Poll(context.Background(), "dc-2", minInterval, now.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrSlowDown)

	// The interval required to clear slow_down is still minInterval, not
	// wider — polling 6s after the rejected poll reports
	// authorization_pending, not slow_down again.
	_, err = s.Poll(context.Background(), "dc-2", minInterval, now.Add(8*time.Second))
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	// And polling again before the interval elapses: slow_down.
	_, err = s.Poll(context.Background(), "dc-2", minInterval, now.Add(9*time.Second))
	assert.ErrorIs(t, err, ErrSlowDown)
}

func TestDeviceCodeStoreDeniedAndExpired(t *testing.T) {
	s := NewDeviceCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.Store(context.Background(), DeviceCode{DeviceCode: "dc-3", UserCode: "uc-3"}, time.Minute, now))
	require.NoError(t, s.Deny(context.Background(), "dc-3", now))
	_, err := s.Poll(context.Background(), "dc-3", 0, now)
	assert.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, s.Store(context.Background(), DeviceCode{DeviceCode: "dc-4", UserCode: "uc-4"}, time.Second, now))
	_, err = s.Poll(context.Background(), "dc-4", 0, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestDeviceCodeStoreGarbageCollect(t *testing.T) {
	s := NewDeviceCodeStore(4, nil)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.Store(context.Background(), DeviceCode{DeviceCode: "live", UserCode: "u1"}, time.Hour, now))
	require.NoError(t, s.Store(context.Background(), DeviceCode{DeviceCode: "dead", UserCode: "u2"}, time.Second, now))

	removed := s.GarbageCollect(now.Add(time.Minute))
	assert.Equal(t, 1, removed)
}
