package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCIBARequestStorePollLifecycle(t *testing.T) {
	s := NewCIBARequestStore(4, nil)
	defer s.Close()
	now := time.Now()

	rec := CIBARequest{AuthReqID: "req-1", ClientID: "client-a", Interval: 5 * time.Second}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	// The interval clock starts at issuance; polling immediately is too fast.
	_, err := s.Poll(context.Background(), "req-1", now)
	assert.ErrorIs(t, err, ErrSlowDown)

	_, err = s.Poll(context.Background(), "req-1", now.Add(rec.Interval))
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	require.NoError(t, s.Approve(context.Background(), "req-1", "user-1", "sub-1", now))

	got, err := s.Poll(context.Background(), "req-1", now.Add(2*rec.Interval))
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	_, err = s.Poll(context.Background(), "req-1", now.Add(3*rec.Interval))
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestCIBARequestStoreDeny(t *testing.T) {
	s := NewCIBARequestStore(4, nil)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.Store(context.Background(), CIBARequest{AuthReqID: "req-2"}, time.Minute, now))
	require.NoError(t, s.Deny(context.Background(), "req-2"))

	_, err := s.Poll(context.Background(), "req-2", now)
	assert.ErrorIs(t, err, ErrAccessDenied)
}
