package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPARRequestStoreConsumeOnce(t *testing.T) {
	s := NewPARRequestStore(4, nil)
	defer s.Close()
	now := time.Now()

	rec := PARRequest{RequestURI: "urn:par:abc", ClientID: "client-a", Parameters: map[string]any{"scope": "openid"}}
	require.NoError(t, s.Store(context.Background(), rec, time.Minute, now))

	got, err := s.Consume(context.Background(), "urn:par:abc", "client-a", now)
	require.NoError(t, err)
	assert.Equal(t, "openid", got.Parameters["scope"])

	_, err = s.Consume(context.Background(), "urn:par:abc", "client-a", now)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestPARRequestStoreConsumeRejectsClientMismatchAndExpiry(t *testing.T) {
	s := NewPARRequestStore(4, nil)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.Store(context.Background(), PARRequest{RequestURI: "urn:par:1", ClientID: "client-a"}, time.Minute, now))
	_, err := s.Consume(context.Background(), "urn:par:1", "client-b", now)
	assert.ErrorIs(t, err, ErrClientMismatch)

	require.NoError(t, s.Store(context.Background(), PARRequest{RequestURI: "urn:par:2", ClientID: "client-a"}, time.Second, now))
	_, err = s.Consume(context.Background(), "urn:par:2", "client-a", now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrExpired)
}
