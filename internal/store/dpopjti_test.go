package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDPoPJTIStoreRejectsReplay(t *testing.T) {
	s := NewDPoPJTIStore(4, nil)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.Seen(context.Background(), "jti-1", "POST", "https://as.example/token", time.Minute, now))
	err := s.Seen(context.Background(), "jti-1", "POST", "https://as.example/token", time.Minute, now)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDPoPJTIStoreAllowsReuseAfterExpiry(t *testing.T) {
	s := NewDPoPJTIStore(4, nil)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.Seen(context.Background(), "jti-2", "POST", "u", time.Second, now))
	err := s.Seen(context.Background(), "jti-2", "POST", "u", time.Second, now.Add(time.Minute))
	assert.NoError(t, err, "a jti outside its validity window is no longer a replay barrier")
}
