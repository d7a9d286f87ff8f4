package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterCounterFixedWindow(t *testing.T) {
	r := NewRateLimiterCounter(4, true, nil)
	defer r.Close()
	now := time.Now()

	for i := 0; i < 3; i++ {
		res, err := r.Increment(context.Background(), "ip:1.2.3.4", 60, 3, now)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := r.Increment(context.Background(), "ip:1.2.3.4", 60, 3, now)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 4, res.Current)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestRateLimiterCounterResetsOnNewWindow(t *testing.T) {
	r := NewRateLimiterCounter(4, true, nil)
	defer r.Close()
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, err := r.Increment(context.Background(), "ip:5.6.7.8", 60, 3, now)
		require.NoError(t, err)
	}
	res, err := r.Increment(context.Background(), "ip:5.6.7.8", 60, 3, now)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// A full window later the counter starts over.
	res, err = r.Increment(context.Background(), "ip:5.6.7.8", 60, 3, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Current)
}
