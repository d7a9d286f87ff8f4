package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterIncrementWithinWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	r := NewRateLimiter(client, "authd:ratelimit:", true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := r.Increment(ctx, "ip:1.2.3.4", 60, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := r.Increment(ctx, "ip:1.2.3.4", 60, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 4, res.Current)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestRateLimiterResetsOnNewWindow(t *testing.T) {
	client, mr := newTestRedis(t)
	r := NewRateLimiter(client, "authd:ratelimit:", true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Increment(ctx, "ip:5.6.7.8", 1, 3)
		require.NoError(t, err)
	}
	mr.FastForward(2 * time.Second)

	res, err := r.Increment(ctx, "ip:5.6.7.8", 1, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Current)
}

func TestRateLimiterReset(t *testing.T) {
	client, _ := newTestRedis(t)
	r := NewRateLimiter(client, "authd:ratelimit:", true)
	ctx := context.Background()

	_, err := r.Increment(ctx, "ip:9.9.9.9", 60, 1)
	require.NoError(t, err)

	require.NoError(t, r.Reset(ctx, "ip:9.9.9.9"))

	res, err := r.Increment(ctx, "ip:9.9.9.9", 60, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Current)
	assert.True(t, res.Allowed)
}

func TestRateLimiterFailOpenOnClosedClient(t *testing.T) {
	client, mr := newTestRedis(t)
	mr.Close()
	r := NewRateLimiter(client, "authd:ratelimit:", true)

	res, err := r.Increment(context.Background(), "ip:0.0.0.0", 60, 5)
	require.Error(t, err)
	assert.True(t, res.Allowed)
}
