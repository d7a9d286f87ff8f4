package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestDPoPJTIStoreSeenRejectsReplay(t *testing.T) {
	client, _ := newTestRedis(t)
	s := NewDPoPJTIStore(client, "authd:dpop:")
	ctx := context.Background()

	require.NoError(t, s.Seen(ctx, "jti-1", time.Minute))

	err := s.Seen(ctx, "jti-1", time.Minute)
	require.ErrorIs(t, err, ErrAlreadySeen)
}

func TestDPoPJTIStoreSeenDistinctJTIs(t *testing.T) {
	client, _ := newTestRedis(t)
	s := NewDPoPJTIStore(client, "authd:dpop:")
	ctx := context.Background()

	require.NoError(t, s.Seen(ctx, "jti-1", time.Minute))
	require.NoError(t, s.Seen(ctx, "jti-2", time.Minute))
}

func TestDPoPJTIStoreSeenExpires(t *testing.T) {
	client, mr := newTestRedis(t)
	s := NewDPoPJTIStore(client, "authd:dpop:")
	ctx := context.Background()

	require.NoError(t, s.Seen(ctx, "jti-1", time.Second))
	mr.FastForward(2 * time.Second)

	require.NoError(t, s.Seen(ctx, "jti-1", time.Second))
}
