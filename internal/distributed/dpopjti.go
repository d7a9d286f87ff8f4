package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DPoPJTIStore replays-guards DPoP proof JTIs across processes using
// Redis SETNX, so a proof captured by one authd instance can't be replayed
// against another. Follows store.DPoPJTIStore.Seen's replay rule (the first
// caller within ttl wins, every later one is rejected), keyed by jti alone
// and reporting a replay as ErrAlreadySeen.
type DPoPJTIStore struct {
	client *redis.Client
	prefix string
}

// NewDPoPJTIStore builds a Redis-backed DPoP JTI replay barrier.
func NewDPoPJTIStore(client *redis.Client, prefix string) *DPoPJTIStore {
	return &DPoPJTIStore{client: client, prefix: prefix}
}

// ErrAlreadySeen is returned when jti has already been recorded within its
// validity window.
var ErrAlreadySeen = fmt.Errorf("distributed: dpop jti already seen")

// Seen atomically records jti as used for ttl, returning ErrAlreadySeen on
// replay. SETNX is atomic at the Redis layer, so this holds even with
// concurrent callers across every process sharing the client.
func (s *DPoPJTIStore) Seen(ctx context.Context, jti string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+jti, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("distributed: dpop jti setnx: %w", err)
	}
	if !ok {
		return ErrAlreadySeen
	}
	return nil
}
