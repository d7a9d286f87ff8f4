package store

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultFlowShards is the default shard count for FlowStateStore.
const DefaultFlowShards = 32

// MaxFlowTTL caps how long a flow_id may stay valid, regardless of what
// the caller passes.
const MaxFlowTTL = 10 * time.Minute

// FlowStateStore carries a multi-step /authorize flow (login -> MFA ->
// consent) across requests, keyed by a server-minted flow_id. Grounded on
// dexidp/dex's storage.AuthRequest — a short-lived record threaded through
// the connector callback — generalized into an explicit state
// machine (Received, Validated, PAR-Consumed, Authenticated, MFA-Required,
// Consent-Required, Complete, Error).
type FlowStateStore struct {
	ring   *shard.Ring
	data   *shard.Buckets[FlowState]
	logger log.Logger
}

// NewFlowStateStore starts a sharded flow state store.
func NewFlowStateStore(shardCount int, logger log.Logger) *FlowStateStore {
	return &FlowStateStore{
		ring:   shard.New(shardCount, 64),
		data:   shard.NewBuckets[FlowState](shardCount),
		logger: logger,
	}
}

// Close releases the shard workers.
func (s *FlowStateStore) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's
// shard mailboxes, feeding the queue-depth gauge in
// internal/metrics.
func (s *FlowStateStore) QueueDepths() []int { return s.ring.QueueDepths() }

func clampFlowTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxFlowTTL {
		return MaxFlowTTL
	}
	return ttl
}

// Create starts a new flow in the Received state.
func (s *FlowStateStore) Create(ctx context.Context, rec FlowState, ttl time.Duration, now time.Time) error {
	rec.ExpiresAt = now.Add(clampFlowTTL(ttl))
	if rec.State == "" {
		rec.State = "Received"
	}
	return s.ring.Do(ctx, rec.FlowID, func() error {
		return s.data.Mutate(rec.FlowID, func(_ FlowState, ok bool) (FlowState, bool, error) {
			if ok {
				return FlowState{}, false, ErrAlreadyExists
			}
			return rec, false, nil
		})
	})
}

// Get returns the current flow state if present and unexpired.
func (s *FlowStateStore) Get(flowID string, now time.Time) (FlowState, error) {
	rec, ok := s.data.Get(flowID)
	if !ok {
		return FlowState{}, ErrNotFound
	}
	if now.After(rec.ExpiresAt) {
		return FlowState{}, ErrExpired
	}
	return rec, nil
}

// Transition applies fn to the flow's current state inside the owning
// shard's writer, so two concurrent callback deliveries for the same
// flow_id (e.g. a doubled connector redirect) can never race past each
// other. fn is responsible for enforcing legal state transitions; returning
// an error aborts the mutation.
func (s *FlowStateStore) Transition(ctx context.Context, flowID string, now time.Time, fn func(FlowState) (FlowState, error)) (FlowState, error) {
	var result FlowState
	err := s.ring.Do(ctx, flowID, func() error {
		return s.data.Mutate(flowID, func(rec FlowState, ok bool) (FlowState, bool, error) {
			if !ok {
				return FlowState{}, false, ErrNotFound
			}
			if now.After(rec.ExpiresAt) {
				return rec, false, ErrExpired
			}
			next, err := fn(rec)
			if err != nil {
				return rec, false, err
			}
			result = next
			return next, false, nil
		})
	})
	if err != nil {
		return FlowState{}, err
	}
	return result, nil
}

// Complete deletes the flow state once its terminal artifact (an
// authorization code, an implicit-flow redirect) has been issued; flow
// state is not retained past issuance.
func (s *FlowStateStore) Complete(ctx context.Context, flowID string) error {
	return s.ring.Do(ctx, flowID, func() error {
		return s.data.Mutate(flowID, func(_ FlowState, ok bool) (FlowState, bool, error) {
			if !ok {
				return FlowState{}, false, ErrNotFound
			}
			return FlowState{}, true, nil
		})
	})
}

// GarbageCollect removes flows expired as of now.
func (s *FlowStateStore) GarbageCollect(now time.Time) int {
	return s.data.DeleteWhere(func(_ string, rec FlowState) bool {
		return now.After(rec.ExpiresAt)
	})
}
