// Package settingsversion implements the settings versioning core:
// per-category monotone version history with diffing and rollback. Every
// category is pinned to its own shard writer, the same sharded
// single-writer shape internal/store uses, since a settings category is
// just another piece of mutable state needing atomic compare-and-set
// semantics.
package settingsversion

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/nullstack-id/authd/internal/shard"
	"github.com/nullstack-id/authd/pkg/log"
)

// DefaultShards is the default shard count, keyed by category name.
const DefaultShards = 8

// Snapshot is an arbitrary settings document for one category.
type Snapshot map[string]any

// Change is one field-level difference between two snapshots.
type Change struct {
	Field    string
	OldValue any
	NewValue any
}

// Diff computes a structural, field-level diff between old and next:
// fields added, removed, or whose value changed.
func Diff(old, next Snapshot) []Change {
	var changes []Change
	seen := make(map[string]bool)

	for field, newVal := range next {
		seen[field] = true
		oldVal, existed := old[field]
		if !existed || !reflect.DeepEqual(oldVal, newVal) {
			changes = append(changes, Change{Field: field, OldValue: oldVal, NewValue: newVal})
		}
	}
	for field, oldVal := range old {
		if seen[field] {
			continue
		}
		changes = append(changes, Change{Field: field, OldValue: oldVal, NewValue: nil})
	}
	return changes
}

// VersionRecord is one row of a category's version history.
type VersionRecord struct {
	Category  string
	Version   int
	Snapshot  Snapshot
	Changes   []Change
	Actor     string
	Reason    string
	CreatedAt time.Time
}

// EventKind enumerates the rollback lifecycle events.
type EventKind string

const (
	EventRollbackStarted   EventKind = "rollback_started"
	EventRollbackCompleted EventKind = "rollback_completed"
	EventRollbackFailed    EventKind = "rollback_failed"
)

// Event is emitted around a rollback so operators and audit consumers can
// observe its lifecycle.
type Event struct {
	Kind       EventKind
	Category   string
	Target     int
	NewVersion int
	Err        error
	At         time.Time
}

// EventSink receives Events. Implementations typically log and/or forward
// to an audit trail; the Non-goal excluding long-lived audit analytics
// means this package only emits the events, it does not store them.
type EventSink interface {
	Emit(Event)
}

// LoggingEventSink logs every event via the injected Logger, the default
// sink when no audit pipeline is wired.
type LoggingEventSink struct{ Logger log.Logger }

// Emit logs e at Info level, or Error for a failed rollback.
func (s LoggingEventSink) Emit(e Event) {
	if s.Logger == nil {
		return
	}
	if e.Kind == EventRollbackFailed {
		s.Logger.Errorf("settingsversion: %s category=%s target=%d err=%v", e.Kind, e.Category, e.Target, e.Err)
		return
	}
	s.Logger.Infof("settingsversion: %s category=%s target=%d new_version=%d", e.Kind, e.Category, e.Target, e.NewVersion)
}

// categoryState is one category's live snapshot plus its full history.
type categoryState struct {
	current VersionRecord
	history []VersionRecord
}

// ErrNoSuchVersion is returned by rollback when targetVersion is not in the
// category's history.
var ErrNoSuchVersion = errors.New("settingsversion: no such version")

// Store is the per-category versioned settings store.
type Store struct {
	ring *shard.Ring
	data *shard.Buckets[categoryState]
	sink EventSink
}

// New starts a sharded settings versioning store.
func New(shardCount int, sink EventSink) *Store {
	return &Store{
		ring: shard.New(shardCount, 16),
		data: shard.NewBuckets[categoryState](shardCount),
		sink: sink,
	}
}

// Close releases the shard workers.
func (s *Store) Close() { s.ring.Close() }

// QueueDepths reports the pending job count in each of this store's shard
// mailboxes, feeding the queue-depth gauge in internal/metrics.
func (s *Store) QueueDepths() []int { return s.ring.QueueDepths() }

// Current returns the category's live snapshot and version, or version 0
// with an empty snapshot if the category has never been written.
func (s *Store) Current(category string) VersionRecord {
	st, ok := s.data.Get(category)
	if !ok {
		return VersionRecord{Category: category, Snapshot: Snapshot{}}
	}
	return st.current
}

// History returns every version ever recorded for category, oldest first.
func (s *Store) History(category string) []VersionRecord {
	st, _ := s.data.Get(category)
	out := make([]VersionRecord, len(st.history))
	copy(out, st.history)
	return out
}

// WriteVersion computes a diff against the category's current snapshot,
// appends a new version, and makes it live — one atomic operation on the
// category's shard.
func (s *Store) WriteVersion(ctx context.Context, category string, next Snapshot, actor, reason string, now time.Time) (VersionRecord, error) {
	var result VersionRecord
	err := s.ring.Do(ctx, category, func() error {
		return s.data.Mutate(category, func(st categoryState, ok bool) (categoryState, bool, error) {
			prevSnapshot := Snapshot{}
			prevVersion := 0
			if ok {
				prevSnapshot = st.current.Snapshot
				prevVersion = st.current.Version
			}
			rec := VersionRecord{
				Category:  category,
				Version:   prevVersion + 1,
				Snapshot:  next,
				Changes:   Diff(prevSnapshot, next),
				Actor:     actor,
				Reason:    reason,
				CreatedAt: now,
			}
			st.current = rec
			st.history = append(st.history, rec)
			result = rec
			return st, false, nil
		})
	})
	if err != nil {
		return VersionRecord{}, err
	}
	return result, nil
}

// Rollback reads targetVersion's snapshot and reapplies it as a brand new
// version (current+1) whose snapshot equals the target's, emitting
// rollback_started/completed/failed around the attempt.
func (s *Store) Rollback(ctx context.Context, category string, targetVersion int, actor string, now time.Time) (VersionRecord, error) {
	s.emit(Event{Kind: EventRollbackStarted, Category: category, Target: targetVersion, At: now})

	var result VersionRecord
	err := s.ring.Do(ctx, category, func() error {
		return s.data.Mutate(category, func(st categoryState, ok bool) (categoryState, bool, error) {
			if !ok {
				return st, false, ErrNoSuchVersion
			}
			var target *VersionRecord
			for i := range st.history {
				if st.history[i].Version == targetVersion {
					target = &st.history[i]
					break
				}
			}
			if target == nil {
				return st, false, ErrNoSuchVersion
			}
			rec := VersionRecord{
				Category:  category,
				Version:   st.current.Version + 1,
				Snapshot:  target.Snapshot,
				Changes:   Diff(st.current.Snapshot, target.Snapshot),
				Actor:     actor,
				Reason:    fmt.Sprintf("rollback to version %d", targetVersion),
				CreatedAt: now,
			}
			st.current = rec
			st.history = append(st.history, rec)
			result = rec
			return st, false, nil
		})
	})
	if err != nil {
		s.emit(Event{Kind: EventRollbackFailed, Category: category, Target: targetVersion, Err: err, At: now})
		return VersionRecord{}, err
	}
	s.emit(Event{Kind: EventRollbackCompleted, Category: category, Target: targetVersion, NewVersion: result.Version, At: now})
	return result, nil
}

func (s *Store) emit(e Event) {
	if s.sink != nil {
		s.sink.Emit(e)
	}
}
