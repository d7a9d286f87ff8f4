package settingsversion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct{ events []Event }

func (s *recordingSink) Emit(e Event) { s.events = append(s.events, e) }

func TestDiffDetectsAddedRemovedChanged(t *testing.T) {
	old := Snapshot{"a": 1, "b": 2}
	next := Snapshot{"a": 1, "b": 3, "c": 4}

	changes := Diff(old, next)
	byField := map[string]Change{}
	for _, c := range changes {
		byField[c.Field] = c
	}

	assert.NotContains(t, byField, "a", "unchanged fields must not appear in the diff")
	require.Contains(t, byField, "b")
	assert.Equal(t, 2, byField["b"].OldValue)
	assert.Equal(t, 3, byField["b"].NewValue)
	require.Contains(t, byField, "c")
	assert.Nil(t, byField["c"].OldValue)
}

func TestWriteVersionIncrementsMonotonically(t *testing.T) {
	s := New(4, nil)
	defer s.Close()
	now := time.Now()

	v1, err := s.WriteVersion(context.Background(), "branding", Snapshot{"logo": "a"}, "admin", "initial", now)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	v2, err := s.WriteVersion(context.Background(), "branding", Snapshot{"logo": "b"}, "admin", "update", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "b", v2.Snapshot["logo"])

	current := s.Current("branding")
	assert.Equal(t, 2, current.Version)
}

func TestRollbackReappliesTargetSnapshotAsNewVersion(t *testing.T) {
	sink := &recordingSink{}
	s := New(4, sink)
	defer s.Close()
	now := time.Now()

	v1, err := s.WriteVersion(context.Background(), "branding", Snapshot{"logo": "a"}, "admin", "initial", now)
	require.NoError(t, err)
	_, err = s.WriteVersion(context.Background(), "branding", Snapshot{"logo": "b"}, "admin", "update", now.Add(time.Minute))
	require.NoError(t, err)

	rolledBack, err := s.Rollback(context.Background(), "branding", v1.Version, "admin", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, rolledBack.Version, "rollback creates a new version, it does not rewind history")
	assert.Equal(t, "a", rolledBack.Snapshot["logo"])

	var kinds []EventKind
	for _, e := range sink.events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{EventRollbackStarted, EventRollbackCompleted}, kinds)
}

func TestRollbackToUnknownVersionEmitsFailedEvent(t *testing.T) {
	sink := &recordingSink{}
	s := New(4, sink)
	defer s.Close()
	now := time.Now()

	_, err := s.WriteVersion(context.Background(), "branding", Snapshot{"logo": "a"}, "admin", "initial", now)
	require.NoError(t, err)

	_, err = s.Rollback(context.Background(), "branding", 99, "admin", now)
	assert.ErrorIs(t, err, ErrNoSuchVersion)

	require.Len(t, sink.events, 2)
	assert.Equal(t, EventRollbackStarted, sink.events[0].Kind)
	assert.Equal(t, EventRollbackFailed, sink.events[1].Kind)
}

func TestHistoryReturnsEveryVersionOldestFirst(t *testing.T) {
	s := New(4, nil)
	defer s.Close()
	now := time.Now()

	_, err := s.WriteVersion(context.Background(), "branding", Snapshot{"logo": "a"}, "admin", "", now)
	require.NoError(t, err)
	_, err = s.WriteVersion(context.Background(), "branding", Snapshot{"logo": "b"}, "admin", "", now)
	require.NoError(t, err)

	history := s.History("branding")
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
}
