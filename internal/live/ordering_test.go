package live_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/walktracker/internal/live"
	"github.com/mmynk/walktracker/internal/models"
)

// scriptedSource serves a fixed state and lets the test push changes.
type scriptedSource struct {
	mu       sync.Mutex
	state    models.State
	streams  []chan models.Change
	watchErr error
}

func (s *scriptedSource) Fetch(ctx context.Context) (models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *scriptedSource) Watch(ctx context.Context) (<-chan models.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	ch := make(chan models.Change, 32)
	s.streams = append(s.streams, ch)
	context.AfterFunc(ctx, func() { s.closeStream(ch) })
	return ch, nil
}

func (s *scriptedSource) closeStream(ch chan models.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, open := range s.streams {
		if open == ch {
			close(open)
			s.streams = append(s.streams[:i], s.streams[i+1:]...)
			return
		}
	}
}

func (s *scriptedSource) emit(changes ...models.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		for _, ch := range s.streams {
			ch <- c
		}
	}
}

func (s *scriptedSource) setWatchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchErr = err
}

var base = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func activeWalk(id string, rev int64, users ...models.User) models.Entry {
	if users == nil {
		users = []models.User{}
	}
	return models.Entry{
		ID:        id,
		Type:      models.EntryType,
		StartTime: base,
		Status:    models.StatusActive,
		Mode:      models.ModeAuto,
		Location:  models.LocationOutside,
		Users:     users,
		Revision:  rev,
	}
}

func completedWalk(id string, rev int64, start time.Time) models.Entry {
	end := start.Add(20 * time.Minute)
	return models.Entry{
		ID:        id,
		Type:      models.EntryType,
		StartTime: start,
		EndTime:   &end,
		Status:    models.StatusCompleted,
		Mode:      models.ModeAuto,
		Location:  models.LocationOutside,
		Users:     []models.User{},
		Revision:  rev,
	}
}

func change(seq uint64, kind models.ChangeKind, e models.Entry) models.Change {
	return models.Change{Seq: seq, Kind: kind, Entry: e}
}

func hasHistory(id string) func(live.Snapshot) bool {
	return func(s live.Snapshot) bool {
		for _, e := range s.History {
			if e.ID == id {
				return true
			}
		}
		return false
	}
}

func TestStaleRevisionIsDiscarded(t *testing.T) {
	src := &scriptedSource{}
	ch := connect(t, src, nil)

	src.emit(
		change(1, models.ChangeCreated, activeWalk("walk", 1)),
		change(2, models.ChangeUpdated, activeWalk("walk", 3, bob)),
		// Delivered late: revision 2 must not overwrite revision 3.
		change(3, models.ChangeUpdated, activeWalk("walk", 2)),
		change(4, models.ChangeCreated, completedWalk("marker", 1, base.Add(-time.Hour))),
	)

	snap := waitFor(t, ch, hasHistory("marker"))
	require.NotNil(t, snap.Active)
	assert.Equal(t, int64(3), snap.Active.Revision)
	assert.True(t, snap.Active.HasUser(bob.Email))
}

func TestDeleteLeavesTombstone(t *testing.T) {
	src := &scriptedSource{}
	ch := connect(t, src, nil)

	src.emit(
		change(1, models.ChangeCreated, activeWalk("walk", 1)),
		change(2, models.ChangeDeleted, models.Entry{ID: "walk", Revision: 3}),
		// An update issued before the delete but delivered after it.
		change(3, models.ChangeUpdated, activeWalk("walk", 2, bob)),
		change(4, models.ChangeCreated, completedWalk("marker", 1, base.Add(-time.Hour))),
	)

	snap := waitFor(t, ch, hasHistory("marker"))
	assert.Nil(t, snap.Active)
}

func TestChangesBeforeResyncPointAreIgnored(t *testing.T) {
	src := &scriptedSource{state: models.State{
		History: []models.Entry{completedWalk("old", 1, base.Add(-2*time.Hour))},
		Seq:     5,
	}}
	ch := connect(t, src, nil)
	assert.Equal(t, []string{"old"}, ids(ch.Snapshot().History))

	src.emit(
		// Already reflected in the fetched state.
		change(4, models.ChangeCreated, completedWalk("replayed", 1, base.Add(-time.Hour))),
		change(6, models.ChangeCreated, completedWalk("fresh", 1, base)),
	)

	snap := waitFor(t, ch, hasHistory("fresh"))
	assert.Equal(t, []string{"fresh", "old"}, ids(snap.History))
}

func TestStaleAfterBackoffExhausted(t *testing.T) {
	src := &scriptedSource{state: models.State{
		Active: ptr(activeWalk("walk", 1)),
		Seq:    1,
	}}
	ch := connect(t, src, nil, live.WithBackoff(live.BackoffConfig{
		Initial:    time.Millisecond,
		Max:        5 * time.Millisecond,
		MaxElapsed: 20 * time.Millisecond,
	}))

	src.setWatchErr(models.ErrTransport)
	src.mu.Lock()
	for _, open := range src.streams {
		close(open)
	}
	src.streams = nil
	src.mu.Unlock()

	stale := waitFor(t, ch, func(s live.Snapshot) bool { return s.Stale })
	assert.False(t, stale.Connected)
	require.NotNil(t, stale.Active, "stale channel keeps the last known walk")
	assert.Equal(t, "walk", stale.Active.ID)

	src.mu.Lock()
	src.state = models.State{History: []models.Entry{completedWalk("walk", 2, base)}, Seq: 7}
	src.watchErr = nil
	src.mu.Unlock()

	recovered := waitFor(t, ch, func(s live.Snapshot) bool { return s.Connected })
	assert.False(t, recovered.Stale)
	assert.Nil(t, recovered.Active)
	assert.Equal(t, []string{"walk"}, ids(recovered.History))
}

func ptr[T any](v T) *T { return &v }
