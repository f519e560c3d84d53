package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/walktracker/internal/models"
)

func TestPublishAssignsSequence(t *testing.T) {
	h := New()
	ch, cancel := h.Watch()
	defer cancel()

	first := h.Publish(models.Change{Kind: models.ChangeCreated, Entry: models.Entry{ID: "a"}})
	second := h.Publish(models.Change{Kind: models.ChangeUpdated, Entry: models.Entry{ID: "a"}})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(2), h.Seq())

	got := <-ch
	assert.Equal(t, uint64(1), got.Seq)
	got = <-ch
	assert.Equal(t, models.ChangeUpdated, got.Kind)
}

func TestSlowWatcherDropped(t *testing.T) {
	dropped := 0
	h := New(WithBuffer(1), WithHooks(nil, func() { dropped++ }))
	ch, cancel := h.Watch()
	defer cancel()

	h.Publish(models.Change{Kind: models.ChangeCreated})
	h.Publish(models.Change{Kind: models.ChangeUpdated})

	require.Equal(t, 0, h.Len())
	assert.Equal(t, 1, dropped)

	_, ok := <-ch
	assert.True(t, ok, "buffered change is still readable")
	_, ok = <-ch
	assert.False(t, ok, "channel closed after drop")
}

func TestCancelIsIdempotent(t *testing.T) {
	h := New()
	ch, cancel := h.Watch()
	require.Equal(t, 1, h.Len())

	cancel()
	cancel()

	assert.Equal(t, 0, h.Len())
	_, ok := <-ch
	assert.False(t, ok)
}
