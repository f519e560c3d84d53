package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/walktracker/internal/entry"
	"github.com/mmynk/walktracker/internal/feed"
	"github.com/mmynk/walktracker/internal/metrics"
	"github.com/mmynk/walktracker/internal/models"
)

func addOutside(t *testing.T, svc *EntryService, start time.Time, minutes int, users ...models.User) {
	t.Helper()
	end := start.Add(time.Duration(minutes) * time.Minute)
	_, err := svc.AddManual(context.Background(), entry.ManualInput{
		StartTime: start,
		EndTime:   &end,
		Location:  models.LocationOutside,
		Users:     users,
	})
	require.NoError(t, err)
}

// cacheLookups reads the stats cache counter for result from the registry.
func cacheLookups(t *testing.T, m *metrics.Metrics, result string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "walktracker_stats_cache_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestStatsReport(t *testing.T) {
	store := newTestStore(t)
	clock := &fakeClock{now: t0}
	gateway := NewEntryService(store, feed.New(), WithClock(clock.Now))
	svc := NewStatsService(store, WithClock(clock.Now), WithCacheTTL(0))

	addOutside(t, gateway, t0.Add(-time.Hour), 20, alice, bob)
	addOutside(t, gateway, t0.Add(-26*time.Hour), 40, alice)
	addOutside(t, gateway, t0.Add(-30*24*time.Hour), 90, bob) // outside the window
	_, err := gateway.AddManual(context.Background(), entry.ManualInput{
		StartTime: t0.Add(-2 * time.Hour),
		Location:  models.LocationInside,
		Pees:      1,
	})
	require.NoError(t, err)

	report, err := svc.Report(context.Background(), ReportQuery{})
	require.NoError(t, err)

	s := report.Stats
	assert.Equal(t, 3, s.TotalTrips)
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-9)
	assert.InDelta(t, 30.0, s.AverageTripDuration, 1e-9)
	assert.Equal(t, 40, s.LongestTrip)
	require.Len(t, s.TopWalkers, 2)
	assert.Equal(t, alice.Email, s.TopWalkers[0].User.Email)
	assert.Equal(t, 2, s.TopWalkers[0].Trips)

	assert.Len(t, report.TripsPerDay, 7)
	assert.Len(t, report.PeePoopPerDay, 31)
	assert.Equal(t, 2, report.Quick.TripsToday)
	require.NotNil(t, report.Quick.LastOutside)

	// A one-day window only sees today.
	today, err := svc.Report(context.Background(), ReportQuery{Days: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, today.Stats.TotalTrips)
}

func TestStatsCacheInvalidatedByFeed(t *testing.T) {
	store := newTestStore(t)
	hub := feed.New()
	m, err := metrics.New()
	require.NoError(t, err)

	clock := &fakeClock{now: t0}
	gateway := NewEntryService(store, hub, WithClock(clock.Now))
	svc := NewStatsService(store, WithClock(clock.Now), WithMetrics(m), WithCacheTTL(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, hub) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	first, err := svc.Report(ctx, ReportQuery{})
	require.NoError(t, err)
	assert.Zero(t, first.Stats.TotalTrips)

	cached, err := svc.Report(ctx, ReportQuery{})
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	addOutside(t, gateway, t0.Add(-time.Hour), 15, alice)

	require.Eventually(t, func() bool {
		r, err := svc.Report(ctx, ReportQuery{})
		return err == nil && r.Stats.TotalTrips == 1
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, cacheLookups(t, m, "hit"), 1.0)
	assert.GreaterOrEqual(t, cacheLookups(t, m, "miss"), 2.0)
}

func TestStatsPinnedClockBypassesCache(t *testing.T) {
	store := newTestStore(t)
	clock := &fakeClock{now: t0}
	gateway := NewEntryService(store, feed.New(), WithClock(clock.Now))
	svc := NewStatsService(store, WithClock(clock.Now), WithCacheTTL(time.Hour))

	_, err := svc.Report(context.Background(), ReportQuery{})
	require.NoError(t, err)

	// Nobody is watching the feed, so only a pinned report sees the write.
	addOutside(t, gateway, t0.Add(-time.Hour), 15, alice)

	stale, err := svc.Report(context.Background(), ReportQuery{})
	require.NoError(t, err)
	assert.Zero(t, stale.Stats.TotalTrips)

	now := t0
	fresh, err := svc.Report(context.Background(), ReportQuery{Now: &now})
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Stats.TotalTrips)
}
