package stats

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/walktracker/internal/models"
)

var (
	now  = time.Date(2026, 10, 16, 18, 30, 0, 0, time.UTC)
	week = LastDays(now, 7, time.UTC)

	anna  = models.User{Email: "anna@example.com", Name: "Anna"}
	bjorn = models.User{Email: "bjorn@example.com", Name: "Bjørn"}
	carl  = models.User{Email: "carl@example.com", Name: "Carl"}
)

func outside(start time.Time, minutes int, users ...models.User) models.Entry {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return models.Entry{
		ID:        start.Format(time.RFC3339),
		StartTime: start,
		EndTime:   &end,
		Status:    models.StatusCompleted,
		Mode:      models.ModeAuto,
		Location:  models.LocationOutside,
		Users:     users,
	}
}

func inside(start time.Time, users ...models.User) models.Entry {
	return models.Entry{
		ID:        start.Format(time.RFC3339),
		StartTime: start,
		Status:    models.StatusCompleted,
		Mode:      models.ModeManual,
		Location:  models.LocationInside,
		Users:     users,
	}
}

func daysAgo(n int, hour int) time.Time {
	d := now.AddDate(0, 0, -n)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

func TestTopWalkers(t *testing.T) {
	entries := []models.Entry{
		outside(daysAgo(0, 8), 10, bjorn, anna),
		outside(daysAgo(1, 8), 10, bjorn, carl),
		outside(daysAgo(2, 8), 10, anna),
		inside(daysAgo(3, 8), bjorn, anna),
	}

	got := TopWalkers(entries)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Anna", "Bjørn", "Carl"}, []string{got[0].User.Name, got[1].User.Name, got[2].User.Name})
	assert.Equal(t, []int{3, 3, 1}, []int{got[0].Trips, got[1].Trips, got[2].Trips})
}

func TestTopWalkersCountsUserOncePerEntry(t *testing.T) {
	got := TopWalkers([]models.Entry{outside(daysAgo(0, 8), 5, anna, anna)})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Trips)
}

func TestSuccessRate(t *testing.T) {
	entries := []models.Entry{
		outside(daysAgo(0, 7), 10),
		outside(daysAgo(1, 7), 10),
		outside(daysAgo(2, 7), 10),
		inside(daysAgo(3, 7)),
	}
	assert.InDelta(t, 0.75, Compute(entries, week).SuccessRate, 1e-9)

	empty := Compute(nil, week)
	assert.Equal(t, 0.0, empty.SuccessRate)
	assert.Equal(t, 0, empty.TotalTrips)
	assert.Equal(t, 0, empty.LongestTrip)
	assert.Equal(t, 0.0, empty.AverageTripDuration)
	assert.NotNil(t, empty.TopWalkers)
}

func TestDurations(t *testing.T) {
	noEnd := outside(daysAgo(0, 12), 0)
	noEnd.EndTime = nil

	entries := []models.Entry{
		outside(daysAgo(0, 7), 20),
		outside(daysAgo(1, 7), 40),
		noEnd,
		inside(daysAgo(2, 7)),
	}

	s := Compute(entries, week)
	assert.InDelta(t, 30.0, s.AverageTripDuration, 1e-9)
	assert.Equal(t, 40, s.LongestTrip)
	assert.Equal(t, 4, s.TotalTrips)
}

func TestCompute(t *testing.T) {
	e1 := outside(daysAgo(0, 7), 25, anna)
	e1.Pees, e1.Poops = 2, 1
	e2 := inside(daysAgo(1, 20), anna)
	e2.Pees = 1
	e3 := outside(daysAgo(10, 7), 90, carl) // before the window
	e3.Poops = 5
	active := models.Entry{StartTime: daysAgo(0, 18), Status: models.StatusActive, Mode: models.ModeAuto, Location: models.LocationOutside}

	s := Compute([]models.Entry{e1, e2, e3, active}, week)

	assert.Equal(t, 2, s.TotalTrips)
	assert.InDelta(t, 2.0/7.0, s.AverageTripsPerDay, 1e-9)
	assert.Equal(t, 3, s.TotalPees)
	assert.Equal(t, 1, s.TotalPoops)
	assert.Equal(t, 25, s.LongestTrip)
	require.Len(t, s.TopWalkers, 1)
	assert.Equal(t, anna.Email, s.TopWalkers[0].User.Email)
}

func TestMostCommonLocation(t *testing.T) {
	tests := []struct {
		name    string
		entries []models.Entry
		want    models.Location
	}{
		{"empty ties toward outside", nil, models.LocationOutside},
		{"tie goes outside", []models.Entry{outside(daysAgo(0, 7), 5), inside(daysAgo(0, 9))}, models.LocationOutside},
		{"inside majority", []models.Entry{outside(daysAgo(0, 7), 5), inside(daysAgo(0, 9)), inside(daysAgo(1, 9))}, models.LocationInside},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.entries, week).MostCommonLocation)
		})
	}
}

func TestComputeIsOrderIndependent(t *testing.T) {
	entries := []models.Entry{
		outside(daysAgo(0, 7), 25, anna, bjorn),
		outside(daysAgo(1, 7), 35, carl),
		inside(daysAgo(2, 7), bjorn),
		outside(daysAgo(3, 7), 15, carl, anna),
		inside(daysAgo(4, 7)),
	}
	want := Compute(entries, week)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.Entry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Compute(shuffled, week))
	}
}

func TestTripsPerDay(t *testing.T) {
	entries := []models.Entry{
		outside(daysAgo(0, 7), 10),
		outside(daysAgo(0, 12), 10),
		inside(daysAgo(3, 7)),
		outside(daysAgo(8, 7), 10),
	}

	got := TripsPerDay(entries, week)
	require.Len(t, got, 7)
	assert.Equal(t, "2026-10-10", got[0].Date)
	assert.Equal(t, "2026-10-16", got[6].Date)
	assert.Equal(t, 2, got[6].Trips)
	assert.Equal(t, 1, got[3].Trips)
	for _, i := range []int{0, 1, 2, 4, 5} {
		assert.Zero(t, got[i].Trips, "day %s", got[i].Date)
	}
}

func TestTripsPerDayUsesWindowTimeZone(t *testing.T) {
	oslo, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	w := LastDays(now, 7, oslo)

	// 23:30 UTC on the 15th is already the 16th in Oslo.
	e := outside(time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC), 10)
	got := TripsPerDay([]models.Entry{e}, w)
	require.Len(t, got, 7)
	assert.Equal(t, 1, got[6].Trips)
}

func TestPeePoopPerDay(t *testing.T) {
	a := outside(daysAgo(30, 7), 10)
	a.Pees, a.Poops = 2, 1
	b := inside(daysAgo(30, 19))
	b.Pees = 1
	c := outside(daysAgo(28, 7), 10)
	c.Poops = 3

	got := PeePoopPerDay([]models.Entry{c, a, b}, time.UTC)
	require.Len(t, got, 3)
	assert.Equal(t, PeePoopBucket{Date: "2026-09-16", Pees: 3, Poops: 1}, got[0])
	assert.Equal(t, PeePoopBucket{Date: "2026-09-17"}, got[1])
	assert.Equal(t, PeePoopBucket{Date: "2026-09-18", Poops: 3}, got[2])

	assert.Empty(t, PeePoopPerDay(nil, time.UTC))
}

func TestLastDays(t *testing.T) {
	w := LastDays(now, 7, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), w.End)
	assert.True(t, w.Contains(now))
	assert.False(t, w.Contains(w.End))
	assert.Equal(t, DefaultDays, LastDays(now, 0, nil).Days)
}
