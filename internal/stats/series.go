package stats

import (
	"time"

	"github.com/mmynk/walktracker/internal/models"
)

// DayBucket is the trip count for one calendar day.
type DayBucket struct {
	Date  string `json:"date"`
	Trips int    `json:"trips"`
}

// PeePoopBucket is the pee and poop totals for one calendar day.
type PeePoopBucket struct {
	Date  string `json:"date"`
	Pees  int    `json:"pees"`
	Poops int    `json:"poops"`
}

// TripsPerDay returns one bucket per day of the window, oldest first,
// including days without trips.
func TripsPerDay(entries []models.Entry, w Window) []DayBucket {
	loc := w.location()

	counts := make(map[string]int)
	for _, e := range completedIn(entries, w) {
		counts[dayKey(e.StartTime, loc)]++
	}

	buckets := make([]DayBucket, 0, w.Days)
	for day := w.Start; day.Before(w.End); day = day.AddDate(0, 0, 1) {
		key := dayKey(day, loc)
		buckets = append(buckets, DayBucket{Date: key, Trips: counts[key]})
	}
	return buckets
}

// PeePoopPerDay buckets pee and poop counts by calendar day over the whole
// history, from the first to the last day with a completed entry. Days in
// between without entries are present with zero counts.
func PeePoopPerDay(entries []models.Entry, loc *time.Location) []PeePoopBucket {
	if loc == nil {
		loc = time.UTC
	}

	type counts struct{ pees, poops int }
	byDay := make(map[string]*counts)
	var first, last time.Time

	for _, e := range entries {
		if e.Status != models.StatusCompleted {
			continue
		}
		day := startOfDay(e.StartTime.In(loc))
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}

		key := dayKey(day, loc)
		c, ok := byDay[key]
		if !ok {
			c = &counts{}
			byDay[key] = c
		}
		c.pees += e.Pees
		c.poops += e.Poops
	}

	if first.IsZero() {
		return []PeePoopBucket{}
	}

	var buckets []PeePoopBucket
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		key := dayKey(day, loc)
		b := PeePoopBucket{Date: key}
		if c, ok := byDay[key]; ok {
			b.Pees, b.Poops = c.pees, c.poops
		}
		buckets = append(buckets, b)
	}
	return buckets
}
