package stats

import (
	"time"

	"github.com/mmynk/walktracker/internal/models"
)

// Report bundles everything the stats page shows.
type Report struct {
	Window        Window          `json:"window"`
	Stats         Stats           `json:"stats"`
	TripsPerDay   []DayBucket     `json:"tripsPerDay"`
	PeePoopPerDay []PeePoopBucket `json:"peePoopPerDay"`
	Quick         Quick           `json:"quick"`
	GeneratedAt   time.Time       `json:"generatedAt"`
}

// BuildReport computes the headline stats and daily trips over the window
// entries, and the pee/poop trend and quick summary over the full history.
func BuildReport(window, history []models.Entry, w Window, now time.Time) Report {
	return Report{
		Window:        w,
		Stats:         Compute(window, w),
		TripsPerDay:   TripsPerDay(window, w),
		PeePoopPerDay: PeePoopPerDay(history, w.location()),
		Quick:         QuickStats(history, now, w.location()),
		GeneratedAt:   now,
	}
}
