package stats

import (
	"fmt"
	"time"

	"github.com/mmynk/walktracker/internal/models"
)

// Quick is the at-a-glance summary shown when no walk is in progress.
type Quick struct {
	// LastOutside is when the latest outside trip ended (or started, if it
	// has no end time). Nil when there has never been one.
	LastOutside *time.Time `json:"lastOutside,omitempty"`

	// SinceLastOutside is a humanized form of LastOutside relative to now.
	SinceLastOutside string `json:"sinceLastOutside,omitempty"`

	TripsToday int `json:"tripsToday"`
}

// QuickStats summarizes the latest outside trip and today's trips.
func QuickStats(entries []models.Entry, now time.Time, loc *time.Location) Quick {
	var q Quick
	var latest *models.Entry

	today := LastDays(now, 1, loc)
	for i := range entries {
		e := &entries[i]
		if e.Status != models.StatusCompleted {
			continue
		}
		if today.Contains(e.StartTime) {
			q.TripsToday++
		}
		if e.Location != models.LocationOutside {
			continue
		}
		if latest == nil || e.StartTime.After(latest.StartTime) {
			latest = e
		}
	}

	if latest != nil {
		at := latest.StartTime
		if latest.EndTime != nil {
			at = *latest.EndTime
		}
		q.LastOutside = &at
		q.SinceLastOutside = TimeAgo(now, at)
	}
	return q
}

// TimeAgo describes how long before now t was, in the app's wording.
func TimeAgo(now, t time.Time) string {
	secs := int64(now.Sub(t) / time.Second)

	switch {
	case secs < 60:
		return "Now"
	case secs < 3600:
		return fmt.Sprintf("%d min ago", secs/60)
	case secs < 3*3600:
		hours := secs / 3600
		return fmt.Sprintf("%d %s & %d min ago", hours, pluralize(hours, "hour", "hours"), (secs/60)%60)
	case secs < 86400:
		hours := secs / 3600
		return fmt.Sprintf("%d %s ago", hours, pluralize(hours, "hour", "hours"))
	case secs < 172800:
		return "Yesterday"
	case secs < 2592000:
		return fmt.Sprintf("%d days ago", secs/86400)
	case secs < 31536000:
		return fmt.Sprintf("%d months ago", secs/2592000)
	default:
		return fmt.Sprintf("%d year ago", secs/31536000)
	}
}

func pluralize(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
