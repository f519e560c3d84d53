// Package stats turns a history of completed walks into ranked and derived
// statistics. Everything here is a pure function of its input: no storage,
// no clock reads, and the same result for any ordering of the same entries.
package stats

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mmynk/walktracker/internal/models"
)

// Walker is one row of the walker ranking.
type Walker struct {
	User  models.User `json:"user"`
	Trips int         `json:"trips"`
}

// Stats holds the headline numbers for a window.
type Stats struct {
	TopWalkers         []Walker `json:"topWalkers"`
	TotalTrips         int      `json:"totalTrips"`
	AverageTripsPerDay float64  `json:"averageTripsPerDay"`
	TotalPoops         int      `json:"totalPoops"`
	TotalPees          int      `json:"totalPees"`

	// LongestTrip is in whole minutes, 0 when no outside trip has both
	// timestamps.
	LongestTrip int `json:"longestTrip"`

	// SuccessRate is the share of trips that ended outside, 0 for no trips.
	SuccessRate float64 `json:"successRate"`

	// MostCommonLocation ties toward outside.
	MostCommonLocation models.Location `json:"mostCommonLocation"`

	// AverageTripDuration is in minutes, 0 when no duration is known.
	AverageTripDuration float64 `json:"averageTripDuration"`
}

// Compute aggregates the completed entries that start inside w.
func Compute(entries []models.Entry, w Window) Stats {
	in := completedIn(entries, w)

	s := Stats{
		TopWalkers: TopWalkers(in),
		TotalTrips: len(in),
	}
	if w.Days > 0 {
		s.AverageTripsPerDay = float64(s.TotalTrips) / float64(w.Days)
	}

	outside := 0
	for _, e := range in {
		s.TotalPees += e.Pees
		s.TotalPoops += e.Poops
		if e.Location == models.LocationOutside {
			outside++
		}
	}

	if s.TotalTrips > 0 {
		s.SuccessRate = float64(outside) / float64(s.TotalTrips)
	}

	s.MostCommonLocation = models.LocationOutside
	if inside := s.TotalTrips - outside; inside > outside {
		s.MostCommonLocation = models.LocationInside
	}

	durations := tripDurations(in)
	if len(durations) > 0 {
		var longest, total time.Duration
		for _, d := range durations {
			total += d
			if d > longest {
				longest = d
			}
		}
		s.LongestTrip = int(math.Round(longest.Minutes()))
		s.AverageTripDuration = total.Minutes() / float64(len(durations))
	}

	return s
}

// TopWalkers counts the entries each user took part in, ranked by count
// descending, then by display name. The returned list is complete.
func TopWalkers(entries []models.Entry) []Walker {
	type tally struct {
		user   models.User
		seenAt time.Time
		trips  int
	}
	byEmail := make(map[string]*tally)

	for _, e := range entries {
		counted := make(map[string]bool, len(e.Users))
		for _, u := range e.Users {
			if counted[u.Email] {
				continue
			}
			counted[u.Email] = true

			t, ok := byEmail[u.Email]
			if !ok {
				byEmail[u.Email] = &tally{user: u, seenAt: e.StartTime, trips: 1}
				continue
			}
			t.trips++
			// Keep the most recent record so renamed users rank by their
			// current name; break exact ties on name for determinism.
			if e.StartTime.After(t.seenAt) || (e.StartTime.Equal(t.seenAt) && u.Name < t.user.Name) {
				t.user = u
				t.seenAt = e.StartTime
			}
		}
	}

	walkers := make([]Walker, 0, len(byEmail))
	for _, t := range byEmail {
		walkers = append(walkers, Walker{User: t.user, Trips: t.trips})
	}

	sort.Slice(walkers, func(i, j int) bool {
		a, b := walkers[i], walkers[j]
		if a.Trips != b.Trips {
			return a.Trips > b.Trips
		}
		an, bn := strings.ToLower(a.User.Name), strings.ToLower(b.User.Name)
		if an != bn {
			return an < bn
		}
		return a.User.Email < b.User.Email
	})
	return walkers
}

// tripDurations returns the durations of outside entries with both
// timestamps. Entries without an end time never contribute.
func tripDurations(entries []models.Entry) []time.Duration {
	var out []time.Duration
	for _, e := range entries {
		if e.Location != models.LocationOutside {
			continue
		}
		if d, ok := e.Duration(); ok {
			out = append(out, d)
		}
	}
	return out
}

func completedIn(entries []models.Entry, w Window) []models.Entry {
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status != models.StatusCompleted || !w.Contains(e.StartTime) {
			continue
		}
		out = append(out, e)
	}
	return out
}
