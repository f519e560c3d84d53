package stats

import "time"

// DefaultDays is the length of the headline stats window.
const DefaultDays = 7

// Window is a range of whole calendar days in a time zone, [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`

	Location *time.Location `json:"-"`
}

// LastDays returns the window of the given number of calendar days ending
// with the day containing now. A nil location means UTC.
func LastDays(now time.Time, days int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	if days <= 0 {
		days = DefaultDays
	}
	today := startOfDay(now.In(loc))
	return Window{
		Start:    today.AddDate(0, 0, -(days - 1)),
		End:      today.AddDate(0, 0, 1),
		Days:     days,
		Location: loc,
	}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayKey formats the calendar day of t in loc.
func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}
