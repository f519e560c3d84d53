// Package entry implements the walk entry state machine.
//
// An entry starts either Active/Auto/Outside (Start) or Completed/Manual
// (AddManual). Active entries accept AppendUser and Finish; completed
// entries accept EditCompleted. Delete has no precondition and is handled by
// the gateway.
//
// Every transition is pure: it returns a new entry and leaves its input
// untouched, so a rejected transition never changes state.
package entry

import (
	"fmt"
	"time"

	"github.com/mmynk/walktracker/internal/models"
)

// AmnestyWindow is how long after starting a walk it can be discarded
// without it counting in history. Callers decide whether to offer it.
const AmnestyWindow = time.Minute

// FinishInput carries the fields supplied when a walk ends.
type FinishInput struct {
	EndTime time.Time `json:"endTime"`
	Pees    int       `json:"pees"`
	Poops   int       `json:"poops"`

	// Location is ignored for auto entries, which always finish outside.
	Location *models.Location `json:"location,omitempty"`

	// Users replaces the walker set when non-nil.
	Users []models.User `json:"users,omitempty"`
}

// ManualInput carries the fields of a walk entered after the fact.
type ManualInput struct {
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	Pees      int             `json:"pees"`
	Poops     int             `json:"poops"`
	Location  models.Location `json:"location"`
	Users     []models.User   `json:"users,omitempty"`
}

// Start returns a new active auto entry beginning at now.
func Start(now time.Time) models.Entry {
	return models.Entry{
		Type:      models.EntryType,
		StartTime: now.UTC(),
		Status:    models.StatusActive,
		Mode:      models.ModeAuto,
		Location:  models.LocationOutside,
		Users:     []models.User{},
	}
}

// AppendUser adds u to an active entry. Adding a user that is already on the
// walk is a no-op.
func AppendUser(e models.Entry, u models.User) (models.Entry, error) {
	if e.Status != models.StatusActive {
		return e, models.NewValidationError("status", "users can only join active walks")
	}
	if err := ValidateUser(u); err != nil {
		return e, err
	}
	if e.HasUser(u.Email) {
		return e, nil
	}

	next := e.Clone()
	next.Users = append(next.Users, u)
	return next, nil
}

// Finish completes an active entry.
func Finish(e models.Entry, in FinishInput) (models.Entry, error) {
	if e.Status != models.StatusActive {
		return e, models.NewValidationError("status", "only active walks can be finished")
	}
	if in.EndTime.IsZero() {
		return e, models.NewValidationError("endTime", "is required")
	}
	if in.EndTime.Before(e.StartTime) {
		return e, models.NewValidationError("endTime", "must not be before startTime")
	}
	if err := validateCounts(in.Pees, in.Poops); err != nil {
		return e, err
	}

	next := e.Clone()
	next.Status = models.StatusCompleted
	next.Pees = in.Pees
	next.Poops = in.Poops

	switch {
	case next.Mode == models.ModeAuto:
		next.Location = models.LocationOutside
	case in.Location != nil:
		next.Location = *in.Location
	}

	if next.Location == models.LocationOutside {
		end := in.EndTime.UTC()
		next.EndTime = &end
	} else {
		next.EndTime = nil
	}

	if in.Users != nil {
		next.Users = dedupeUsers(in.Users)
	}

	if err := Validate(next); err != nil {
		return e, err
	}
	return next, nil
}

// AddManual builds a completed manual entry.
func AddManual(in ManualInput) (models.Entry, error) {
	if in.StartTime.IsZero() {
		return models.Entry{}, models.NewValidationError("startTime", "is required")
	}
	if err := validateCounts(in.Pees, in.Poops); err != nil {
		return models.Entry{}, err
	}

	e := models.Entry{
		Type:      models.EntryType,
		StartTime: in.StartTime.UTC(),
		Status:    models.StatusCompleted,
		Mode:      models.ModeManual,
		Location:  in.Location,
		Pees:      in.Pees,
		Poops:     in.Poops,
		Users:     dedupeUsers(in.Users),
	}

	switch in.Location {
	case models.LocationOutside:
		if in.EndTime == nil {
			return models.Entry{}, models.NewValidationError("endTime", "is required for outside entries")
		}
		end := in.EndTime.UTC()
		e.EndTime = &end
	case models.LocationInside:
		// An end time on an inside entry carries no meaning and is dropped.
	default:
		return models.Entry{}, models.NewValidationError("location", fmt.Sprintf("unknown location %q", in.Location))
	}

	if err := Validate(e); err != nil {
		return models.Entry{}, err
	}
	return e, nil
}

// EditCompleted applies a patch to a completed entry. Status and mode never
// change. Moving an entry inside drops its end time.
func EditCompleted(e models.Entry, p models.EntryPatch) (models.Entry, error) {
	if e.Status != models.StatusCompleted {
		return e, models.NewValidationError("status", "only completed walks can be edited")
	}

	pees, poops := e.Pees, e.Poops
	if p.Pees != nil {
		pees = *p.Pees
	}
	if p.Poops != nil {
		poops = *p.Poops
	}
	if err := validateCounts(pees, poops); err != nil {
		return e, err
	}

	next := Apply(e, p)
	if next.Mode == models.ModeAuto {
		next.Location = models.LocationOutside
	}
	if next.Location == models.LocationInside {
		next.EndTime = nil
	}

	if err := Validate(next); err != nil {
		return e, err
	}
	return next, nil
}

// Apply merges a patch into an entry without validating the result.
func Apply(e models.Entry, p models.EntryPatch) models.Entry {
	next := e.Clone()
	if p.StartTime != nil {
		next.StartTime = p.StartTime.UTC()
	}
	if p.EndTime != nil {
		end := p.EndTime.UTC()
		next.EndTime = &end
	}
	if p.Location != nil {
		next.Location = *p.Location
	}
	if p.Pees != nil {
		next.Pees = *p.Pees
	}
	if p.Poops != nil {
		next.Poops = *p.Poops
	}
	if p.Users != nil {
		next.Users = dedupeUsers(*p.Users)
	}
	return next
}

// Age returns how long ago the entry started.
func Age(e models.Entry, now time.Time) time.Duration {
	return now.Sub(e.StartTime)
}

// WithinAmnesty reports whether an active entry is young enough to be
// discarded without consequence.
func WithinAmnesty(e models.Entry, now time.Time) bool {
	return e.Status == models.StatusActive && Age(e, now) < AmnestyWindow
}

func validateCounts(pees, poops int) error {
	if pees < 0 {
		return models.NewValidationError("pees", "must be >= 0")
	}
	if poops < 0 {
		return models.NewValidationError("poops", "must be >= 0")
	}
	return nil
}

// dedupeUsers keeps the first record for each email.
func dedupeUsers(users []models.User) []models.User {
	out := make([]models.User, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if seen[u.Email] {
			continue
		}
		seen[u.Email] = true
		out = append(out, u)
	}
	return out
}
