package models

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Mode records how an entry was created.
type Mode string

const (
	// ModeAuto entries are started live and always finish outside.
	ModeAuto Mode = "auto"
	// ModeManual entries are added after the fact, already completed.
	ModeManual Mode = "manual"
)

// Location is where the pet relieved itself.
type Location string

const (
	LocationInside  Location = "inside"
	LocationOutside Location = "outside"
)

// EntryType is the document type discriminator stored with every entry.
const EntryType = "entry"

// TempIDPrefix marks client-generated ids that have not been confirmed by the store.
const TempIDPrefix = "tmp-"

// Entry represents one walk.
//
// EndTime is only set on completed entries whose location is outside. Users is
// a set keyed by email; its order carries no meaning.
type Entry struct {
	// ID is the unique identifier (UUID format), or a TempIDPrefix id before
	// the store has confirmed the entry.
	ID string `json:"id"`

	// Type is always EntryType.
	Type string `json:"type"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	Status   Status   `json:"status" validate:"oneof=active completed"`
	Mode     Mode     `json:"mode" validate:"oneof=auto manual"`
	Location Location `json:"location" validate:"oneof=inside outside"`

	Pees  int `json:"pees" validate:"gte=0"`
	Poops int `json:"poops" validate:"gte=0"`

	Users []User `json:"users" validate:"dive"`

	// Revision advances by one on every persisted mutation and is used for
	// optimistic concurrency checks.
	Revision int64 `json:"revision"`

	// CreatedAt and UpdatedAt are Unix timestamps maintained by the store.
	CreatedAt int64 `json:"createdAt,omitempty"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// IsTemporary reports whether the entry carries a client-generated id.
func (e *Entry) IsTemporary() bool {
	return strings.HasPrefix(e.ID, TempIDPrefix)
}

// HasUser reports whether a user with the given email is on the walk.
func (e *Entry) HasUser(email string) bool {
	for _, u := range e.Users {
		if u.Email == email {
			return true
		}
	}
	return false
}

// Duration returns the walk duration and whether it can be computed.
// Entries without an end time have no duration.
func (e *Entry) Duration() (time.Duration, bool) {
	if e.EndTime == nil || e.StartTime.IsZero() {
		return 0, false
	}
	return e.EndTime.Sub(e.StartTime), true
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	c := e
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	if e.Users != nil {
		c.Users = make([]User, len(e.Users))
		copy(c.Users, e.Users)
	}
	return c
}

// EntryPatch is a partial update. Nil fields are left untouched.
type EntryPatch struct {
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Location  *Location  `json:"location,omitempty"`
	Pees      *int       `json:"pees,omitempty"`
	Poops     *int       `json:"poops,omitempty"`
	Users     *[]User    `json:"users,omitempty"`
}
