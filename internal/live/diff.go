package live

import (
	"fmt"
	"strings"

	"github.com/mmynk/walktracker/internal/models"
)

// EventKind names a transition worth announcing.
type EventKind string

const (
	WalkStarted        EventKind = "walk_started"
	WalkerJoined       EventKind = "walker_joined"
	WalkFinished       EventKind = "walk_finished"
	WalkCancelled      EventKind = "walk_cancelled"
	ConnectionLost     EventKind = "connection_lost"
	ConnectionRestored EventKind = "connection_restored"
	ConnectionStale    EventKind = "connection_stale"
)

// Event is one announcement derived from two consecutive snapshots.
type Event struct {
	Kind  EventKind
	Entry models.Entry
	// User is set for WalkerJoined.
	User *models.User
}

// Message renders the event for the given viewer, who may be empty.
func (e Event) Message(viewer string) string {
	switch e.Kind {
	case WalkStarted:
		return "A walk has started 🐕"
	case WalkerJoined:
		if e.User != nil && e.User.Email == viewer {
			return "You're added to the walk 💚"
		}
		return fmt.Sprintf("%s joined the walk", displayName(e.User))
	case WalkFinished:
		return fmt.Sprintf("Walk finished: %d pee, %d poop", e.Entry.Pees, e.Entry.Poops)
	case WalkCancelled:
		return "The walk was cancelled and deleted"
	case ConnectionLost:
		return "Connection lost, showing the last known walks"
	case ConnectionRestored:
		return "Back online"
	case ConnectionStale:
		return "Still offline, walks may be out of date"
	}
	return string(e.Kind)
}

// Diff lists what changed between prev and next. Replacing an optimistic
// walk by its confirmed copy is not a new start, and a rolled back start is
// not a cancellation.
func Diff(prev, next Snapshot) []Event {
	var events []Event

	switch {
	case prev.Connected && !next.Connected:
		events = append(events, Event{Kind: ConnectionLost})
	case !prev.Connected && next.Connected && prev.Version > 1:
		events = append(events, Event{Kind: ConnectionRestored})
	}
	if !prev.Stale && next.Stale {
		events = append(events, Event{Kind: ConnectionStale})
	}

	pa, na := prev.Active, next.Active
	sameWalk := pa != nil && na != nil && (pa.ID == na.ID || isConfirmationOf(pa, na))

	if na != nil && !sameWalk {
		events = append(events, Event{Kind: WalkStarted, Entry: *na})
	}
	if na != nil {
		for _, u := range na.Users {
			u := u // per-iteration copy; &u is retained below (go1.22 loopvar semantics)
			if sameWalk && pa.HasUser(u.Email) {
				continue
			}
			events = append(events, Event{Kind: WalkerJoined, Entry: *na, User: &u})
		}
	}

	if pa != nil && !sameWalk {
		if finished, ok := findFinished(pa, next.History); ok {
			events = append(events, Event{Kind: WalkFinished, Entry: finished})
		} else if !pa.IsTemporary() {
			events = append(events, Event{Kind: WalkCancelled, Entry: *pa})
		}
	}
	return events
}

// isConfirmationOf reports whether next is the store's copy of the
// optimistic walk prev.
func isConfirmationOf(prev, next *models.Entry) bool {
	return prev.IsTemporary() && !next.IsTemporary() && next.Status == models.StatusActive
}

func findFinished(active *models.Entry, history []models.Entry) (models.Entry, bool) {
	for _, e := range history {
		if e.ID == active.ID {
			return e, true
		}
	}
	return models.Entry{}, false
}

// Greeting is what a returning viewer is told about the current walk.
type Greeting struct {
	Message     string
	Description string
	// CanJoin is set when a walk is in progress without the viewer.
	CanJoin bool
}

// Greet summarizes snap for viewer.
func Greet(snap Snapshot, viewer string) Greeting {
	if snap.Active == nil {
		return Greeting{
			Message:     "Ready for a new walk? Welcome back! 👋",
			Description: "Tap start to begin a new walk",
		}
	}
	if snap.Active.HasUser(viewer) {
		return Greeting{
			Message:     "Hope you had a nice walk! 🐕‍🦺",
			Description: "Tap finish to end the walk",
		}
	}

	names := make([]string, 0, len(snap.Active.Users))
	for _, u := range snap.Active.Users {
		names = append(names, firstName(u.Name))
	}
	who := humanJoin(names)
	if who == "" {
		who = "Someone"
	}
	return Greeting{
		Message:     who + " is on a walk! 🤩",
		Description: "Tap finish to end the walk",
		CanJoin:     viewer != "",
	}
}

func displayName(u *models.User) string {
	if u == nil {
		return "Someone"
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// humanJoin joins names as "A", "A and B" or "A, B and C".
func humanJoin(names []string) string {
	var kept []string
	for _, n := range names {
		if n != "" {
			kept = append(kept, n)
		}
	}
	switch len(kept) {
	case 0:
		return ""
	case 1:
		return kept[0]
	default:
		return strings.Join(kept[:len(kept)-1], ", ") + " and " + kept[len(kept)-1]
	}
}
