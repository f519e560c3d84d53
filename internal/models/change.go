package models

// ChangeKind describes what happened to an entry.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is a store change event delivered to watchers.
type Change struct {
	// Seq is a feed-wide sequence number, strictly increasing per feed.
	Seq uint64 `json:"seq"`

	Kind ChangeKind `json:"kind"`

	// Entry is the entry after the change. For deletions only ID and
	// Revision are meaningful.
	Entry Entry `json:"entry"`
}

// State is the full view of the store used for resynchronization.
type State struct {
	// Active is the current active Auto entry, if any.
	Active *Entry `json:"active,omitempty"`

	// History holds completed entries, newest first.
	History []Entry `json:"history"`

	// Seq is the feed sequence number the state is consistent with.
	Seq uint64 `json:"seq"`
}
