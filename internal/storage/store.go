// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"time"

	"github.com/mmynk/walktracker/internal/models"
)

// Store defines the document store operations used by the mutation gateway.
// This abstraction allows swapping storage backends without changing the
// service layer.
//
// Errors match models.ErrNotFound and models.ErrConflict where noted.
type Store interface {
	// CreateEntry persists a new entry. The store assigns the ID (when empty),
	// sets Revision to 1 and fills CreatedAt/UpdatedAt on the passed entry.
	// Creating a second active auto entry fails with ErrConflict.
	CreateEntry(ctx context.Context, entry *models.Entry) error

	// GetEntry retrieves an entry by ID. Returns ErrNotFound if absent.
	GetEntry(ctx context.Context, entryID string) (*models.Entry, error)

	// UpdateEntry replaces an entry if its stored revision still equals
	// expectedRevision. On success entry.Revision is advanced.
	// Returns ErrNotFound or ErrConflict.
	UpdateEntry(ctx context.Context, entry *models.Entry, expectedRevision int64) error

	// AddEntryUser atomically adds a user to an active entry's user set and
	// returns the resulting entry. added is false when the user was already
	// present, in which case the revision is unchanged.
	AddEntryUser(ctx context.Context, entryID string, user models.User) (entry *models.Entry, added bool, err error)

	// DeleteEntry removes an entry and returns what was deleted, or nil if
	// no entry had that ID.
	DeleteEntry(ctx context.Context, entryID string) (*models.Entry, error)

	// ActiveEntry returns the current active auto entry, or nil.
	ActiveEntry(ctx context.Context) (*models.Entry, error)

	// LatestOutsideEntry returns the most recently started outside entry, or nil.
	LatestOutsideEntry(ctx context.Context) (*models.Entry, error)

	// ListCompleted returns all completed entries, newest first.
	ListCompleted(ctx context.Context) ([]models.Entry, error)

	// ListCompletedBetween returns completed entries with from <= startTime < to,
	// newest first.
	ListCompletedBetween(ctx context.Context, from, to time.Time) ([]models.Entry, error)

	// UpsertUser creates or refreshes a user record.
	UpsertUser(ctx context.Context, user models.User) error

	// ListUsers returns all known users ordered by name.
	ListUsers(ctx context.Context) ([]models.User, error)

	// Close releases any resources held by the store.
	Close() error
}
