// Package api defines the messages exchanged over the walktracker RPC
// surface and the codec and error mapping shared by servers and clients.
//
// Messages are plain Go structs encoded as JSON; there are no generated
// stubs. Handler and client constructors live in package apiconnect.
package api

import (
	"time"

	"github.com/mmynk/walktracker/internal/entry"
	"github.com/mmynk/walktracker/internal/models"
	"github.com/mmynk/walktracker/internal/stats"
)

// EntryResponse is returned by every mutation that yields an entry.
type EntryResponse struct {
	Entry models.Entry `json:"entry"`
}

type StartRequest struct{}

// AppendUserRequest adds a walker to an active entry. When User is nil the
// caller's identity is used.
type AppendUserRequest struct {
	EntryID string       `json:"entryId"`
	User    *models.User `json:"user,omitempty"`
}

type FinishRequest struct {
	EntryID  string            `json:"entryId"`
	Revision int64             `json:"revision"`
	Input    entry.FinishInput `json:"input"`
}

type AddManualRequest struct {
	Input entry.ManualInput `json:"input"`
}

type EditCompletedRequest struct {
	EntryID  string            `json:"entryId"`
	Revision int64             `json:"revision"`
	Patch    models.EntryPatch `json:"patch"`
}

type UpdateRequest struct {
	EntryID  string            `json:"entryId"`
	Revision int64             `json:"revision"`
	Patch    models.EntryPatch `json:"patch"`
}

type DeleteRequest struct {
	EntryID string `json:"entryId"`
}

// DeleteResponse reports whether an entry was removed. Deleting an unknown
// id succeeds with Deleted false.
type DeleteResponse struct {
	Deleted bool          `json:"deleted"`
	Entry   *models.Entry `json:"entry,omitempty"`
}

type SnapshotRequest struct{}

type SnapshotResponse struct {
	State models.State `json:"state"`
}

type UsersRequest struct{}

type UsersResponse struct {
	Users []models.User `json:"users"`
}

type WatchRequest struct{}

// WatchResponse carries one change event on the Watch stream. The first
// message of a stream has no Change and only reports the feed position.
type WatchResponse struct {
	Change *models.Change `json:"change,omitempty"`
	Seq    uint64         `json:"seq"`
}

// GetStatsRequest selects the stats window. Zero values fall back to the
// server defaults.
type GetStatsRequest struct {
	Days     int    `json:"days,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`

	// Now overrides the server clock, mostly for reproducible reports.
	Now *time.Time `json:"now,omitempty"`
}

type GetStatsResponse struct {
	Report stats.Report `json:"report"`
}
