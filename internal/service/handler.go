package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/walktracker/internal/api"
	"github.com/mmynk/walktracker/internal/api/apiconnect"
	"github.com/mmynk/walktracker/internal/metrics"
	"github.com/mmynk/walktracker/internal/middleware"
	"github.com/mmynk/walktracker/internal/models"
)

// errWatcherDropped ends a Watch stream whose watcher fell behind the feed.
var errWatcherDropped = errors.New("watcher fell behind the change feed; resync required")

// EntryHandler serves the entry service over connect.
type EntryHandler struct {
	svc     *EntryService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ apiconnect.EntryServiceHandler = (*EntryHandler)(nil)

// NewEntryHandler wraps the gateway for RPC.
func NewEntryHandler(svc *EntryService, opts ...Option) *EntryHandler {
	o := buildOptions("entry_handler", opts)
	return &EntryHandler{svc: svc, metrics: o.metrics, logger: o.logger}
}

func entryResponse(e models.Entry, err error) (*connect.Response[api.EntryResponse], error) {
	if err != nil {
		return nil, api.ToConnectError(err)
	}
	return connect.NewResponse(&api.EntryResponse{Entry: e}), nil
}

// Start begins a live walk.
func (h *EntryHandler) Start(ctx context.Context, req *connect.Request[api.StartRequest]) (*connect.Response[api.EntryResponse], error) {
	h.logger.Info("Start request received", "email", middleware.GetEmail(ctx))
	return entryResponse(h.svc.Start(ctx))
}

// AppendUser adds a walker to the active walk. Without an explicit user the
// caller joins.
func (h *EntryHandler) AppendUser(ctx context.Context, req *connect.Request[api.AppendUserRequest]) (*connect.Response[api.EntryResponse], error) {
	var u models.User
	if req.Msg.User != nil {
		u = *req.Msg.User
	} else {
		current, ok := middleware.CurrentUser(ctx)
		if !ok {
			return nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("authentication required to join a walk"))
		}
		u = current
	}

	h.logger.Info("AppendUser request received", "entry_id", req.Msg.EntryID, "email", u.Email)
	return entryResponse(h.svc.AppendUser(ctx, req.Msg.EntryID, u))
}

// Finish completes the active walk.
func (h *EntryHandler) Finish(ctx context.Context, req *connect.Request[api.FinishRequest]) (*connect.Response[api.EntryResponse], error) {
	h.logger.Info("Finish request received",
		"entry_id", req.Msg.EntryID,
		"revision", req.Msg.Revision,
		"pees", req.Msg.Input.Pees,
		"poops", req.Msg.Input.Poops,
	)
	return entryResponse(h.svc.Finish(ctx, req.Msg.EntryID, req.Msg.Revision, req.Msg.Input))
}

// AddManual records a walk after the fact.
func (h *EntryHandler) AddManual(ctx context.Context, req *connect.Request[api.AddManualRequest]) (*connect.Response[api.EntryResponse], error) {
	h.logger.Info("AddManual request received",
		"location", req.Msg.Input.Location,
		"users_count", len(req.Msg.Input.Users),
	)
	return entryResponse(h.svc.AddManual(ctx, req.Msg.Input))
}

// EditCompleted patches a completed walk.
func (h *EntryHandler) EditCompleted(ctx context.Context, req *connect.Request[api.EditCompletedRequest]) (*connect.Response[api.EntryResponse], error) {
	h.logger.Info("EditCompleted request received", "entry_id", req.Msg.EntryID, "revision", req.Msg.Revision)
	return entryResponse(h.svc.EditCompleted(ctx, req.Msg.EntryID, req.Msg.Revision, req.Msg.Patch))
}

// Update patches any entry.
func (h *EntryHandler) Update(ctx context.Context, req *connect.Request[api.UpdateRequest]) (*connect.Response[api.EntryResponse], error) {
	h.logger.Info("Update request received", "entry_id", req.Msg.EntryID, "revision", req.Msg.Revision)
	return entryResponse(h.svc.Update(ctx, req.Msg.EntryID, req.Msg.Revision, req.Msg.Patch))
}

// Delete removes an entry.
func (h *EntryHandler) Delete(ctx context.Context, req *connect.Request[api.DeleteRequest]) (*connect.Response[api.DeleteResponse], error) {
	h.logger.Info("Delete request received", "entry_id", req.Msg.EntryID)

	e, err := h.svc.Delete(ctx, req.Msg.EntryID)
	if err != nil {
		return nil, api.ToConnectError(err)
	}
	return connect.NewResponse(&api.DeleteResponse{Deleted: e != nil, Entry: e}), nil
}

// Snapshot returns the full state for resynchronization.
func (h *EntryHandler) Snapshot(ctx context.Context, req *connect.Request[api.SnapshotRequest]) (*connect.Response[api.SnapshotResponse], error) {
	state, err := h.svc.Snapshot(ctx)
	if err != nil {
		return nil, api.ToConnectError(err)
	}
	return connect.NewResponse(&api.SnapshotResponse{State: state}), nil
}

// Users lists the walker directory.
func (h *EntryHandler) Users(ctx context.Context, req *connect.Request[api.UsersRequest]) (*connect.Response[api.UsersResponse], error) {
	users, err := h.svc.Users(ctx)
	if err != nil {
		return nil, api.ToConnectError(err)
	}
	if users == nil {
		users = []models.User{}
	}
	return connect.NewResponse(&api.UsersResponse{Users: users}), nil
}

// Watch streams change events. The first message carries no change and
// confirms the watcher is registered, so a snapshot taken after it misses
// nothing.
func (h *EntryHandler) Watch(ctx context.Context, req *connect.Request[api.WatchRequest], stream *connect.ServerStream[api.WatchResponse]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes, err := h.svc.Watch(ctx)
	if err != nil {
		return api.ToConnectError(err)
	}

	h.metrics.WatcherOpened()
	defer h.metrics.WatcherClosed()

	if err := stream.Send(&api.WatchResponse{Seq: h.svc.Seq()}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				h.logger.Warn("Watch stream dropped", "email", middleware.GetEmail(ctx))
				return connect.NewError(connect.CodeUnavailable, errWatcherDropped)
			}
			if err := stream.Send(&api.WatchResponse{Change: &c, Seq: c.Seq}); err != nil {
				return err
			}
		}
	}
}

// StatsHandler serves the stats service over connect.
type StatsHandler struct {
	svc    *StatsService
	logger *slog.Logger
}

var _ apiconnect.StatsServiceHandler = (*StatsHandler)(nil)

// NewStatsHandler wraps the stats service for RPC.
func NewStatsHandler(svc *StatsService, opts ...Option) *StatsHandler {
	o := buildOptions("stats_handler", opts)
	return &StatsHandler{svc: svc, logger: o.logger}
}

// GetStats returns the stats report for the requested window.
func (h *StatsHandler) GetStats(ctx context.Context, req *connect.Request[api.GetStatsRequest]) (*connect.Response[api.GetStatsResponse], error) {
	h.logger.Info("GetStats request received", "days", req.Msg.Days, "time_zone", req.Msg.TimeZone)

	if req.Msg.Days < 0 {
		return nil, api.ToConnectError(models.NewValidationError("days", "must be >= 0"))
	}

	q := ReportQuery{Days: req.Msg.Days, Now: req.Msg.Now}
	if req.Msg.TimeZone != "" {
		loc, err := time.LoadLocation(req.Msg.TimeZone)
		if err != nil {
			return nil, api.ToConnectError(models.NewValidationError("timeZone", err.Error()))
		}
		q.Location = loc
	}

	report, err := h.svc.Report(ctx, q)
	if err != nil {
		return nil, api.ToConnectError(err)
	}
	return connect.NewResponse(&api.GetStatsResponse{Report: report}), nil
}
