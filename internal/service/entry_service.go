package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/walktracker/internal/entry"
	"github.com/mmynk/walktracker/internal/feed"
	"github.com/mmynk/walktracker/internal/metrics"
	"github.com/mmynk/walktracker/internal/models"
	"github.com/mmynk/walktracker/internal/storage"
)

// Option configures the services in this package.
type Option func(*options)

type options struct {
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	days     int
	location *time.Location
	cacheTTL time.Duration
}

// WithMetrics records service activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(component string, opts []Option) options {
	o := options{
		now:      time.Now,
		days:     defaultStatsDays,
		location: time.UTC,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", component)
	return o
}

// EntryService is the mutation gateway. Every write goes through one of its
// methods, which re-validates the merged entry, persists it with a revision
// check, and publishes the resulting change to the feed.
type EntryService struct {
	store   storage.Store
	hub     *feed.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// writeMu is held across a store write and its feed publish so feed
	// order matches commit order.
	writeMu sync.Mutex
}

// NewEntryService creates a gateway over store that publishes to hub.
func NewEntryService(store storage.Store, hub *feed.Hub, opts ...Option) *EntryService {
	o := buildOptions("gateway", opts)
	return &EntryService{
		store:   store,
		hub:     hub,
		metrics: o.metrics,
		logger:  o.logger,
		now:     o.now,
	}
}

// Create persists a new entry after validating it.
func (s *EntryService) Create(ctx context.Context, e models.Entry) (models.Entry, error) {
	return s.create(ctx, "create", e)
}

// Start begins a new live walk. It fails with ErrConflict while another
// walk is active.
func (s *EntryService) Start(ctx context.Context) (models.Entry, error) {
	return s.create(ctx, "start", entry.Start(s.now()))
}

// AddManual records a walk after the fact.
func (s *EntryService) AddManual(ctx context.Context, in entry.ManualInput) (models.Entry, error) {
	e, err := entry.AddManual(in)
	if err != nil {
		s.metrics.ObserveMutation("add_manual", err)
		return models.Entry{}, err
	}
	return s.create(ctx, "add_manual", e)
}

func (s *EntryService) create(ctx context.Context, op string, e models.Entry) (models.Entry, error) {
	if e.Type == "" {
		e.Type = models.EntryType
	}
	if e.Users == nil {
		e.Users = []models.User{}
	}

	err := entry.Validate(e)
	if err == nil {
		s.writeMu.Lock()
		err = s.store.CreateEntry(ctx, &e)
		if err == nil {
			s.publish(models.ChangeCreated, e)
		}
		s.writeMu.Unlock()
	}

	s.metrics.ObserveMutation(op, err)
	if err != nil {
		s.logger.Warn("Create rejected", "operation", op, "error", err)
		return models.Entry{}, err
	}

	s.logger.Info("Entry created",
		"operation", op,
		"entry_id", e.ID,
		"status", e.Status,
		"location", e.Location,
	)
	return e, nil
}

// AppendUser adds u to an active walk. Adding a user who is already on the
// walk succeeds without a new revision or change event. It takes no revision
// precondition: concurrent appends of different users all land.
func (s *EntryService) AppendUser(ctx context.Context, entryID string, u models.User) (models.Entry, error) {
	e, err := s.appendUser(ctx, entryID, u)
	s.metrics.ObserveMutation("append_user", err)
	if err != nil {
		s.logger.Warn("AppendUser rejected", "entry_id", entryID, "email", u.Email, "error", err)
		return models.Entry{}, err
	}
	return e, nil
}

func (s *EntryService) appendUser(ctx context.Context, entryID string, u models.User) (models.Entry, error) {
	if err := entry.ValidateUser(u); err != nil {
		return models.Entry{}, err
	}

	s.writeMu.Lock()
	e, added, err := s.store.AddEntryUser(ctx, entryID, u)
	if err == nil && added {
		s.publish(models.ChangeUpdated, *e)
	}
	s.writeMu.Unlock()
	if err != nil {
		return models.Entry{}, err
	}

	if added {
		s.logger.Info("Walker joined", "entry_id", entryID, "email", u.Email, "revision", e.Revision)
		if err := s.store.UpsertUser(ctx, u); err != nil {
			// The walk already has the user; a stale directory is not fatal.
			s.logger.Warn("Failed to record user", "email", u.Email, "error", err)
		}
	}
	return *e, nil
}

// Finish completes the active walk identified by entryID. revision is the
// revision the caller last saw.
func (s *EntryService) Finish(ctx context.Context, entryID string, revision int64, in entry.FinishInput) (models.Entry, error) {
	return s.mutate(ctx, "finish", entryID, revision, func(e models.Entry) (models.Entry, error) {
		return entry.Finish(e, in)
	})
}

// EditCompleted patches a completed walk.
func (s *EntryService) EditCompleted(ctx context.Context, entryID string, revision int64, p models.EntryPatch) (models.Entry, error) {
	return s.mutate(ctx, "edit_completed", entryID, revision, func(e models.Entry) (models.Entry, error) {
		return entry.EditCompleted(e, p)
	})
}

// Update merges a patch into any entry and validates the result.
func (s *EntryService) Update(ctx context.Context, entryID string, revision int64, p models.EntryPatch) (models.Entry, error) {
	return s.mutate(ctx, "update", entryID, revision, func(e models.Entry) (models.Entry, error) {
		next := entry.Apply(e, p)
		if err := entry.Validate(next); err != nil {
			return e, err
		}
		return next, nil
	})
}

func (s *EntryService) mutate(ctx context.Context, op, entryID string, revision int64, fn func(models.Entry) (models.Entry, error)) (models.Entry, error) {
	e, err := s.applyMutation(ctx, entryID, revision, fn)
	s.metrics.ObserveMutation(op, err)
	if err != nil {
		s.logger.Warn("Mutation rejected", "operation", op, "entry_id", entryID, "revision", revision, "error", err)
		return models.Entry{}, err
	}
	s.logger.Info("Entry updated", "operation", op, "entry_id", entryID, "revision", e.Revision)
	return e, nil
}

func (s *EntryService) applyMutation(ctx context.Context, entryID string, revision int64, fn func(models.Entry) (models.Entry, error)) (models.Entry, error) {
	if revision <= 0 {
		return models.Entry{}, models.NewValidationError("revision", "is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.Entry{}, err
	}
	if cur.Revision != revision {
		return models.Entry{}, fmt.Errorf("entry %s at revision %d, caller saw %d: %w", entryID, cur.Revision, revision, models.ErrConflict)
	}

	next, err := fn(*cur)
	if err != nil {
		return models.Entry{}, err
	}
	if err := s.store.UpdateEntry(ctx, &next, revision); err != nil {
		return models.Entry{}, err
	}

	s.publish(models.ChangeUpdated, next)
	return next, nil
}

// Delete removes an entry. Deleting an unknown id is a no-op that returns
// nil, nil, so retried deletes are safe.
func (s *EntryService) Delete(ctx context.Context, entryID string) (*models.Entry, error) {
	s.writeMu.Lock()
	e, err := s.store.DeleteEntry(ctx, entryID)
	if err == nil && e != nil {
		gone := e.Clone()
		// The deletion is the entry's last mutation and outranks every
		// revision it had.
		gone.Revision++
		s.publish(models.ChangeDeleted, gone)
	}
	s.writeMu.Unlock()

	s.metrics.ObserveMutation("delete", err)
	if err != nil {
		s.logger.Warn("Delete failed", "entry_id", entryID, "error", err)
		return nil, err
	}
	if e == nil {
		s.logger.Debug("Delete of unknown entry ignored", "entry_id", entryID)
		return nil, nil
	}

	s.logger.Info("Entry deleted", "entry_id", entryID)
	return e, nil
}

func (s *EntryService) publish(kind models.ChangeKind, e models.Entry) {
	c := s.hub.Publish(models.Change{Kind: kind, Entry: e.Clone()})
	s.logger.Debug("Change published", "seq", c.Seq, "kind", kind, "entry_id", e.ID, "revision", e.Revision)
}

// Active returns the active walk, or nil when none is in progress.
func (s *EntryService) Active(ctx context.Context) (*models.Entry, error) {
	return s.store.ActiveEntry(ctx)
}

// LatestOutside returns the most recent outside walk, or nil.
func (s *EntryService) LatestOutside(ctx context.Context) (*models.Entry, error) {
	return s.store.LatestOutsideEntry(ctx)
}

// Completed returns every completed walk, newest first.
func (s *EntryService) Completed(ctx context.Context) ([]models.Entry, error) {
	return s.store.ListCompleted(ctx)
}

// Between returns completed walks starting in [from, to), newest first.
func (s *EntryService) Between(ctx context.Context, from, to time.Time) ([]models.Entry, error) {
	return s.store.ListCompletedBetween(ctx, from, to)
}

// Users returns the walker directory.
func (s *EntryService) Users(ctx context.Context) ([]models.User, error) {
	return s.store.ListUsers(ctx)
}

// Snapshot returns the active walk and history together with the feed
// sequence they are consistent with. A watcher registered before the call
// receives every change after Seq.
func (s *EntryService) Snapshot(ctx context.Context) (models.State, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	seq := s.hub.Seq()
	active, err := s.store.ActiveEntry(ctx)
	if err != nil {
		return models.State{}, fmt.Errorf("failed to read active entry: %w", err)
	}
	history, err := s.store.ListCompleted(ctx)
	if err != nil {
		return models.State{}, fmt.Errorf("failed to read history: %w", err)
	}
	return models.State{Active: active, History: history, Seq: seq}, nil
}

// Fetch is Snapshot under the name live channels expect of a source.
func (s *EntryService) Fetch(ctx context.Context) (models.State, error) {
	return s.Snapshot(ctx)
}

// Watch subscribes to the change feed until ctx is done. The channel is
// closed when ctx ends or the feed drops the watcher for falling behind.
func (s *EntryService) Watch(ctx context.Context) (<-chan models.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	changes, cancel := s.hub.Watch()
	context.AfterFunc(ctx, cancel)
	return changes, nil
}

// Seq returns the last published feed sequence number.
func (s *EntryService) Seq() uint64 {
	return s.hub.Seq()
}
