// Package live keeps a local, observable view of the walk store.
//
// A Channel merges store-confirmed entries with locally issued optimistic
// writes and hands every subscriber a consistent Snapshot. All state is owned
// by a single loop goroutine; subscribers are called from one delivery
// goroutine, so callbacks never run concurrently with each other.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mmynk/walktracker/internal/entry"
	"github.com/mmynk/walktracker/internal/metrics"
	"github.com/mmynk/walktracker/internal/models"
)

var (
	// ErrClosed is returned by mutations issued after Close.
	ErrClosed = errors.New("live channel closed")

	// ErrNotConnected is returned by mutations issued before Connect.
	ErrNotConnected = errors.New("live channel not connected")
)

// Source provides the authoritative state and its change stream.
type Source interface {
	// Fetch returns the full state together with the feed sequence it is
	// consistent with.
	Fetch(ctx context.Context) (models.State, error)

	// Watch streams changes until ctx is done or the transport fails, at
	// which point the channel is closed. The watch must be registered by
	// the time Watch returns.
	Watch(ctx context.Context) (<-chan models.Change, error)
}

// Gateway performs mutations against the store.
type Gateway interface {
	Start(ctx context.Context) (models.Entry, error)
	AppendUser(ctx context.Context, entryID string, u models.User) (models.Entry, error)
	Finish(ctx context.Context, entryID string, revision int64, in entry.FinishInput) (models.Entry, error)
	AddManual(ctx context.Context, in entry.ManualInput) (models.Entry, error)
	EditCompleted(ctx context.Context, entryID string, revision int64, p models.EntryPatch) (models.Entry, error)
	Delete(ctx context.Context, entryID string) (*models.Entry, error)
}

// Snapshot is the view delivered to subscribers.
type Snapshot struct {
	// Active is the walk in progress, or nil.
	Active *models.Entry

	// History holds completed walks, newest first.
	History []models.Entry

	// Version increases with every published snapshot.
	Version uint64

	// Connected is false while the change stream is down. The rest of the
	// snapshot is then the last known state.
	Connected bool

	// Stale is set once reconnect backoff is exhausted and cleared by the
	// next successful resync.
	Stale bool

	// Pending counts mutations awaiting confirmation.
	Pending int
}

// BackoffConfig bounds reconnect attempts.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

// DefaultBackoff matches the server configuration defaults.
var DefaultBackoff = BackoffConfig{
	Initial:    500 * time.Millisecond,
	Max:        30 * time.Second,
	MaxElapsed: 2 * time.Minute,
}

// Option configures a Channel.
type Option func(*Channel)

// WithBackoff sets the reconnect policy.
func WithBackoff(b BackoffConfig) Option {
	return func(c *Channel) { c.backoff = b }
}

// WithIdentity makes Start put u on the walk it creates.
func WithIdentity(u models.User) Option {
	return func(c *Channel) { c.identity = &u }
}

// WithLogger sets the channel logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithMetrics counts reconnects on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// WithClock replaces time.Now for optimistic entries.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// op is a mutation awaiting confirmation. apply replays its optimistic effect
// on a view of the entries. epoch is the resync count when the op was issued.
type op struct {
	id    string
	kind  string
	epoch uint64
	apply func(view map[string]models.Entry)
}

// Channel is a live view of the store. Create it with New, run it with
// Connect and release it with Close.
type Channel struct {
	source   Source
	gateway  Gateway
	backoff  BackoffConfig
	identity *models.User
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	closeOnce sync.Once
	stopLink  func() bool
	wg        sync.WaitGroup

	inbox  chan func()
	notify chan struct{}

	mu      sync.Mutex
	current Snapshot
	subs    []*subscription

	// Owned by the loop goroutine.
	confirmed  map[string]models.Entry
	tombstones map[string]int64
	aliases    map[string]string
	pending    []*op
	baseSeq    uint64
	resyncs    uint64
	connected  bool
	stale      bool
}

// New creates a channel over source and gateway. Nothing runs until Connect.
func New(source Source, gateway Gateway, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		source:     source,
		gateway:    gateway,
		backoff:    DefaultBackoff,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		inbox:      make(chan func()),
		notify:     make(chan struct{}, 1),
		current:    Snapshot{Version: 1, History: []models.Entry{}},
		confirmed:  make(map[string]models.Entry),
		tombstones: make(map[string]int64),
		aliases:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "live")
	return c
}

// Connect attaches to the source and begins delivering snapshots. The
// channel stops when ctx is done or Close is called.
func (c *Channel) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("live channel already connected")
	}
	c.mu.Lock()
	c.stopLink = context.AfterFunc(ctx, c.cancel)
	c.mu.Unlock()

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.loop()
	}()
	go func() {
		defer c.wg.Done()
		c.deliverLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.connect()
	}()
	return nil
}

// Close stops the channel and waits for its goroutines. It is safe to call
// more than once but must not be called from a subscriber callback.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		stop := c.stopLink
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		c.wg.Wait()
		c.logger.Debug("Live channel closed")
	})
}

// Snapshot returns the most recently published snapshot.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Channel) loop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.inbox:
			fn()
			c.publish()
		}
	}
}

// post runs fn on the loop goroutine without waiting for it.
func (c *Channel) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// call runs fn on the loop goroutine and returns its error.
func (c *Channel) call(fn func() error) error {
	if !c.started.Load() {
		return ErrNotConnected
	}
	done := make(chan error, 1)
	posted := c.post(func() {
		err := fn()
		c.publish()
		done <- err
	})
	if !posted {
		return ErrClosed
	}
	return <-done
}

// Start begins a walk. The optimistic walk carries a temporary id until the
// store confirms it.
func (c *Channel) Start(ctx context.Context) (models.Entry, error) {
	o := &op{id: newTempID(), kind: "start"}
	err := c.call(func() error {
		if active := activeOf(c.view(), c.pending); active != nil {
			return fmt.Errorf("walk %s is already in progress: %w", active.ID, models.ErrConflict)
		}
		optimistic := entry.Start(c.now())
		optimistic.ID = o.id
		if c.identity != nil {
			optimistic.Users = []models.User{*c.identity}
		}
		o.apply = func(view map[string]models.Entry) {
			view[o.id] = optimistic.Clone()
		}
		c.track(o)
		return nil
	})
	if err != nil {
		return models.Entry{}, err
	}

	e, err := c.gateway.Start(ctx)
	if err == nil && c.identity != nil {
		joined, joinErr := c.gateway.AppendUser(ctx, e.ID, *c.identity)
		if joinErr != nil {
			c.logger.Warn("Failed to join started walk", "entry_id", e.ID, "error", joinErr)
		} else {
			e = joined
		}
	}
	c.settle(o, err, func() {
		c.aliases[o.id] = e.ID
		c.confirm(o, models.Change{Kind: models.ChangeCreated, Entry: e})
	})
	return e, err
}

// AppendUser adds u to the walk identified by entryID.
func (c *Channel) AppendUser(ctx context.Context, entryID string, u models.User) (models.Entry, error) {
	o := &op{id: newTempID(), kind: "append_user"}
	var target string
	err := c.call(func() error {
		cur, err := c.resolve(entryID)
		if err != nil {
			return err
		}
		if _, err := entry.AppendUser(cur, u); err != nil {
			return err
		}
		target = cur.ID
		o.apply = func(view map[string]models.Entry) {
			if e, ok := view[target]; ok {
				if next, err := entry.AppendUser(e, u); err == nil {
					view[target] = next
				}
			}
		}
		c.track(o)
		return nil
	})
	if err != nil {
		return models.Entry{}, err
	}

	e, err := c.gateway.AppendUser(ctx, target, u)
	c.settle(o, err, func() { c.confirm(o, models.Change{Kind: models.ChangeUpdated, Entry: e}) })
	return e, err
}

// Finish completes the walk identified by entryID at the revision this
// channel last confirmed.
func (c *Channel) Finish(ctx context.Context, entryID string, in entry.FinishInput) (models.Entry, error) {
	return c.mutate(ctx, "finish", entryID,
		func(e models.Entry) (models.Entry, error) { return entry.Finish(e, in) },
		func(ctx context.Context, id string, rev int64) (models.Entry, error) {
			return c.gateway.Finish(ctx, id, rev, in)
		})
}

// EditCompleted patches a completed walk.
func (c *Channel) EditCompleted(ctx context.Context, entryID string, p models.EntryPatch) (models.Entry, error) {
	return c.mutate(ctx, "edit_completed", entryID,
		func(e models.Entry) (models.Entry, error) { return entry.EditCompleted(e, p) },
		func(ctx context.Context, id string, rev int64) (models.Entry, error) {
			return c.gateway.EditCompleted(ctx, id, rev, p)
		})
}

func (c *Channel) mutate(
	ctx context.Context,
	kind, entryID string,
	transition func(models.Entry) (models.Entry, error),
	remote func(context.Context, string, int64) (models.Entry, error),
) (models.Entry, error) {
	o := &op{id: newTempID(), kind: kind}
	var target string
	var revision int64
	err := c.call(func() error {
		cur, err := c.resolve(entryID)
		if err != nil {
			return err
		}
		if _, err := transition(cur); err != nil {
			return err
		}
		target, revision = cur.ID, c.confirmed[cur.ID].Revision
		o.apply = func(view map[string]models.Entry) {
			if e, ok := view[target]; ok {
				if next, err := transition(e); err == nil {
					view[target] = next
				}
			}
		}
		c.track(o)
		return nil
	})
	if err != nil {
		return models.Entry{}, err
	}

	e, err := remote(ctx, target, revision)
	c.settle(o, err, func() { c.confirm(o, models.Change{Kind: models.ChangeUpdated, Entry: e}) })
	return e, err
}

// AddManual records a walk after the fact.
func (c *Channel) AddManual(ctx context.Context, in entry.ManualInput) (models.Entry, error) {
	optimistic, err := entry.AddManual(in)
	if err != nil {
		return models.Entry{}, err
	}
	o := &op{id: newTempID(), kind: "add_manual"}
	optimistic.ID = o.id
	err = c.call(func() error {
		o.apply = func(view map[string]models.Entry) {
			view[o.id] = optimistic.Clone()
		}
		c.track(o)
		return nil
	})
	if err != nil {
		return models.Entry{}, err
	}

	e, err := c.gateway.AddManual(ctx, in)
	c.settle(o, err, func() {
		c.aliases[o.id] = e.ID
		c.confirm(o, models.Change{Kind: models.ChangeCreated, Entry: e})
	})
	return e, err
}

// Delete removes the walk identified by entryID. It returns nil when the
// store no longer had it.
func (c *Channel) Delete(ctx context.Context, entryID string) (*models.Entry, error) {
	o := &op{id: newTempID(), kind: "delete"}
	var target string
	var revision int64
	err := c.call(func() error {
		cur, err := c.resolve(entryID)
		if err != nil {
			return err
		}
		target, revision = cur.ID, c.confirmed[cur.ID].Revision
		o.apply = func(view map[string]models.Entry) {
			delete(view, target)
		}
		c.track(o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e, err := c.gateway.Delete(ctx, target)
	c.settle(o, err, func() {
		rev := revision
		if e != nil {
			rev = e.Revision
		}
		c.confirm(o, models.Change{
			Kind:  models.ChangeDeleted,
			Entry: models.Entry{ID: target, Revision: rev + 1},
		})
	})
	return e, err
}

// settle removes o from the pending table. On success onOK records the
// confirmed result first; on failure the op is dropped, which rolls its
// optimistic effect back.
func (c *Channel) settle(o *op, err error, onOK func()) {
	done := make(chan struct{})
	posted := c.post(func() {
		if err == nil {
			onOK()
		} else {
			c.logger.Info("Optimistic write rolled back", "operation", o.kind, "op_id", o.id, "error", err)
		}
		c.removeOp(o)
		c.publish()
		close(done)
	})
	if !posted {
		c.logger.Debug("Channel closed before write settled", "operation", o.kind, "op_id", o.id)
		return
	}
	<-done
}

// track adds o to the pending table.
func (c *Channel) track(o *op) {
	o.epoch = c.resyncs
	c.pending = append(c.pending, o)
}

// confirm folds the remote result of o into the confirmed state. After a
// resync the fetched state may already hold a newer version or a deletion
// of the entry, so results of ops issued before it are left to the change
// stream.
func (c *Channel) confirm(o *op, ch models.Change) {
	if o.epoch != c.resyncs {
		c.logger.Debug("Write result superseded by resync", "operation", o.kind, "entry_id", ch.Entry.ID)
		return
	}
	c.applyChange(ch)
}

func (c *Channel) removeOp(o *op) {
	for i, p := range c.pending {
		if p == o {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// resolve maps entryID, which may be a confirmed temporary id, to the entry
// as currently viewed.
func (c *Channel) resolve(entryID string) (models.Entry, error) {
	id := entryID
	if real, ok := c.aliases[id]; ok {
		id = real
	} else if strings.HasPrefix(id, models.TempIDPrefix) {
		if c.isPending(id) {
			return models.Entry{}, models.NewValidationError("entryID", "walk is not confirmed yet")
		}
		return models.Entry{}, fmt.Errorf("entry %s: %w", id, models.ErrNotFound)
	}
	if _, ok := c.confirmed[id]; !ok {
		return models.Entry{}, fmt.Errorf("entry %s: %w", id, models.ErrNotFound)
	}
	e, ok := c.view()[id]
	if !ok {
		return models.Entry{}, fmt.Errorf("entry %s is being deleted: %w", id, models.ErrNotFound)
	}
	return e, nil
}

func (c *Channel) isPending(id string) bool {
	for _, o := range c.pending {
		if o.id == id {
			return true
		}
	}
	return false
}

// applyChange folds a confirmed change into the state. Changes at or below
// the resync point and revisions not newer than the held one are discarded.
func (c *Channel) applyChange(ch models.Change) bool {
	if ch.Seq != 0 && ch.Seq <= c.baseSeq {
		return false
	}
	id, rev := ch.Entry.ID, ch.Entry.Revision
	if gone, ok := c.tombstones[id]; ok && rev <= gone {
		return false
	}
	if cur, ok := c.confirmed[id]; ok && rev <= cur.Revision {
		return false
	}

	if ch.Kind == models.ChangeDeleted {
		delete(c.confirmed, id)
		c.tombstones[id] = rev
		c.dropAliases(func(real string) bool { return real == id })
		return true
	}
	c.confirmed[id] = ch.Entry.Clone()
	return true
}

// resync replaces confirmed state with a fetched one.
func (c *Channel) resync(state models.State) {
	c.confirmed = make(map[string]models.Entry, len(state.History)+1)
	c.tombstones = make(map[string]int64)
	if state.Active != nil {
		c.confirmed[state.Active.ID] = state.Active.Clone()
	}
	for _, e := range state.History {
		c.confirmed[e.ID] = e.Clone()
	}
	c.dropAliases(func(real string) bool {
		_, ok := c.confirmed[real]
		return !ok
	})
	c.baseSeq = state.Seq
	c.resyncs++
	c.connected = true
	c.stale = false
}

// dropAliases forgets temporary ids whose real id matches gone.
func (c *Channel) dropAliases(gone func(real string) bool) {
	for tmp, real := range c.aliases {
		if gone(real) {
			delete(c.aliases, tmp)
		}
	}
}

// view returns confirmed entries with pending ops replayed in issue order.
func (c *Channel) view() map[string]models.Entry {
	view := make(map[string]models.Entry, len(c.confirmed)+len(c.pending))
	for id, e := range c.confirmed {
		view[id] = e
	}
	for _, o := range c.pending {
		if o.apply != nil {
			o.apply(view)
		}
	}
	return view
}

// activeOf picks the walk in progress. A pending optimistic start wins over
// confirmed entries so that confirmation of the same walk does not flicker.
func activeOf(view map[string]models.Entry, pending []*op) *models.Entry {
	for _, o := range pending {
		if e, ok := view[o.id]; ok && e.Status == models.StatusActive {
			return &e
		}
	}
	var active *models.Entry
	for _, e := range view {
		e := e // per-iteration copy; &e is retained below (go1.22 loopvar semantics)
		if e.Status != models.StatusActive || e.Mode != models.ModeAuto {
			continue
		}
		if active == nil || e.StartTime.After(active.StartTime) ||
			(e.StartTime.Equal(active.StartTime) && e.ID < active.ID) {
			active = &e
		}
	}
	return active
}

func historyOf(view map[string]models.Entry) []models.Entry {
	history := make([]models.Entry, 0, len(view))
	for _, e := range view {
		if e.Status == models.StatusCompleted {
			history = append(history, e.Clone())
		}
	}
	sort.Slice(history, func(i, j int) bool {
		if !history[i].StartTime.Equal(history[j].StartTime) {
			return history[i].StartTime.After(history[j].StartTime)
		}
		return history[i].ID < history[j].ID
	})
	return history
}

// publish builds the current view and hands it to subscribers unless it is
// identical to the last one.
func (c *Channel) publish() {
	view := c.view()
	next := Snapshot{
		Active:    activeOf(view, c.pending),
		History:   historyOf(view),
		Connected: c.connected,
		Stale:     c.stale,
		Pending:   len(c.pending),
	}
	if next.Active != nil {
		a := next.Active.Clone()
		next.Active = &a
	}

	c.mu.Lock()
	next.Version = c.current.Version
	if reflect.DeepEqual(next, c.current) {
		c.mu.Unlock()
		return
	}
	next.Version++
	c.current = next
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func newTempID() string {
	return models.TempIDPrefix + uuid.NewString()
}

// connect keeps a watch session open, reconnecting with capped exponential
// backoff. Once the backoff gives up the channel is marked stale and retries
// continue every Max.
func (c *Channel) connect() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff.Initial
	b.MaxInterval = c.backoff.Max
	b.MaxElapsedTime = c.backoff.MaxElapsed
	b.Reset()

	for {
		err := c.session(b)
		if c.ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		exhausted := wait == backoff.Stop
		if exhausted {
			wait = b.MaxInterval
		}
		c.logger.Warn("Change stream lost", "error", err, "retry_in", wait, "stale", exhausted)
		c.post(func() {
			c.connected = false
			if exhausted {
				c.stale = true
			}
		})

		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		c.metrics.Reconnect()
	}
}

// session watches, resyncs and then forwards changes until the stream ends.
func (c *Channel) session(b *backoff.ExponentialBackOff) error {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	changes, err := c.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	state, err := c.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if !c.post(func() { c.resync(state) }) {
		return ErrClosed
	}
	b.Reset()
	c.logger.Info("Live channel synchronized", "seq", state.Seq, "history", len(state.History))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-changes:
			if !ok {
				return models.ErrTransport
			}
			c.post(func() {
				if c.applyChange(ch) {
					c.logger.Debug("Change applied", "seq", ch.Seq, "kind", ch.Kind, "entry_id", ch.Entry.ID)
				}
			})
		}
	}
}
