// Package feed fans store change events out to watchers.
//
// Publishing never blocks. A watcher that falls a full buffer behind is
// dropped and its channel closed; it is expected to reconnect and resync
// from a full fetch rather than replay what it missed.
package feed

import (
	"log/slog"
	"sync"

	"github.com/mmynk/walktracker/internal/models"
)

// DefaultBuffer is the per-watcher channel capacity.
const DefaultBuffer = 64

// Hub is an in-process change feed.
type Hub struct {
	mu       sync.Mutex
	seq      uint64
	nextID   int
	watchers map[int]chan models.Change
	buffer   int
	logger   *slog.Logger

	onPublish func(models.Change)
	onDrop    func()
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-watcher buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithHooks registers callbacks for published changes and dropped watchers.
// They run with the hub lock held and must not call back into the hub.
func WithHooks(onPublish func(models.Change), onDrop func()) Option {
	return func(h *Hub) {
		h.onPublish = onPublish
		h.onDrop = onDrop
	}
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		watchers: make(map[int]chan models.Change),
		buffer:   DefaultBuffer,
		logger:   slog.Default().With("component", "feed"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish assigns the next sequence number to c and delivers it to every
// watcher. It returns the sequenced change.
func (h *Hub) Publish(c models.Change) models.Change {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	c.Seq = h.seq

	for id, ch := range h.watchers {
		select {
		case ch <- c:
		default:
			h.logger.Warn("Dropping slow watcher", "watcher", id, "seq", c.Seq)
			close(ch)
			delete(h.watchers, id)
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	if h.onPublish != nil {
		h.onPublish(c)
	}
	return c
}

// Seq returns the sequence number of the last published change.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Watch registers a watcher. The returned cancel func is idempotent and
// closes the channel if the hub has not already done so.
func (h *Hub) Watch() (<-chan models.Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan models.Change, h.buffer)
	h.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.watchers[id]; ok {
				close(c)
				delete(h.watchers, id)
			}
		})
	}
	return ch, cancel
}

// Len returns the number of registered watchers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}
