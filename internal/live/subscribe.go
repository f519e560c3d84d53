package live

import (
	"sync"
	"sync/atomic"
)

type subscription struct {
	fn func(Snapshot)

	// mu is held while fn runs so that unsubscribe can wait out an
	// in-flight delivery.
	mu         sync.Mutex
	seen       uint64
	closed     atomic.Bool
	inCallback atomic.Bool
}

func (s *subscription) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || snap.Version <= s.seen {
		return
	}
	s.seen = snap.Version
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	s.fn(snap)
}

// Subscribe calls fn with the current snapshot before returning, then with
// every newer snapshot. Deliveries to one subscriber never overlap and never
// go backwards in Version; intermediate versions may be skipped when
// updates arrive faster than fn returns.
//
// The returned function unsubscribes. Once it returns fn is not invoked
// again. It may be called from inside fn and more than once.
func (c *Channel) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s := &subscription{fn: fn}

	c.mu.Lock()
	c.subs = append(c.subs, s)
	snap := c.current
	c.mu.Unlock()

	s.deliver(snap)

	return func() {
		if s.closed.Swap(true) {
			return
		}
		c.mu.Lock()
		for i, other := range c.subs {
			if other == s {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()

		if !s.inCallback.Load() {
			s.mu.Lock()
			s.mu.Unlock() //nolint:staticcheck // waits for an in-flight delivery
		}
	}
}

// deliverLoop hands the latest snapshot to subscribers whenever the loop
// publishes one.
func (c *Channel) deliverLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.notify:
		}

		c.mu.Lock()
		snap := c.current
		subs := make([]*subscription, len(c.subs))
		copy(subs, c.subs)
		c.mu.Unlock()

		for _, s := range subs {
			s.deliver(snap)
		}
	}
}
