package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/walktracker/internal/feed"
	"github.com/mmynk/walktracker/internal/metrics"
	"github.com/mmynk/walktracker/internal/models"
	"github.com/mmynk/walktracker/internal/stats"
	"github.com/mmynk/walktracker/internal/storage"
)

const (
	defaultStatsDays = stats.DefaultDays
	defaultCacheTTL  = 30 * time.Second
)

// WithStatsWindow sets the default window length and time zone for stats.
func WithStatsWindow(days int, loc *time.Location) Option {
	return func(o *options) {
		if days > 0 {
			o.days = days
		}
		if loc != nil {
			o.location = loc
		}
	}
}

// WithCacheTTL sets how long a computed report is served from cache. Zero
// disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.cacheTTL = ttl }
}

// ReportQuery selects a stats report. Zero values use the service defaults.
type ReportQuery struct {
	Days     int
	Location *time.Location

	// Now pins the report clock. Pinned reports bypass the cache.
	Now *time.Time
}

// StatsService builds stats reports from the store. Reports are cached until
// the next change on the feed or the TTL, whichever comes first.
type StatsService struct {
	store    storage.Store
	cache    *cache.Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	days     int
	location *time.Location

	// generation advances on every invalidation; a report built across an
	// invalidation is not cached.
	generation atomic.Uint64
}

// NewStatsService creates a stats service over store.
func NewStatsService(store storage.Store, opts ...Option) *StatsService {
	o := buildOptions("stats", opts)
	return &StatsService{
		store: store,
		// No janitor: expired reports are skipped on read and the whole
		// cache is flushed on every change.
		cache:    cache.New(o.cacheTTL, 0),
		cacheTTL: o.cacheTTL,
		metrics:  o.metrics,
		logger:   o.logger,
		now:      o.now,
		days:     o.days,
		location: o.location,
	}
}

// Report returns the stats report for q.
func (s *StatsService) Report(ctx context.Context, q ReportQuery) (stats.Report, error) {
	days := q.Days
	if days <= 0 {
		days = s.days
	}
	loc := q.Location
	if loc == nil {
		loc = s.location
	}
	now := s.now()
	if q.Now != nil {
		now = *q.Now
	}

	useCache := q.Now == nil && s.cacheTTL > 0
	key := fmt.Sprintf("%d|%s|%s", days, loc.String(), now.In(loc).Format(time.DateOnly))
	if useCache {
		if cached, found := s.cache.Get(key); found {
			s.metrics.StatsCache(true)
			return cached.(stats.Report), nil
		}
		s.metrics.StatsCache(false)
	}

	gen := s.generation.Load()
	start := time.Now()
	w := stats.LastDays(now, days, loc)

	var window, history []models.Entry
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		window, err = s.store.ListCompletedBetween(gCtx, w.Start, w.End)
		if err != nil {
			return fmt.Errorf("failed to list window entries: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		history, err = s.store.ListCompleted(gCtx)
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("Stats report failed", "error", err)
		return stats.Report{}, err
	}

	report := stats.BuildReport(window, history, w, now)
	s.metrics.ObserveStats(time.Since(start))
	s.logger.Debug("Stats report built",
		"days", days,
		"time_zone", loc.String(),
		"window_entries", len(window),
		"history_entries", len(history),
	)

	if useCache && s.generation.Load() == gen {
		s.cache.Set(key, report, cache.DefaultExpiration)
	}
	return report, nil
}

// Invalidate drops every cached report.
func (s *StatsService) Invalidate() {
	s.generation.Add(1)
	s.cache.Flush()
}

// Run flushes the report cache on every change published to hub until ctx
// is done. If the hub drops the watcher, Run flushes and watches again.
func (s *StatsService) Run(ctx context.Context, hub *feed.Hub) error {
	for {
		changes, cancel := hub.Watch()
		err := s.drain(ctx, changes)
		cancel()
		if err != nil {
			return nil
		}
		s.logger.Debug("Stats watcher dropped, rewatching")
		s.Invalidate()
	}
}

// drain returns ctx.Err() when ctx ends and nil when changes is closed.
func (s *StatsService) drain(ctx context.Context, changes <-chan models.Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			s.Invalidate()
		}
	}
}
