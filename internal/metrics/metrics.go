// Package metrics provides prometheus collectors for the walk tracker.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/walktracker/internal/models"
)

const namespace = "walktracker"

// Metrics contains the collectors for gateway, feed and live channel activity.
type Metrics struct {
	registry *prometheus.Registry

	mutationsTotal   *prometheus.CounterVec
	changesTotal     *prometheus.CounterVec
	watchersActive   prometheus.Gauge
	watchersDropped  prometheus.Counter
	reconnectsTotal  prometheus.Counter
	statsDuration    prometheus.Histogram
	statsCacheResult *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Entry mutations handled by the gateway, by operation and result.",
		}, []string{"operation", "result"}),
		changesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_published_total",
			Help:      "Change events published to the feed, by kind.",
		}, []string{"kind"}),
		watchersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_streams_active",
			Help:      "Open change stream subscriptions.",
		}),
		watchersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_streams_dropped_total",
			Help:      "Watchers dropped for falling behind the feed.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_reconnects_total",
			Help:      "Reconnection attempts made by live channels in this process.",
		}),
		statsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stats_compute_seconds",
			Help:      "Time spent fetching and aggregating stats.",
			Buckets:   prometheus.DefBuckets,
		}),
		statsCacheResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_cache_total",
			Help:      "Stats report cache lookups, by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.mutationsTotal,
		m.changesTotal,
		m.watchersActive,
		m.watchersDropped,
		m.reconnectsTotal,
		m.statsDuration,
		m.statsCacheResult,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveMutation counts a gateway mutation by its outcome.
func (m *Metrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

// ObserveChange counts a published change event.
func (m *Metrics) ObserveChange(c models.Change) {
	if m == nil {
		return
	}
	m.changesTotal.WithLabelValues(string(c.Kind)).Inc()
}

// WatcherOpened and WatcherClosed track open change streams.
func (m *Metrics) WatcherOpened() {
	if m == nil {
		return
	}
	m.watchersActive.Inc()
}

func (m *Metrics) WatcherClosed() {
	if m == nil {
		return
	}
	m.watchersActive.Dec()
}

// WatcherDropped counts a watcher evicted by the feed.
func (m *Metrics) WatcherDropped() {
	if m == nil {
		return
	}
	m.watchersDropped.Inc()
}

// Reconnect counts a live channel reconnection attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// ObserveStats records how long a stats report took to build.
func (m *Metrics) ObserveStats(d time.Duration) {
	if m == nil {
		return
	}
	m.statsDuration.Observe(d.Seconds())
}

// StatsCache counts a cache hit or miss.
func (m *Metrics) StatsCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.statsCacheResult.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
