// Package metrics exposes prefetch and cache instrumentation to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ligustah/imgwarm/pkg/prefetch"
)

const namespace = "imgwarm"

// Metrics is the Prometheus implementation of prefetch.Metrics.
type Metrics struct {
	items        *prometheus.CounterVec
	fetchSeconds *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	jobs         *prometheus.CounterVec
	skipped      prometheus.Counter
	cacheEntries prometheus.Gauge
	cacheBytes   prometheus.Gauge
	purged       *prometheus.CounterVec
}

var _ prefetch.Metrics = (*Metrics)(nil)

// New registers the collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		items: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prefetch_items_total",
				Help:      "Total number of finished prefetch items by outcome",
			},
			[]string{"outcome"}, // "succeeded", "failed", "cached"
		),
		fetchSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prefetch_fetch_duration_seconds",
				Help:      "Duration of fetch-and-cache operations in seconds",
				Buckets: []float64{
					0.005, // 5ms - cache hits
					0.025, // 25ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1,     // 1s
					2.5,   // 2.5s
					5,     // 5s
					10,    // 10s - large images, retries
					30,    // 30s
				},
			},
			[]string{"outcome"},
		),
		inFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prefetch_in_flight",
			Help:      "Number of fetches currently running",
		}),
		jobs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prefetch_jobs_total",
				Help:      "Total number of prefetch jobs by terminal state",
			},
			[]string{"state"}, // "completed", "cancelled"
		),
		skipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_skipped_items_total",
			Help:      "Total number of items skipped because they were cached or cancelled",
		}),
		cacheEntries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of entries in the image cache at the last scan",
		}),
		cacheBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Total size of the image cache at the last scan",
		}),
		purged: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_purged_entries_total",
				Help:      "Total number of entries removed from the image cache by reason",
			},
			[]string{"reason"}, // "expired", "evicted"
		),
	}
}

// ObserveItem records one finished item.
func (m *Metrics) ObserveItem(outcome prefetch.Outcome, d time.Duration) {
	m.items.WithLabelValues(outcome.String()).Inc()
	m.fetchSeconds.WithLabelValues(outcome.String()).Observe(d.Seconds())
}

// InFlight adjusts the in-flight gauge.
func (m *Metrics) InFlight(delta int) {
	m.inFlight.Add(float64(delta))
}

// ObserveJob records a job reaching a terminal state.
func (m *Metrics) ObserveJob(state prefetch.State, total, skipped int) {
	m.jobs.WithLabelValues(state.String()).Inc()
	m.skipped.Add(float64(skipped))
}

// SetCacheSize records the result of a cache scan.
func (m *Metrics) SetCacheSize(entries int, bytes int64) {
	m.cacheEntries.Set(float64(entries))
	m.cacheBytes.Set(float64(bytes))
}

// ObservePurge records entries removed by a purge.
func (m *Metrics) ObservePurge(expired, evicted int) {
	m.purged.WithLabelValues("expired").Add(float64(expired))
	m.purged.WithLabelValues("evicted").Add(float64(evicted))
}
