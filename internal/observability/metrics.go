package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "map_marker"

// Metrics holds the Prometheus collectors for location resolution and the
// geocoder adapter.
type Metrics struct {
	// Service-level metrics.
	ResolveTotal     *prometheus.CounterVec // labels: status={OK,ZERO_RESULTS,...}
	ResolveDuration  prometheus.Histogram
	RecordsSaved     prometheus.Counter
	EventsPublished  *prometheus.CounterVec // labels: outcome={success,error}
	LegacyMigrations prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		ResolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_total",
			Help:      "Location resolves by resulting status.",
		}, []string{"status"}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Duration of a resolve including load and save.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RecordsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_saved_total",
			Help:      "Location records written to the repository.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Location change events by publish outcome.",
		}, []string{"outcome"}),
		LegacyMigrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_status_migrations_total",
			Help:      "Rows converted from the legacy status taxonomy.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when forward geocoding is enabled, 0 otherwise.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ResolveTotal,
		m.ResolveDuration,
		m.RecordsSaved,
		m.EventsPublished,
		m.LegacyMigrations,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
