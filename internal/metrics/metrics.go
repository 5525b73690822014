package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dashboard backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// View metrics
	ViewRequests *prometheus.CounterVec
	ViewLatency  *prometheus.HistogramVec
	ViewRows     *prometheus.HistogramVec

	// Loader metrics
	LoaderCache      *prometheus.CounterVec
	WarehouseLatency *prometheus.HistogramVec
	WarehouseErrors  *prometheus.CounterVec
	LoadedRows       *prometheus.GaugeVec

	// Snapshot and settings
	SnapshotVersion   prometheus.Gauge
	SettingsMutations *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec
	RateLimitHits *prometheus.CounterVec
	AuthFailures  *prometheus.CounterVec
	Panics        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses the
// default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		ViewRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "view_requests_total",
				Help:      "View requests by view and result status",
			},
			[]string{"view", "status"},
		),
		ViewLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "view_latency_seconds",
				Help:      "View assembly latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"view"},
		),
		ViewRows: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "view_rows",
				Help:      "Rows returned per view",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"view"},
		),

		LoaderCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loader_cache_total",
				Help:      "Loader cache lookups by result",
			},
			[]string{"table", "result"}, // hit, miss
		),
		WarehouseLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "warehouse_query_seconds",
				Help:      "Warehouse fetch latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"table"},
		),
		WarehouseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warehouse_errors_total",
				Help:      "Warehouse fetch and decode failures",
			},
			[]string{"table", "kind"},
		),
		LoadedRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "loaded_rows",
				Help:      "Rows in the last loaded snapshot of each table",
			},
			[]string{"table"},
		),

		SnapshotVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_version",
				Help:      "Current snapshot version",
			},
		),
		SettingsMutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settings_mutations_total",
				Help:      "Settings editor mutations",
			},
			[]string{"table", "op"},
		),

		DBConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Rejected API key checks",
			},
			[]string{"reason"}, // missing, invalid
		),
		Panics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_panics_total",
				Help:      "Handler panics recovered by request class",
			},
			[]string{"class"},
		),

		gatherer: gatherer,
	}
}

// Handler returns the Prometheus metrics HTTP handler for the registry
// the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordView records a completed view request.
func (m *Metrics) RecordView(view, status string, rows int, latency time.Duration) {
	if m == nil {
		return
	}
	m.ViewRequests.WithLabelValues(view, status).Inc()
	m.ViewLatency.WithLabelValues(view).Observe(latency.Seconds())
	m.ViewRows.WithLabelValues(view).Observe(float64(rows))
}

// RecordCache records a loader cache lookup.
func (m *Metrics) RecordCache(table string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.LoaderCache.WithLabelValues(table, result).Inc()
}

// RecordWarehouseFetch records a warehouse round trip.
func (m *Metrics) RecordWarehouseFetch(table string, rows int, latency time.Duration) {
	if m == nil {
		return
	}
	m.WarehouseLatency.WithLabelValues(table).Observe(latency.Seconds())
	m.LoadedRows.WithLabelValues(table).Set(float64(rows))
}

// RecordWarehouseError records a fetch or decode failure.
func (m *Metrics) RecordWarehouseError(table, kind string) {
	if m == nil {
		return
	}
	m.WarehouseErrors.WithLabelValues(table, kind).Inc()
}

// SetSnapshotVersion publishes the current snapshot version.
func (m *Metrics) SetSnapshotVersion(v int64) {
	if m == nil {
		return
	}
	m.SnapshotVersion.Set(float64(v))
}

// RecordSettingsMutation records a settings editor write.
func (m *Metrics) RecordSettingsMutation(table, op string) {
	if m == nil {
		return
	}
	m.SettingsMutations.WithLabelValues(table, op).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	if m == nil {
		return
	}
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordAuthFailure records a rejected API key.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// RecordPanic records a recovered handler panic.
func (m *Metrics) RecordPanic(class string) {
	if m == nil {
		return
	}
	m.Panics.WithLabelValues(class).Inc()
}
