// Package metrics defines the Prometheus collectors used across the indexer
// and search services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   *prometheus.HistogramVec
	MatchesTotal         *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	SyncsTotal           *prometheus.CounterVec
	NotificationsTotal   *prometheus.CounterVec
	DocsIndexedTotal     *prometheus.CounterVec
	LifecycleTotal       *prometheus.CounterVec
	IndexDifferences     *prometheus.GaugeVec
	RebuildQueue         *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
	TelemetryEventsTotal *prometheus.CounterVec
	TelemetryDropped     *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by search type and result type (hit, zero_result, error).",
			},
			[]string{"search_type", "result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"search_type"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
			[]string{"search_type"},
		),
		MatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prisoner_match_total",
				Help: "Match requests by the strategy tier that produced the result.",
			},
			[]string{"matched_by"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		SyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prisoner_sync_total",
				Help: "Prisoner syncs by outcome (created, updated, unchanged, not_found, removed, error).",
			},
			[]string{"outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prisoner_notifications_total",
				Help: "Outbound notifications by event type and status.",
			},
			[]string{"event_type", "status"},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Documents written per index generation.",
			},
			[]string{"index"},
		),
		LifecycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_lifecycle_transitions_total",
				Help: "Index lifecycle transition attempts by transition and result.",
			},
			[]string{"transition", "result"},
		),
		IndexDifferences: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_compare_differences",
				Help: "Prisoner numbers present on only one side at the last reconciliation.",
			},
			[]string{"side"},
		),
		RebuildQueue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rebuild_queue_messages",
				Help: "Rebuild work queue message counts (pending, in_flight, dead_letter).",
			},
			[]string{"kind"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		TelemetryEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_events_total",
				Help: "Operational telemetry events by name.",
			},
			[]string{"event"},
		),
		TelemetryDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_events_dropped_total",
				Help: "Telemetry events dropped before publishing, by reason (buffer_full, closed).",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.MatchesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SyncsTotal,
		m.NotificationsTotal,
		m.DocsIndexedTotal,
		m.LifecycleTotal,
		m.IndexDifferences,
		m.RebuildQueue,
		m.CircuitBreakerState,
		m.TelemetryEventsTotal,
		m.TelemetryDropped,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
