package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "muninn_api_request_duration_seconds",
		Help:    "Duration of API requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_api_requests_total",
		Help: "Total API requests.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_api_active_connections",
		Help: "Currently open API connections.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_api_websocket_connections",
		Help: "Currently open event stream connections.",
	})
)

// Resolution metrics.
var (
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_resolutions_total",
		Help: "Task resolutions by winning tier.",
	}, []string{"tier"})

	ResolutionErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_resolution_errors_total",
		Help: "Task resolutions that failed on a store query.",
	})
)

// Window scheduler metrics.
var (
	SlotTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_slot_transitions_total",
		Help: "Slot window transitions observed by brand schedulers.",
	}, []string{"slot"})

	SlotPreloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_slot_preloads_total",
		Help: "Preload signals fired ahead of slot windows.",
	}, []string{"slot"})

	SchedulersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_schedulers_active",
		Help: "Brand window schedulers currently armed.",
	})
)

// Cache metrics.
var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_cache_hits_total",
		Help: "Cache hits by cache name.",
	}, []string{"cache"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_cache_misses_total",
		Help: "Cache misses by cache name.",
	}, []string{"cache"})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "muninn_database_query_duration_seconds",
		Help:    "Duration of database operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_database_errors_total",
		Help: "Database operation errors.",
	}, []string{"operation", "error_type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_database_connections_active",
		Help: "Open database connections.",
	})
)

// Background worker metrics.
var (
	PreloadWarmsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_preload_warms_total",
		Help: "Assignments warmed into cache ahead of a slot.",
	})

	PreloadErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_preload_errors_total",
		Help: "Preload warm attempts that failed.",
	})

	ReportsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_reports_generated_total",
		Help: "Daily assignment reports generated.",
	})

	ReportErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_report_errors_total",
		Help: "Daily report runs that failed.",
	})

	LeaderElectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_leader_election_status",
		Help: "1 when this node holds leadership, 0 otherwise.",
	})

	LeaderElectionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_leader_election_transitions_total",
		Help: "Leadership acquisitions and losses on this node.",
	}, []string{"transition"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_events_published_total",
		Help: "Events published to the cross-node bus.",
	}, []string{"type"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
