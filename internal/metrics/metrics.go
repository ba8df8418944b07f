package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline and server metrics for production monitoring
var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolytics_runs_total",
			Help: "Total number of analysis runs",
		},
		[]string{"status"}, // status: success/failure
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enrolytics_run_duration_seconds",
			Help:    "Full analysis run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrolytics_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"stage"}, // stage: load/features/density/statistical/temporal/consensus/export/persist
	)

	// Dataset metrics
	InputRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolytics_input_rows_total",
			Help: "Total number of input rows loaded per table",
		},
		[]string{"table"},
	)

	RegionsAnalyzed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enrolytics_regions_analyzed",
			Help: "Number of regions in the most recent run",
		},
	)

	// Detection metrics
	RegionsFlagged = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enrolytics_regions_flagged",
			Help: "Regions flagged per detector in the most recent run",
		},
		[]string{"detector"}, // detector: density/statistical/temporal
	)

	ConsensusFlagged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enrolytics_consensus_flagged",
			Help: "Consensus-flagged regions in the most recent run",
		},
	)

	TemporalEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enrolytics_temporal_events",
			Help: "Temporal anomaly events in the most recent run",
		},
	)

	DetectorsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolytics_detectors_skipped_total",
			Help: "Detector passes skipped (insufficient data)",
		},
		[]string{"detector"},
	)

	// Export metrics
	ExportRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enrolytics_export_rows",
			Help: "Rows written per exported table in the most recent run",
		},
		[]string{"table"},
	)

	// HTTP metrics (serve mode)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrolytics_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrolytics_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"path"},
	)

	// WebSocket metrics (serve mode)
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enrolytics_websocket_connections",
			Help: "Current number of active WebSocket subscribers",
		},
	)

	WebSocketEventsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enrolytics_websocket_events_sent_total",
			Help: "Total number of run events pushed to WebSocket subscribers",
		},
	)
)
