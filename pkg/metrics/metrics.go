package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by route and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "climate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// ReadingsReceived counts readings by entry point (http, grpc, serial).
	ReadingsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climate_readings_received_total",
			Help: "Total number of readings received",
		},
		[]string{"source"},
	)

	// ReadingsWritten counts writer outcomes: inserted, unchanged, unavailable, error.
	ReadingsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climate_readings_written_total",
			Help: "Outcome of change-detecting writes",
		},
		[]string{"outcome"},
	)

	AlertDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climate_alert_decisions_total",
			Help: "Battery alert gate decisions",
		},
		[]string{"decision"},
	)

	NotifierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climate_notifier_failures_total",
			Help: "Failed alert deliveries per channel",
		},
		[]string{"channel"},
	)

	WriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "climate_write_queue_depth",
			Help: "Jobs waiting in the write queue",
		},
	)

	WriteQueueJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "climate_write_queue_job_seconds",
			Help:    "Write queue job execution time in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "climate_live_clients",
			Help: "Connected live dashboard clients",
		},
	)

	// CacheOperations counts cooldown and latest-reading cache calls by backend.
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climate_cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"backend", "operation", "status"},
	)
)
