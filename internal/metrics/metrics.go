package metrics

import (
	"context"
	"time"

	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts the number of HTTP requests received
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziply_requests_total",
			Help: "The total number of HTTP requests processed by the API",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration measures the duration of HTTP requests
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ziply_request_duration_seconds",
			Help:    "The duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// AssetsProcessedTotal counts assets handled by compression runs
	AssetsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziply_assets_processed_total",
			Help: "The total number of assets handled by compression runs",
		},
		[]string{"status"},
	)

	// TransformDuration measures the duration of a single asset transform
	TransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ziply_transform_duration_seconds",
			Help:    "The duration of asset transforms in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // From 10ms to ~40s
		},
		[]string{"status"},
	)

	// SizeReduction measures the size reduction percentage of compressed assets
	SizeReduction = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ziply_size_reduction_percentage",
			Help:    "The percentage of size reduction for compressed assets",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0% to 100% in 10% increments
		},
	)

	// SpaceSavedBytes counts bytes freed by compression
	SpaceSavedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ziply_space_saved_bytes_total",
			Help: "The total number of bytes saved by compression",
		},
	)

	// ActiveRuns gauges compression runs in progress
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ziply_active_runs",
			Help: "The number of compression runs in progress",
		},
	)

	// RunsTotal counts finished compression runs
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziply_runs_total",
			Help: "The total number of finished compression runs",
		},
		[]string{"policy", "outcome"},
	)

	// SearchMatches measures how many assets a selection search matched
	SearchMatches = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ziply_search_matches",
			Help:    "The number of assets matched by a selection search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// QueueDepth gauges the current depth of the run queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ziply_queue_depth",
			Help: "The current depth of the run queue",
		},
	)

	// WorkerUtilization gauges the percentage of workers currently in use
	WorkerUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ziply_worker_utilization",
			Help: "The percentage of workers currently executing runs",
		},
	)

	// DBConnections gauges the number of active database connections
	DBConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ziply_db_connections",
			Help: "The number of active database connections",
		},
	)
)

// RecordTransformTime records the time taken to transform an asset
func RecordTransformTime(ctx context.Context, status string, startTime time.Time) {
	duration := time.Since(startTime).Seconds()
	TransformDuration.WithLabelValues(status).Observe(duration)

	logger.FromContext(ctx).Debug().
		Str("status", status).
		Float64("duration_seconds", duration).
		Msg("Recorded transform time")
}

// RecordAsset counts one asset outcome (success, failed, skipped)
func RecordAsset(status string) {
	AssetsProcessedTotal.WithLabelValues(status).Inc()
}

// RecordSizeReduction records the percentage of size reduction and the bytes saved
func RecordSizeReduction(ctx context.Context, originalSize, compressedSize int64) {
	if originalSize <= 0 {
		return
	}

	percentage := (1 - (float64(compressedSize) / float64(originalSize))) * 100
	SizeReduction.Observe(percentage)
	if saved := originalSize - compressedSize; saved > 0 {
		SpaceSavedBytes.Add(float64(saved))
	}

	logger.FromContext(ctx).Debug().
		Int64("original_size", originalSize).
		Int64("compressed_size", compressedSize).
		Float64("reduction_percentage", percentage).
		Msg("Recorded size reduction")
}

// RecordRun counts a finished run
func RecordRun(policy, outcome string) {
	RunsTotal.WithLabelValues(policy, outcome).Inc()
}

// RecordSearch records the number of matches of a committed search
func RecordSearch(matches int) {
	SearchMatches.Observe(float64(matches))
}

// UpdateQueueDepth updates the queue depth metric
func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// UpdateWorkerUtilization updates the worker utilization metric
func UpdateWorkerUtilization(active, total int) {
	if total <= 0 {
		return
	}

	percentage := (float64(active) / float64(total)) * 100
	WorkerUtilization.Set(percentage)
}

// UpdateDBConnections updates the database connections metric
func UpdateDBConnections(connections int) {
	DBConnections.Set(float64(connections))
}

// Init initializes metrics collection
func Init() {
	log := logger.GetLogger("metrics")
	log.Info().Msg("Metrics collection initialized")
}
