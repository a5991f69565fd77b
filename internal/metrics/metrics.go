// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksCreated counts inserted blocks by origin (create, import, merge).
	BlocksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_blocks_created_total",
		Help: "Blocks inserted, by origin",
	}, []string{"origin"})

	// LinksCreated counts persisted semantic links by link_type.
	LinksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_links_created_total",
		Help: "Semantic links persisted, by link type",
	}, []string{"link_type"})

	// LinkIndicesSkipped counts candidate links dropped for out-of-range indices.
	LinkIndicesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_import_link_indices_skipped_total",
		Help: "Candidate links skipped because an index was out of range",
	})

	// Operations counts engine operations by name and result.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_operations_total",
		Help: "Engine operations by name and result",
	}, []string{"operation", "result"})

	// OperationDuration tracks engine operation latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loom_operation_duration_seconds",
		Help:    "Engine operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})

	// LineageTruncated counts lineage walks cut short by the depth cap.
	LineageTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_lineage_truncated_total",
		Help: "Lineage resolutions that hit the depth cap",
	})

	// ConsistencyWarnings counts logged consistency warnings by subject.
	ConsistencyWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_consistency_warnings_total",
		Help: "Non-fatal consistency warnings, by subject",
	}, []string{"subject"})
)

// Observe records the duration and result of an operation started at start.
func Observe(operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	Operations.WithLabelValues(operation, Result(err)).Inc()
}
