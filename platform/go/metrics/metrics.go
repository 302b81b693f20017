package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EngineOperationsTotal counts versioning engine operations.
	// Labels: operation (create/update/duplicate/rollback/delete/list/list_versions/get), status (success/error)
	EngineOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptdeck_engine_operations_total",
			Help: "Total number of versioning engine operations by outcome",
		},
		[]string{"operation", "status"},
	)

	// EngineOperationDuration observes end-to-end engine operation latency in seconds.
	EngineOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptdeck_engine_operation_duration_seconds",
			Help:    "Versioning engine operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// VersionConflictsTotal counts version-number races, including the ones
	// resolved by the single retry.
	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptdeck_version_conflicts_total",
			Help: "Total number of version-number conflicts observed",
		},
	)
)

// ObserveOperation records one engine operation outcome and its duration.
func ObserveOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	EngineOperationsTotal.WithLabelValues(operation, status).Inc()
	EngineOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordVersionConflict records one version-number race.
func RecordVersionConflict() {
	VersionConflictsTotal.Inc()
}
