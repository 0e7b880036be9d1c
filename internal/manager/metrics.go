package manager

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts Manager calls.
	// Labels: operation, status (ok or the error class)
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contextdb",
			Subsystem: "manager",
			Name:      "operations_total",
			Help:      "Total number of manager operations by outcome",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration tracks Manager call latency, embedding included.
	// Labels: operation
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contextdb",
			Subsystem: "manager",
			Name:      "operation_duration_seconds",
			Help:      "Duration of manager operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// SearchFiltered counts hits dropped by the score threshold.
	SearchFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "contextdb",
			Subsystem: "manager",
			Name:      "search_below_threshold_total",
			Help:      "Total number of search candidates dropped by min_score",
		},
	)

	// Databases is the number of registered databases.
	Databases = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "contextdb",
			Subsystem: "manager",
			Name:      "databases",
			Help:      "Number of registered databases",
		},
	)
)

func record(op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	Operations.WithLabelValues(op, statusOf(err)).Inc()
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isValidation(err):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrReadOnly):
		return "read_only"
	case errors.Is(err, ErrPartialCreate):
		return "partial_create"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
