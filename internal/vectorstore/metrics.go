package vectorstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks backend call latency.
	// Labels: backend, operation
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contextdb",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// OperationErrors counts failed backend calls.
	// Labels: backend, operation
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contextdb",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector store operations",
		},
		[]string{"backend", "operation"},
	)

	// PointsUpserted counts points written.
	// Labels: backend
	PointsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contextdb",
			Subsystem: "vectorstore",
			Name:      "points_upserted_total",
			Help:      "Total number of points upserted",
		},
		[]string{"backend"},
	)
)

// Instrument wraps b so every call is recorded in the package metrics.
func Instrument(b Backend) Backend {
	if _, ok := b.(*instrumentedBackend); ok {
		return b
	}
	return &instrumentedBackend{Backend: b}
}

type instrumentedBackend struct {
	Backend
}

func observe(backend, op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(backend, op).Inc()
	}
}

func (b *instrumentedBackend) Open(ctx context.Context, database string) (Collection, error) {
	c, err := b.Backend.Open(ctx, database)
	if err != nil {
		return nil, err
	}
	return &instrumentedCollection{Collection: c, backend: b.Name()}, nil
}

func (b *instrumentedBackend) Remove(ctx context.Context, database string) (err error) {
	defer func(start time.Time) { observe(b.Name(), "remove", start, err) }(time.Now())
	return b.Backend.Remove(ctx, database)
}

func (b *instrumentedBackend) Namespaces(ctx context.Context) (names []string, err error) {
	defer func(start time.Time) { observe(b.Name(), "namespaces", start, err) }(time.Now())
	return b.Backend.Namespaces(ctx)
}

type instrumentedCollection struct {
	Collection
	backend string
}

func (c *instrumentedCollection) Exists(ctx context.Context) (ok bool, err error) {
	defer func(start time.Time) { observe(c.backend, "exists", start, err) }(time.Now())
	return c.Collection.Exists(ctx)
}

func (c *instrumentedCollection) Create(ctx context.Context, dimension int, distance Distance) (err error) {
	defer func(start time.Time) { observe(c.backend, "create", start, err) }(time.Now())
	return c.Collection.Create(ctx, dimension, distance)
}

func (c *instrumentedCollection) Upsert(ctx context.Context, points []Point) (err error) {
	defer func(start time.Time) {
		observe(c.backend, "upsert", start, err)
		if err == nil {
			PointsUpserted.WithLabelValues(c.backend).Add(float64(len(points)))
		}
	}(time.Now())
	return c.Collection.Upsert(ctx, points)
}

func (c *instrumentedCollection) Search(ctx context.Context, vector []float32, topK int) (hits []ScoredPoint, err error) {
	defer func(start time.Time) { observe(c.backend, "search", start, err) }(time.Now())
	return c.Collection.Search(ctx, vector, topK)
}

func (c *instrumentedCollection) Stats(ctx context.Context) (stats *CollectionStats, err error) {
	defer func(start time.Time) { observe(c.backend, "stats", start, err) }(time.Now())
	return c.Collection.Stats(ctx)
}
