package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// DefaultCollectionName is the collection each database keeps its points in.
const DefaultCollectionName = "documents"

// Sentinel errors returned by backends.
var (
	// ErrCollectionNotFound is returned when the collection has not been created.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned by Create when the collection already exists.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the collection's dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUnsupportedDistance is returned when a backend cannot honor the
	// requested distance metric.
	ErrUnsupportedDistance = errors.New("unsupported distance metric")

	// ErrInvalidConfig is returned when backend configuration is invalid.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrConnectionFailed is returned when a remote backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrClosed is returned when a handle is used after Close.
	ErrClosed = errors.New("vector store closed")
)

// Distance is a vector similarity metric.
type Distance string

// Supported distance metrics.
const (
	DistanceCosine    Distance = "Cosine"
	DistanceDot       Distance = "Dot"
	DistanceEuclidean Distance = "Euclid"
)

// Point is a vector together with its JSON-compatible payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit. Score is the similarity reported by the
// backend; for cosine it lies in [-1, 1] with higher meaning closer.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// CollectionStats describes a materialized collection.
type CollectionStats struct {
	Count     int
	Dimension int
	Distance  Distance
}

// Collection is a handle to one database's vector collection.
//
// Implementations must be safe for concurrent use.
type Collection interface {
	// Exists reports whether the collection has been created.
	Exists(ctx context.Context) (bool, error)

	// Create creates the collection. It returns ErrCollectionExists if the
	// collection is already there.
	Create(ctx context.Context, dimension int, distance Distance) error

	// Upsert inserts or replaces points by ID. The points are durable when
	// Upsert returns without error.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to topK points ordered by descending similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredPoint, error)

	// Stats reports point count, dimension and distance.
	Stats(ctx context.Context) (*CollectionStats, error)

	// Close releases the handle. Storage is left intact.
	Close() error
}

// Backend opens per-database collections.
type Backend interface {
	// Open returns a handle for database's collection. Opening does not
	// create the collection.
	Open(ctx context.Context, database string) (Collection, error)

	// Remove deletes all storage belonging to database. Removing storage
	// that does not exist is not an error.
	Remove(ctx context.Context, database string) error

	// Namespace returns the backend-specific storage name for database.
	Namespace(database string) string

	// Namespaces lists the storage names currently present in the backend.
	Namespaces(ctx context.Context) ([]string, error)

	// Name identifies the backend implementation.
	Name() string

	// Close releases backend resources.
	Close() error
}

func checkDimension(points []Point, dimension int) error {
	for _, p := range points {
		if len(p.Vector) != dimension {
			return fmt.Errorf("%w: point %s has %d components, collection expects %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), dimension)
		}
	}
	return nil
}

// normalize returns v scaled to unit length. Zero vectors are returned as-is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
