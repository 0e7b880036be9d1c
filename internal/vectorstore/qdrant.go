package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/contextdb/internal/sanitize"
)

var qdrantTracer = otel.Tracer("contextdb.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the gRPC port (6334 by default; 6333 is the REST port).
	Port int

	// APIKey authenticates against Qdrant Cloud or secured deployments.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// CollectionPrefix is prepended to every collection this backend owns,
	// so one Qdrant instance can be shared with other applications.
	// Default: "ctxdb_"
	CollectionPrefix string

	// MaxRetries is the number of retries for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff between retries. Doubles each time.
	// Default: 500ms
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 32MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "ctxdb_"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts, temporary unavailability.
// Returns false for invalid arguments, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isGRPCCode(err error, code grpccodes.Code) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == code
}

// qdrantAPI is the subset of *qdrant.Client the backend uses.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	ListCollections(ctx context.Context) ([]string, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantBackend maps each database onto one Qdrant collection.
type QdrantBackend struct {
	client qdrantAPI
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantBackend connects to Qdrant and verifies the connection.
func NewQdrantBackend(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	b := newQdrantBackend(client, config, logger)

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant backend initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection_prefix", config.CollectionPrefix),
	)
	return b, nil
}

func newQdrantBackend(client qdrantAPI, config QdrantConfig, logger *zap.Logger) *QdrantBackend {
	config.ApplyDefaults()
	return &QdrantBackend{client: client, config: config, logger: logger}
}

// Name implements Backend.
func (b *QdrantBackend) Name() string { return "qdrant" }

// Namespace implements Backend. Database names allow characters Qdrant
// rejects, so the collection name is a lowercase slug plus a short hash of
// the exact name to keep distinct databases apart.
func (b *QdrantBackend) Namespace(database string) string {
	return sanitize.CollectionName(b.config.CollectionPrefix, database)
}

// Open implements Backend.
func (b *QdrantBackend) Open(_ context.Context, database string) (Collection, error) {
	return &qdrantCollection{
		backend:  b,
		name:     b.Namespace(database),
		database: database,
	}, nil
}

// Remove implements Backend.
func (b *QdrantBackend) Remove(ctx context.Context, database string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Remove")
	defer span.End()
	name := b.Namespace(database)
	span.SetAttributes(attribute.String("collection", name))

	err := b.retryOperation(ctx, "delete_collection", func() error {
		err := b.client.DeleteCollection(ctx, name)
		if isGRPCCode(err, grpccodes.NotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Namespaces implements Backend. Only collections carrying the configured
// prefix are reported.
func (b *QdrantBackend) Namespaces(ctx context.Context) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Namespaces")
	defer span.End()

	var all []string
	err := b.retryOperation(ctx, "list_collections", func() error {
		var err error
		all, err = b.client.ListCollections(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	names := []string{}
	for _, name := range all {
		if strings.HasPrefix(name, b.config.CollectionPrefix) {
			names = append(names, name)
		}
	}
	span.SetAttributes(attribute.Int("collection_count", len(names)))
	return names, nil
}

// Close implements Backend.
func (b *QdrantBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC errors.
func (b *QdrantBackend) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := b.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		if attempt >= b.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, b.config.MaxRetries, err)
		}

		b.logger.Debug("retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

type qdrantCollection struct {
	backend  *QdrantBackend
	name     string
	database string

	// dimension caches the collection's vector size once known.
	dimension atomic.Int64
}

func (c *qdrantCollection) Exists(ctx context.Context) (bool, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Exists")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name))

	var exists bool
	err := c.backend.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = c.backend.client.CollectionExists(ctx, c.name)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("checking collection %s: %w", c.name, err)
	}
	return exists, nil
}

func (c *qdrantCollection) Create(ctx context.Context, dimension int, distance Distance) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("vector_size", dimension),
	)

	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	qd, err := toQdrantDistance(distance)
	if err != nil {
		return err
	}

	err = c.backend.retryOperation(ctx, "create_collection", func() error {
		return c.backend.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qd,
			}),
		})
	})
	if err != nil {
		if isGRPCCode(err, grpccodes.AlreadyExists) {
			return ErrCollectionExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", c.name, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (c *qdrantCollection) Upsert(ctx context.Context, points []Point) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("count", len(points)),
	)

	dimension := int(c.dimension.Load())
	if dimension == 0 {
		stats, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		dimension = stats.Dimension
	}
	if err := checkDimension(points, dimension); err != nil {
		return err
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	err := c.backend.retryOperation(ctx, "upsert", func() error {
		_, err := c.backend.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.name,
			Wait:           qdrant.PtrOf(true),
			Points:         structs,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return c.mapError("upserting points", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (c *qdrantCollection) Search(ctx context.Context, vector []float32, topK int) ([]ScoredPoint, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("k", topK),
	)

	if topK <= 0 {
		return []ScoredPoint{}, nil
	}

	var res []*qdrant.ScoredPoint
	err := c.backend.retryOperation(ctx, "query", func() error {
		var err error
		res, err = c.backend.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: c.name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isGRPCCode(err, grpccodes.InvalidArgument) && strings.Contains(strings.ToLower(err.Error()), "dimension") {
			return nil, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
		return nil, c.mapError("querying collection", err)
	}

	hits := make([]ScoredPoint, 0, len(res))
	for _, p := range res {
		payload := make(map[string]any, len(p.GetPayload()))
		for k, v := range p.GetPayload() {
			payload[k] = fromQdrantValue(v)
		}
		hits = append(hits, ScoredPoint{
			ID:      pointIDString(p.GetId()),
			Score:   float64(p.GetScore()),
			Payload: payload,
		})
	}
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func (c *qdrantCollection) Stats(ctx context.Context) (*CollectionStats, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Stats")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name))

	var info *qdrant.CollectionInfo
	err := c.backend.retryOperation(ctx, "get_collection_info", func() error {
		var err error
		info, err = c.backend.client.GetCollectionInfo(ctx, c.name)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, c.mapError("getting collection info", err)
	}

	stats := &CollectionStats{Count: int(info.GetPointsCount())}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		stats.Dimension = int(params.GetSize())
		stats.Distance = fromQdrantDistance(params.GetDistance())
		c.dimension.Store(int64(stats.Dimension))
	}
	return stats, nil
}

func (c *qdrantCollection) Close() error { return nil }

func (c *qdrantCollection) mapError(op string, err error) error {
	if isGRPCCode(err, grpccodes.NotFound) {
		return fmt.Errorf("%s %s: %w", op, c.name, ErrCollectionNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, c.name, err)
}

func toQdrantDistance(d Distance) (qdrant.Distance, error) {
	switch d {
	case DistanceCosine:
		return qdrant.Distance_Cosine, nil
	case DistanceDot:
		return qdrant.Distance_Dot, nil
	case DistanceEuclidean:
		return qdrant.Distance_Euclid, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDistance, d)
	}
}

func fromQdrantDistance(d qdrant.Distance) Distance {
	switch d {
	case qdrant.Distance_Cosine:
		return DistanceCosine
	case qdrant.Distance_Dot:
		return DistanceDot
	case qdrant.Distance_Euclid:
		return DistanceEuclidean
	default:
		return Distance(d.String())
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// fromQdrantValue converts a protobuf payload value into plain Go values
// matching what encoding/json would produce.
func fromQdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_NullValue:
		return nil
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromQdrantValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = fromQdrantValue(item)
		}
		return out
	default:
		return nil
	}
}
