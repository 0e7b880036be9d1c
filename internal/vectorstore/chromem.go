package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("contextdb.vectorstore.chromem")

const (
	collectionMetaFile = "collection.json"
	payloadMetadataKey = "payload"
)

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the data directory. Each database lives in Path/<name>/.
	Path string

	// Compress enables gzip compression of the persisted documents.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "context_dbs"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	return nil
}

// ChromemBackend keeps one persistent chromem-go database per vector
// database, each under its own directory.
//
// chromem stores only string metadata, so the payload is kept as a JSON
// string under the "payload" metadata key. It has no notion of collection
// parameters either; dimension and distance go into a collection.json file
// next to the chromem data.
type ChromemBackend struct {
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemBackend creates a chromem backend rooted at config.Path.
func NewChromemBackend(config ChromemConfig, logger *zap.Logger) (*ChromemBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	config.Path = path

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	logger.Info("chromem backend initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
	)
	return &ChromemBackend{config: config, logger: logger}, nil
}

// Name implements Backend.
func (b *ChromemBackend) Name() string { return "chromem" }

// Namespace implements Backend. The namespace is the database directory.
func (b *ChromemBackend) Namespace(database string) string { return database }

// Open implements Backend.
func (b *ChromemBackend) Open(_ context.Context, database string) (Collection, error) {
	return &chromemCollection{
		dir:      filepath.Join(b.config.Path, database),
		database: database,
		compress: b.config.Compress,
		logger:   b.logger,
	}, nil
}

// Remove implements Backend.
func (b *ChromemBackend) Remove(ctx context.Context, database string) error {
	_, span := chromemTracer.Start(ctx, "ChromemBackend.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("database", database))

	if err := os.RemoveAll(filepath.Join(b.config.Path, database)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("removing %s: %w", database, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Namespaces implements Backend. Every subdirectory holding a collection
// descriptor counts.
func (b *ChromemBackend) Namespaces(_ context.Context) ([]string, error) {
	return listDirsContaining(b.config.Path, collectionMetaFile)
}

// Close implements Backend.
func (b *ChromemBackend) Close() error { return nil }

// collectionMeta is the collection descriptor persisted beside chromem data.
type collectionMeta struct {
	Dimension int      `json:"vector_size"`
	Distance  Distance `json:"distance"`
}

type chromemCollection struct {
	dir      string
	database string
	compress bool
	logger   *zap.Logger

	mu     sync.Mutex
	db     *chromem.DB
	coll   *chromem.Collection
	meta   *collectionMeta
	closed bool
}

func (c *chromemCollection) Exists(ctx context.Context) (bool, error) {
	_, span := chromemTracer.Start(ctx, "ChromemCollection.Exists")
	defer span.End()
	span.SetAttributes(attribute.String("database", c.database))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return false, nil
		}
		span.RecordError(err)
		return false, err
	}
	return true, nil
}

func (c *chromemCollection) Create(ctx context.Context, dimension int, distance Distance) error {
	_, span := chromemTracer.Start(ctx, "ChromemCollection.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("database", c.database),
		attribute.Int("vector_size", dimension),
	)

	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	// chromem scores by dot product over normalized vectors.
	if distance != DistanceCosine {
		return fmt.Errorf("%w: chromem supports only %s", ErrUnsupportedDistance, DistanceCosine)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.loadLocked(); err == nil {
		return ErrCollectionExists
	} else if !errors.Is(err, ErrCollectionNotFound) {
		return err
	}

	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return fmt.Errorf("creating directory %s: %w", c.dir, err)
	}
	db, err := chromem.NewPersistentDB(c.dir, c.compress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating chromem DB: %w", err)
	}
	coll, err := db.GetOrCreateCollection(DefaultCollectionName, nil, noEmbeddingFunc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection: %w", err)
	}

	meta := &collectionMeta{Dimension: dimension, Distance: distance}
	if err := writeJSONAtomic(filepath.Join(c.dir, collectionMetaFile), meta); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.db, c.coll, c.meta = db, coll, meta
	c.logger.Debug("chromem collection created",
		zap.String("database", c.database),
		zap.Int("vector_size", dimension),
	)
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (c *chromemCollection) Upsert(ctx context.Context, points []Point) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemCollection.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("database", c.database),
		attribute.Int("count", len(points)),
	)

	coll, meta, err := c.handle()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := checkDimension(points, meta.Dimension); err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", p.ID, err)
		}
		content, _ := p.Payload["text"].(string)
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Content:   content,
			Metadata:  map[string]string{payloadMetadataKey: string(payload)},
			Embedding: normalize(p.Vector),
		})
	}

	// chromem writes each document to disk before AddDocuments returns.
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (c *chromemCollection) Search(ctx context.Context, vector []float32, topK int) ([]ScoredPoint, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemCollection.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("database", c.database),
		attribute.Int("k", topK),
	)

	coll, meta, err := c.handle()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(vector) != meta.Dimension {
		return nil, fmt.Errorf("%w: query has %d components, collection expects %d",
			ErrDimensionMismatch, len(vector), meta.Dimension)
	}
	if topK <= 0 {
		return []ScoredPoint{}, nil
	}

	// chromem rejects nResults larger than the document count.
	count := coll.Count()
	if count == 0 {
		return []ScoredPoint{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := coll.QueryEmbedding(ctx, normalize(vector), topK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		payload := make(map[string]any)
		if raw, ok := r.Metadata[payloadMetadataKey]; ok {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				c.logger.Warn("skipping point with unreadable payload",
					zap.String("database", c.database),
					zap.String("id", r.ID),
					zap.Error(err),
				)
				continue
			}
		}
		if _, ok := payload["text"]; !ok {
			payload["text"] = r.Content
		}
		hits = append(hits, ScoredPoint{
			ID:      r.ID,
			Score:   float64(r.Similarity),
			Payload: payload,
		})
	}

	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func (c *chromemCollection) Stats(ctx context.Context) (*CollectionStats, error) {
	_, span := chromemTracer.Start(ctx, "ChromemCollection.Stats")
	defer span.End()
	span.SetAttributes(attribute.String("database", c.database))

	coll, meta, err := c.handle()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &CollectionStats{
		Count:     coll.Count(),
		Dimension: meta.Dimension,
		Distance:  meta.Distance,
	}, nil
}

func (c *chromemCollection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.db, c.coll, c.meta = nil, nil, nil
	return nil
}

// handle returns the loaded collection and its descriptor.
func (c *chromemCollection) handle() (*chromem.Collection, *collectionMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return nil, nil, err
	}
	return c.coll, c.meta, nil
}

// loadLocked opens the persisted collection if it has not been loaded yet.
// Caller must hold c.mu.
func (c *chromemCollection) loadLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.coll != nil {
		return nil
	}

	var meta collectionMeta
	data, err := os.ReadFile(filepath.Join(c.dir, collectionMetaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCollectionNotFound
		}
		return fmt.Errorf("reading collection descriptor: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("parsing collection descriptor: %w", err)
	}

	db, err := chromem.NewPersistentDB(c.dir, c.compress)
	if err != nil {
		return fmt.Errorf("opening chromem DB: %w", err)
	}
	coll := db.GetCollection(DefaultCollectionName, noEmbeddingFunc)
	if coll == nil {
		return ErrCollectionNotFound
	}

	c.db, c.coll, c.meta = db, coll, &meta
	return nil
}

// noEmbeddingFunc satisfies chromem's requirement for an embedding function.
// Points always arrive with vectors, so it is never expected to run.
func noEmbeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("chromem backend requires precomputed embeddings")
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// writeJSONAtomic writes v as JSON via a temporary file and rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

// listDirsContaining returns the sorted names of subdirectories of root
// that contain a file called marker.
func listDirsContaining(root, marker string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), marker)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
