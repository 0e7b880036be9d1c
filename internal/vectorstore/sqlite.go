package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var sqliteTracer = otel.Tracer("contextdb.vectorstore.sqlite")

const sqliteFileName = "documents.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collection_meta (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	vector_size INTEGER NOT NULL,
	distance    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS points (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	id      TEXT NOT NULL UNIQUE,
	vector  BLOB NOT NULL,
	payload TEXT NOT NULL
);`

// SQLiteConfig holds configuration for the SQLite backend.
type SQLiteConfig struct {
	// Path is the data directory. Each database lives in Path/<name>/documents.db.
	Path string

	// BusyTimeout bounds how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *SQLiteConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "context_dbs"
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
}

// Validate validates the configuration.
func (c *SQLiteConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w: busy timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// SQLiteBackend stores each database in its own SQLite file and answers
// queries with an exact scan. It suits small to medium databases where
// predictable, exact ranking matters more than sub-linear search.
type SQLiteBackend struct {
	config SQLiteConfig
	logger *zap.Logger
}

// NewSQLiteBackend creates a SQLite backend rooted at config.Path.
func NewSQLiteBackend(config SQLiteConfig, logger *zap.Logger) (*SQLiteBackend, error) {
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

	logger.Info("sqlite backend initialized", zap.String("path", path))
	return &SQLiteBackend{config: config, logger: logger}, nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// Namespace implements Backend.
func (b *SQLiteBackend) Namespace(database string) string { return database }

// Open implements Backend.
func (b *SQLiteBackend) Open(_ context.Context, database string) (Collection, error) {
	return &sqliteCollection{
		dir:         filepath.Join(b.config.Path, database),
		database:    database,
		busyTimeout: b.config.BusyTimeout,
		logger:      b.logger,
	}, nil
}

// Remove implements Backend.
func (b *SQLiteBackend) Remove(ctx context.Context, database string) error {
	_, span := sqliteTracer.Start(ctx, "SQLiteBackend.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("database", database))

	if err := os.RemoveAll(filepath.Join(b.config.Path, database)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("removing %s: %w", database, err)
	}
	return nil
}

// Namespaces implements Backend.
func (b *SQLiteBackend) Namespaces(_ context.Context) ([]string, error) {
	return listDirsContaining(b.config.Path, sqliteFileName)
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error { return nil }

type sqliteCollection struct {
	dir         string
	database    string
	busyTimeout time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	db        *sql.DB
	dimension int
	distance  Distance
	closed    bool
}

func (c *sqliteCollection) path() string {
	return filepath.Join(c.dir, sqliteFileName)
}

func (c *sqliteCollection) dsn() string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)",
		c.path(), c.busyTimeout.Milliseconds())
}

func (c *sqliteCollection) Exists(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *sqliteCollection) Create(ctx context.Context, dimension int, distance Distance) error {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteCollection.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("database", c.database),
		attribute.Int("vector_size", dimension),
		attribute.String("distance", string(distance)),
	)

	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if distance != DistanceCosine && distance != DistanceDot {
		return fmt.Errorf("%w: sqlite supports %s and %s", ErrUnsupportedDistance, DistanceCosine, DistanceDot)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err == nil {
		return ErrCollectionExists
	} else if !errors.Is(err, ErrCollectionNotFound) {
		return err
	}

	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return fmt.Errorf("creating directory %s: %w", c.dir, err)
	}
	db, err := c.openLocked()
	if err != nil {
		return err
	}

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fail(fmt.Errorf("migrating schema: %w", err))
	}
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collection_meta (id, vector_size, distance, created_at) VALUES (1, ?, ?, ?)`,
		dimension, string(distance), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fail(fmt.Errorf("writing collection meta: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCollectionExists
	}

	c.dimension, c.distance = dimension, distance
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (c *sqliteCollection) Upsert(ctx context.Context, points []Point) error {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteCollection.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("database", c.database),
		attribute.Int("count", len(points)),
	)

	db, dimension, _, err := c.handle(ctx)
	if err != nil {
		return err
	}
	if err := checkDimension(points, dimension); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (id, vector, payload) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, encodeVector(p.Vector), string(payload)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upserting %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("committing upsert: %w", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (c *sqliteCollection) Search(ctx context.Context, vector []float32, topK int) ([]ScoredPoint, error) {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteCollection.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("database", c.database),
		attribute.Int("k", topK),
	)

	db, dimension, distance, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	if len(vector) != dimension {
		return nil, fmt.Errorf("%w: query has %d components, collection expects %d",
			ErrDimensionMismatch, len(vector), dimension)
	}
	if topK <= 0 {
		return []ScoredPoint{}, nil
	}

	query := vector
	if distance == DistanceCosine {
		query = normalize(vector)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, vector, payload FROM points ORDER BY seq`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scanning points: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id      string
		score   float64
		payload string
	}
	var candidates []candidate
	for rows.Next() {
		var (
			id, payload string
			blob        []byte
		)
		if err := rows.Scan(&id, &blob, &payload); err != nil {
			return nil, fmt.Errorf("reading point: %w", err)
		}
		vec, err := decodeVector(blob)
		if err == nil && len(vec) != dimension {
			err = fmt.Errorf("%w: stored vector has %d components", ErrDimensionMismatch, len(vec))
		}
		if err != nil {
			c.logger.Warn("skipping point with unreadable vector",
				zap.String("database", c.database), zap.String("id", id), zap.Error(err))
			continue
		}
		if distance == DistanceCosine {
			vec = normalize(vec)
		}
		candidates = append(candidates, candidate{id: id, score: dot(query, vec), payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning points: %w", err)
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	hits := make([]ScoredPoint, 0, len(candidates))
	for _, cand := range candidates {
		payload := make(map[string]any)
		if err := json.Unmarshal([]byte(cand.payload), &payload); err != nil {
			c.logger.Warn("skipping point with unreadable payload",
				zap.String("database", c.database), zap.String("id", cand.id), zap.Error(err))
			continue
		}
		hits = append(hits, ScoredPoint{ID: cand.id, Score: cand.score, Payload: payload})
	}
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func (c *sqliteCollection) Stats(ctx context.Context) (*CollectionStats, error) {
	db, dimension, distance, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points`).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting points: %w", err)
	}
	return &CollectionStats{Count: count, Dimension: dimension, Distance: distance}, nil
}

func (c *sqliteCollection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *sqliteCollection) handle(ctx context.Context) (*sql.DB, int, Distance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, 0, "", err
	}
	return c.db, c.dimension, c.distance, nil
}

// loadLocked opens the database file and reads the collection parameters.
// Caller must hold c.mu.
func (c *sqliteCollection) loadLocked(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.db != nil && c.dimension > 0 {
		return nil
	}
	if _, err := os.Stat(c.path()); err != nil {
		if os.IsNotExist(err) {
			return ErrCollectionNotFound
		}
		return fmt.Errorf("checking %s: %w", c.path(), err)
	}

	db, err := c.openLocked()
	if err != nil {
		return err
	}

	var (
		dimension int
		distance  string
	)
	err = db.QueryRowContext(ctx, `SELECT vector_size, distance FROM collection_meta WHERE id = 1`).
		Scan(&dimension, &distance)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrCollectionNotFound
	case err != nil:
		// A file left behind by an interrupted Create has no tables yet.
		var exists int
		if qerr := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'collection_meta'`).
			Scan(&exists); qerr == nil && exists == 0 {
			return ErrCollectionNotFound
		}
		return fmt.Errorf("reading collection meta: %w", err)
	}

	c.dimension, c.distance = dimension, Distance(distance)
	return nil
}

func (c *sqliteCollection) openLocked() (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := sql.Open("sqlite", c.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.path(), err)
	}
	// A single connection serializes writers and keeps WAL checkpoints simple.
	db.SetMaxOpenConns(1)
	c.db = db
	return db, nil
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
