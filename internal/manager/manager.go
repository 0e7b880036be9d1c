package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/contextdb/internal/events"
	"github.com/fyrsmithlabs/contextdb/internal/identity"
	"github.com/fyrsmithlabs/contextdb/internal/registry"
	"github.com/fyrsmithlabs/contextdb/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/contextdb/internal/manager"

// Manager owns database lifecycle and document operations across the
// registry and the vector backend.
type Manager struct {
	cfg      Config
	registry *registry.Registry
	backend  vectorstore.Backend
	embedder Embedder
	events   events.Publisher
	logger   *zap.Logger
	tracer   trace.Tracer

	// mu serializes lifecycle mutations (write lock) against document
	// operations (read lock).
	mu       sync.RWMutex
	readOnly error
	closed   bool

	cacheMu sync.Mutex
	handles map[string]vectorstore.Collection
	// pending holds databases registered without a collection.
	pending map[string]struct{}
	group   singleflight.Group
}

// New creates a Manager and loads the database index.
//
// A corrupt index does not fail construction: the Manager starts in
// read-only mode over whatever entries parsed, and Health reports degraded.
// A zero Config means DefaultConfig.
func New(cfg Config, reg *registry.Registry, backend vectorstore.Backend, embedder Embedder, publisher events.Publisher, logger *zap.Logger) (*Manager, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if backend == nil {
		return nil, errors.New("vector backend is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if embedder.Dimension() <= 0 {
		return nil, fmt.Errorf("embedder reports invalid dimension %d", embedder.Dimension())
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// A zero DefaultMinScore is a valid threshold and is kept as given.
	if cfg.MaxSearchLimit <= 0 {
		cfg.MaxSearchLimit = DefaultConfig().MaxSearchLimit
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultConfig().DefaultLimit
	}
	cfg.DefaultLimit = min(cfg.DefaultLimit, cfg.MaxSearchLimit)
	if cfg.DefaultMinScore < 0 || cfg.DefaultMinScore > 1 {
		return nil, fmt.Errorf("%w: default min score %g outside [0, 1]", ErrInvalidArgument, cfg.DefaultMinScore)
	}

	m := &Manager{
		cfg:      cfg,
		registry: reg,
		backend:  backend,
		embedder: embedder,
		events:   publisher,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		handles:  make(map[string]vectorstore.Collection),
		pending:  make(map[string]struct{}),
	}

	entries, err := reg.Load()
	switch {
	case errors.Is(err, registry.ErrCorruptIndex):
		m.readOnly = err
		logger.Error("database index is corrupt; serving read-only until it is repaired",
			zap.String("path", reg.Path()),
			zap.Int("parsed_entries", len(entries)),
			zap.Error(err))
	case err != nil:
		return nil, fmt.Errorf("loading database index: %w", err)
	}
	Databases.Set(float64(len(entries)))

	logger.Info("vector store manager ready",
		zap.Int("databases", len(entries)),
		zap.String("backend", backend.Name()),
		zap.String("model", embedder.Model()),
		zap.Int("dimension", embedder.Dimension()),
		zap.Bool("read_only", m.readOnly != nil))
	return m, nil
}

// CreateDatabase registers name and materializes its collection. A
// collection failure after the index is saved returns ErrPartialCreate; the
// database stays registered and the next access retries.
func (m *Manager) CreateDatabase(ctx context.Context, name string) (info *DatabaseInfo, err error) {
	ctx, span := m.startSpan(ctx, "Manager.CreateDatabase", name)
	start := time.Now()
	defer func() { finish(span, "create_database", start, err) }()

	if err := registry.ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writableLocked(); err != nil {
		return nil, err
	}
	if m.registry.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if err := m.clearResidueLocked(ctx, name); err != nil {
		return nil, err
	}

	entry, err := m.registerLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := m.materializeNew(ctx, name, entry); err != nil {
		return nil, err
	}

	m.logger.Info("database created",
		zap.String("database", name),
		zap.Int("vector_size", entry.VectorSize),
		zap.String("model_id", entry.ModelID))
	return &DatabaseInfo{
		Name:       name,
		CreatedAt:  entry.CreatedAt,
		VectorSize: entry.VectorSize,
		ModelID:    entry.ModelID,
	}, nil
}

// DeleteDatabase unregisters name and removes its storage. If storage
// removal fails the database is still gone from the index; the residue is
// logged for manual cleanup.
func (m *Manager) DeleteDatabase(ctx context.Context, name string) (err error) {
	ctx, span := m.startSpan(ctx, "Manager.DeleteDatabase", name)
	start := time.Now()
	defer func() { finish(span, "delete_database", start, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writableLocked(); err != nil {
		return err
	}
	entry, ok := m.registry.Remove(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := m.registry.Save(); err != nil {
		m.registry.Put(name, entry)
		return fmt.Errorf("saving database index: %w", err)
	}
	Databases.Set(float64(m.registry.Len()))

	m.cacheMu.Lock()
	handle := m.handles[name]
	delete(m.handles, name)
	delete(m.pending, name)
	m.cacheMu.Unlock()
	if handle != nil {
		if err := handle.Close(); err != nil {
			m.logger.Warn("closing collection handle", zap.String("database", name), zap.Error(err))
		}
	}

	if err := m.backend.Remove(ctx, name); err != nil {
		m.logger.Error("database deleted but storage removal failed; residual storage left behind",
			zap.String("database", name),
			zap.String("namespace", m.backend.Namespace(name)),
			zap.Error(err))
	}

	m.publish(ctx, events.TypeDatabaseDeleted, name, "")
	m.logger.Info("database deleted", zap.String("database", name))
	return nil
}

// EnsureDatabase returns the entry for name, creating the database with the
// CreateDatabase defaults if it does not exist. With DisableImplicitCreate
// an unknown name yields ErrNotFound.
func (m *Manager) EnsureDatabase(ctx context.Context, name string) (registry.Entry, error) {
	entry, _, err := m.ensure(ctx, name)
	return entry, err
}

func (m *Manager) ensure(ctx context.Context, name string) (registry.Entry, bool, error) {
	m.mu.RLock()
	entry, err := m.registry.Get(name)
	m.mu.RUnlock()
	if err == nil {
		return entry, false, nil
	}
	if m.cfg.DisableImplicitCreate {
		return registry.Entry{}, false, err
	}
	if err := registry.ValidateName(name); err != nil {
		return registry.Entry{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writableLocked(); err != nil {
		return registry.Entry{}, false, err
	}
	if entry, err := m.registry.Get(name); err == nil {
		return entry, false, nil
	}
	if err := m.clearResidueLocked(ctx, name); err != nil {
		return registry.Entry{}, false, err
	}
	entry, err = m.registerLocked(ctx, name)
	if err != nil {
		return registry.Entry{}, false, err
	}
	if err := m.materializeNew(ctx, name, entry); err != nil {
		return registry.Entry{}, true, err
	}
	m.logger.Info("database created implicitly", zap.String("database", name))
	return entry, true, nil
}

// AddText embeds text and upserts it into the database, creating the
// database on first use. Adding the same text and metadata again
// overwrites the existing document.
func (m *Manager) AddText(ctx context.Context, req AddTextRequest) (res *AddTextResult, err error) {
	ctx, span := m.startSpan(ctx, "Manager.AddText", req.Database)
	start := time.Now()
	defer func() { finish(span, "add_text", start, err) }()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	_, created, err := m.ensure(ctx, req.Database)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.writableLocked(); err != nil {
		return nil, err
	}
	// Re-read under the lock: a concurrent delete may have won.
	entry, err := m.registry.Get(req.Database)
	if err != nil {
		return nil, err
	}
	if err := m.checkDimension(entry); err != nil {
		return nil, err
	}

	vectors, err := m.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding text: %w", ErrStoreUnavailable, err)
	}
	if len(vectors) != 1 || len(vectors[0]) != entry.VectorSize {
		return nil, fmt.Errorf("%w: embedder returned unexpected output for 1 text", ErrDimensionMismatch)
	}

	coll, err := m.collection(ctx, req.Database, entry)
	if err != nil {
		return nil, err
	}

	id := identity.DocumentID(text, req.Metadata)
	point := vectorstore.Point{
		ID:      id,
		Vector:  vectors[0],
		Payload: buildPayload(text, req.Metadata, entry.ModelID, time.Now()),
	}
	if err := coll.Upsert(ctx, []vectorstore.Point{point}); err != nil {
		return nil, storeError("storing document", err)
	}

	m.publish(ctx, events.TypeDocumentAdded, req.Database, id)
	m.logger.Debug("document added",
		zap.String("database", req.Database),
		zap.String("document_id", id),
		zap.Int("text_length", utf8.RuneCountInString(text)))
	return &AddTextResult{ID: id, Database: req.Database, Created: created}, nil
}

// Search returns the documents most similar to the query, in store order,
// dropping hits scored below MinScore.
func (m *Manager) Search(ctx context.Context, req SearchRequest) (resp *SearchResponse, err error) {
	ctx, span := m.startSpan(ctx, "Manager.Search", req.Database)
	start := time.Now()
	defer func() { finish(span, "search", start, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}
	entry, err := m.registry.Get(req.Database)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	minScore := m.cfg.DefaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
		if minScore < 0 || minScore > 1 {
			return nil, fmt.Errorf("%w: min_score %g outside [0, 1]", ErrInvalidArgument, minScore)
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}
	limit = min(limit, m.cfg.MaxSearchLimit)
	span.SetAttributes(attribute.Int("limit", limit), attribute.Float64("min_score", minScore))

	if err := m.checkDimension(entry); err != nil {
		return nil, err
	}
	vector, err := m.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrStoreUnavailable, err)
	}
	if len(vector) != entry.VectorSize {
		return nil, fmt.Errorf("%w: query vector has %d components, database expects %d",
			ErrDimensionMismatch, len(vector), entry.VectorSize)
	}

	coll, err := m.readableCollection(ctx, req.Database, entry)
	if err != nil {
		return nil, err
	}
	hits, err := coll.Search(ctx, vector, limit)
	if err != nil {
		return nil, storeError("searching collection", err)
	}

	resp = &SearchResponse{Results: make([]SearchResult, 0, len(hits)), Candidates: len(hits)}
	for _, hit := range hits {
		if hit.Score < minScore {
			resp.BelowThreshold++
			continue
		}
		resp.Results = append(resp.Results, toResult(hit))
	}
	SearchFiltered.Add(float64(resp.BelowThreshold))

	m.logger.Debug("search completed",
		zap.String("database", req.Database),
		zap.Int("candidates", resp.Candidates),
		zap.Int("results", len(resp.Results)),
		zap.Int("below_threshold", resp.BelowThreshold))
	return resp, nil
}

// ListDatabases returns every registered database sorted by name. Document
// counts come from the live collection; an unreadable collection counts 0.
func (m *Manager) ListDatabases(ctx context.Context) (dbs []DatabaseInfo, err error) {
	ctx, span := m.startSpan(ctx, "Manager.ListDatabases", "")
	start := time.Now()
	defer func() { finish(span, "list_databases", start, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}
	entries := m.registry.Snapshot()
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	dbs = make([]DatabaseInfo, 0, len(names))
	for _, name := range names {
		e := entries[name]
		dbs = append(dbs, DatabaseInfo{
			Name:          name,
			CreatedAt:     e.CreatedAt,
			VectorSize:    e.VectorSize,
			ModelID:       e.ModelID,
			DocumentCount: m.count(ctx, name),
		})
	}
	return dbs, nil
}

// DatabaseStats reports live collection figures for name.
func (m *Manager) DatabaseStats(ctx context.Context, name string) (stats *DatabaseStats, err error) {
	ctx, span := m.startSpan(ctx, "Manager.DatabaseStats", name)
	start := time.Now()
	defer func() { finish(span, "database_stats", start, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}
	entry, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}
	coll, err := m.readableCollection(ctx, name, entry)
	if err != nil {
		return nil, err
	}
	cs, err := coll.Stats(ctx)
	if err != nil {
		return nil, storeError("reading collection stats", err)
	}
	return &DatabaseStats{
		Name:          name,
		DocumentCount: cs.Count,
		VectorSize:    cs.Dimension,
		Distance:      string(cs.Distance),
		CreatedAt:     entry.CreatedAt,
		ModelID:       entry.ModelID,
	}, nil
}

// Health reports the serving state.
func (m *Manager) Health(_ context.Context) Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := Health{
		Status:    StatusOnline,
		Model:     m.embedder.Model(),
		Dimension: m.embedder.Dimension(),
		Databases: m.registry.Len(),
		Backend:   m.backend.Name(),
	}
	switch {
	case m.closed:
		h.Status, h.Reason = StatusDegraded, errClosed.Error()
	case m.readOnly != nil:
		h.Status, h.Reason = StatusDegraded, m.readOnly.Error()
	}
	return h
}

// Reconcile compares the index with backend storage. Registered databases
// missing a collection are re-materialized; namespaces without a
// registered database are reported and logged but never deleted.
func (m *Manager) Reconcile(ctx context.Context) (report *ReconcileReport, err error) {
	ctx, span := m.startSpan(ctx, "Manager.Reconcile", "")
	start := time.Now()
	defer func() { finish(span, "reconcile", start, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}
	namespaces, err := m.backend.Namespaces(ctx)
	if err != nil {
		return nil, storeError("listing backend namespaces", err)
	}

	entries := m.registry.Snapshot()
	expected := make(map[string]struct{}, len(entries))
	for name := range entries {
		expected[m.backend.Namespace(name)] = struct{}{}
	}

	report = &ReconcileReport{Orphaned: []string{}, Rematerialized: []string{}}
	for _, ns := range namespaces {
		if _, ok := expected[ns]; !ok {
			report.Orphaned = append(report.Orphaned, ns)
		}
	}
	sort.Strings(report.Orphaned)
	for _, ns := range report.Orphaned {
		m.logger.Warn("orphaned storage without a registered database", zap.String("namespace", ns))
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		exists, err := m.collectionExists(ctx, name)
		if err == nil && exists {
			continue
		}
		if err == nil {
			_, err = m.collection(ctx, name, entries[name])
		}
		if err != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[name] = err.Error()
			m.logger.Error("database collection unavailable", zap.String("database", name), zap.Error(err))
			continue
		}
		report.Rematerialized = append(report.Rematerialized, name)
		m.logger.Info("re-created missing collection", zap.String("database", name))
	}
	return report, nil
}

// Close releases cached collection handles and the backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	m.cacheMu.Lock()
	var errs []error
	for name, h := range m.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	m.handles = make(map[string]vectorstore.Collection)
	m.cacheMu.Unlock()

	if err := m.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing backend: %w", err))
	}
	return errors.Join(errs...)
}

// writableLocked. Caller must hold m.mu.
func (m *Manager) writableLocked() error {
	if m.closed {
		return errClosed
	}
	if m.readOnly != nil {
		return fmt.Errorf("%w: %w", ErrReadOnly, m.readOnly)
	}
	return nil
}

// registerLocked records and persists a new entry. Caller must hold the
// write lock.
func (m *Manager) registerLocked(ctx context.Context, name string) (registry.Entry, error) {
	entry := registry.Entry{
		CreatedAt:  time.Now().UTC(),
		VectorSize: m.embedder.Dimension(),
		ModelID:    m.embedder.Model(),
	}
	m.registry.Put(name, entry)
	if err := m.registry.Save(); err != nil {
		m.registry.Remove(name)
		return registry.Entry{}, fmt.Errorf("saving database index: %w", err)
	}
	Databases.Set(float64(m.registry.Len()))
	m.publish(ctx, events.TypeDatabaseCreated, name, "")
	return entry, nil
}

// materializeNew creates the collection of a just-registered database,
// marking it pending on failure.
func (m *Manager) materializeNew(ctx context.Context, name string, entry registry.Entry) error {
	if _, err := m.collection(ctx, name, entry); err != nil {
		m.cacheMu.Lock()
		m.pending[name] = struct{}{}
		m.cacheMu.Unlock()
		m.logger.Warn("database registered but collection creation failed; will retry on next access",
			zap.String("database", name), zap.Error(err))
		if errors.Is(err, ErrPartialCreate) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPartialCreate, err)
	}
	return nil
}

// collection returns the cached handle for name, opening and creating the
// collection if needed. Concurrent callers for the same name share one
// materialization.
func (m *Manager) collection(ctx context.Context, name string, entry registry.Entry) (vectorstore.Collection, error) {
	m.cacheMu.Lock()
	if c, ok := m.handles[name]; ok {
		m.cacheMu.Unlock()
		return c, nil
	}
	m.cacheMu.Unlock()

	v, err, _ := m.group.Do(name, func() (any, error) {
		m.cacheMu.Lock()
		if c, ok := m.handles[name]; ok {
			m.cacheMu.Unlock()
			return c, nil
		}
		m.cacheMu.Unlock()

		c, err := m.backend.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		exists, err := c.Exists(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		if !exists {
			err := c.Create(ctx, entry.VectorSize, vectorstore.DistanceCosine)
			if err != nil && !errors.Is(err, vectorstore.ErrCollectionExists) {
				c.Close()
				return nil, err
			}
		}

		m.cacheMu.Lock()
		m.handles[name] = c
		_, wasPending := m.pending[name]
		delete(m.pending, name)
		m.cacheMu.Unlock()
		if wasPending {
			m.logger.Info("collection materialized after earlier failure", zap.String("database", name))
		}
		return c, nil
	})
	if err != nil {
		wrapped := storeError(fmt.Sprintf("materializing collection %q", name), err)
		m.cacheMu.Lock()
		_, pending := m.pending[name]
		m.cacheMu.Unlock()
		if pending {
			return nil, fmt.Errorf("%w: %w", ErrPartialCreate, wrapped)
		}
		return nil, wrapped
	}
	return v.(vectorstore.Collection), nil
}

// readableCollection is collection for read paths. A read-only Manager
// never writes to storage, so a database without a collection reports
// ErrPartialCreate instead of being materialized. Caller must hold m.mu.
func (m *Manager) readableCollection(ctx context.Context, name string, entry registry.Entry) (vectorstore.Collection, error) {
	if m.readOnly == nil {
		return m.collection(ctx, name, entry)
	}
	exists, err := m.collectionExists(ctx, name)
	if err != nil {
		return nil, storeError(fmt.Sprintf("probing collection %q", name), err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s has no collection and the index is read-only", ErrPartialCreate, name)
	}
	return m.collection(ctx, name, entry)
}

// clearResidueLocked removes storage left behind for an unregistered name,
// such as after a delete whose storage removal failed. A collection is
// never adopted without an index entry. Caller must hold the write lock.
func (m *Manager) clearResidueLocked(ctx context.Context, name string) error {
	exists, err := m.collectionExists(ctx, name)
	if err != nil {
		return storeError(fmt.Sprintf("probing storage for %q", name), err)
	}
	if !exists {
		return nil
	}
	m.logger.Warn("removing residual storage before creating database",
		zap.String("database", name),
		zap.String("namespace", m.backend.Namespace(name)))
	if err := m.backend.Remove(ctx, name); err != nil {
		return storeError(fmt.Sprintf("removing residual storage for %q", name), err)
	}
	return nil
}

// collectionExists probes storage without creating anything.
func (m *Manager) collectionExists(ctx context.Context, name string) (bool, error) {
	m.cacheMu.Lock()
	_, cached := m.handles[name]
	m.cacheMu.Unlock()
	if cached {
		return true, nil
	}
	c, err := m.backend.Open(ctx, name)
	if err != nil {
		return false, err
	}
	defer c.Close()
	return c.Exists(ctx)
}

// count returns the live document count, or 0 if it cannot be read.
func (m *Manager) count(ctx context.Context, name string) int {
	m.cacheMu.Lock()
	c, ok := m.handles[name]
	m.cacheMu.Unlock()
	if !ok {
		var err error
		c, err = m.backend.Open(ctx, name)
		if err != nil {
			return 0
		}
		defer c.Close()
	}
	st, err := c.Stats(ctx)
	if err != nil {
		m.logger.Debug("document count unavailable", zap.String("database", name), zap.Error(err))
		return 0
	}
	return st.Count
}

func (m *Manager) checkDimension(entry registry.Entry) error {
	if dim := m.embedder.Dimension(); dim != entry.VectorSize {
		return fmt.Errorf("%w: database uses %d dimensions (%s), embedder produces %d (%s)",
			ErrDimensionMismatch, entry.VectorSize, entry.ModelID, dim, m.embedder.Model())
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, eventType, database, documentID string) {
	err := m.events.Publish(ctx, events.Event{
		Type:       eventType,
		Database:   database,
		DocumentID: documentID,
		Time:       time.Now().UTC(),
	})
	if err != nil {
		m.logger.Warn("publishing event failed",
			zap.String("type", eventType),
			zap.String("database", database),
			zap.Error(err))
	}
}

func (m *Manager) startSpan(ctx context.Context, name, database string) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, name)
	if database != "" {
		span.SetAttributes(attribute.String("database", database))
	}
	return ctx, span
}

func finish(span trace.Span, op string, start time.Time, err error) {
	record(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// buildPayload merges caller metadata with the derived fields, which win.
func buildPayload(text string, metadata map[string]any, modelID string, now time.Time) map[string]any {
	payload := make(map[string]any, len(metadata)+4)
	for k, v := range metadata {
		payload[k] = v
	}
	payload[PayloadText] = text
	payload[PayloadAddedAt] = now.UTC().Format(time.RFC3339Nano)
	payload[PayloadTextLength] = utf8.RuneCountInString(text)
	payload[PayloadModelID] = modelID
	return payload
}

func toResult(hit vectorstore.ScoredPoint) SearchResult {
	text, _ := hit.Payload[PayloadText].(string)
	meta := make(map[string]any, len(hit.Payload))
	for k, v := range hit.Payload {
		if k != PayloadText {
			meta[k] = v
		}
	}
	return SearchResult{ID: hit.ID, Text: text, Score: hit.Score, Metadata: meta}
}

// storeError classifies a backend failure.
func storeError(op string, err error) error {
	if errors.Is(err, vectorstore.ErrDimensionMismatch) {
		return fmt.Errorf("%w: %s: %w", ErrDimensionMismatch, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func isValidation(err error) bool {
	for _, target := range []error{ErrInvalidName, ErrEmptyText, ErrEmptyQuery, ErrAlreadyExists, ErrInvalidArgument} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
