package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextdb/internal/embeddings"
	"github.com/fyrsmithlabs/contextdb/internal/manager"
	"github.com/fyrsmithlabs/contextdb/internal/registry"
	"github.com/fyrsmithlabs/contextdb/internal/vectorstore"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.New(dir)
	require.NoError(t, err)
	backend, err := vectorstore.NewChromemBackend(vectorstore.ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	embedder, err := embeddings.NewHashProvider(128)
	require.NoError(t, err)
	mgr, err := manager.New(manager.DefaultConfig(), reg, backend, embedder, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func setupTestServer(t *testing.T, mutate ...func(*Config)) *Server {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Version = "1.0.0"
	for _, m := range mutate {
		m(cfg)
	}
	server, err := NewServer(newTestManager(t), zap.NewNop(), cfg)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(newTestManager(t), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:8000", server.Addr())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(newTestManager(t), nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "online", resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, "hash-128", resp.EmbeddingModel)
	assert.Equal(t, 0, resp.DatabasesCount)
	assert.Equal(t, 128, resp.VectorSize)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestDatabaseLifecycle(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/databases", map[string]string{"name": "my notes"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Database 'my notes' created successfully", decode[MessageResponse](t, rec).Message)

	rec = do(t, server, http.MethodPost, "/databases", map[string]string{"name": "my notes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Database already exists", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, server, http.MethodGet, "/databases", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dbs := decode[[]DatabaseInfo](t, rec)
	require.Len(t, dbs, 1)
	assert.Equal(t, "my notes", dbs[0].Name)
	assert.Equal(t, 128, dbs[0].VectorSize)
	assert.NotEqual(t, "unknown", dbs[0].CreatedAt)

	rec = do(t, server, http.MethodGet, "/databases/my%20notes/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, "my notes", stats.Name)
	assert.Equal(t, 0, stats.DocumentCount)
	assert.Equal(t, "COSINE", stats.DistanceMetric)
	assert.Equal(t, "hash-128", stats.Metadata.ModelID)

	rec = do(t, server, http.MethodDelete, "/databases/my%20notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Database 'my notes' deleted successfully", decode[MessageResponse](t, rec).Message)

	rec = do(t, server, http.MethodDelete, "/databases/my%20notes", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Database not found", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, server, http.MethodGet, "/databases/my%20notes/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDatabase_Validation(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		detail string
	}{
		{"missing name", map[string]any{}, http.StatusUnprocessableEntity, "name: field required"},
		{"empty name", map[string]string{"name": ""}, http.StatusUnprocessableEntity, "length must be between"},
		{"too long", map[string]string{"name": strings.Repeat("a", 101)}, http.StatusUnprocessableEntity, "length must be between"},
		{"bad characters", map[string]string{"name": "../etc"}, http.StatusBadRequest, "can only contain letters"},
		{"invalid json", "{not json", http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server, http.MethodPost, "/databases", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode[ErrorResponse](t, rec).Detail, tt.detail)
		})
	}
}

func TestAddTextAndSearch(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/add-text", map[string]any{
		"database_name": "kb",
		"text":          "Paris is the capital of France.",
		"metadata":      map[string]any{"url": "https://example.com/paris"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decode[AddTextResponse](t, rec)
	assert.Equal(t, "Text added successfully", added.Message)
	assert.Equal(t, "kb", added.DatabaseName)
	assert.NotEmpty(t, added.DocumentID)

	rec = do(t, server, http.MethodPost, "/add-text", map[string]any{
		"database_name": "kb",
		"text":          "Tokyo is the capital of Japan.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodPost, "/search", map[string]any{
		"database_name": "kb",
		"query":         "capital of France",
		"limit":         1,
		"min_score":     0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode[[]SearchResult](t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, added.DocumentID, results[0].ID)
	assert.Equal(t, "Paris is the capital of France.", results[0].Text)
	assert.Equal(t, "https://example.com/paris", results[0].Metadata["url"])
	assert.Equal(t, "1", rec.Header().Get(HeaderSearchCandidates))
	assert.Equal(t, "0", rec.Header().Get(HeaderSearchBelowThreshold))

	rec = do(t, server, http.MethodPost, "/search", map[string]any{
		"database_name": "kb",
		"query":         "capital of France",
		"limit":         2,
		"min_score":     1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, "2", rec.Header().Get(HeaderSearchCandidates))
}

func TestAddText_Validation(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		detail string
	}{
		{"missing database", map[string]any{"text": "x"}, http.StatusUnprocessableEntity, "database_name: field required"},
		{"missing text", map[string]any{"database_name": "kb"}, http.StatusUnprocessableEntity, "text: field required"},
		{"empty text", map[string]any{"database_name": "kb", "text": ""}, http.StatusUnprocessableEntity, "at least 1 character"},
		{"blank text", map[string]any{"database_name": "kb", "text": "   "}, http.StatusBadRequest, "Text cannot be empty"},
		{"bad name", map[string]any{"database_name": "a/b", "text": "x"}, http.StatusBadRequest, "can only contain letters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server, http.MethodPost, "/add-text", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode[ErrorResponse](t, rec).Detail, tt.detail)
		})
	}
}

func TestSearch_Validation(t *testing.T) {
	server := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, server, http.MethodPost, "/databases", map[string]string{"name": "kb"}).Code)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		detail string
	}{
		{"unknown database", map[string]any{"database_name": "nope", "query": "q"}, http.StatusNotFound, "Database not found"},
		{"missing query", map[string]any{"database_name": "kb"}, http.StatusUnprocessableEntity, "query: field required"},
		{"blank query", map[string]any{"database_name": "kb", "query": "  "}, http.StatusBadRequest, "Query cannot be empty"},
		{"limit zero", map[string]any{"database_name": "kb", "query": "q", "limit": 0}, http.StatusUnprocessableEntity, "limit: must be between 1 and 50"},
		{"limit too big", map[string]any{"database_name": "kb", "query": "q", "limit": 51}, http.StatusUnprocessableEntity, "limit"},
		{"min score", map[string]any{"database_name": "kb", "query": "q", "min_score": 1.5}, http.StatusUnprocessableEntity, "min_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server, http.MethodPost, "/search", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode[ErrorResponse](t, rec).Detail, tt.detail)
		})
	}
}

// stubService returns err from every call.
type stubService struct {
	Service
	err error
}

func (s stubService) Health(context.Context) manager.Health {
	return manager.Health{Status: manager.StatusDegraded, Reason: "database index corrupted"}
}

func (s stubService) ListDatabases(context.Context) ([]manager.DatabaseInfo, error) {
	return nil, s.err
}

func (s stubService) CreateDatabase(context.Context, string) (*manager.DatabaseInfo, error) {
	return nil, s.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{manager.ErrInvalidName, http.StatusBadRequest},
		{manager.ErrEmptyText, http.StatusBadRequest},
		{manager.ErrEmptyQuery, http.StatusBadRequest},
		{manager.ErrAlreadyExists, http.StatusBadRequest},
		{manager.ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", manager.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: %w", manager.ErrReadOnly, manager.ErrCorruptIndex), http.StatusConflict},
		{manager.ErrDimensionMismatch, http.StatusConflict},
		{fmt.Errorf("%w: %w", manager.ErrPartialCreate, manager.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{manager.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))

			server, err := NewServer(stubService{err: tt.err}, zap.NewNop(), nil)
			require.NoError(t, err)
			rec := do(t, server, http.MethodGet, "/databases", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Detail)
		})
	}
}

func TestErrorMapping_InternalDetailHidden(t *testing.T) {
	server, err := NewServer(stubService{err: fmt.Errorf("disk path /secret/x exploded")}, zap.NewNop(), nil)
	require.NoError(t, err)

	rec := do(t, server, http.MethodGet, "/databases", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode[ErrorResponse](t, rec).Detail)
}

func TestHealth_Degraded(t *testing.T) {
	server, err := NewServer(stubService{}, zap.NewNop(), nil)
	require.NoError(t, err)

	rec := do(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Reason, "corrupted")
}

func TestNotFoundRoute(t *testing.T) {
	server := setupTestServer(t)
	rec := do(t, server, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).Detail)
}

func TestCORS(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set(echo.HeaderOrigin, "chrome-extension://abcdefghijklmnop")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestRateLimit(t *testing.T) {
	server := setupTestServer(t, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})

	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/databases", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/databases", nil).Code)
	rec := do(t, server, http.MethodGet, "/databases", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", decode[ErrorResponse](t, rec).Detail)

	// Health stays reachable.
	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/health", nil).Code)
}

func TestBodyLimit(t *testing.T) {
	server := setupTestServer(t, func(c *Config) { c.MaxBodySize = "1K" })

	rec := do(t, server, http.MethodPost, "/add-text", map[string]any{
		"database_name": "kb",
		"text":          strings.Repeat("x", 4096),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	server := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, server, http.MethodPost, "/databases", map[string]string{"name": "kb"}).Code)

	rec := do(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "contextdb_manager_operations_total")
}
