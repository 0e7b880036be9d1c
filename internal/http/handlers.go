package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextdb/internal/logging"
	"github.com/fyrsmithlabs/contextdb/internal/manager"
	"github.com/fyrsmithlabs/contextdb/internal/registry"
)

const unknownCreatedAt = "unknown"

func (s *Server) handleHealth(c echo.Context) error {
	h := s.svc.Health(c.Request().Context())
	return c.JSON(http.StatusOK, HealthResponse{
		Status:         h.Status,
		Version:        s.config.Version,
		EmbeddingModel: h.Model,
		DatabasesCount: h.Databases,
		VectorSize:     h.Dimension,
		Backend:        h.Backend,
		Reason:         h.Reason,
	})
}

func (s *Server) handleListDatabases(c echo.Context) error {
	dbs, err := s.svc.ListDatabases(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]DatabaseInfo, len(dbs))
	for i, db := range dbs {
		out[i] = DatabaseInfo{
			Name:          db.Name,
			DocumentCount: db.DocumentCount,
			CreatedAt:     formatTime(db.CreatedAt),
			VectorSize:    db.VectorSize,
			ModelID:       db.ModelID,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateDatabase(c echo.Context) error {
	var req CreateDatabaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == nil {
		return invalid("name: field required")
	}
	if n := utf8.RuneCountInString(*req.Name); n < 1 || n > registry.MaxNameLength {
		return invalid(fmt.Sprintf("name: length must be between 1 and %d characters", registry.MaxNameLength))
	}

	name := *req.Name
	ctx := logging.WithDatabase(c.Request().Context(), name)
	if _, err := s.svc.CreateDatabase(ctx, name); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Database '%s' created successfully", name),
	})
}

func (s *Server) handleDeleteDatabase(c echo.Context) error {
	name, err := pathName(c)
	if err != nil {
		return err
	}
	ctx := logging.WithDatabase(c.Request().Context(), name)
	if err := s.svc.DeleteDatabase(ctx, name); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Database '%s' deleted successfully", name),
	})
}

func (s *Server) handleDatabaseStats(c echo.Context) error {
	name, err := pathName(c)
	if err != nil {
		return err
	}
	stats, err := s.svc.DatabaseStats(logging.WithDatabase(c.Request().Context(), name), name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatsResponse{
		Name:           stats.Name,
		DocumentCount:  stats.DocumentCount,
		VectorSize:     stats.VectorSize,
		DistanceMetric: strings.ToUpper(stats.Distance),
		Metadata: StatsMetadata{
			CreatedAt:  formatTime(stats.CreatedAt),
			VectorSize: stats.VectorSize,
			ModelID:    stats.ModelID,
		},
	})
}

func (s *Server) handleAddText(c echo.Context) error {
	var req AddTextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DatabaseName == nil {
		return invalid("database_name: field required")
	}
	if req.Text == nil {
		return invalid("text: field required")
	}
	if *req.Text == "" {
		return invalid("text: must contain at least 1 character")
	}

	ctx := logging.WithDatabase(c.Request().Context(), *req.DatabaseName)
	res, err := s.svc.AddText(ctx, manager.AddTextRequest{
		Database: *req.DatabaseName,
		Text:     *req.Text,
		Metadata: req.Metadata,
	})
	if err != nil {
		return err
	}
	if res.Created {
		s.logger.Info(ctx, "database created on first add")
	}
	return c.JSON(http.StatusOK, AddTextResponse{
		Message:      "Text added successfully",
		DocumentID:   res.ID,
		DatabaseName: res.Database,
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DatabaseName == nil {
		return invalid("database_name: field required")
	}
	if req.Query == nil {
		return invalid("query: field required")
	}
	if *req.Query == "" {
		return invalid("query: must contain at least 1 character")
	}
	limit := 0
	if req.Limit != nil {
		limit = *req.Limit
		if limit < 1 || limit > s.config.MaxSearchLimit {
			return invalid(fmt.Sprintf("limit: must be between 1 and %d", s.config.MaxSearchLimit))
		}
	}
	if req.MinScore != nil && (*req.MinScore < 0 || *req.MinScore > 1) {
		return invalid("min_score: must be between 0 and 1")
	}

	ctx := logging.WithDatabase(c.Request().Context(), *req.DatabaseName)
	resp, err := s.svc.Search(ctx, manager.SearchRequest{
		Database: *req.DatabaseName,
		Query:    *req.Query,
		Limit:    limit,
		MinScore: req.MinScore,
	})
	if err != nil {
		return err
	}

	out := make([]SearchResult, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = SearchResult{ID: r.ID, Text: r.Text, Score: r.Score, Metadata: r.Metadata}
		if out[i].Metadata == nil {
			out[i].Metadata = map[string]any{}
		}
	}
	h := c.Response().Header()
	h.Set(HeaderSearchCandidates, strconv.Itoa(resp.Candidates))
	h.Set(HeaderSearchBelowThreshold, strconv.Itoa(resp.BelowThreshold))

	s.logger.Debug(ctx, "search served",
		zap.Int("results", len(out)),
		zap.Int("below_threshold", resp.BelowThreshold))
	return c.JSON(http.StatusOK, out)
}

// pathName returns the :name parameter. echo leaves it escaped when the
// router matched on the raw path.
func pathName(c echo.Context) (string, error) {
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil {
		return "", invalid("name: invalid path encoding")
	}
	return name, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return unknownCreatedAt
	}
	return t.UTC().Format(time.RFC3339Nano)
}
