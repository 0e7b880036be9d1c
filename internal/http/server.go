// Package http serves the contextdb REST API with echo.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/contextdb/internal/config"
	"github.com/fyrsmithlabs/contextdb/internal/logging"
	"github.com/fyrsmithlabs/contextdb/internal/manager"
)

// Service is the Manager surface the API exposes.
type Service interface {
	Health(ctx context.Context) manager.Health
	ListDatabases(ctx context.Context) ([]manager.DatabaseInfo, error)
	CreateDatabase(ctx context.Context, name string) (*manager.DatabaseInfo, error)
	DeleteDatabase(ctx context.Context, name string) error
	DatabaseStats(ctx context.Context, name string) (*manager.DatabaseStats, error)
	AddText(ctx context.Context, req manager.AddTextRequest) (*manager.AddTextResult, error)
	Search(ctx context.Context, req manager.SearchRequest) (*manager.SearchResponse, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	Version     string
	CORSOrigins []string
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit   float64
	RateBurst   int
	MaxBodySize string
	// MaxSearchLimit bounds the limit field of search requests.
	MaxSearchLimit int
}

// NewDefaultConfig returns the defaults for a loopback server.
func NewDefaultConfig() *Config {
	return &Config{
		Host:           "127.0.0.1",
		Port:           8000,
		Version:        "dev",
		CORSOrigins:    []string{"*"},
		MaxBodySize:    "2M",
		MaxSearchLimit: 50,
	}
}

// ConfigFrom maps the application config.
func ConfigFrom(c *config.Config, version string) *Config {
	return &Config{
		Host:           c.Server.Host,
		Port:           c.Server.Port,
		Version:        version,
		CORSOrigins:    c.Server.CORSOrigins,
		RateLimit:      c.Server.RateLimit,
		RateBurst:      c.Server.RateBurst,
		MaxBodySize:    c.Server.MaxBodySize,
		MaxSearchLimit: c.Search.MaxLimit,
	}
}

// Server provides the contextdb HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	svc     Service
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates the server and registers its routes.
func NewServer(svc Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.MaxSearchLimit <= 0 {
		cfg.MaxSearchLimit = NewDefaultConfig().MaxSearchLimit
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logging.New(logger).Named("http"),
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(tracingMiddleware())
	e.Use(s.requestLogger())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
		ExposeHeaders: []string{
			echo.HeaderXRequestID,
			HeaderSearchCandidates,
			HeaderSearchBelowThreshold,
		},
	}))
	if cfg.MaxBodySize != "" {
		e.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     max(cfg.RateBurst, 1),
				ExpiresIn: 3 * time.Minute,
			}),
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests")
			},
		}))
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/databases", s.handleListDatabases)
	s.echo.POST("/databases", s.handleCreateDatabase)
	s.echo.DELETE("/databases/:name", s.handleDeleteDatabase)
	s.echo.GET("/databases/:name/stats", s.handleDatabaseStats)

	s.echo.POST("/add-text", s.handleAddText)
	s.echo.POST("/search", s.handleSearch)
}

// Handler exposes the router, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
