// Contextdb serves named semantic text databases over HTTP.
//
// Configuration is loaded from ~/.config/contextdb/config.yaml (or --config)
// and CONTEXTDB_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	contextdb
//
//	# Configure via environment
//	CONTEXTDB_SERVER_PORT=9000 CONTEXTDB_VECTORSTORE_PROVIDER=qdrant contextdb
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextdb/internal/config"
	"github.com/fyrsmithlabs/contextdb/internal/embeddings"
	"github.com/fyrsmithlabs/contextdb/internal/events"
	httpserver "github.com/fyrsmithlabs/contextdb/internal/http"
	"github.com/fyrsmithlabs/contextdb/internal/logging"
	"github.com/fyrsmithlabs/contextdb/internal/manager"
	"github.com/fyrsmithlabs/contextdb/internal/registry"
	"github.com/fyrsmithlabs/contextdb/internal/telemetry"
	"github.com/fyrsmithlabs/contextdb/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  contextdb [--config path]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  contextdb version           Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func printVersion() {
	fmt.Printf("contextdb by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the server and blocks until ctx is cancelled or the listener
// fails. Components are started in dependency order and stopped in reverse:
//  1. logger and telemetry
//  2. vector backend and embedding provider
//  3. database index and event publisher
//  4. manager (with optional reconciliation)
//  5. HTTP server
func run(ctx context.Context, cfg *config.Config) error {
	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	logger.Info(ctx, "starting contextdb",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("data_dir", cfg.Data.Dir),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider))

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), zl)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	mgr, cleanup, err := initManager(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Manager.ReconcileOnStart {
		report, err := mgr.Reconcile(ctx)
		if err != nil {
			logger.Warn(ctx, "reconciliation failed", zap.Error(err))
		} else {
			logger.Info(ctx, "reconciliation finished",
				zap.Strings("orphaned", report.Orphaned),
				zap.Strings("rematerialized", report.Rematerialized),
				zap.Int("failed", len(report.Failed)))
		}
	}

	srv, err := httpserver.NewServer(mgr, zl, httpserver.ConfigFrom(cfg, version))
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info(ctx, "server listening", zap.String("addr", srv.Addr()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http shutdown incomplete", zap.Error(err))
	}
	if err := <-errCh; err != nil {
		logger.Warn(ctx, "http server stopped with error", zap.Error(err))
	}
	logger.Info(ctx, "server shutdown complete")
	return nil
}

// initManager builds the storage stack. The returned cleanup closes the
// manager (and with it the backend), the embedder and the publisher.
func initManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*manager.Manager, func(), error) {
	backend, err := vectorstore.NewBackend(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create vector backend: %w", err)
	}

	embedder, err := embeddings.NewProvider(embeddings.ConfigFrom(cfg.Embeddings), logger)
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	reg, err := registry.New(cfg.Data.Dir)
	if err != nil {
		_ = embedder.Close()
		_ = backend.Close()
		return nil, nil, fmt.Errorf("failed to open database index: %w", err)
	}

	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		_ = embedder.Close()
		_ = backend.Close()
		return nil, nil, err
	}

	mgr, err := manager.New(manager.ConfigFrom(cfg), reg, backend, embedder, publisher, logger)
	if err != nil {
		_ = publisher.Close()
		_ = embedder.Close()
		_ = backend.Close()
		return nil, nil, fmt.Errorf("failed to create manager: %w", err)
	}

	cleanup := func() {
		if err := mgr.Close(); err != nil {
			logger.Warn("manager close failed", zap.Error(err))
		}
		if err := embedder.Close(); err != nil {
			logger.Warn("embedder close failed", zap.Error(err))
		}
		if err := publisher.Close(); err != nil {
			logger.Warn("event publisher close failed", zap.Error(err))
		}
	}
	return mgr, cleanup, nil
}

func newPublisher(cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, error) {
	if !cfg.Enabled {
		return events.NopPublisher{}, nil
	}
	p, err := events.NewNATSPublisher(events.NATSConfig{
		URL:           cfg.URL,
		SubjectPrefix: cfg.SubjectPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	logger.Info("publishing lifecycle events", zap.String("url", cfg.URL), zap.String("prefix", cfg.SubjectPrefix))
	return p, nil
}
