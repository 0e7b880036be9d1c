package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/contextdb/internal/config"
	"go.uber.org/zap"
)

// NewBackend creates the Backend selected by cfg.VectorStore.Provider:
//   - "chromem" (default): embedded chromem-go, no external services
//   - "qdrant": external Qdrant server over gRPC
//   - "sqlite": one SQLite file per database, exact search
//
// The returned backend records Prometheus metrics for every call.
// File-based backends keep their data under cfg.Data.Dir next to the
// database index.
func NewBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return Instrument(b), nil
}

func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.VectorStore.Provider {
	case "chromem", "":
		return NewChromemBackend(ChromemConfig{
			Path:     cfg.Data.Dir,
			Compress: cfg.VectorStore.Chromem.Compress,
		}, logger)

	case "qdrant":
		return NewQdrantBackend(ctx, QdrantConfig{
			Host:             cfg.VectorStore.Qdrant.Host,
			Port:             cfg.VectorStore.Qdrant.Port,
			APIKey:           cfg.VectorStore.Qdrant.APIKey.Value(),
			UseTLS:           cfg.VectorStore.Qdrant.UseTLS,
			CollectionPrefix: cfg.VectorStore.Qdrant.CollectionPrefix,
			MaxRetries:       cfg.VectorStore.Qdrant.MaxRetries,
		}, logger)

	case "sqlite":
		return NewSQLiteBackend(SQLiteConfig{
			Path:        cfg.Data.Dir,
			BusyTimeout: cfg.VectorStore.SQLite.BusyTimeout.Duration(),
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant, sqlite)", cfg.VectorStore.Provider)
	}
}
