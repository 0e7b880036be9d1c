package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextdb/internal/config"
)

// Provider turns text into fixed-length vectors.
type Provider interface {
	// EmbedDocuments embeds texts that will be stored.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Model returns the model identifier recorded with each database.
	Model() string
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "fastembed", "tei", "openai" or "hash".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the TEI or OpenAI-compatible endpoint.
	BaseURL string
	// APIKey authenticates against remote providers.
	APIKey string
	// Dimension overrides the detected model dimension.
	Dimension int
	// CacheDir is the model cache directory (only used for FastEmbed).
	CacheDir string
	// RequestsPerSecond throttles remote providers; 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
	// Timeout bounds a single remote request.
	Timeout time.Duration
}

// ConfigFrom maps the embeddings section of the application config.
func ConfigFrom(c config.EmbeddingsConfig) ProviderConfig {
	return ProviderConfig{
		Provider:          c.Provider,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey.Value(),
		Dimension:         c.Dimension,
		CacheDir:          c.CacheDir,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Timeout:           c.Timeout.Duration(),
	}
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	if dim, ok := openAIModelDimensions[model]; ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "base"):
		return 768
	default:
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
// Remote providers are throttled when RequestsPerSecond is set, and every
// provider is instrumented with OpenTelemetry metrics.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p      Provider
		remote bool
		err    error
	)
	switch cfg.Provider {
	case "fastembed", "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "tei":
		remote = true
		var svc *Service
		svc, err = NewService(Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
		if err == nil {
			dim := cfg.Dimension
			if dim == 0 {
				dim = detectDimensionFromModel(cfg.Model)
			}
			p = &teiProvider{Service: svc, dimension: dim}
		}
	case "openai":
		remote = true
		p, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		})
	case "hash":
		p, err = NewHashProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if remote && cfg.RequestsPerSecond > 0 {
		p = WithRateLimit(p, cfg.RequestsPerSecond, cfg.Burst)
	}
	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", p.Model()),
		zap.Int("dimension", p.Dimension()))
	return Instrument(p, NewMetrics(logger)), nil
}

// teiProvider wraps Service to implement Provider interface.
type teiProvider struct {
	*Service
	dimension int
}

// Dimension returns the embedding dimension based on the configured model.
func (t *teiProvider) Dimension() int {
	return t.dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (t *teiProvider) Close() error {
	return nil
}
