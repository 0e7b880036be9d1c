package manager

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/contextdb/internal/config"
)

// Embedder produces the vectors stored by the Manager.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// Payload keys derived by the Manager. They override caller metadata.
const (
	PayloadText       = "text"
	PayloadAddedAt    = "added_at"
	PayloadTextLength = "text_length"
	PayloadModelID    = "model_id"
)

// Config tunes the Manager.
type Config struct {
	DefaultLimit    int
	MaxSearchLimit  int
	DefaultMinScore float64
	// DisableImplicitCreate makes AddText fail with ErrNotFound for unknown
	// databases instead of creating them.
	DisableImplicitCreate bool
}

// DefaultConfig returns limit 5, max 50, min score 0.3.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:    5,
		MaxSearchLimit:  50,
		DefaultMinScore: 0.3,
	}
}

// ConfigFrom maps the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		DefaultLimit:          c.Search.DefaultLimit,
		MaxSearchLimit:        c.Search.MaxLimit,
		DefaultMinScore:       c.Search.DefaultMinScore,
		DisableImplicitCreate: c.Manager.DisableImplicitCreate,
	}
}

// DatabaseInfo summarizes a database in listings.
type DatabaseInfo struct {
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	VectorSize    int       `json:"vector_size"`
	ModelID       string    `json:"model_id"`
	DocumentCount int       `json:"document_count"`
}

// DatabaseStats combines live collection figures with the registry entry.
type DatabaseStats struct {
	Name          string    `json:"name"`
	DocumentCount int       `json:"document_count"`
	VectorSize    int       `json:"vector_size"`
	Distance      string    `json:"distance_metric"`
	CreatedAt     time.Time `json:"created_at"`
	ModelID       string    `json:"model_id"`
}

// AddTextRequest adds one document.
type AddTextRequest struct {
	Database string
	Text     string
	Metadata map[string]any
}

// AddTextResult identifies the stored document.
type AddTextResult struct {
	ID       string `json:"document_id"`
	Database string `json:"database_name"`
	// Created is set when the add implicitly created the database.
	Created bool `json:"-"`
}

// SearchRequest queries one database. Limit <= 0 means the default; a nil
// MinScore means the default threshold.
type SearchRequest struct {
	Database string
	Query    string
	Limit    int
	MinScore *float64
}

// SearchResult is a hit above the threshold.
type SearchResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// SearchResponse carries the filtered hits. Candidates is the number of hits
// the store returned and BelowThreshold how many of them were dropped, so
// Candidates == len(Results) + BelowThreshold.
type SearchResponse struct {
	Results        []SearchResult `json:"results"`
	Candidates     int            `json:"candidates"`
	BelowThreshold int            `json:"below_threshold"`
}

// Health status values.
const (
	StatusOnline   = "online"
	StatusDegraded = "degraded"
)

// Health reports the Manager's serving state.
type Health struct {
	Status    string `json:"status"`
	Model     string `json:"embedding_model"`
	Dimension int    `json:"vector_size"`
	Databases int    `json:"databases_count"`
	Backend   string `json:"backend"`
	// Reason explains a degraded status.
	Reason string `json:"reason,omitempty"`
}

// ReconcileReport lists differences between the index and backend storage.
type ReconcileReport struct {
	// Orphaned are backend namespaces with no registered database. They
	// are left in place for manual cleanup.
	Orphaned []string `json:"orphaned"`
	// Rematerialized are registered databases whose collection was missing
	// and has been created.
	Rematerialized []string `json:"rematerialized"`
	// Failed maps databases whose collection could not be checked or
	// created to the error.
	Failed map[string]string `json:"failed,omitempty"`
}
