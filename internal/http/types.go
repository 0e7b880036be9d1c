package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	EmbeddingModel string `json:"embedding_model"`
	DatabasesCount int    `json:"databases_count"`
	VectorSize     int    `json:"vector_size"`
	Backend        string `json:"backend"`
	Reason         string `json:"reason,omitempty"`
}

// DatabaseInfo is one element of GET /databases. CreatedAt is "unknown"
// for databases registered without a timestamp.
type DatabaseInfo struct {
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
	CreatedAt     string `json:"created_at"`
	VectorSize    int    `json:"vector_size"`
	ModelID       string `json:"model_id,omitempty"`
}

// CreateDatabaseRequest is the request body for POST /databases.
type CreateDatabaseRequest struct {
	Name *string `json:"name"`
}

// AddTextRequest is the request body for POST /add-text.
type AddTextRequest struct {
	DatabaseName *string        `json:"database_name"`
	Text         *string        `json:"text"`
	Metadata     map[string]any `json:"metadata"`
}

// AddTextResponse is the response body for POST /add-text.
type AddTextResponse struct {
	Message      string `json:"message"`
	DocumentID   string `json:"document_id"`
	DatabaseName string `json:"database_name"`
}

// SearchRequest is the request body for POST /search. Omitted limit and
// min_score take the server defaults.
type SearchRequest struct {
	DatabaseName *string  `json:"database_name"`
	Query        *string  `json:"query"`
	Limit        *int     `json:"limit"`
	MinScore     *float64 `json:"min_score"`
}

// SearchResult is one element of the POST /search response.
type SearchResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// StatsResponse is the response body for GET /databases/:name/stats.
type StatsResponse struct {
	Name           string        `json:"name"`
	DocumentCount  int           `json:"document_count"`
	VectorSize     int           `json:"vector_size"`
	DistanceMetric string        `json:"distance_metric"`
	Metadata       StatsMetadata `json:"metadata"`
}

// StatsMetadata echoes the registry entry.
type StatsMetadata struct {
	CreatedAt  string `json:"created_at"`
	VectorSize int    `json:"vector_size"`
	ModelID    string `json:"model_id"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Response headers set by POST /search.
const (
	HeaderSearchCandidates     = "X-Search-Candidates"
	HeaderSearchBelowThreshold = "X-Search-Below-Threshold"
)
