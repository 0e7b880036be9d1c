package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openAIServer fakes POST /embeddings. It answers in reverse order to check
// that results are placed by index.
func openAIServer(t *testing.T, dim int, batches *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if batches != nil {
			*batches = append(*batches, len(req.Input))
		}

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(i)
			data = append(data, item{Object: "embedding", Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
}

func TestOpenAIProvider_Batches(t *testing.T) {
	var batches []int
	srv := openAIServer(t, 8, &batches)
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL:   srv.URL,
		APIKey:    "sk-test",
		Model:     "custom-embedder",
		Dimension: 8,
	})
	require.NoError(t, err)

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = "t"
	}
	vecs, err := p.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 150)
	assert.Equal(t, []int{100, 50}, batches)

	// Index order restored within each batch.
	assert.Equal(t, float32(0), vecs[0][0])
	assert.Equal(t, float32(99), vecs[99][0])
	assert.Equal(t, float32(0), vecs[100][0])
	assert.Equal(t, float32(49), vecs[149][0])
}

func TestOpenAIProvider_Query(t *testing.T) {
	srv := openAIServer(t, 1536, nil)
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension())
	assert.Equal(t, "text-embedding-3-small", p.Model())

	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 1536)
}

func TestOpenAIProvider_Config(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewOpenAIProvider(OpenAIConfig{Model: "unknown-model"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewOpenAIProvider(OpenAIConfig{Model: "unknown-model", Dimension: 42})
	require.NoError(t, err)
	assert.Equal(t, 42, p.Dimension())
}

func TestOpenAIProvider_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
