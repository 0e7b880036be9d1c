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

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid http", Config{BaseURL: "http://localhost:8080", Model: "BAAI/bge-small-en-v1.5"}, false},
		{"valid https", Config{BaseURL: "https://tei.internal/"}, false},
		{"missing base URL", Config{Model: "m"}, true},
		{"bad scheme", Config{BaseURL: "ftp://host"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewService(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, service)
		})
	}
}

// teiServer fakes the /embed endpoint, returning vectors of size dim whose
// first component encodes the input position.
func teiServer(t *testing.T, dim int, seen *[]teiRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Inputs   json.RawMessage `json:"inputs"`
			Truncate bool            `json:"truncate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		if err := json.Unmarshal(req.Inputs, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(req.Inputs, &single))
			inputs = []string{single}
		}
		if seen != nil {
			*seen = append(*seen, teiRequest{Inputs: inputs, Truncate: req.Truncate})
		}

		out := make([][]float32, len(inputs))
		for i := range inputs {
			out[i] = make([]float32, dim)
			out[i][0] = float32(i + 1)
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func TestService_EmbedDocuments(t *testing.T) {
	var seen []teiRequest
	srv := teiServer(t, 4, &seen)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL + "/", Model: "bge"})
	require.NoError(t, err)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(3), vecs[2][0])
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Truncate)
	assert.Equal(t, "bge", svc.Model())
}

func TestService_EmbedQuery(t *testing.T) {
	srv := teiServer(t, 4, nil)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestService_EmptyInput(t *testing.T) {
	svc, err := NewService(Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"x"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestService_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[0.1, 0.2]]`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"x", "y"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestService_APIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tei-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[[1, 0]]`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, APIKey: "tei-token"})
	require.NoError(t, err)
	_, err = svc.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
}
