package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextdb/internal/config"
	"github.com/fyrsmithlabs/contextdb/internal/vectorstore"
)

func TestNewBackend_FileProviders(t *testing.T) {
	for _, provider := range []string{"", "chromem", "sqlite"} {
		t.Run("provider="+provider, func(t *testing.T) {
			cfg := config.Default()
			cfg.Data.Dir = t.TempDir()
			cfg.VectorStore.Provider = provider

			b, err := vectorstore.NewBackend(context.Background(), cfg, zap.NewNop())
			require.NoError(t, err)
			defer b.Close()

			want := provider
			if want == "" {
				want = "chromem"
			}
			assert.Equal(t, want, b.Name())

			coll, err := b.Open(context.Background(), "kb")
			require.NoError(t, err)
			defer coll.Close()
			require.NoError(t, coll.Create(context.Background(), 2, vectorstore.DistanceCosine))

			names, err := b.Namespaces(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{b.Namespace("kb")}, names)
		})
	}
}

func TestNewBackend_Unsupported(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Dir = t.TempDir()
	cfg.VectorStore.Provider = "pinecone"

	_, err := vectorstore.NewBackend(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vectorstore provider")
}
