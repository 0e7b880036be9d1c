package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider_Deterministic(t *testing.T) {
	p, err := NewHashProvider(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultHashDimension, p.Dimension())
	assert.Equal(t, "hash-256", p.Model())

	ctx := context.Background()
	a, err := p.EmbedQuery(ctx, "The quick brown fox")
	require.NoError(t, err)
	docs, err := p.EmbedDocuments(ctx, []string{"the QUICK brown fox!"})
	require.NoError(t, err)

	assert.Equal(t, a, docs[0], "case and punctuation must not change the vector")
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
}

func TestHashProvider_Similarity(t *testing.T) {
	p, err := NewHashProvider(512)
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{
		"golang concurrency patterns with channels",
		"concurrency patterns in golang using goroutines and channels",
		"baking sourdough bread at home",
	})
	require.NoError(t, err)

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
	assert.Greater(t, related, 0.3)
}

func TestHashProvider_NeverZero(t *testing.T) {
	p, err := NewHashProvider(16)
	require.NoError(t, err)

	vec, err := p.EmbedQuery(context.Background(), "?!...")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestHashProvider_Errors(t *testing.T) {
	_, err := NewHashProvider(4)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewHashProvider(32)
	require.NoError(t, err)
	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.EmbedQuery(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
}
