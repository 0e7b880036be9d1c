package embeddings

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	*HashProvider
	calls atomic.Int32
}

func (c *countingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.HashProvider.EmbedQuery(ctx, text)
}

func TestWithRateLimit_Throttles(t *testing.T) {
	h, err := NewHashProvider(16)
	require.NoError(t, err)
	inner := &countingProvider{HashProvider: h}

	// Burst of 1 at 20 rps: the third call waits ~100ms.
	p := WithRateLimit(inner, 20, 1)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := p.EmbedQuery(context.Background(), "q")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, 16, p.Dimension())
}

func TestWithRateLimit_ContextCancelled(t *testing.T) {
	h, err := NewHashProvider(16)
	require.NoError(t, err)
	p := WithRateLimit(h, 0.001, 1)

	_, err = p.EmbedDocuments(context.Background(), []string{"first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.EmbedDocuments(ctx, []string{"second"})
	assert.Error(t, err)
}
