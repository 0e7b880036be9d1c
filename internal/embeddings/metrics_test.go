package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return newMetrics(mp.Meter(embeddingsInstrumentationName), zap.NewNop()), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_RecordGeneration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGeneration(ctx, "all-MiniLM-L6-v2", "embed_documents", 100*time.Millisecond, 10, nil)
	m.RecordGeneration(ctx, "all-MiniLM-L6-v2", "embed_query", 50*time.Millisecond, 1, nil)
	m.RecordGeneration(ctx, "all-MiniLM-L6-v2", "embed_documents", 25*time.Millisecond, 5, errors.New("generation failed"))

	got := collect(t, reader)

	hist, ok := got["contextdb.embedding.generation_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok, "duration histogram missing")
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	assert.Equal(t, uint64(3), total)

	_, ok = got["contextdb.embedding.batch_size"].Data.(metricdata.Histogram[int64])
	assert.True(t, ok, "batch size histogram missing")

	sum, ok := got["contextdb.embedding.errors_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "errors counter missing")
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	op, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("operation"))
	assert.Equal(t, "embed_documents", op.AsString())
}

func TestInstrument(t *testing.T) {
	m, reader := newTestMetrics(t)
	h, err := NewHashProvider(16)
	require.NoError(t, err)

	p := Instrument(h, m)
	assert.Same(t, p, Instrument(p, m), "double wrapping")

	_, err = p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	_, err = p.EmbedDocuments(context.Background(), nil)
	require.Error(t, err)

	got := collect(t, reader)
	sum, ok := got["contextdb.embedding.errors_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	model, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("model"))
	assert.Equal(t, "hash-16", model.AsString())
}
