package vectorstore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInstrument_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	raw, err := NewSQLiteBackend(SQLiteConfig{Path: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	b := Instrument(raw)
	defer b.Close()

	upserted := testutil.ToFloat64(PointsUpserted.WithLabelValues("sqlite"))
	upsertErrors := testutil.ToFloat64(OperationErrors.WithLabelValues("sqlite", "upsert"))

	coll, err := b.Open(ctx, "metrics")
	require.NoError(t, err)
	defer coll.Close()
	require.NoError(t, coll.Create(ctx, 2, DistanceCosine))

	require.NoError(t, coll.Upsert(ctx, []Point{
		{ID: "00000000-0000-0000-0000-00000000000a", Vector: []float32{1, 0}},
		{ID: "00000000-0000-0000-0000-00000000000b", Vector: []float32{0, 1}},
	}))
	assert.Equal(t, upserted+2, testutil.ToFloat64(PointsUpserted.WithLabelValues("sqlite")))

	err = coll.Upsert(ctx, []Point{{ID: "00000000-0000-0000-0000-00000000000c", Vector: []float32{1, 0, 0}}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, upsertErrors+1, testutil.ToFloat64(OperationErrors.WithLabelValues("sqlite", "upsert")))
	assert.Equal(t, upserted+2, testutil.ToFloat64(PointsUpserted.WithLabelValues("sqlite")), "failed upserts are not counted")

	_, err = coll.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Positive(t, testutil.CollectAndCount(OperationDuration, "contextdb_vectorstore_operation_duration_seconds"))
}
