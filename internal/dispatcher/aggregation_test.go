package dispatcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/logicalclocks/rdrs2go/internal/bufpool"
	"github.com/logicalclocks/rdrs2go/internal/cache/fvcache"
	"github.com/logicalclocks/rdrs2go/internal/dal/boltdal"
	"github.com/logicalclocks/rdrs2go/internal/ronsql/printer"
)

func newAggDispatcher(t *testing.T) (*Dispatcher, *boltdal.DB) {
	t.Helper()
	db, err := boltdal.Open(filepath.Join(t.TempDir(), "agg.boltdal"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for i, amount := range []int64{10, 20, 30} {
		require.NoError(t, db.PutRow("db1", "readings", map[string]string{"id": string(rune('a' + i))}, boltdal.Row{
			NumericCols: []int64{amount},
		}))
	}

	fv := fvcache.New(db, fvcache.Config{NShards: 1, UnusedEvictionMS: 60000, SweepIntervalMS: 60000})
	t.Cleanup(fv.Shutdown)
	bufs := bufpool.New(bufpool.Config{ReqBufferSize: 1024, RespBufferSize: 1024, PreAllocatedBuffers: 2})

	d := New(fv, nil, db, bufs, Config{MaxRequestBytes: 1 << 20, BatchMaxSize: 10, OperationIDMaxSize: 64})
	return d, db
}

func TestHandleAggregationSum(t *testing.T) {
	d, _ := newAggDispatcher(t)

	res, err := d.HandleAggregation(context.Background(), AggregationRequest{
		DB:     "db1",
		Query:  "SELECT SUM(amount) FROM readings",
		Format: printer.Format{JSON: true},
	}, 0)
	require.NoError(t, err)
	require.False(t, res.Explain)
	require.Equal(t, `[{"SUM(amount)":60}]`, res.Body)
}

func TestHandleAggregationExplain(t *testing.T) {
	d, _ := newAggDispatcher(t)

	res, err := d.HandleAggregation(context.Background(), AggregationRequest{
		DB:      "db1",
		Query:   "SELECT SUM(amount) FROM readings",
		Explain: true,
		Format:  printer.Format{JSON: true},
	}, 0)
	require.NoError(t, err)
	require.True(t, res.Explain)
	require.Contains(t, res.Body, "Table scan: readings")
}

func TestHandleAggregationRejectsInvalidDB(t *testing.T) {
	d, _ := newAggDispatcher(t)

	_, err := d.HandleAggregation(context.Background(), AggregationRequest{
		DB:    "1bad",
		Query: "SELECT SUM(amount) FROM readings",
	}, 0)
	require.Error(t, err)
}

func TestHandleAggregationSyntaxError(t *testing.T) {
	d, _ := newAggDispatcher(t)

	_, err := d.HandleAggregation(context.Background(), AggregationRequest{
		DB:    "db1",
		Query: "NOT SQL",
	}, 0)
	require.Error(t, err)
}
