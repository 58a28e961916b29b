package dispatcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/logicalclocks/rdrs2go/internal/apierrors"
	"github.com/logicalclocks/rdrs2go/internal/bufpool"
	"github.com/logicalclocks/rdrs2go/internal/cache/fvcache"
	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/logicalclocks/rdrs2go/internal/dal/boltdal"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *boltdal.DB) {
	t.Helper()
	db, err := boltdal.Open(filepath.Join(t.TempDir(), "dispatcher.boltdal"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SeedFeatureStore(1, "fs1"))
	require.NoError(t, db.SeedFeatureView(1, "fv1", 1, 10))
	require.NoError(t, db.SeedTrainingDatasetJoins(10, []dal.TrainingDatasetJoin{
		{TDJoinID: 1, Prefix: "", JoinIndex: 0},
	}))
	require.NoError(t, db.SeedTrainingDatasetFeatures(10, []dal.TrainingDatasetFeature{
		{FeatureID: 1, FGID: 1, Name: "amount", Type: "Integer", TDJoinID: 1, Idx: 0, Label: false},
	}))
	require.NoError(t, db.SeedFeatureGroup(dal.FeatureGroupRow{FGID: 1, Name: "fg1", FSID: 1, Version: 1, OnlineEnabled: true}))
	require.NoError(t, db.SeedServingKeys(10, []dal.ServingKey{
		{FGID: 1, FeatureName: "id", Prefix: "", Required: true, JoinOn: "", JoinIndex: 0},
	}))
	require.NoError(t, db.PutRow("fs1", "fg1_1", map[string]string{"id": "123"}, boltdal.Row{
		Columns: map[string][]byte{"amount": []byte("42")},
	}))

	fv := fvcache.New(db, fvcache.Config{NShards: 1, UnusedEvictionMS: 60000, SweepIntervalMS: 60000})
	t.Cleanup(fv.Shutdown)

	bufs := bufpool.New(bufpool.Config{ReqBufferSize: 1024, RespBufferSize: 1024, PreAllocatedBuffers: 2})

	d := New(fv, nil, db, bufs, Config{MaxRequestBytes: 1 << 20, BatchMaxSize: 10, OperationIDMaxSize: 64})
	return d, db
}

func TestHandleFeatureVectorAssemblesFeatures(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp, err := d.HandleFeatureVector(context.Background(), FeatureVectorRequest{
		FeatureStoreName:   "fs1",
		FeatureViewName:    "fv1",
		FeatureViewVersion: 1,
		Entries:            map[string]any{"id": "123"},
	}, 0)
	require.NoError(t, err)
	require.Equal(t, "COMPLETE", resp.Status)
	require.Equal(t, []any{"42"}, resp.Features)
}

func TestHandleFeatureVectorMissingEntryErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.HandleFeatureVector(context.Background(), FeatureVectorRequest{
		FeatureStoreName:   "fs1",
		FeatureViewName:    "fv1",
		FeatureViewVersion: 1,
		Entries:            map[string]any{},
	}, 0)
	require.Error(t, err)
}

func TestHandleFeatureVectorUnknownFeatureViewNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.HandleFeatureVector(context.Background(), FeatureVectorRequest{
		FeatureStoreName:   "fs1",
		FeatureViewName:    "missing",
		FeatureViewVersion: 1,
		Entries:            map[string]any{"id": "123"},
	}, 0)
	require.Error(t, err)
}

func TestHandleFeatureVectorRejectsOversizedBody(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.HandleFeatureVector(context.Background(), FeatureVectorRequest{
		FeatureStoreName:   "fs1",
		FeatureViewName:    "fv1",
		FeatureViewVersion: 1,
		Entries:            map[string]any{"id": "123"},
	}, 1<<21)
	require.Error(t, err)
}

func TestHandleBatchFeatureVector(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out, err := d.HandleBatchFeatureVector(context.Background(), "fs1", "fv1", 1,
		[]map[string]any{{"id": "123"}, {}}, nil, "", 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "COMPLETE", out[0].Status)
	require.Equal(t, "ERROR", out[1].Status)
}

func TestHandleBatchFeatureVectorRejectsEmptyBatch(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.HandleBatchFeatureVector(context.Background(), "fs1", "fv1", 1,
		nil, nil, "", 0)
	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	require.Equal(t, apierrors.CodeNoPrimaryKeyGiven, apiErr.Code)
}

func TestHandleBatchFeatureVectorRejectsMismatchedPassedFeaturesLength(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.HandleBatchFeatureVector(context.Background(), "fs1", "fv1", 1,
		[]map[string]any{{"id": "123"}, {"id": "123"}},
		[]map[string]any{{}},
		"", 0)
	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	require.Equal(t, apierrors.CodeIncorrectPassedFeature, apiErr.Code)
}
