package featurestore

import (
	"context"
	"testing"

	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/stretchr/testify/require"
)

type fakeMetadataBackend struct{}

func (fakeMetadataBackend) FindFeatureStoreID(ctx context.Context, fsName string) (int, error) {
	return 1, nil
}

func (fakeMetadataBackend) FindFeatureViewID(ctx context.Context, fsID int, fvName string, version int) (int, error) {
	return 10, nil
}

func (fakeMetadataBackend) FindTrainingDatasetJoinData(ctx context.Context, fvID int) ([]dal.TrainingDatasetJoin, error) {
	return []dal.TrainingDatasetJoin{
		{TDJoinID: 1, Prefix: "", JoinIndex: 0},
		{TDJoinID: 2, Prefix: "", JoinIndex: 1},
	}, nil
}

func (fakeMetadataBackend) FindTrainingDatasetData(ctx context.Context, fvID int) ([]dal.TrainingDatasetFeature, error) {
	return []dal.TrainingDatasetFeature{
		{FeatureID: 1, FGID: 100, Name: "a", Type: "INT", TDJoinID: 1, Idx: 0},
		{FeatureID: 2, FGID: 100, Name: "b", Type: "INT", TDJoinID: 1, Idx: 1},
		{FeatureID: 3, FGID: 200, Name: "c", Type: "INT", TDJoinID: 2, Idx: 2},
		{FeatureID: 4, FGID: 100, Name: "pk", Type: "BIGINT", TDJoinID: 1, Idx: 3},
	}, nil
}

func (fakeMetadataBackend) FindFeatureGroupData(ctx context.Context, fgID int) (dal.FeatureGroupRow, error) {
	switch fgID {
	case 100:
		return dal.FeatureGroupRow{FGID: 100, Name: "fg1", FSID: 1, Version: 1, OnlineEnabled: true}, nil
	case 200:
		return dal.FeatureGroupRow{FGID: 200, Name: "fg2", FSID: 1, Version: 1, OnlineEnabled: true}, nil
	}
	return dal.FeatureGroupRow{}, dal.ErrNotFound
}

func (fakeMetadataBackend) FindFeatureStoreData(ctx context.Context, fsID int) (string, error) {
	return "fsdb", nil
}

func (fakeMetadataBackend) FindServingKeyData(ctx context.Context, fvID int) ([]dal.ServingKey, error) {
	return []dal.ServingKey{
		{FGID: 100, FeatureName: "pk", Prefix: "", Required: false, JoinOn: "pk", JoinIndex: 0},
	}, nil
}

func (fakeMetadataBackend) FindAvroSchema(ctx context.Context, fgID int) (string, error) {
	return "", nil
}

func TestFetchMetadataAssemblesExpectedShape(t *testing.T) {
	meta, err := FetchMetadata(context.Background(), fakeMetadataBackend{}, "fsdb", "fv1", 1)
	require.NoError(t, err)
	require.Equal(t, 4, meta.NumFeatures)
	require.Len(t, meta.FeatureGroupFeatures, 2)

	// feature_index_lookup positions are contiguous [0, N) (invariant M1)
	seen := make([]bool, meta.NumFeatures)
	for _, pos := range meta.FeatureIndexLookup {
		require.True(t, pos >= 0 && pos < meta.NumFeatures)
		seen[pos] = true
	}
	for _, s := range seen {
		require.True(t, s)
	}

	require.Contains(t, meta.JoinKeyMap, "pk")
}

func TestPlanPKReadsSkipsPrimaryKeyColumns(t *testing.T) {
	meta, err := FetchMetadata(context.Background(), fakeMetadataBackend{}, "fsdb", "fv1", 1)
	require.NoError(t, err)

	reqs := PlanPKReads(meta, map[string]any{"pk": float64(42)})
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		for _, col := range req.ReadColumns {
			require.NotEqual(t, "pk", col.Name)
		}
	}
}
