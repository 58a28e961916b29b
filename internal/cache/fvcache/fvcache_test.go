package fvcache

import (
	"context"
	"testing"

	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/stretchr/testify/require"
)

type stubBackend struct{ calls int }

func (s *stubBackend) FindFeatureStoreID(ctx context.Context, fsName string) (int, error) {
	s.calls++
	return 1, nil
}
func (s *stubBackend) FindFeatureViewID(ctx context.Context, fsID int, fvName string, version int) (int, error) {
	return 1, nil
}
func (s *stubBackend) FindTrainingDatasetJoinData(ctx context.Context, fvID int) ([]dal.TrainingDatasetJoin, error) {
	return nil, nil
}
func (s *stubBackend) FindTrainingDatasetData(ctx context.Context, fvID int) ([]dal.TrainingDatasetFeature, error) {
	return nil, nil
}
func (s *stubBackend) FindFeatureGroupData(ctx context.Context, fgID int) (dal.FeatureGroupRow, error) {
	return dal.FeatureGroupRow{}, nil
}
func (s *stubBackend) FindFeatureStoreData(ctx context.Context, fsID int) (string, error) {
	return "fsdb", nil
}
func (s *stubBackend) FindServingKeyData(ctx context.Context, fvID int) ([]dal.ServingKey, error) {
	return nil, nil
}
func (s *stubBackend) FindAvroSchema(ctx context.Context, fgID int) (string, error) { return "", nil }

func TestGetPopulatesOnceAndCaches(t *testing.T) {
	backend := &stubBackend{}
	c := New(backend, Config{NShards: 1, UnusedEvictionMS: 300_000, SweepIntervalMS: 50})
	defer c.Shutdown()

	meta, release, err := c.Get(context.Background(), "fsdb", "fv1", 1)
	require.NoError(t, err)
	require.NotNil(t, meta)
	release()
	require.Equal(t, 1, backend.calls)

	_, release2, err := c.Get(context.Background(), "fsdb", "fv1", 1)
	require.NoError(t, err)
	release2()
	require.Equal(t, 1, backend.calls, "second lookup must hit the cache, not the backend")
}

func TestKeyRoundTrip(t *testing.T) {
	k := Key("fsdb", "fv1", 2)
	fs, fv, ver := splitKey(k)
	require.Equal(t, "fsdb", fs)
	require.Equal(t, "fv1", fv)
	require.Equal(t, 2, ver)
}
