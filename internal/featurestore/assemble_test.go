package featurestore

import (
	"encoding/base64"
	"testing"

	"github.com/logicalclocks/rdrs2go/internal/avro"
	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/stretchr/testify/require"
)

func buildScenario2Metadata() *FeatureViewMetadata {
	return &FeatureViewMetadata{
		NumFeatures: 4,
		FeatureIndexLookup: map[string]int{
			"0|1|a":  0,
			"0|1|b":  1,
			"1|2|c":  2,
			"0|1|pk": 3,
		},
		JoinKeyMap: map[string][]string{
			"pk": {"0|1|pk"},
		},
		ComplexFeatures: map[string]*avro.Schema{},
	}
}

func TestAssembleVectorScenario2(t *testing.T) {
	meta := buildScenario2Metadata()
	responses := []dal.PKReadResponse{
		{OperationID: "0|1", Status: 200, Columns: []dal.ColumnValue{
			{Name: "a", Value: []byte("1")},
			{Name: "b", Value: []byte("2")},
		}},
		{OperationID: "1|2", Status: 200, Columns: []dal.ColumnValue{
			{Name: "c", Value: []byte("3")},
		}},
	}
	vec := AssembleVector(meta, responses, map[string]any{"pk": float64(42)})
	require.Equal(t, StatusComplete, vec.Status)
	require.Equal(t, []any{"1", "2", "3", float64(42)}, vec.Features)
}

func TestAssembleVectorMissingOnNotFound(t *testing.T) {
	meta := buildScenario2Metadata()
	responses := []dal.PKReadResponse{
		{OperationID: "0|1", Status: 404},
		{OperationID: "1|2", Status: 200, Columns: []dal.ColumnValue{{Name: "c", Value: []byte("3")}}},
	}
	vec := AssembleVector(meta, responses, map[string]any{"pk": float64(42)})
	require.Equal(t, StatusMissing, vec.Status)
}

func TestAssembleVectorDecodesComplexFeature(t *testing.T) {
	schema, err := avro.ParseSchema(`["null", {"type":"array","items":["null","long"]}]`)
	require.NoError(t, err)

	meta := buildScenario2Metadata()
	meta.ComplexFeatures["0|1|a"] = schema

	rawAvro := []byte{0x02, 0x06, 0x02, 0x02, 0x00, 0x02, 0x06, 0x00}
	b64 := base64.StdEncoding.EncodeToString(rawAvro)
	quoted := []byte(`"` + b64 + `"`)

	responses := []dal.PKReadResponse{
		{OperationID: "0|1", Status: 200, Columns: []dal.ColumnValue{
			{Name: "a", Value: quoted},
		}},
	}
	vec := AssembleVector(meta, responses, nil)
	require.Equal(t, []any{int64(1), nil, int64(3)}, vec.Features[0])
}

func TestOverlayPassedFeatures(t *testing.T) {
	meta := buildScenario2Metadata()
	meta.PrefixFeaturesLookup = map[string]FeatureMetadata{
		"a": {Name: "a", FGID: 1, JoinIndex: 0},
	}
	vec := AssembledVector{Features: make([]any, 4)}
	OverlayPassedFeatures(meta, &vec, map[string]any{"a": float64(99)})
	require.Equal(t, float64(99), vec.Features[0])
}
