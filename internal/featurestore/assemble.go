package featurestore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/logicalclocks/rdrs2go/internal/avro"
	"github.com/logicalclocks/rdrs2go/internal/dal"
)

// AssembledVector is the per-entry result of assembling a feature vector
// (spec.md §4.5.3/§4.5.5/§4.5.6).
type AssembledVector struct {
	Features []any
	Status   Status
}

// AssembleVector implements spec.md §4.5.3: fold PK-read responses into
// the output vector, positioned by meta.FeatureIndexLookup, decoding
// complex (Avro) columns along the way.
func AssembleVector(meta *FeatureViewMetadata, responses []dal.PKReadResponse, entries map[string]any) AssembledVector {
	features := make([]any, meta.NumFeatures)
	hadDecodeError := false
	statuses := make([]int, 0, len(responses))

	for _, resp := range responses {
		statuses = append(statuses, resp.Status)
		if resp.Status != 200 {
			continue
		}
		for _, col := range resp.Columns {
			idxKey := responseOpIDKey(resp.OperationID) + "|" + col.Name
			pos, ok := meta.FeatureIndexLookup[idxKey]
			if !ok {
				continue
			}
			if col.IsNull {
				features[pos] = nil
				continue
			}
			if schema, isComplex := meta.ComplexFeatures[idxKey]; isComplex {
				decoded, err := decodeComplexFeature(schema, col.Value)
				if err != nil {
					hadDecodeError = true
					features[pos] = nil
					continue
				}
				features[pos] = decoded
				continue
			}
			features[pos] = string(col.Value)
		}
	}

	for name, val := range entries {
		for _, idxKey := range meta.JoinKeyMap[name] {
			if pos, ok := meta.FeatureIndexLookup[idxKey]; ok {
				features[pos] = val
			}
		}
	}

	status := ComputeStatus(statuses, hadDecodeError)
	return AssembledVector{Features: features, Status: status}
}

// OverlayPassedFeatures implements spec.md §4.5.6: passed features
// overwrite their output position, bypassing the backend read entirely.
func OverlayPassedFeatures(meta *FeatureViewMetadata, vec *AssembledVector, passedFeatures map[string]any) {
	for name, val := range passedFeatures {
		fm, ok := meta.PrefixFeaturesLookup[name]
		if !ok {
			continue
		}
		idxKey := fmt.Sprintf("%d|%d|%s", fm.JoinIndex, fm.FGID, fm.Name)
		pos, ok := meta.FeatureIndexLookup[idxKey]
		if !ok {
			continue
		}
		vec.Features[pos] = val
	}
}

// responseOpIDKey strips any batch "<entry_idx>#" prefix from an
// operation id, leaving the "<join_index>|<fg_id>" form used as the first
// component of feature_index_lookup's composite key.
func responseOpIDKey(opID string) string {
	for i := 0; i < len(opID); i++ {
		if opID[i] == '#' {
			return opID[i+1:]
		}
	}
	return opID
}

// decodeComplexFeature implements spec.md §4.5.3 step 2b-d: the raw value
// is a JSON string literal whose contents are base64-encoded Avro binary.
func decodeComplexFeature(schema *avro.Schema, raw []byte) (any, error) {
	var jsonStr string
	if err := json.Unmarshal(raw, &jsonStr); err != nil {
		// tolerate the value already being a bare base64 string (no JSON
		// quoting), which some storage encodings produce directly.
		jsonStr = string(raw)
	}
	decodedBytes, err := base64.StdEncoding.DecodeString(jsonStr)
	if err != nil {
		return nil, err
	}
	datum, err := avro.Decode(schema, decodedBytes)
	if err != nil {
		return nil, err
	}
	return datum, nil
}
