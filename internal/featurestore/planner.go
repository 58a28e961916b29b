package featurestore

import (
	"fmt"

	"github.com/logicalclocks/rdrs2go/internal/dal"
)

// PlanPKReads implements spec.md §4.5.1: one PK-read descriptor per
// feature-group, in feature-group iteration order.
func PlanPKReads(meta *FeatureViewMetadata, entries map[string]any) []dal.PKReadRequest {
	reqs := make([]dal.PKReadRequest, 0, len(meta.FeatureGroupFeatures))
	for _, fg := range meta.FeatureGroupFeatures {
		req := dal.PKReadRequest{
			DB:          fg.FSName,
			Table:       fmt.Sprintf("%s_%d", fg.FGName, fg.FGVersion),
			OperationID: fmt.Sprintf("%d|%d", fg.JoinIndex, fg.FGID),
		}

		pkNames := make(map[string]struct{}, len(fg.PrimaryKeyMap))
		for _, fgName := range fg.PrimaryKeyMap {
			pkNames[fgName] = struct{}{}
		}
		for _, feat := range fg.Features {
			if _, isPK := pkNames[feat.Name]; isPK {
				continue
			}
			req.ReadColumns = append(req.ReadColumns, dal.ReadColumn{Name: feat.Name, ReturnType: 1})
		}

		for requiredEntry, fgName := range fg.PrimaryKeyMap {
			v, ok := entries[requiredEntry]
			if !ok {
				continue
			}
			req.Filters = append(req.Filters, dal.Filter{Column: fgName, Value: encodeFilterValue(v)})
		}

		reqs = append(reqs, req)
	}
	return reqs
}

// PlanBatchPKReads implements spec.md §4.5.2: per-entry PK-reads with
// operation ids prefixed "<entry_idx>#". skip reports, per entry index,
// whether that entry was pre-validated as Error and should be skipped.
func PlanBatchPKReads(meta *FeatureViewMetadata, entriesBatch []map[string]any, skip []bool) [][]dal.PKReadRequest {
	out := make([][]dal.PKReadRequest, len(entriesBatch))
	for i, entries := range entriesBatch {
		if i < len(skip) && skip[i] {
			continue
		}
		reqs := PlanPKReads(meta, entries)
		for j := range reqs {
			reqs[j].OperationID = fmt.Sprintf("%d#%s", i, reqs[j].OperationID)
		}
		out[i] = reqs
	}
	return out
}

// encodeFilterValue renders a JSON-decoded entry value into the
// variable-length buffer format dal.Filter expects. This is a minimal
// textual encoding (sufficient for the storage-cluster fake in
// internal/dal/boltdal); a real rdrs_dal binding would apply NDB-typed
// binary encoding per column type instead.
func encodeFilterValue(v any) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case float64:
		return []byte(fmt.Sprintf("%v", t))
	case bool:
		if t {
			return []byte("1")
		}
		return []byte("0")
	case nil:
		return nil
	default:
		return []byte(fmt.Sprintf("%v", t))
	}
}
