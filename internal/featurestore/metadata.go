// Package featurestore implements the feature-vector planner of spec.md
// §4.4.1/§4.5: fetching and assembling FeatureViewMetadata, planning
// primary-key reads, validating requests, and assembling/overlaying the
// output vector.
package featurestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/logicalclocks/rdrs2go/internal/apierrors"
	"github.com/logicalclocks/rdrs2go/internal/avro"
	"github.com/logicalclocks/rdrs2go/internal/dal"
)

// FeatureMetadata describes one feature column (spec.md §3.3).
type FeatureMetadata struct {
	Name      string
	Type      string
	FGID      int
	JoinIndex int
}

// FeatureGroupFeatures is one feature-group's contribution to a feature
// view (spec.md §3.3).
type FeatureGroupFeatures struct {
	FSName    string
	FGName    string
	FGVersion int
	FGID      int
	JoinIndex int
	Features  []FeatureMetadata

	// PrimaryKeyMap maps required_entry (the key callers must supply in
	// `entries`) to the fg-internal primary-key feature name.
	PrimaryKeyMap map[string]string
}

// FeatureViewMetadata is the aggregate spec.md §3.3 describes.
type FeatureViewMetadata struct {
	FeatureStoreID      int
	FeatureViewID       int
	FeatureViewVersion  int
	NumFeatures         int

	FeatureGroupFeatures []FeatureGroupFeatures

	PrefixFeaturesLookup map[string]FeatureMetadata
	FeatureIndexLookup   map[string]int
	PrefixPrimaryKeyMap  map[string]string
	JoinKeyMap           map[string][]string
	ComplexFeatures      map[string]*avro.Schema
	FeatureStoreNames    map[string]struct{}
}

func complexBaseType(declared string) string {
	base := declared
	if i := strings.IndexByte(declared, '<'); i >= 0 {
		base = declared[:i]
	}
	return strings.ToUpper(strings.TrimSpace(base))
}

func isComplexType(declared string) bool {
	switch complexBaseType(declared) {
	case "MAP", "ARRAY", "STRUCT", "UNIONTYPE":
		return true
	default:
		return false
	}
}

// FetchMetadata builds a FeatureViewMetadata following spec.md §4.4.1's
// nine steps.
func FetchMetadata(ctx context.Context, backend dal.MetadataBackend, fsName, fvName string, version int) (*FeatureViewMetadata, error) {
	fsID, err := backend.FindFeatureStoreID(ctx, fsName)
	if err != nil {
		if err == dal.ErrNotFound {
			return nil, apierrors.NotFoundErr(apierrors.CodeFSNotExist, fmt.Sprintf("feature store %q does not exist", fsName))
		}
		return nil, apierrors.TransientErr("FS_READ_FAIL", "failed to read feature store", err)
	}

	fvID, err := backend.FindFeatureViewID(ctx, fsID, fvName, version)
	if err != nil {
		if err == dal.ErrNotFound {
			return nil, apierrors.NotFoundErr(apierrors.CodeFVNotExist, fmt.Sprintf("feature view %q version %d does not exist", fvName, version))
		}
		return nil, apierrors.TransientErr("FV_READ_FAIL", "failed to read feature view", err)
	}

	joins, err := backend.FindTrainingDatasetJoinData(ctx, fvID)
	if err != nil {
		return nil, apierrors.TransientErr("FV_READ_FAIL", "failed to read training dataset joins", err)
	}
	prefixByJoinIndex := make(map[int]string, len(joins))
	for _, j := range joins {
		prefixByJoinIndex[j.JoinIndex] = j.Prefix
	}

	tdFeatures, err := backend.FindTrainingDatasetData(ctx, fvID)
	if err != nil {
		return nil, apierrors.TransientErr("FV_READ_FAIL", "failed to read training dataset features", err)
	}
	sortByIdx(tdFeatures)

	fgCache := map[int]dal.FeatureGroupRow{}
	fsNameCache := map[int]string{}
	fsNames := map[string]struct{}{fsName: {}}

	// group features by (join_index, fg_id), preserving first-seen order
	type groupKey struct {
		joinIndex int
		fgID      int
	}
	order := []groupKey{}
	groups := map[groupKey]*FeatureGroupFeatures{}

	indexLookup := map[string]int{}
	prefixFeatures := map[string]FeatureMetadata{}
	nextPos := 0

	for _, tf := range tdFeatures {
		if tf.Label {
			continue
		}
		if tf.FGID == 0 {
			return nil, apierrors.NotFoundErr(apierrors.CodeFGNotExist, "referenced feature group no longer exists")
		}

		fg, ok := fgCache[tf.FGID]
		if !ok {
			fg, err = backend.FindFeatureGroupData(ctx, tf.FGID)
			if err != nil {
				return nil, apierrors.TransientErr("FG_READ_FAIL", "failed to read feature group", err)
			}
			fgCache[tf.FGID] = fg
		}

		fgFSName, ok := fsNameCache[fg.FSID]
		if !ok {
			fgFSName, err = backend.FindFeatureStoreData(ctx, fg.FSID)
			if err != nil {
				return nil, apierrors.TransientErr("FS_READ_FAIL", "failed to read feature store data", err)
			}
			fsNameCache[fg.FSID] = fgFSName
		}
		fsNames[fgFSName] = struct{}{}

		joinIndex := 0
		for _, j := range joins {
			if j.TDJoinID == tf.TDJoinID {
				joinIndex = j.JoinIndex
				break
			}
		}

		fm := FeatureMetadata{Name: tf.Name, Type: tf.Type, FGID: tf.FGID, JoinIndex: joinIndex}

		gk := groupKey{joinIndex: joinIndex, fgID: tf.FGID}
		fgf, ok := groups[gk]
		if !ok {
			fgf = &FeatureGroupFeatures{
				FSName:        fgFSName,
				FGName:        fg.Name,
				FGVersion:     fg.Version,
				FGID:          fg.FGID,
				JoinIndex:     joinIndex,
				PrimaryKeyMap: map[string]string{},
			}
			groups[gk] = fgf
			order = append(order, gk)
		}
		fgf.Features = append(fgf.Features, fm)

		idxKey := fmt.Sprintf("%d|%d|%s", joinIndex, tf.FGID, tf.Name)
		indexLookup[idxKey] = nextPos
		nextPos++

		prefix := prefixByJoinIndex[joinIndex]
		prefixFeatures[prefix+tf.Name] = fm
	}

	featureGroupFeatures := make([]FeatureGroupFeatures, 0, len(order))
	for _, gk := range order {
		featureGroupFeatures = append(featureGroupFeatures, *groups[gk])
	}

	prefixPK := map[string]string{}
	joinKeyMap := map[string][]string{}
	complexFeatures := map[string]*avro.Schema{}
	fgSchemaCache := map[int]*avro.Schema{}

	skeys, err := backend.FindServingKeyData(ctx, fvID)
	if err != nil {
		return nil, apierrors.TransientErr("FV_READ_FAIL", "failed to read serving keys", err)
	}

	for i := range featureGroupFeatures {
		fgf := &featureGroupFeatures[i]
		for _, sk := range skeys {
			if sk.FGID != fgf.FGID {
				continue
			}
			prefix := prefixByJoinIndex[fgf.JoinIndex]
			requiredEntry := sk.JoinOn
			if sk.Required {
				requiredEntry = prefix + sk.FeatureName
			}
			fgf.PrimaryKeyMap[requiredEntry] = sk.FeatureName
			prefixPK[requiredEntry] = sk.FeatureName

			// join_key_map maps the entries[] key the caller supplies to
			// every feature_index_lookup composite key that same value
			// should be written into when assembling the output vector
			// (spec.md §4.5.3 step 3) — the serving key's own slot is
			// never populated by a backend read, since the planner omits
			// primary-key columns from read_columns (spec.md §4.5.1).
			idxKey := fmt.Sprintf("%d|%d|%s", fgf.JoinIndex, fgf.FGID, sk.FeatureName)
			joinKeyMap[requiredEntry] = append(joinKeyMap[requiredEntry], idxKey)
		}

		for _, feat := range fgf.Features {
			if !isComplexType(feat.Type) {
				continue
			}
			schema, ok := fgSchemaCache[fgf.FGID]
			if !ok {
				schemaJSON, err := backend.FindAvroSchema(ctx, fgf.FGID)
				if err != nil {
					return nil, apierrors.TransientErr("FG_READ_FAIL", "failed to read avro schema", err)
				}
				schema, err = avro.ParseSchema(schemaJSON)
				if err != nil {
					return nil, apierrors.PermanentErr("FG_SCHEMA_PARSE_FAIL", "failed to parse avro schema", err)
				}
				fgSchemaCache[fgf.FGID] = schema
			}
			sub := findFieldSchema(schema, feat.Name)
			if sub == nil {
				continue
			}
			key := fmt.Sprintf("%d|%d|%s", fgf.JoinIndex, fgf.FGID, feat.Name)
			complexFeatures[key] = sub
		}
	}

	return &FeatureViewMetadata{
		FeatureStoreID:       fsID,
		FeatureViewID:        fvID,
		FeatureViewVersion:   version,
		NumFeatures:          nextPos,
		FeatureGroupFeatures: featureGroupFeatures,
		PrefixFeaturesLookup: prefixFeatures,
		FeatureIndexLookup:   indexLookup,
		PrefixPrimaryKeyMap:  prefixPK,
		JoinKeyMap:           joinKeyMap,
		ComplexFeatures:      complexFeatures,
		FeatureStoreNames:    fsNames,
	}, nil
}

// findFieldSchema locates the sub-schema for a record field by name,
// unwrapping a union if the record itself is wrapped. It returns nil when
// no record field of that name exists.
func findFieldSchema(s *avro.Schema, name string) *avro.Schema {
	switch s.Type {
	case "record":
		for _, f := range s.Fields {
			if f.Name == name {
				return f.Type
			}
		}
	case "union":
		for _, u := range s.Union {
			if found := findFieldSchema(u, name); found != nil {
				return found
			}
		}
	}
	return nil
}

func sortByIdx(fs []dal.TrainingDatasetFeature) {
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && fs[j-1].Idx > fs[j].Idx; j-- {
			fs[j-1], fs[j] = fs[j], fs[j-1]
		}
	}
}

// AuthorizedDatabases lists, in no particular order, the feature stores this
// metadata references, for API-key authorization (spec.md §4.9 step 5).
func (m *FeatureViewMetadata) AuthorizedDatabases() []string {
	out := make([]string, 0, len(m.FeatureStoreNames))
	for n := range m.FeatureStoreNames {
		out = append(out, n)
	}
	return out
}
