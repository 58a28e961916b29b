package featurestore

import (
	"strings"

	"github.com/logicalclocks/rdrs2go/internal/apierrors"
)

// Status is a request entry's outcome (spec.md §4.5.5).
type Status int

const (
	StatusComplete Status = iota
	StatusMissing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "COMPLETE"
	case StatusMissing:
		return "MISSING"
	case StatusError:
		return "ERROR"
	default:
		return "ERROR"
	}
}

// ValidatePrimaryKey implements spec.md §4.5.4's PK validation: entries
// must be non-empty and every key must be a known primary-key identifier.
func ValidatePrimaryKey(meta *FeatureViewMetadata, entries map[string]any) error {
	if len(entries) == 0 {
		return apierrors.ClientErr(apierrors.CodeNoPrimaryKeyGiven, "no primary key given")
	}
	for key := range entries {
		if _, ok := meta.PrefixPrimaryKeyMap[key]; !ok {
			return apierrors.ClientErr(apierrors.CodeIncorrectPrimaryKey, "unknown or missing primary key: "+key)
		}
	}
	return nil
}

// jsonValueKind classifies a decoded JSON value the way spec.md §4.5.4
// requires: NUMBER | STRING | BOOLEAN | NIL | OTHER.
func jsonValueKind(v any) string {
	switch v.(type) {
	case nil:
		return "NIL"
	case float64, int, int64:
		return "NUMBER"
	case string:
		return "STRING"
	case bool:
		return "BOOLEAN"
	default:
		return "OTHER"
	}
}

// featureTypeKind maps a declared NDB/Hopsworks feature type to the same
// NUMBER | STRING | BOOLEAN | NIL | OTHER classification, so passed values
// can be type-checked against it.
//
// Design decision (per resolved Open Question, spec.md §9): the stricter,
// type-checked variant is implemented — a mismatch is rejected rather than
// silently accepted.
func featureTypeKind(declaredType string) string {
	t := strings.ToUpper(strings.TrimSpace(declaredType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "INT", "BIGINT", "SMALLINT", "TINYINT", "FLOAT", "DOUBLE", "DECIMAL":
		return "NUMBER"
	case "STRING", "VARCHAR", "CHAR", "DATE", "TIMESTAMP", "BINARY":
		return "STRING"
	case "BOOLEAN":
		return "BOOLEAN"
	default:
		return "OTHER"
	}
}

// ValidatePassedFeatures implements spec.md §4.5.4's passed-feature
// validation: every passed key must be a known feature, and its JSON
// value's kind must match the declared feature type's kind.
func ValidatePassedFeatures(meta *FeatureViewMetadata, passedFeatures map[string]any) error {
	for key, val := range passedFeatures {
		fm, ok := meta.PrefixFeaturesLookup[key]
		if !ok {
			return apierrors.ClientErr(apierrors.CodeFeatureNotExist, "unknown passed feature: "+key)
		}
		want := featureTypeKind(fm.Type)
		got := jsonValueKind(val)
		if want == "OTHER" {
			// complex types accept any decoded JSON shape
			continue
		}
		if got == "NIL" {
			continue
		}
		if got != want {
			return apierrors.WrongTypeErr(apierrors.CodeWrongDataType, "passed feature "+key+" has the wrong data type")
		}
	}
	return nil
}

// ComputeStatus implements spec.md §4.5.5.
func ComputeStatus(pkReadStatuses []int, hadValidationOrDecodeError bool) Status {
	if hadValidationOrDecodeError {
		return StatusError
	}
	sawMissing := false
	for _, st := range pkReadStatuses {
		if st == 404 {
			sawMissing = true
		} else if st != 200 {
			return StatusError
		}
	}
	if sawMissing {
		return StatusMissing
	}
	return StatusComplete
}
