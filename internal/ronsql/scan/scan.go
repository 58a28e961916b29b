// Package scan implements the aggregation SQL scan planner (spec.md
// §3.6/§4.7): deciding between a table scan and an index scan over the
// WHERE clause's top-level conjunction, and converting range bounds into
// the storage API's bound kinds.
package scan

// BoundKind is one of the storage API's range-bound kinds (spec.md
// §4.7). The naming sense is inverted from the usual <=/< convention
// because that's what the storage API expects.
type BoundKind int

const (
	BoundEQ BoundKind = iota
	BoundLE
	BoundLT
	BoundGE
	BoundGT
)

func (k BoundKind) String() string {
	switch k {
	case BoundEQ:
		return "EQ"
	case BoundLE:
		return "LE"
	case BoundLT:
		return "LT"
	case BoundGE:
		return "GE"
	case BoundGT:
		return "GT"
	default:
		return "?"
	}
}

// Endpoint is one side of a column range (spec.md §3.6).
type Endpoint struct {
	Value     int64
	Inclusive bool
	Present   bool
}

// Range is a single-column range condition between Low and High; each side
// is optional and either inclusive or exclusive.
type Range struct {
	Column string
	Low    Endpoint
	High   Endpoint
}

// Bounds converts Low/High into the storage API's bound kinds (spec.md
// §4.7's conversion rules). Returns one or two bounds; a degenerate
// low==high-inclusive range collapses to a single BoundEQ.
func (r Range) Bounds() []Bound {
	if r.Low.Present && r.High.Present &&
		r.Low.Inclusive && r.High.Inclusive &&
		r.Low.Value == r.High.Value {
		return []Bound{{Kind: BoundEQ, Value: r.Low.Value}}
	}

	var out []Bound
	if r.Low.Present {
		k := BoundLT
		if r.Low.Inclusive {
			k = BoundLE
		}
		out = append(out, Bound{Kind: k, Value: r.Low.Value})
	}
	if r.High.Present {
		k := BoundGT
		if r.High.Inclusive {
			k = BoundGE
		}
		out = append(out, Bound{Kind: k, Value: r.High.Value})
	}
	return out
}

// Bound is one endpoint of a range in the storage API's representation.
type Bound struct {
	Kind  BoundKind
	Value int64
}

// Residual is an opaque leftover filter condition not absorbed into a
// Range (e.g. additional AND clauses beyond the recognized conjunction).
// The planner treats it as pass-through text for the storage API filter.
type Residual struct {
	Expr string
}

// IndexScanConfig is a candidate index scan over one column's range,
// produced by decomposing the top-level WHERE conjunction.
type IndexScanConfig struct {
	Column   string
	Range    Range
	Residual *Residual
}

// Kind tags a ScanPlan's variant.
type Kind int

const (
	KindTableScan Kind = iota
	KindIndexScan
)

// ScanPlan is the tagged union of table scan vs index scan (spec.md
// §3.6).
type ScanPlan struct {
	Kind     Kind
	Filter   *Residual        // TableScan only
	Column   string           // IndexScan only
	Bounds   []Bound          // IndexScan only
	Residual *Residual        // IndexScan only: leftover filter after range extraction
}

// OrderedIndex describes an online index available to the planner, keyed
// by its leading column (spec.md §4.7 step 3).
type OrderedIndex struct {
	Name          string
	LeadingColumn string
}

// Plan implements spec.md §4.7: with no WHERE, a bare TableScan; with a
// WHERE, decompose into index-scan candidates and prefer the first whose
// column has a matching online ordered index, else fall back to a
// TableScan carrying the whole WHERE as filter.
func Plan(where *Residual, candidates []IndexScanConfig, indexes []OrderedIndex) ScanPlan {
	if where == nil && len(candidates) == 0 {
		return ScanPlan{Kind: KindTableScan}
	}

	for _, c := range candidates {
		if hasIndexOn(indexes, c.Column) {
			return ScanPlan{
				Kind:     KindIndexScan,
				Column:   c.Column,
				Bounds:   c.Range.Bounds(),
				Residual: c.Residual,
			}
		}
	}

	return ScanPlan{Kind: KindTableScan, Filter: where}
}

func hasIndexOn(indexes []OrderedIndex, column string) bool {
	for _, idx := range indexes {
		if idx.LeadingColumn == column {
			return true
		}
	}
	return false
}
