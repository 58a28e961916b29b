package boltdal

import "github.com/logicalclocks/rdrs2go/internal/ronsql/agg"

// accumulator executes an agg.Program once per surviving row and folds
// each agg.AggExpr's register value into a running Sum/Min/Max/Count,
// mirroring the register machine's runtime semantics (spec.md §4.6.4)
// without needing the storage cluster's own C++ interpreter.
type accumulator struct {
	prog *agg.Program

	results map[int]int64
	seen    map[int]bool
	order   []int
}

func newAccumulator(prog *agg.Program) *accumulator {
	return &accumulator{
		prog:    prog,
		results: map[int]int64{},
		seen:    map[int]bool{},
	}
}

// observe runs the program once against one row's numeric columns,
// folding each iAgg instruction's value into the running accumulator.
func (a *accumulator) observe(cols []int64) {
	var regs [8]int64

	for _, in := range a.prog.Instrs {
		switch in.Kind {
		case agg.InstrLoad:
			if in.Idx < len(cols) {
				regs[in.Dest] = cols[in.Idx]
			}
		case agg.InstrLoadConstInt:
			if in.Idx < len(a.prog.Consts) {
				regs[in.Dest] = a.prog.Consts[in.Idx]
			}
		case agg.InstrMov:
			regs[in.Dest] = regs[in.Src]
		case agg.InstrBinOp:
			regs[in.Dest] = applyOp(in.Op, regs[in.Dest], regs[in.Src])
		case agg.InstrAgg:
			a.fold(in.AggIdx, in.AggType, regs[in.Src])
		}
	}
}

func (a *accumulator) fold(aggIdx int, t agg.AggType, v int64) {
	if !a.seen[aggIdx] {
		a.seen[aggIdx] = true
		a.order = append(a.order, aggIdx)
		switch t {
		case agg.AggCount:
			a.results[aggIdx] = 1
		default:
			a.results[aggIdx] = v
		}
		return
	}

	switch t {
	case agg.AggSum:
		a.results[aggIdx] += v
	case agg.AggMin:
		if v < a.results[aggIdx] {
			a.results[aggIdx] = v
		}
	case agg.AggMax:
		if v > a.results[aggIdx] {
			a.results[aggIdx] = v
		}
	case agg.AggCount:
		a.results[aggIdx]++
	}
}

// finalize returns the single summary row, one value per declared
// aggregate in declaration order.
func (a *accumulator) finalize() []any {
	row := make([]any, len(a.order))
	for i, idx := range a.order {
		row[i] = a.results[idx]
	}
	return row
}

func applyOp(op agg.Op, dest, src int64) int64 {
	switch op {
	case agg.OpAdd:
		return dest + src
	case agg.OpSub:
		return dest - src
	case agg.OpMul:
		return dest * src
	case agg.OpDiv, agg.OpDivInt:
		if src == 0 {
			return 0
		}
		return dest / src
	case agg.OpRem:
		if src == 0 {
			return 0
		}
		return dest % src
	default:
		return dest
	}
}
