package agg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileSimpleSum(t *testing.T) {
	b := NewBuilder()
	x := b.Load(0)
	y := b.Load(1)
	sum := b.Add(x, y)
	b.NewAgg(AggSum, sum)
	aggs := b.Compile()

	prog, err := Compile(b, aggs)
	require.NoError(t, err)
	require.NotEmpty(t, prog.Instrs)

	lastIdx := len(prog.Instrs) - 1
	require.Equal(t, iAgg, prog.Instrs[lastIdx].Kind)
}

func TestCompileNoUninitializedRegisterReads(t *testing.T) {
	b := NewBuilder()
	cols := make([]*Expr, 6)
	for i := range cols {
		cols[i] = b.Load(i)
	}
	e := cols[0]
	for i := 1; i < len(cols); i++ {
		e = b.Add(e, cols[i])
	}
	b.NewAgg(AggSum, e)
	b.NewAgg(AggMax, e)
	b.NewAgg(AggMin, cols[2])
	aggs := b.Compile()

	prog, err := Compile(b, aggs)
	require.NoError(t, err)

	written := make(map[int]bool)
	for _, in := range prog.Instrs {
		switch in.Kind {
		case iLoad, iLoadConstInt:
			written[in.Dest] = true
		case iMov:
			require.True(t, written[in.Src], "Mov read from unwritten register %d", in.Src)
			written[in.Dest] = true
		case iBinOp:
			require.True(t, written[in.Dest], "BinOp read dest from unwritten register %d", in.Dest)
			require.True(t, written[in.Src], "BinOp read src from unwritten register %d", in.Src)
			written[in.Dest] = true
		case iAgg:
			require.True(t, written[in.Src], "Agg read from unwritten register %d", in.Src)
		}
	}
}

func TestCompileEachAggregateEmittedExactlyOnce(t *testing.T) {
	b := NewBuilder()
	x := b.Load(0)
	y := b.Load(1)
	sum := b.Add(x, y)
	a1 := b.NewAgg(AggSum, sum)
	a2 := b.NewAgg(AggSum, sum)
	require.Same(t, a1, a2)
	b.NewAgg(AggCount, x)
	aggs := b.Compile()
	require.Len(t, aggs, 2)

	prog, err := Compile(b, aggs)
	require.NoError(t, err)

	aggCount := 0
	for _, in := range prog.Instrs {
		if in.Kind == iAgg {
			aggCount++
		}
	}
	require.Equal(t, 2, aggCount)
}

func TestCompileRegisterPressureStaysWithinBudget(t *testing.T) {
	b := NewBuilder()
	// Three independent wide sums, each needing several live columns at
	// once, forcing the allocator to reuse/spill registers (spec.md §4.6.4).
	mkSum := func(base int) *Expr {
		e := b.Load(base)
		for i := 1; i < 5; i++ {
			e = b.Add(e, b.Load(base+i))
		}
		return e
	}
	s1 := mkSum(0)
	s2 := mkSum(5)
	s3 := mkSum(10)
	b.NewAgg(AggSum, s1)
	b.NewAgg(AggSum, s2)
	b.NewAgg(AggSum, s3)
	aggs := b.Compile()

	prog, err := Compile(b, aggs)
	require.NoError(t, err)

	for _, in := range prog.Instrs {
		require.True(t, in.Dest >= 0 && in.Dest < Regs || in.Kind == iAgg)
		require.True(t, in.Src >= 0 && in.Src < Regs)
	}

	aggCount := 0
	for _, in := range prog.Instrs {
		if in.Kind == iAgg {
			aggCount++
		}
	}
	require.Equal(t, 3, aggCount)
}
