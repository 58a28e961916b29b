package agg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDedup(t *testing.T) {
	b := NewBuilder()
	a := b.Load(3)
	c := b.Load(3)
	require.Same(t, a, c)
}

func TestBinaryDedupAndUsage(t *testing.T) {
	b := NewBuilder()
	x := b.Load(0)
	y := b.Load(1)
	sum1 := b.Add(x, y)
	sum2 := b.Add(x, y)
	require.Same(t, sum1, sum2)
	require.Equal(t, 1, x.Usage)
	require.Equal(t, 1, y.Usage)
}

func TestConstantFolding(t *testing.T) {
	b := NewBuilder()
	two := b.LoadConstInt(2)
	three := b.LoadConstInt(3)
	sum := b.Add(two, three)
	require.Equal(t, OpLoadConstInt, sum.Op)
	require.Equal(t, int64(5), b.ConstValue(sum.Idx))
}

func TestConstantFoldingOverflowLeavesUnfolded(t *testing.T) {
	b := NewBuilder()
	big := b.LoadConstInt(1<<62 + 1)
	sum := b.Add(big, big)
	require.Equal(t, OpAdd, sum.Op)
}

func TestNewAggDedup(t *testing.T) {
	b := NewBuilder()
	x := b.Load(0)
	a1 := b.NewAgg(AggSum, x)
	a2 := b.NewAgg(AggSum, x)
	require.Same(t, a1, a2)
	require.Equal(t, 1, x.Usage)

	a3 := b.NewAgg(AggMin, x)
	require.NotSame(t, a1, a3)
	require.Equal(t, 2, x.Usage)
}

func TestMustBeProgrammingPanicsAfterCompile(t *testing.T) {
	b := NewBuilder()
	x := b.Load(0)
	b.NewAgg(AggSum, x)
	b.Compile()

	require.Panics(t, func() {
		b.Load(1)
	})
}

func TestEstimatorSingleLeaf(t *testing.T) {
	b := NewBuilder()
	x := b.Load(0)
	require.Equal(t, 1, x.EstRegs)
}

func TestEstimatorEqualSubtrees(t *testing.T) {
	b := NewBuilder()
	x := b.Load(0)
	y := b.Load(1)
	z := b.Load(2)
	w := b.Load(3)
	left := b.Add(x, y)
	right := b.Add(z, w)
	node := b.Mul(left, right)
	require.Equal(t, left.EstRegs+1, node.EstRegs)
}

func TestEstimatorSameNodeBothSides(t *testing.T) {
	b := NewBuilder()
	x := b.Load(0)
	y := b.Load(1)
	left := b.Add(x, y)
	node := b.Mul(left, left)
	require.Equal(t, left.EstRegs, node.EstRegs)
	require.True(t, node.EvalLeftFirst)
}
