package agg

import "errors"

// Regs is the fixed register file size (spec.md §3.5/§4.6.4).
const Regs = 8

// ErrNoSuitableRegisters is returned when compilation cannot find a free
// or safely-clobberable register (spec.md §4.6.4). The dispatcher maps
// this to SERVER_ERROR_PERMANENT (spec.md §7).
var ErrNoSuitableRegisters = errors.New("agg: no suitable registers")

type instrKind int

const (
	iLoad instrKind = iota
	iLoadConstInt
	iMov
	iBinOp
	iAgg
)

// Exported aliases of the instruction-kind constants, for callers outside
// this package that need to interpret a compiled Program (internal/dal/boltdal's
// local aggregator fake is the only such caller today).
const (
	InstrLoad          = iLoad
	InstrLoadConstInt  = iLoadConstInt
	InstrMov           = iMov
	InstrBinOp         = iBinOp
	InstrAgg           = iAgg
)

// Instr is one register-machine instruction (spec.md §3.5).
type Instr struct {
	Kind    instrKind
	Dest    int
	Src     int
	Idx     int // column index (iLoad) or constant index (iLoadConstInt)
	Op      Op  // iBinOp only
	AggIdx  int // iAgg only
	AggType AggType
}

// Program is a compiled aggregator program: a flat instruction sequence
// plus the constant pool it references.
type Program struct {
	Instrs []Instr
	Consts []int64
}

// compiler holds register-allocation state for one compilation pass
// (spec.md §4.6.3).
type compiler struct {
	b *Builder

	instrs   []Instr
	regValue [Regs]*Expr
	locked   [Regs]bool
	remain   map[*Expr]int
}

// Compile runs spec.md §4.6.3's compilation strategy over aggs (in
// declaration order) and returns the resulting Program after dead-code
// elimination.
func Compile(b *Builder, aggs []*AggExpr) (*Program, error) {
	c := &compiler{b: b, remain: map[*Expr]int{}}
	for aggIdx, a := range aggs {
		reg, err := c.compileExpr(a.Expr)
		if err != nil {
			return nil, err
		}
		c.instrs = append(c.instrs, Instr{Kind: iAgg, Src: reg, AggIdx: aggIdx, AggType: a.Type})
	}
	return &Program{Instrs: deadCodeEliminate(c.instrs), Consts: b.consts}, nil
}

// findReg returns the register currently caching e's value, if any.
func (c *compiler) findReg(e *Expr) (int, bool) {
	for r := 0; r < Regs; r++ {
		if c.regValue[r] == e {
			return r, true
		}
	}
	return -1, false
}

// chooseRegister implements spec.md §4.6.3 step 2's "seize any register
// with acceptable recalculation cost (or any unlocked register if none)":
// prefer an empty register, then one whose cached value has no remaining
// consumers, then any unlocked register.
func (c *compiler) chooseRegister() (int, error) {
	for r := 0; r < Regs; r++ {
		if !c.locked[r] && c.regValue[r] == nil {
			return r, nil
		}
	}
	for r := 0; r < Regs; r++ {
		if !c.locked[r] && c.remain[c.regValue[r]] <= 0 {
			return r, nil
		}
	}
	for r := 0; r < Regs; r++ {
		if !c.locked[r] {
			return r, nil
		}
	}
	return -1, ErrNoSuitableRegisters
}

func (c *compiler) bind(reg int, e *Expr) {
	c.regValue[reg] = e
	if _, seen := c.remain[e]; !seen {
		c.remain[e] = e.Usage
	}
}

// compileExpr implements spec.md §4.6.3: value-in-register check first,
// then load/compile. A register hit or a leaf load consumes one unit of
// e's remaining usage budget (each call site corresponds to one edge that
// incremented e.Usage at DAG-construction time); a freshly computed binary
// result starts with its full e.Usage budget, so the call that computes it
// consumes nothing.
func (c *compiler) compileExpr(e *Expr) (int, error) {
	if r, ok := c.findReg(e); ok {
		c.remain[e]--
		return r, nil
	}

	switch e.Op {
	case OpLoad:
		r, err := c.chooseRegister()
		if err != nil {
			return -1, err
		}
		c.instrs = append(c.instrs, Instr{Kind: iLoad, Dest: r, Idx: e.Idx})
		c.bind(r, e)
		c.remain[e]--
		return r, nil
	case OpLoadConstInt:
		r, err := c.chooseRegister()
		if err != nil {
			return -1, err
		}
		c.instrs = append(c.instrs, Instr{Kind: iLoadConstInt, Dest: r, Idx: e.Idx})
		c.bind(r, e)
		c.remain[e]--
		return r, nil
	default:
		return c.compileBinary(e)
	}
}

func (c *compiler) compileBinary(e *Expr) (int, error) {
	first, second := e.Left, e.Right
	if !e.EvalLeftFirst {
		first, second = e.Right, e.Left
	}

	r1, err := c.compileExpr(first)
	if err != nil {
		return -1, err
	}
	c.locked[r1] = true

	r2, err := c.compileExpr(second)
	if err != nil {
		c.locked[r1] = false
		return -1, err
	}
	c.locked[r2] = true

	leftReg, _ := c.findReg(e.Left)
	rightReg, _ := c.findReg(e.Right)

	// step 4: if the value about to be overwritten (leftReg's current
	// occupant) is still needed later, preserve it via Mov first.
	if c.remain[e.Left] > 0 {
		fresh, err := c.chooseRegisterExcluding(leftReg, rightReg)
		if err != nil {
			c.locked[r1] = false
			c.locked[r2] = false
			return -1, err
		}
		c.instrs = append(c.instrs, Instr{Kind: iMov, Dest: fresh, Src: leftReg})
		c.regValue[fresh] = e.Left
		c.remain[e.Left] = c.remain[e.Left] // unchanged: the Mov doesn't consume, only relocates
	}

	c.instrs = append(c.instrs, Instr{Kind: iBinOp, Op: e.Op, Dest: leftReg, Src: rightReg})

	c.locked[leftReg] = false
	c.locked[rightReg] = false

	c.regValue[leftReg] = e
	c.remain[e] = e.Usage

	return leftReg, nil
}

func (c *compiler) chooseRegisterExcluding(excl ...int) (int, error) {
	isExcluded := func(r int) bool {
		for _, x := range excl {
			if x == r {
				return true
			}
		}
		return false
	}
	for r := 0; r < Regs; r++ {
		if !c.locked[r] && !isExcluded(r) && c.regValue[r] == nil {
			return r, nil
		}
	}
	for r := 0; r < Regs; r++ {
		if !c.locked[r] && !isExcluded(r) && c.remain[c.regValue[r]] <= 0 {
			return r, nil
		}
	}
	for r := 0; r < Regs; r++ {
		if !c.locked[r] && !isExcluded(r) {
			return r, nil
		}
	}
	return -1, ErrNoSuitableRegisters
}

// deadCodeEliminate implements spec.md §4.6.3's final pass: traverse
// backward tracking per-register "needed later" flags, dropping only Mov
// instructions whose destination is not needed.
func deadCodeEliminate(instrs []Instr) []Instr {
	var needed [Regs]bool
	keep := make([]bool, len(instrs))

	for i := len(instrs) - 1; i >= 0; i-- {
		in := instrs[i]
		switch in.Kind {
		case iAgg:
			needed[in.Src] = true
			keep[i] = true
		case iBinOp:
			keep[i] = true
			needed[in.Dest] = true
			needed[in.Src] = true
		case iMov:
			if needed[in.Dest] {
				keep[i] = true
				needed[in.Src] = true
				needed[in.Dest] = false
			}
		case iLoad, iLoadConstInt:
			keep[i] = true
			needed[in.Dest] = false
		}
	}

	out := make([]Instr, 0, len(instrs))
	for i, in := range instrs {
		if keep[i] {
			out = append(out, in)
		}
	}
	return out
}
