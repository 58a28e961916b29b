package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/logicalclocks/rdrs2go/internal/apierrors"
	"github.com/logicalclocks/rdrs2go/internal/arena"
	"github.com/logicalclocks/rdrs2go/internal/metrics"
	"github.com/logicalclocks/rdrs2go/internal/ronsql/agg"
	"github.com/logicalclocks/rdrs2go/internal/ronsql/lexparse"
	"github.com/logicalclocks/rdrs2go/internal/ronsql/printer"
	"github.com/logicalclocks/rdrs2go/internal/ronsql/scan"
)

// AggregationRequest is the decoded request body for
// POST /{version}/ronsql (spec.md §6.2/§6.3).
type AggregationRequest struct {
	DB      string
	Query   string
	Explain bool
	APIKey  string
	Format  printer.Format
}

// AggregationResult is the rendered response: either the human-readable
// EXPLAIN plan or the executed query's JSON/TSV body.
type AggregationResult struct {
	Explain bool
	Body    string
}

// HandleAggregation implements spec.md §4.9's aggregation SQL flow.
func (d *Dispatcher) HandleAggregation(ctx context.Context, req AggregationRequest, bodySize int) (*AggregationResult, error) {
	if err := d.bodyTooLarge(bodySize); err != nil {
		return nil, err
	}
	if !isValidIdentifier(req.DB) {
		return nil, apierrors.ClientErr("INVALID_IDENTIFIER", "invalid database identifier: "+req.DB)
	}
	if d.Cfg.RequireAPIKey {
		if err := d.APIKeys.Validate(ctx, req.APIKey, []string{req.DB}); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	defer func() { metrics.AggCompileLatency.Observe(time.Since(start).Seconds()) }()

	stmt, err := lexparse.Parse(req.Query)
	if err != nil {
		return nil, apierrors.ClientErr("RONSQL_SYNTAX_ERROR", err.Error())
	}

	plan, err := preparePlan(stmt)
	if err != nil {
		return nil, err
	}

	explain := req.Explain || stmt.Explain
	if explain {
		a := arena.New()
		return &AggregationResult{Explain: true, Body: explainText(a, stmt, plan)}, nil
	}

	rows, err := d.executePlan(ctx, req.DB, stmt, plan)
	if err != nil {
		return nil, err
	}

	body, err := printer.Render(plan.printerProg, plan.selectItems, rows, req.Format)
	if err != nil {
		return nil, apierrors.PermanentErr("RONSQL_RENDER_FAIL", "failed to render result", err)
	}
	return &AggregationResult{Explain: false, Body: body}, nil
}

// preparedPlan bundles every artifact compiled from one parsed statement:
// the expression DAG builder, the declared aggregates, the compiled
// register program, the scan plan and the result-printer program.
type preparedPlan struct {
	builder     *agg.Builder
	aggs        []*agg.AggExpr
	columnIndex map[string]int
	program     *agg.Program
	scanPlan    scan.ScanPlan
	printerProg *printer.Program
	selectItems []printer.SelectItem
}

// preparePlan implements spec.md §4.9's "load schema attrIds; plan scan;
// compile aggregator program; build result printer program" step. Column
// attrIds are assigned in first-appearance order across the SELECT and
// WHERE clauses (internal/dal/boltdal's fake storage engine expects row
// data in that same order).
func preparePlan(stmt *lexparse.Statement) (*preparedPlan, error) {
	colIdx := buildColumnIndex(stmt)

	b := agg.NewBuilder()
	var selectItems []printer.SelectItem
	groupColRegs := map[string]int{}

	aggIndex := map[*agg.AggExpr]int{}
	nextAggIdx := 0
	regOf := func(a *agg.AggExpr) int {
		if idx, ok := aggIndex[a]; ok {
			return idx
		}
		idx := nextAggIdx
		aggIndex[a] = idx
		nextAggIdx++
		return idx
	}

	for _, item := range stmt.Select {
		if item.Func == lexparse.AggNone {
			name := item.Expr.Column
			reg, ok := groupColRegs[name]
			if !ok {
				reg = colIdx[name]
				groupColRegs[name] = reg
			}
			selectItems = append(selectItems, printer.SelectItem{Kind: printer.ItemGroupColumn, Name: name, Reg: reg})
			continue
		}

		var e *agg.Expr
		if item.IsStar {
			e = b.LoadConstInt(1)
		} else {
			var err error
			e, err = lowerExpr(b, item.Expr, colIdx)
			if err != nil {
				return nil, err
			}
		}

		if item.Func == lexparse.AggAvg {
			sumAgg := b.NewAgg(agg.AggSum, e)
			countAgg := b.NewAgg(agg.AggCount, e)
			selectItems = append(selectItems, printer.SelectItem{Kind: printer.ItemAvg, Name: aggDisplayName(item), RegSum: regOf(sumAgg), RegCount: regOf(countAgg)})
			continue
		}

		a := b.NewAgg(lowerAggFunc(item.Func), e)
		selectItems = append(selectItems, printer.SelectItem{Kind: printer.ItemAggregate, Name: aggDisplayName(item), Reg: regOf(a)})
	}

	aggs := b.Compile()
	prog, err := agg.Compile(b, aggs)
	if err != nil {
		return nil, apierrors.PermanentErr("RONSQL_COMPILE_FAIL", "failed to compile aggregation program", err)
	}

	printerProg, err := printer.Build(selectItems, stmt.GroupBy)
	if err != nil {
		return nil, apierrors.ClientErr("RONSQL_NOT_GROUPED_OR_AGGREGATED", err.Error())
	}

	plan := scan.Plan(whereResidual(stmt), whereCandidates(stmt, colIdx), nil)

	return &preparedPlan{
		builder:     b,
		aggs:        aggs,
		columnIndex: colIdx,
		program:     prog,
		scanPlan:    plan,
		printerProg: printerProg,
		selectItems: selectItems,
	}, nil
}

func lowerAggFunc(f lexparse.AggFunc) agg.AggType {
	switch f {
	case lexparse.AggSum:
		return agg.AggSum
	case lexparse.AggMin:
		return agg.AggMin
	case lexparse.AggMax:
		return agg.AggMax
	case lexparse.AggCount:
		return agg.AggCount
	default:
		return agg.AggSum
	}
}

func aggDisplayName(item lexparse.SelectItem) string {
	var fn string
	switch item.Func {
	case lexparse.AggSum:
		fn = "SUM"
	case lexparse.AggMin:
		fn = "MIN"
	case lexparse.AggMax:
		fn = "MAX"
	case lexparse.AggCount:
		fn = "COUNT"
	case lexparse.AggAvg:
		fn = "AVG"
	}
	if item.IsStar {
		return fn + "(*)"
	}
	return fn + "(" + exprText(item.Expr) + ")"
}

func exprText(e *lexparse.Expr) string {
	switch e.Kind {
	case lexparse.ExprColumn:
		return e.Column
	case lexparse.ExprIntLit:
		return fmt.Sprintf("%d", e.IntVal)
	default:
		return fmt.Sprintf("(%s %s %s)", exprText(e.Left), binOpText(e.Op), exprText(e.Right))
	}
}

func binOpText(op lexparse.BinOp) string {
	switch op {
	case lexparse.BinAdd:
		return "+"
	case lexparse.BinSub:
		return "-"
	case lexparse.BinMul:
		return "*"
	case lexparse.BinDiv:
		return "/"
	case lexparse.BinDivInt:
		return "//"
	case lexparse.BinRem:
		return "%"
	default:
		return "?"
	}
}

// lowerExpr converts a raw lexparse.Expr into an agg.Expr DAG node.
func lowerExpr(b *agg.Builder, e *lexparse.Expr, colIdx map[string]int) (*agg.Expr, error) {
	switch e.Kind {
	case lexparse.ExprColumn:
		idx, ok := colIdx[e.Column]
		if !ok {
			return nil, apierrors.ClientErr("RONSQL_UNKNOWN_COLUMN", "unknown column: "+e.Column)
		}
		return b.Load(idx), nil
	case lexparse.ExprIntLit:
		return b.LoadConstInt(e.IntVal), nil
	default:
		left, err := lowerExpr(b, e.Left, colIdx)
		if err != nil {
			return nil, err
		}
		right, err := lowerExpr(b, e.Right, colIdx)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case lexparse.BinAdd:
			return b.Add(left, right), nil
		case lexparse.BinSub:
			return b.Sub(left, right), nil
		case lexparse.BinMul:
			return b.Mul(left, right), nil
		case lexparse.BinDiv:
			return b.Div(left, right), nil
		case lexparse.BinDivInt:
			return b.DivInt(left, right), nil
		case lexparse.BinRem:
			return b.Rem(left, right), nil
		default:
			return nil, apierrors.PermanentErr("RONSQL_BAD_OP", "unknown arithmetic operator", nil)
		}
	}
}

// buildColumnIndex assigns each column referenced in SELECT or WHERE a
// stable index, in first-appearance order.
func buildColumnIndex(stmt *lexparse.Statement) map[string]int {
	idx := map[string]int{}
	next := 0
	add := func(name string) {
		if _, ok := idx[name]; !ok {
			idx[name] = next
			next++
		}
	}
	var walk func(e *lexparse.Expr)
	walk = func(e *lexparse.Expr) {
		if e == nil {
			return
		}
		switch e.Kind {
		case lexparse.ExprColumn:
			add(e.Column)
		case lexparse.ExprBinary:
			walk(e.Left)
			walk(e.Right)
		}
	}
	for _, item := range stmt.Select {
		walk(item.Expr)
	}
	for _, cmp := range stmt.Where {
		add(cmp.Column)
	}
	for _, g := range stmt.GroupBy {
		add(g)
	}
	return idx
}

func compareOpToEndpoint(op lexparse.CompareOp, v int64) (low, high scan.Endpoint) {
	switch op {
	case lexparse.CmpGE:
		return scan.Endpoint{Value: v, Inclusive: true, Present: true}, scan.Endpoint{}
	case lexparse.CmpGT:
		return scan.Endpoint{Value: v, Inclusive: false, Present: true}, scan.Endpoint{}
	case lexparse.CmpLE:
		return scan.Endpoint{}, scan.Endpoint{Value: v, Inclusive: true, Present: true}
	case lexparse.CmpLT:
		return scan.Endpoint{}, scan.Endpoint{Value: v, Inclusive: false, Present: true}
	case lexparse.CmpEQ:
		return scan.Endpoint{Value: v, Inclusive: true, Present: true}, scan.Endpoint{Value: v, Inclusive: true, Present: true}
	default:
		return scan.Endpoint{}, scan.Endpoint{}
	}
}

// whereCandidates decomposes the top-level WHERE conjunction into one
// index-scan candidate range per distinct column (spec.md §4.7).
func whereCandidates(stmt *lexparse.Statement, colIdx map[string]int) []scan.IndexScanConfig {
	byCol := map[string]scan.Range{}
	order := []string{}
	for _, cmp := range stmt.Where {
		r, ok := byCol[cmp.Column]
		if !ok {
			r = scan.Range{Column: cmp.Column}
			order = append(order, cmp.Column)
		}
		low, high := compareOpToEndpoint(cmp.Op, cmp.Value)
		if low.Present {
			r.Low = low
		}
		if high.Present {
			r.High = high
		}
		byCol[cmp.Column] = r
	}
	out := make([]scan.IndexScanConfig, 0, len(order))
	for _, col := range order {
		out = append(out, scan.IndexScanConfig{Column: col, Range: byCol[col]})
	}
	return out
}

func whereResidual(stmt *lexparse.Statement) *scan.Residual {
	if len(stmt.Where) == 0 {
		return nil
	}
	parts := make([]string, 0, len(stmt.Where))
	for _, cmp := range stmt.Where {
		parts = append(parts, cmp.Column)
	}
	return &scan.Residual{Expr: strings.Join(parts, " AND ")}
}

// executePlan submits the compiled program to the storage cluster and
// converts the single summary row it streams back into printer.Row form.
//
// Limitation (documented in DESIGN.md): internal/dal/boltdal's local/dev
// storage fake does not implement multi-group partitioning; GROUP BY
// queries compile and explain correctly but execute as a single implicit
// group. A real RonDB data node performs the grouping itself during the
// index scan.
func (d *Dispatcher) executePlan(ctx context.Context, db string, stmt *lexparse.Statement, plan *preparedPlan) ([]printer.Row, error) {
	progBytes, err := json.Marshal(plan.program)
	if err != nil {
		return nil, apierrors.PermanentErr("RONSQL_ENCODE_FAIL", "failed to encode aggregator program", err)
	}
	scanBytes, err := json.Marshal(plan.scanPlan)
	if err != nil {
		return nil, apierrors.PermanentErr("RONSQL_ENCODE_FAIL", "failed to encode scan plan", err)
	}

	var rows []printer.Row
	err = d.Storage.RunAggregation(ctx, db, stmt.From, progBytes, scanBytes, func(vals []any) error {
		rows = append(rows, toRow(plan.selectItems, vals))
		return nil
	})
	if err != nil {
		return nil, apierrors.TransientErr("RONSQL_SCAN_FAIL", "aggregation scan failed", err)
	}
	return rows, nil
}

// toRow maps the accumulator's declaration-ordered int64 values (one per
// AggExpr, indexed as preparePlan's regOf numbers them) onto one printer.Row, in
// SELECT-list order. Group-by columns have no per-row source value in
// this local/dev storage fake (it never partitions by group, see
// executePlan's doc comment) and render as NULL.
func toRow(items []printer.SelectItem, vals []any) printer.Row {
	asInt := func(reg int) int64 {
		if reg < 0 || reg >= len(vals) {
			return 0
		}
		n, _ := vals[reg].(int64)
		return n
	}

	row := printer.Row{Values: make([]printer.Value, len(items))}
	for i, it := range items {
		switch it.Kind {
		case printer.ItemGroupColumn:
			row.Values[i] = printer.Value{Kind: printer.ValueNull}
		case printer.ItemAggregate:
			row.Values[i] = printer.Value{Kind: printer.ValueInt, Int: asInt(it.Reg)}
		case printer.ItemAvg:
			sum, count := asInt(it.RegSum), asInt(it.RegCount)
			if count == 0 {
				row.Values[i] = printer.Value{Kind: printer.ValueNull}
				continue
			}
			row.Values[i] = printer.Value{Kind: printer.ValueFloat, Float: float64(sum) / float64(count)}
		}
	}
	return row
}

// arenaWriter is an io.Writer backed by a's bump allocator, so the explain
// text for one request lives in one per-request arena instead of a series
// of heap-grown strings.Builder buffers.
type arenaWriter struct {
	a   *arena.Arena
	buf []byte
}

func (w *arenaWriter) Write(p []byte) (int, error) {
	grown, err := w.a.ReallocBytes(w.buf, len(w.buf)+len(p), len(w.buf), 1)
	if err != nil {
		return 0, err
	}
	copy(grown[len(w.buf):], p)
	w.buf = grown
	return len(p), nil
}

// explainText renders a human-readable plan summary (spec.md §4.9 step 4,
// "explain-only... emit the human-readable plan") into arena-backed
// working memory (spec.md §4.1), freed with the request's arena.
func explainText(a *arena.Arena, stmt *lexparse.Statement, plan *preparedPlan) string {
	w := &arenaWriter{a: a}
	fmt.Fprintf(w, "Table scan: %s\n", stmt.From)
	switch plan.scanPlan.Kind {
	case scan.KindTableScan:
		fmt.Fprint(w, "Scan kind: TableScan\n")
	case scan.KindIndexScan:
		fmt.Fprintf(w, "Scan kind: IndexScan on %s, bounds=%v\n", plan.scanPlan.Column, plan.scanPlan.Bounds)
	}
	fmt.Fprintf(w, "Registers used: %d\n", agg.Regs)
	fmt.Fprintf(w, "Program instructions: %d\n", len(plan.program.Instrs))
	if len(stmt.GroupBy) > 0 {
		fmt.Fprintf(w, "Group by: %s\n", strings.Join(stmt.GroupBy, ", "))
	}
	for _, item := range plan.selectItems {
		fmt.Fprintf(w, "Select: %s\n", item.Name)
	}
	return string(w.buf)
}
