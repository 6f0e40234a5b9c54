package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/eval"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

// rowGroup is one GROUP BY/window bucket of source rows. An ungrouped
// SELECT is modeled as one singleton-row group per filtered row, so
// projectGroups handles both cases uniformly.
type rowGroup struct {
	Rows    []int
	KeyVals []types.Value // GROUP BY/window key values, parallel to groupByExprs/windowKeyName
}

// windowGroups buckets rows of f by floor(_time/windowMs)*windowMs into
// ascending-bucket groups (the BY <n><unit> time windows). Rows with a
// NULL _time are dropped; GROUP BY, by contrast, keeps NULL as a key of
// its own.
func windowGroups(f *frame.Frame, windowMs int64) []rowGroup {
	ti := f.ColIndex("_time")
	if ti < 0 || windowMs <= 0 {
		return []rowGroup{{Rows: allRowIndices(f)}}
	}
	buckets := map[int64][]int{}
	var order []int64
	for r := 0; r < f.NumRows(); r++ {
		v := f.Columns[ti][r]
		if v.Null {
			continue
		}
		ms, _ := v.AsInt()
		bucket := (ms / windowMs) * windowMs
		if _, ok := buckets[bucket]; !ok {
			order = append(order, bucket)
		}
		buckets[bucket] = append(buckets[bucket], r)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	groups := make([]rowGroup, len(order))
	for i, b := range order {
		groups[i] = rowGroup{Rows: buckets[b], KeyVals: []types.Value{types.IntValue(types.BigInt, b)}}
	}
	return groups
}

func valueKey(v types.Value) string {
	if v.Null {
		return "\x00N\x00"
	}
	return v.Kind.String() + ":" + v.String()
}

// groupByGroups partitions f's rows by the composite value of exprs,
// preserving first-seen bucket order.
func groupByGroups(f *frame.Frame, exprs []ast.Expr, runner eval.QueryRunner) ([]rowGroup, error) {
	type entry struct {
		vals []types.Value
		rows []int
	}
	index := map[string]int{}
	var entries []entry
	for r := 0; r < f.NumRows(); r++ {
		vals := make([]types.Value, len(exprs))
		var key strings.Builder
		for i, e := range exprs {
			v, err := eval.Eval(eval.NewContext(f, r, runner), e)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating GROUP BY key")
			}
			vals[i] = v
			key.WriteString(valueKey(v))
			key.WriteByte(0)
		}
		k := key.String()
		if idx, ok := index[k]; ok {
			entries[idx].rows = append(entries[idx].rows, r)
			continue
		}
		index[k] = len(entries)
		entries = append(entries, entry{vals: vals, rows: []int{r}})
	}
	groups := make([]rowGroup, len(entries))
	for i, e := range entries {
		groups[i] = rowGroup{Rows: e.rows, KeyVals: e.vals}
	}
	return groups, nil
}

// runLengthGroups partitions rows into contiguous runs of equal composite
// keys (the NOTNULL group-key modifier): unlike hash grouping, the same key
// value reappearing after a different run starts a fresh group.
func runLengthGroups(f *frame.Frame, exprs []ast.Expr, runner eval.QueryRunner) ([]rowGroup, error) {
	var groups []rowGroup
	prevKey := ""
	for r := 0; r < f.NumRows(); r++ {
		vals := make([]types.Value, len(exprs))
		var key strings.Builder
		for i, e := range exprs {
			v, err := eval.Eval(eval.NewContext(f, r, runner), e)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating GROUP BY key")
			}
			vals[i] = v
			key.WriteString(valueKey(v))
			key.WriteByte(0)
		}
		k := key.String()
		if len(groups) == 0 || k != prevKey {
			groups = append(groups, rowGroup{KeyVals: vals})
		}
		groups[len(groups)-1].Rows = append(groups[len(groups)-1].Rows, r)
		prevKey = k
	}
	return groups, nil
}

// expandRolling rewrites each time-window bucket's row set to the trailing
// rolling span ending at that bucket's close (ROLLING BY), leaving the
// bucket key itself untouched.
func expandRolling(f *frame.Frame, groups []rowGroup, windowMs, rollingMs int64) []rowGroup {
	ti := f.ColIndex("_time")
	if ti < 0 || rollingMs <= 0 {
		return groups
	}
	out := make([]rowGroup, len(groups))
	for i, g := range groups {
		if len(g.KeyVals) == 0 {
			out[i] = g
			continue
		}
		end := g.KeyVals[0].I + windowMs
		lo := end - rollingMs
		var rows []int
		for r := 0; r < f.NumRows(); r++ {
			v := f.Columns[ti][r]
			if v.Null {
				continue
			}
			ms, _ := v.AsInt()
			if ms >= lo && ms < end {
				rows = append(rows, r)
			}
		}
		out[i] = rowGroup{Rows: rows, KeyVals: g.KeyVals}
	}
	return out
}

func findWindowExpr(e ast.Expr) *ast.WindowExpr {
	switch n := e.(type) {
	case nil:
		return nil
	case *ast.WindowExpr:
		return n
	case *ast.BinaryExpr:
		if w := findWindowExpr(n.Left); w != nil {
			return w
		}
		return findWindowExpr(n.Right)
	case *ast.UnaryExpr:
		return findWindowExpr(n.Operand)
	case *ast.CastExpr:
		return findWindowExpr(n.Operand)
	case *ast.CaseExpr:
		for _, b := range n.Branches {
			if w := findWindowExpr(b.When); w != nil {
				return w
			}
			if w := findWindowExpr(b.Then); w != nil {
				return w
			}
		}
		return findWindowExpr(n.Else)
	case *ast.FuncCall:
		for _, a := range n.Args {
			if w := findWindowExpr(a); w != nil {
				return w
			}
		}
		return nil
	default:
		return nil
	}
}

func sortByOrderBy(f *frame.Frame, rows []int, orderBy []ast.OrderItem, runner eval.QueryRunner) {
	if len(orderBy) == 0 {
		return
	}
	keys := map[int][]types.Value{}
	for _, r := range rows {
		vals := make([]types.Value, len(orderBy))
		for i, oi := range orderBy {
			v, err := eval.Eval(eval.NewContext(f, r, runner), oi.Expr)
			if err == nil {
				vals[i] = v
			}
		}
		keys[r] = vals
	}
	sort.SliceStable(rows, func(a, b int) bool {
		ra, rb := rows[a], rows[b]
		for i, oi := range orderBy {
			c := keys[ra][i].Compare(keys[rb][i])
			if oi.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return f.RowIDs[ra] < f.RowIDs[rb]
	})
}

// computeRowNumbers finds the (single, spec-supported) ROW_NUMBER() OVER(...)
// window function among items and assigns each row of f its rank within its
// PARTITION BY bucket, ordered by the window's own ORDER BY. Returns nil
// when items contain no window function.
func computeRowNumbers(f *frame.Frame, items []ast.SelectItem, runner eval.QueryRunner) map[int]int64 {
	var w *ast.WindowExpr
	for _, it := range items {
		if we := findWindowExpr(it.Expr); we != nil {
			w = we
			break
		}
	}
	if w == nil {
		return nil
	}
	var partitions [][]int
	if len(w.PartitionBy) > 0 {
		groups, err := groupByGroups(f, w.PartitionBy, runner)
		if err != nil {
			return nil
		}
		for _, g := range groups {
			partitions = append(partitions, g.Rows)
		}
	} else {
		partitions = [][]int{allRowIndices(f)}
	}
	result := map[int]int64{}
	for _, part := range partitions {
		ordered := make([]int, len(part))
		copy(ordered, part)
		sortByOrderBy(f, ordered, w.OrderBy, runner)
		for i, r := range ordered {
			result[r] = int64(i + 1)
		}
	}
	return result
}

// sortRowIndices implements the ORDER BY stage.
// When rowNums is non-nil and an ORDER BY item names a column absent from f,
// it is resolved against the computed ROW_NUMBER() rather than failing, so
// "ORDER BY rn" works against the pre-projection frame the same way it would
// against the already-projected one.
func (e *Engine) sortRowIndices(ctx *selCtx, f *frame.Frame, orderBy []ast.OrderItem, rowNums map[int]int64) ([]int, error) {
	idx := allRowIndices(f)
	if len(orderBy) == 0 {
		return idx, nil
	}
	keys := make([][]types.Value, f.NumRows())
	for _, row := range idx {
		vals := make([]types.Value, len(orderBy))
		for i, oi := range orderBy {
			if rowNums != nil {
				if cr, ok := oi.Expr.(*ast.ColumnRef); ok && f.ColIndex(cr.Name) < 0 {
					vals[i] = types.IntValue(types.BigInt, rowNums[row])
					continue
				}
			}
			v, err := eval.Eval(eval.NewContext(f, row, ctx.runner), oi.Expr)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating ORDER BY")
			}
			vals[i] = v
		}
		keys[row] = vals
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := idx[a], idx[b]
		for i, oi := range orderBy {
			c := keys[ra][i].Compare(keys[rb][i])
			if oi.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return f.RowIDs[ra] < f.RowIDs[rb]
	})
	return idx, nil
}

func evalLimitExpr(limit ast.Expr, runner eval.QueryRunner) (int64, bool) {
	v, err := eval.Eval(eval.NewContext(frame.New(nil, nil), 0, runner), limit)
	if err != nil {
		return 0, false
	}
	n, ok := v.AsInt()
	return n, ok
}

// applyLimit trims a group list (LIMIT -n means unbounded).
func applyLimit(groups []rowGroup, limit ast.Expr, runner eval.QueryRunner) []rowGroup {
	if limit == nil {
		return groups
	}
	n, ok := evalLimitExpr(limit, runner)
	if !ok || n < 0 {
		return groups
	}
	if int64(len(groups)) > n {
		return groups[:n]
	}
	return groups
}

// limitFrame is applyLimit's post-projection counterpart, used for the
// grouped-query path where LIMIT applies to the already-projected output.
func limitFrame(f *frame.Frame, limit ast.Expr, runner eval.QueryRunner) *frame.Frame {
	if limit == nil {
		return f
	}
	n, ok := evalLimitExpr(limit, runner)
	if !ok || n < 0 {
		return f
	}
	if int64(f.NumRows()) > n {
		return f.Select(allRowIndices(f)[:n])
	}
	return f
}

// substituteWindowFuncs mirrors substituteAggs but for the single
// ROW_NUMBER() OVER(...) window function the dialect supports, replacing it
// with its precomputed rank.
func substituteWindowFuncs(e ast.Expr, rn int64) ast.Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *ast.WindowExpr:
		return &ast.ValueExpr{V: types.IntValue(types.BigInt, rn)}
	case *ast.BinaryExpr:
		return &ast.BinaryExpr{Op: n.Op, Left: substituteWindowFuncs(n.Left, rn), Right: substituteWindowFuncs(n.Right, rn)}
	case *ast.UnaryExpr:
		return &ast.UnaryExpr{Op: n.Op, Operand: substituteWindowFuncs(n.Operand, rn)}
	case *ast.CastExpr:
		return &ast.CastExpr{Operand: substituteWindowFuncs(n.Operand, rn), Type: n.Type}
	case *ast.CaseExpr:
		branches := make([]ast.CaseWhen, len(n.Branches))
		for i, b := range n.Branches {
			branches[i] = ast.CaseWhen{When: substituteWindowFuncs(b.When, rn), Then: substituteWindowFuncs(b.Then, rn)}
		}
		return &ast.CaseExpr{Branches: branches, Else: substituteWindowFuncs(n.Else, rn)}
	case *ast.FuncCall:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = substituteWindowFuncs(a, rn)
		}
		return &ast.FuncCall{Name: n.Name, Args: args}
	default:
		return e
	}
}

func exprColumnName(e ast.Expr, pos int) string {
	switch n := e.(type) {
	case *ast.ColumnRef:
		return n.Name
	case *ast.AggExpr:
		return strings.ToLower(fmt.Sprintf("agg%d", pos))
	default:
		return fmt.Sprintf("col%d", pos)
	}
}

func extendFrame(f *frame.Frame, name string, kind types.Kind, v types.Value) {
	f.ColumnNames = append(f.ColumnNames, name)
	f.ColumnTypes = append(f.ColumnTypes, kind)
	f.Columns = append(f.Columns, []types.Value{v})
}

// projectGroups evaluates items (and, when present, having) once per group,
// via substituteAggs + substituteWindowFuncs splicing precomputed
// aggregate/window results back into the expression tree, then the ordinary
// per-row evaluator against a single representative row standing in for the
// whole group (the Group/Window -> Having -> Project stages).
func projectGroups(f *frame.Frame, groups []rowGroup, groupByExprs []ast.Expr, windowKeyName string, items []ast.SelectItem, having ast.Expr, runner eval.QueryRunner, rowNums map[int]int64) (*frame.Frame, error) {
	var out *frame.Frame

	for _, g := range groups {
		work := frame.New(append([]string(nil), f.ColumnNames...), append([]types.Kind(nil), f.ColumnTypes...))
		work.Columns = make([][]types.Value, len(f.Columns))
		if len(g.Rows) > 0 {
			row := f.Row(g.Rows[0])
			for c := range work.Columns {
				work.Columns[c] = []types.Value{row[c]}
			}
		} else {
			for c, k := range f.ColumnTypes {
				work.Columns[c] = []types.Value{types.NullValue(k)}
			}
		}
		work.RowIDs = []int64{0}

		if windowKeyName != "" && len(g.KeyVals) > 0 {
			if ci := work.ColIndex(windowKeyName); ci >= 0 {
				work.Columns[ci][0] = g.KeyVals[0]
			}
		}
		for i, ge := range groupByExprs {
			if i >= len(g.KeyVals) {
				break
			}
			if cr, ok := ge.(*ast.ColumnRef); ok {
				if ci := work.ColIndex(cr.Name); ci >= 0 {
					work.Columns[ci][0] = g.KeyVals[i]
				}
			}
		}

		var rn int64
		hasWindow := false
		if rowNums != nil && len(g.Rows) > 0 {
			rn, hasWindow = rowNums[g.Rows[0]]
		}

		evalCtx := eval.NewContext(work, 0, runner)

		resolved := make([]ast.Expr, len(items))
		for i, it := range items {
			e2, err := substituteAggs(f, g.Rows, runner, it.Expr)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating SELECT item %d", i+1)
			}
			if hasWindow {
				e2 = substituteWindowFuncs(e2, rn)
			}
			resolved[i] = e2
		}

		names := make([]string, len(items))
		kinds := make([]types.Kind, len(items))
		vals := make([]types.Value, len(items))
		for i, it := range items {
			v, err := eval.Eval(evalCtx, resolved[i])
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating SELECT item %d", i+1)
			}
			name := it.Alias
			if name == "" {
				name = exprColumnName(it.Expr, i+1)
			}
			names[i] = name
			kinds[i] = v.Kind
			vals[i] = v
			extendFrame(work, name, v.Kind, v)
			evalCtx.Aliases[name] = work.ColIndex(name)
		}

		if having != nil {
			hv, err := eval.Eval(evalCtx, having)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating HAVING")
			}
			if hv.Null || !hv.B {
				continue
			}
		}

		if out == nil {
			out = frame.New(names, kinds)
			out.Columns = make([][]types.Value, len(names))
		}
		out.AppendRow(vals, int64(out.NumRows()))
	}

	if out == nil {
		names := make([]string, len(items))
		kinds := make([]types.Kind, len(items))
		for i, it := range items {
			name := it.Alias
			if name == "" {
				name = exprColumnName(it.Expr, i+1)
			}
			names[i] = name
			kinds[i] = types.Text
		}
		out = frame.New(names, kinds)
		out.Columns = make([][]types.Value, len(names))
	}
	return out, nil
}
