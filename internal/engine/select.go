package engine

import (
	"time"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/eval"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/storage"
	"github.com/lattice-db/lattice/internal/types"
)

// selCtx carries the state that must thread through one SELECT's full
// evaluation (including any CTEs and UNION branches it chains to), kept
// separate from the Engine itself since it is per-statement, not
// per-process.
type selCtx struct {
	eng       *Engine
	sess      *session.Session
	runner    eval.QueryRunner
	ctes      map[string]*ast.SelectStmt
	viewDepth map[string]int
}

// runSelect is the pipeline's entry point: Resolve -> Source
// -> Filter -> Group/Window -> Having -> Project -> Order/Limit -> Sink.
func (e *Engine) runSelect(sess *session.Session, stmt *ast.SelectStmt, deadline time.Time) (*frame.Frame, error) {
	ctx := &selCtx{
		eng:       e,
		sess:      sess,
		ctes:      map[string]*ast.SelectStmt{},
		viewDepth: map[string]int{},
	}
	ctx.runner = &engineRunner{eng: e, sess: sess, deadline: deadline}
	return e.runSelectWithCtx(ctx, stmt, deadline)
}

func (e *Engine) runSelectWithCtx(ctx *selCtx, stmt *ast.SelectStmt, deadline time.Time) (*frame.Frame, error) {
	if err := checkDeadline(ctx.sess, deadline); err != nil {
		return nil, err
	}
	for _, cte := range stmt.With {
		ctx.ctes[cte.Name] = cte.Query
	}

	out, err := e.runSelectCore(ctx, stmt, deadline)
	if err != nil {
		return nil, err
	}

	if stmt.Union != nil {
		rhs, err := e.runSelectWithCtx(ctx, stmt.Union, deadline)
		if err != nil {
			return nil, err
		}
		out = unionFrames(out, rhs, stmt.UnionAll)
	}

	if stmt.Into != nil {
		if err := e.sinkInto(ctx.sess, stmt.Into, stmt.IntoMode, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// runSelectCore executes one SELECT's own clauses, not following Union.
func (e *Engine) runSelectCore(ctx *selCtx, stmt *ast.SelectStmt, deadline time.Time) (*frame.Frame, error) {
	var source *frame.Frame
	var err error
	if stmt.From != nil {
		source, err = e.buildSource(ctx, stmt.From, deadline)
		if err != nil {
			return nil, err
		}
	} else {
		source = frame.New(nil, nil)
		source.AppendRow(nil, 0)
	}

	filtered := source
	if stmt.Where != nil {
		filtered, err = e.applyFilter(ctx, source, stmt.Where)
		if err != nil {
			return nil, err
		}
	}

	items := expandStars(stmt.Items, filtered)

	hasAgg := itemsHaveAgg(items) || (stmt.Having != nil && exprHasAgg(stmt.Having))

	var groups []rowGroup
	var groupByExprs []ast.Expr
	windowKeyName := ""

	switch {
	case stmt.Window != nil:
		groups = windowGroups(filtered, *stmt.Window)
		if stmt.Rolling != nil {
			groups = expandRolling(filtered, groups, *stmt.Window, *stmt.Rolling)
		}
		windowKeyName = "_time"
	case stmt.GroupByAll:
		groups = []rowGroup{{Rows: allRowIndices(filtered)}}
	case len(stmt.GroupBy) > 0:
		groupByExprs = stmt.GroupBy
		if anyRunLength(stmt.GroupByRunLength) {
			groups, err = runLengthGroups(filtered, stmt.GroupBy, ctx.runner)
		} else {
			groups, err = groupByGroups(filtered, stmt.GroupBy, ctx.runner)
		}
		if err != nil {
			return nil, err
		}
	case hasAgg:
		groups = []rowGroup{{Rows: allRowIndices(filtered)}}
	default:
		rowNums := computeRowNumbers(filtered, items, ctx.runner)
		order, err := e.sortRowIndices(ctx, filtered, stmt.OrderBy, rowNums)
		if err != nil {
			return nil, err
		}
		groups = make([]rowGroup, len(order))
		for i, idx := range order {
			groups[i] = rowGroup{Rows: []int{idx}}
		}
		groups = applyLimit(groups, stmt.Limit, ctx.runner)
		return projectGroups(filtered, groups, nil, "", items, stmt.Having, ctx.runner, rowNums)
	}

	out, err := projectGroups(filtered, groups, groupByExprs, windowKeyName, items, stmt.Having, ctx.runner, nil)
	if err != nil {
		return nil, err
	}

	if len(stmt.OrderBy) > 0 {
		order, err := e.sortRowIndices(ctx, out, stmt.OrderBy, nil)
		if err != nil {
			return nil, err
		}
		out = out.Select(order)
	}
	out = limitFrame(out, stmt.Limit, ctx.runner)
	return out, nil
}

func anyRunLength(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

func allRowIndices(f *frame.Frame) []int {
	idx := make([]int, f.NumRows())
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// expandStars replaces a bare "SELECT *" item with one item per source
// column, in frame order, preserving any other explicit items' positions.
func expandStars(items []ast.SelectItem, source *frame.Frame) []ast.SelectItem {
	var out []ast.SelectItem
	for _, it := range items {
		if col, ok := it.Expr.(*ast.ColumnRef); ok && col.Name == "*" && it.Alias == "" {
			for _, name := range source.ColumnNames {
				out = append(out, ast.SelectItem{Expr: &ast.ColumnRef{Name: name}})
			}
			continue
		}
		out = append(out, it)
	}
	return out
}

func (e *Engine) applyFilter(ctx *selCtx, f *frame.Frame, where ast.Expr) (*frame.Frame, error) {
	var keep []int
	for r := 0; r < f.NumRows(); r++ {
		v, err := eval.Eval(eval.NewContext(f, r, ctx.runner), where)
		if err != nil {
			return nil, wrapErr(KindTypeMismatch, err, "evaluating WHERE")
		}
		if !v.Null && v.B {
			keep = append(keep, r)
		}
	}
	return f.Select(keep), nil
}

// sinkInto materializes out into target, implementing SELECT ... INTO
// <table> APPEND|REPLACE.
func (e *Engine) sinkInto(sess *session.Session, target *ast.Ident, mode string, out *frame.Frame) error {
	r, err := resolveIdent(sess, *target)
	if err != nil {
		return err
	}
	if err := e.checkTable(sess, r, rbac.ActionWrite); err != nil {
		return err
	}
	t, err := e.openTable(r.DB, r.Schema, r.Table)
	if err != nil {
		meta := storage.TableMeta{}
		for i, name := range out.ColumnNames {
			meta.Columns = append(meta.Columns, types.ColumnDef{Name: name, Type: out.ColumnTypes[i], TypeName: out.ColumnTypes[i].String(), Nullable: true})
		}
		t, err = e.createTable(r.DB, r.Schema, r.Table, meta)
		if err != nil {
			return err
		}
	}
	if mode == "REPLACE" {
		return t.Replace(out)
	}
	return t.Append(out)
}

// unionFrames concatenates lhs and rhs (same schema, caller's
// responsibility), deduping row-for-row when not UNION ALL. Two NULLs
// compare equal for dedup purposes, via Value.Equal.
func unionFrames(lhs, rhs *frame.Frame, all bool) *frame.Frame {
	out := frame.New(append([]string(nil), lhs.ColumnNames...), append([]types.Kind(nil), lhs.ColumnTypes...))
	out.Columns = make([][]types.Value, len(lhs.Columns))
	var rowID int64
	var seen [][]types.Value
	appendIfNew := func(row []types.Value) {
		if !all {
			for _, s := range seen {
				if rowEqual(s, row) {
					return
				}
			}
			seen = append(seen, row)
		}
		out.AppendRow(row, rowID)
		rowID++
	}
	for i := 0; i < lhs.NumRows(); i++ {
		appendIfNew(lhs.Row(i))
	}
	for i := 0; i < rhs.NumRows(); i++ {
		appendIfNew(rhs.Row(i))
	}
	return out
}

func rowEqual(a, b []types.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
