package engine

import (
	"fmt"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/eval"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

// colSrc names where a combined-schema column's values come from: one side
// of a join (0 = left, 1 = right) plus that side's own column index.
type colSrc struct {
	side int
	idx  int
}

// joinSchema is the combined schema produced by qualifying every column with
// its side's alias ("alias.col") and, when a bare name is unambiguous across
// both sides, also exposing it under its bare name.
type joinSchema struct {
	names []string
	kinds []types.Kind
	srcs  []colSrc
}

func buildJoinSchema(left, right *frame.Frame, leftQual, rightQual string) joinSchema {
	var s joinSchema
	bareCount := map[string]int{}
	for _, n := range left.ColumnNames {
		bareCount[n]++
	}
	for _, n := range right.ColumnNames {
		bareCount[n]++
	}
	addSide := func(f *frame.Frame, qual string, side int) {
		for i, n := range f.ColumnNames {
			qn := n
			if qual != "" {
				qn = qual + "." + n
			}
			s.names = append(s.names, qn)
			s.kinds = append(s.kinds, f.ColumnTypes[i])
			s.srcs = append(s.srcs, colSrc{side, i})
			if qual != "" && bareCount[n] == 1 {
				s.names = append(s.names, n)
				s.kinds = append(s.kinds, f.ColumnTypes[i])
				s.srcs = append(s.srcs, colSrc{side, i})
			}
		}
	}
	addSide(left, leftQual, 0)
	addSide(right, rightQual, 1)
	return s
}

func (s joinSchema) combineRow(leftRow, rightRow []types.Value) []types.Value {
	row := make([]types.Value, len(s.srcs))
	for i, src := range s.srcs {
		if src.side == 0 {
			row[i] = leftRow[src.idx]
		} else {
			row[i] = rightRow[src.idx]
		}
	}
	return row
}

func nullLeftRow(f *frame.Frame) []types.Value { return nullRow(f.ColumnTypes) }

// equiPair is one equality comparand of a detected hash-joinable condition,
// resolved to a column index on each side.
type equiPair struct {
	leftIdx, rightIdx int
}

func flattenAnd(e ast.Expr) []ast.Expr {
	if b, ok := e.(*ast.BinaryExpr); ok && b.Op == ast.OpAnd {
		return append(flattenAnd(b.Left), flattenAnd(b.Right)...)
	}
	return []ast.Expr{e}
}

func resolveColumn(f *frame.Frame, qual string, ref *ast.ColumnRef) (int, bool) {
	if ref.Table != "" && ref.Table != qual {
		return -1, false
	}
	i := f.ColIndex(ref.Name)
	if i < 0 {
		return -1, false
	}
	return i, true
}

// matchEquiJoin splits cond's top-level AND conjuncts into equi-join pairs
// resolvable one-column-per-side, plus a residual condition (nil if none)
// evaluated per candidate match. Returns ok=false when no conjunct was
// resolvable as an equi-pair, so the caller falls back to nested-loop.
func matchEquiJoin(cond ast.Expr, left *frame.Frame, leftQual string, right *frame.Frame, rightQual string) ([]equiPair, ast.Expr, bool) {
	if cond == nil {
		return nil, nil, false
	}
	var pairs []equiPair
	var residual []ast.Expr
	for _, c := range flattenAnd(cond) {
		b, ok := c.(*ast.BinaryExpr)
		if !ok || b.Op != ast.OpEq {
			residual = append(residual, c)
			continue
		}
		lRef, lOK := b.Left.(*ast.ColumnRef)
		rRef, rOK := b.Right.(*ast.ColumnRef)
		if !lOK || !rOK {
			residual = append(residual, c)
			continue
		}
		if li, ok := resolveColumn(left, leftQual, lRef); ok {
			if ri, ok := resolveColumn(right, rightQual, rRef); ok {
				pairs = append(pairs, equiPair{li, ri})
				continue
			}
		}
		if li, ok := resolveColumn(left, leftQual, rRef); ok {
			if ri, ok := resolveColumn(right, rightQual, lRef); ok {
				pairs = append(pairs, equiPair{li, ri})
				continue
			}
		}
		residual = append(residual, c)
	}
	if len(pairs) == 0 {
		return nil, cond, false
	}
	var res ast.Expr
	for _, r := range residual {
		if res == nil {
			res = r
		} else {
			res = &ast.BinaryExpr{Op: ast.OpAnd, Left: res, Right: r}
		}
	}
	return pairs, res, true
}

func hasNullAt(row []types.Value, idxs []int) bool {
	for _, i := range idxs {
		if row[i].Null {
			return true
		}
	}
	return false
}

func equiKey(row []types.Value, idxs []int) string {
	s := ""
	for _, i := range idxs {
		v := row[i]
		if v.Null {
			s += "\x00N\x00"
			continue
		}
		s += fmt.Sprintf("\x00%s:%s\x00", v.Kind.String(), v.String())
	}
	return s
}

// joinFrames combines left and right according to item's Join type and
// JoinCond, chaining hash equi-joins where the condition allows and
// nested loops otherwise.
func (e *Engine) joinFrames(ctx *selCtx, left *frame.Frame, leftQual string, right *frame.Frame, rightQual string, item *ast.FromItem) (*frame.Frame, error) {
	schema := buildJoinSchema(left, right, leftQual, rightQual)
	out := frame.New(schema.names, schema.kinds)
	out.Columns = make([][]types.Value, len(schema.names))
	var rowID int64
	emit := func(row []types.Value) {
		out.AppendRow(row, rowID)
		rowID++
	}

	jt := ast.JoinInner
	if item.Join != nil {
		jt = *item.Join
	}

	pairs, residual, isEqui := matchEquiJoin(item.JoinCond, left, leftQual, right, rightQual)

	evalResidual := func(lr, rr []types.Value) (bool, error) {
		if residual == nil {
			return true, nil
		}
		trial := frame.New(schema.names, schema.kinds)
		trial.Columns = make([][]types.Value, len(schema.names))
		trial.AppendRow(schema.combineRow(lr, rr), 0)
		v, err := eval.Eval(eval.NewContext(trial, 0, ctx.runner), residual)
		if err != nil {
			return false, err
		}
		return !v.Null && v.B, nil
	}

	rightMatched := make([]bool, right.NumRows())

	if isEqui {
		leftIdxs := make([]int, len(pairs))
		rightIdxs := make([]int, len(pairs))
		for i, p := range pairs {
			leftIdxs[i] = p.leftIdx
			rightIdxs[i] = p.rightIdx
		}
		buckets := map[string][]int{}
		for ri := 0; ri < right.NumRows(); ri++ {
			row := right.Row(ri)
			if hasNullAt(row, rightIdxs) {
				continue // NULL join keys never match
			}
			k := equiKey(row, rightIdxs)
			buckets[k] = append(buckets[k], ri)
		}
		for li := 0; li < left.NumRows(); li++ {
			lrow := left.Row(li)
			matchedAny := false
			var candidates []int
			if !hasNullAt(lrow, leftIdxs) {
				candidates = buckets[equiKey(lrow, leftIdxs)]
			}
			for _, ri := range candidates {
				rrow := right.Row(ri)
				ok, err := evalResidual(lrow, rrow)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				matchedAny = true
				rightMatched[ri] = true
				emit(schema.combineRow(lrow, rrow))
			}
			if !matchedAny && (jt == ast.JoinLeft || jt == ast.JoinFull) {
				emit(schema.combineRow(lrow, nullLeftRow(right)))
			}
		}
	} else {
		for li := 0; li < left.NumRows(); li++ {
			lrow := left.Row(li)
			matchedAny := false
			for ri := 0; ri < right.NumRows(); ri++ {
				rrow := right.Row(ri)
				ok, err := evalResidual(lrow, rrow)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				matchedAny = true
				rightMatched[ri] = true
				emit(schema.combineRow(lrow, rrow))
			}
			if !matchedAny && (jt == ast.JoinLeft || jt == ast.JoinFull) {
				emit(schema.combineRow(lrow, nullLeftRow(right)))
			}
		}
	}

	if jt == ast.JoinRight || jt == ast.JoinFull {
		for ri := 0; ri < right.NumRows(); ri++ {
			if rightMatched[ri] {
				continue
			}
			emit(schema.combineRow(nullLeftRow(left), right.Row(ri)))
		}
	}

	return out, nil
}
