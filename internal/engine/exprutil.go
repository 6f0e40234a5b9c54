package engine

import (
	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/eval"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

// exprHasAgg reports whether e contains an AggExpr anywhere in its tree,
// used to decide whether a SELECT with no GROUP BY still needs an implicit
// single-group aggregation pass.
func exprHasAgg(e ast.Expr) bool {
	if e == nil {
		return false
	}
	switch n := e.(type) {
	case *ast.AggExpr:
		return true
	case *ast.BinaryExpr:
		return exprHasAgg(n.Left) || exprHasAgg(n.Right)
	case *ast.UnaryExpr:
		return exprHasAgg(n.Operand)
	case *ast.BetweenExpr:
		return exprHasAgg(n.Operand) || exprHasAgg(n.Low) || exprHasAgg(n.High)
	case *ast.InExpr:
		if exprHasAgg(n.Operand) {
			return true
		}
		for _, l := range n.List {
			if exprHasAgg(l) {
				return true
			}
		}
		return false
	case *ast.CastExpr:
		return exprHasAgg(n.Operand)
	case *ast.CaseExpr:
		for _, b := range n.Branches {
			if exprHasAgg(b.When) || exprHasAgg(b.Then) {
				return true
			}
		}
		return exprHasAgg(n.Else)
	case *ast.SliceExpr:
		return exprHasAgg(n.Operand)
	case *ast.FStringExpr:
		for _, p := range n.Parts {
			if exprHasAgg(p) {
				return true
			}
		}
		return false
	case *ast.DateFuncExpr:
		return exprHasAgg(n.A) || exprHasAgg(n.B) || exprHasAgg(n.N)
	case *ast.FuncCall:
		for _, a := range n.Args {
			if exprHasAgg(a) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func itemsHaveAgg(items []ast.SelectItem) bool {
	for _, it := range items {
		if exprHasAgg(it.Expr) {
			return true
		}
	}
	return false
}

// substituteAggs returns a copy of e with every AggExpr replaced by a
// ValueExpr holding its precomputed value over rows, so the rest of the
// tree can be evaluated with the ordinary per-row evaluator against a
// single representative row.
func substituteAggs(f *frame.Frame, rows []int, runner eval.QueryRunner, e ast.Expr) (ast.Expr, error) {
	if e == nil {
		return nil, nil
	}
	switch n := e.(type) {
	case *ast.AggExpr:
		v, err := eval.EvalAgg(f, rows, n, runner)
		if err != nil {
			return nil, err
		}
		return &ast.ValueExpr{V: v}, nil
	case *ast.BinaryExpr:
		l, err := substituteAggs(f, rows, runner, n.Left)
		if err != nil {
			return nil, err
		}
		r, err := substituteAggs(f, rows, runner, n.Right)
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Op: n.Op, Left: l, Right: r}, nil
	case *ast.UnaryExpr:
		o, err := substituteAggs(f, rows, runner, n.Operand)
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: n.Op, Operand: o}, nil
	case *ast.BetweenExpr:
		op, err := substituteAggs(f, rows, runner, n.Operand)
		if err != nil {
			return nil, err
		}
		lo, err := substituteAggs(f, rows, runner, n.Low)
		if err != nil {
			return nil, err
		}
		hi, err := substituteAggs(f, rows, runner, n.High)
		if err != nil {
			return nil, err
		}
		return &ast.BetweenExpr{Operand: op, Low: lo, High: hi, Not: n.Not}, nil
	case *ast.InExpr:
		op, err := substituteAggs(f, rows, runner, n.Operand)
		if err != nil {
			return nil, err
		}
		list := make([]ast.Expr, len(n.List))
		for i, l := range n.List {
			list[i], err = substituteAggs(f, rows, runner, l)
			if err != nil {
				return nil, err
			}
		}
		return &ast.InExpr{Operand: op, List: list, Sub: n.Sub, Not: n.Not}, nil
	case *ast.CastExpr:
		op, err := substituteAggs(f, rows, runner, n.Operand)
		if err != nil {
			return nil, err
		}
		return &ast.CastExpr{Operand: op, Type: n.Type}, nil
	case *ast.CaseExpr:
		branches := make([]ast.CaseWhen, len(n.Branches))
		for i, b := range n.Branches {
			when, err := substituteAggs(f, rows, runner, b.When)
			if err != nil {
				return nil, err
			}
			then, err := substituteAggs(f, rows, runner, b.Then)
			if err != nil {
				return nil, err
			}
			branches[i] = ast.CaseWhen{When: when, Then: then}
		}
		els, err := substituteAggs(f, rows, runner, n.Else)
		if err != nil {
			return nil, err
		}
		return &ast.CaseExpr{Branches: branches, Else: els}, nil
	case *ast.SliceExpr:
		op, err := substituteAggs(f, rows, runner, n.Operand)
		if err != nil {
			return nil, err
		}
		return &ast.SliceExpr{Operand: op, Start: n.Start, Stop: n.Stop, Step: n.Step}, nil
	case *ast.FStringExpr:
		parts := make([]ast.Expr, len(n.Parts))
		for i, p := range n.Parts {
			var err error
			parts[i], err = substituteAggs(f, rows, runner, p)
			if err != nil {
				return nil, err
			}
		}
		return &ast.FStringExpr{Parts: parts}, nil
	case *ast.DateFuncExpr:
		a, err := substituteAggs(f, rows, runner, n.A)
		if err != nil {
			return nil, err
		}
		b, err := substituteAggs(f, rows, runner, n.B)
		if err != nil {
			return nil, err
		}
		nn, err := substituteAggs(f, rows, runner, n.N)
		if err != nil {
			return nil, err
		}
		return &ast.DateFuncExpr{Kind: n.Kind, Part: n.Part, A: a, B: b, N: nn}, nil
	case *ast.FuncCall:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			var err error
			args[i], err = substituteAggs(f, rows, runner, a)
			if err != nil {
				return nil, err
			}
		}
		return &ast.FuncCall{Name: n.Name, Args: args}, nil
	default:
		return e, nil
	}
}

// groupKeyIndex reports whether ref names one of the GROUP BY
// key expressions (matched structurally by column name, the only shape a
// GROUP BY key realistically takes), returning its position in keyVals.
func groupKeyIndex(groupByExprs []ast.Expr, ref *ast.ColumnRef) (int, bool) {
	for i, g := range groupByExprs {
		if gc, ok := g.(*ast.ColumnRef); ok && gc.Name == ref.Name {
			return i, true
		}
	}
	return -1, false
}

func nullRow(kinds []types.Kind) []types.Value {
	row := make([]types.Value, len(kinds))
	for i, k := range kinds {
		row[i] = types.NullValue(k)
	}
	return row
}
