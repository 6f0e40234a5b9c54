package engine

import (
	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/types"
)

// BindParams substitutes every "$n" placeholder ColumnRef in cmd with a
// ValueExpr carrying params[n-1], returning a new Command tree. This is the
// pgwire extended-query Bind step: Parse produces a Command
// with placeholders still unresolved, Bind supplies concrete values, and
// Execute runs the bound tree through the same path a plain SELECT/INSERT/
// UPDATE/DELETE takes. Out-of-range indices are left untouched; the
// evaluator reports them as an unknown column lazily at the reference
// site rather than here, since a placeholder might sit in a branch that
// never executes (e.g. a CASE arm).
func BindParams(cmd ast.Command, params []types.Value) ast.Command {
	if len(params) == 0 {
		return cmd
	}
	switch n := cmd.(type) {
	case *ast.SelectStmt:
		return bindSelect(n, params)
	case *ast.InsertStmt:
		out := *n
		out.Rows = make([][]ast.Expr, len(n.Rows))
		for i, row := range n.Rows {
			out.Rows[i] = make([]ast.Expr, len(row))
			for j, e := range row {
				out.Rows[i][j] = bindExpr(e, params)
			}
		}
		return &out
	case *ast.UpdateStmt:
		out := *n
		out.Assignments = make([]ast.Assignment, len(n.Assignments))
		for i, a := range n.Assignments {
			out.Assignments[i] = ast.Assignment{Column: a.Column, Value: bindExpr(a.Value, params)}
		}
		out.Where = bindExpr(n.Where, params)
		return &out
	case *ast.DeleteStmt:
		out := *n
		out.Where = bindExpr(n.Where, params)
		return &out
	case *ast.CalculateStmt:
		out := *n
		out.Query = bindSelect(n.Query, params)
		return &out
	default:
		return cmd
	}
}

func bindSelect(s *ast.SelectStmt, params []types.Value) *ast.SelectStmt {
	if s == nil {
		return nil
	}
	out := *s
	out.Items = make([]ast.SelectItem, len(s.Items))
	for i, it := range s.Items {
		out.Items[i] = ast.SelectItem{Expr: bindExpr(it.Expr, params), Alias: it.Alias}
	}
	out.Where = bindExpr(s.Where, params)
	out.Having = bindExpr(s.Having, params)
	out.GroupBy = bindExprSlice(s.GroupBy, params)
	out.GroupByRunLength = append([]bool(nil), s.GroupByRunLength...)
	out.OrderBy = make([]ast.OrderItem, len(s.OrderBy))
	for i, o := range s.OrderBy {
		out.OrderBy[i] = ast.OrderItem{Expr: bindExpr(o.Expr, params), Desc: o.Desc}
	}
	out.Limit = bindExpr(s.Limit, params)
	if s.Union != nil {
		out.Union = bindSelect(s.Union, params)
	}
	if s.From != nil {
		out.From = bindFrom(s.From, params)
	}
	if len(s.With) > 0 {
		out.With = make([]ast.CTE, len(s.With))
		for i, cte := range s.With {
			out.With[i] = ast.CTE{Name: cte.Name, Query: bindSelect(cte.Query, params)}
		}
	}
	return &out
}

func bindFrom(f *ast.FromItem, params []types.Value) *ast.FromItem {
	if f == nil {
		return nil
	}
	out := *f
	if f.Subquery != nil {
		out.Subquery = bindSelect(f.Subquery, params)
	}
	if f.TVF != nil {
		tvf := *f.TVF
		tvf.Args = bindExprSlice(f.TVF.Args, params)
		out.TVF = &tvf
	}
	out.JoinCond = bindExpr(f.JoinCond, params)
	if f.Next != nil {
		out.Next = bindFrom(f.Next, params)
	}
	return &out
}

func bindExprSlice(in []ast.Expr, params []types.Value) []ast.Expr {
	if in == nil {
		return nil
	}
	out := make([]ast.Expr, len(in))
	for i, e := range in {
		out[i] = bindExpr(e, params)
	}
	return out
}

func bindExpr(e ast.Expr, params []types.Value) ast.Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *ast.ColumnRef:
		if idx, ok := paramIndex(n.Name); ok && idx >= 1 && idx <= len(params) {
			return &ast.ValueExpr{V: params[idx-1]}
		}
		return n
	case *ast.BinaryExpr:
		return &ast.BinaryExpr{Op: n.Op, Left: bindExpr(n.Left, params), Right: bindExpr(n.Right, params)}
	case *ast.UnaryExpr:
		return &ast.UnaryExpr{Op: n.Op, Operand: bindExpr(n.Operand, params)}
	case *ast.BetweenExpr:
		return &ast.BetweenExpr{Operand: bindExpr(n.Operand, params), Low: bindExpr(n.Low, params), High: bindExpr(n.High, params), Not: n.Not}
	case *ast.InExpr:
		out := &ast.InExpr{Operand: bindExpr(n.Operand, params), List: bindExprSlice(n.List, params), Not: n.Not}
		if n.Sub != nil {
			out.Sub = bindSelect(n.Sub, params)
		}
		return out
	case *ast.SubqueryExpr:
		return &ast.SubqueryExpr{Kind: n.Kind, Op: n.Op, Left: bindExpr(n.Left, params), Query: bindSelect(n.Query, params)}
	case *ast.CastExpr:
		return &ast.CastExpr{Operand: bindExpr(n.Operand, params), Type: n.Type}
	case *ast.CaseExpr:
		out := &ast.CaseExpr{Else: bindExpr(n.Else, params)}
		out.Branches = make([]ast.CaseWhen, len(n.Branches))
		for i, b := range n.Branches {
			out.Branches[i] = ast.CaseWhen{When: bindExpr(b.When, params), Then: bindExpr(b.Then, params)}
		}
		return out
	case *ast.SliceExpr:
		out := *n
		out.Operand = bindExpr(n.Operand, params)
		out.Start.Index = bindExpr(n.Start.Index, params)
		out.Stop.Index = bindExpr(n.Stop.Index, params)
		out.Step.Index = bindExpr(n.Step.Index, params)
		return &out
	case *ast.FStringExpr:
		return &ast.FStringExpr{Parts: bindExprSlice(n.Parts, params)}
	case *ast.DateFuncExpr:
		return &ast.DateFuncExpr{Kind: n.Kind, Part: n.Part, N: bindExpr(n.N, params), A: bindExpr(n.A, params), B: bindExpr(n.B, params)}
	case *ast.AggExpr:
		return &ast.AggExpr{Kind: n.Kind, Arg: bindExpr(n.Arg, params), Quantile: bindExpr(n.Quantile, params)}
	case *ast.WindowExpr:
		out := &ast.WindowExpr{Func: n.Func, PartitionBy: bindExprSlice(n.PartitionBy, params)}
		out.OrderBy = make([]ast.OrderItem, len(n.OrderBy))
		for i, o := range n.OrderBy {
			out.OrderBy[i] = ast.OrderItem{Expr: bindExpr(o.Expr, params), Desc: o.Desc}
		}
		return out
	case *ast.FuncCall:
		return &ast.FuncCall{Name: n.Name, Args: bindExprSlice(n.Args, params)}
	default:
		return e
	}
}

// paramIndex reports whether name is a "$n" placeholder and parses n.
func paramIndex(name string) (int, bool) {
	if len(name) < 2 || name[0] != '$' {
		return 0, false
	}
	n := 0
	for _, c := range name[1:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
