// Package eval evaluates ast.Expr trees against columnar frame.Frame rows,
// with explicit NULL propagation and type coercion.
package eval

import (
	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/frame"
)

// QueryRunner executes a nested SELECT against the current snapshot and
// resolves user-defined scalar functions, injected by internal/engine to
// avoid an eval<->engine import cycle (the evaluator needs to run
// subqueries and look up UDFs; the engine needs to evaluate expressions).
type QueryRunner interface {
	RunSubquery(stmt *ast.SelectStmt) (*frame.Frame, error)
	// ResolveUDF returns the parameter names and parsed body expression of
	// a stored scalar UDF, or ok=false when no such function exists. The
	// evaluator falls back to it for any call that is not a builtin, giving
	// the single case-folded name registry spec'd for function dispatch.
	ResolveUDF(name string) (params []string, body ast.Expr, ok bool)
}

// Context is the per-row evaluation environment: the current frame, the row
// index being evaluated, aliases already computed earlier in the same
// SELECT list (resolved lazily as later items reference earlier ones), and
// the subquery runner for ANY/ALL/EXISTS/IN.
type Context struct {
	Frame   *frame.Frame
	Row     int
	Aliases map[string]int // alias -> column index materialized so far
	Runner  QueryRunner

	// subqueryCache memoizes a subquery's result by a cache key built from
	// the current row's values. It belongs to this Context only, so it is
	// not shared across rows that each get their own Context.
	subqueryCache map[string]*frame.Frame
}

func NewContext(f *frame.Frame, row int, runner QueryRunner) *Context {
	return &Context{Frame: f, Row: row, Aliases: map[string]int{}, Runner: runner, subqueryCache: map[string]*frame.Frame{}}
}
