package eval

import (
	"fmt"
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

// Eval evaluates e against the row ctx.Row of ctx.Frame, returning a typed
// Value with explicit NULL propagation.
func Eval(ctx *Context, e ast.Expr) (types.Value, error) {
	switch n := e.(type) {
	case *ast.Literal:
		return literalValue(n.Value), nil
	case *ast.ValueExpr:
		return n.V, nil
	case *ast.ColumnRef:
		return evalColumnRef(ctx, n)
	case *ast.BinaryExpr:
		return evalBinary(ctx, n)
	case *ast.UnaryExpr:
		return evalUnary(ctx, n)
	case *ast.BetweenExpr:
		return evalBetween(ctx, n)
	case *ast.InExpr:
		return evalIn(ctx, n)
	case *ast.SubqueryExpr:
		return evalSubquery(ctx, n)
	case *ast.CastExpr:
		return evalCast(ctx, n)
	case *ast.CaseExpr:
		return evalCase(ctx, n)
	case *ast.SliceExpr:
		return evalSlice(ctx, n)
	case *ast.FStringExpr:
		return evalFString(ctx, n)
	case *ast.DateFuncExpr:
		return evalDateFunc(ctx, n)
	case *ast.FuncCall:
		return evalFuncCall(ctx, n)
	case *ast.AggExpr:
		return types.Value{}, fmt.Errorf("eval: aggregate %v used outside of a grouped context", n.Kind)
	case *ast.WindowExpr:
		return types.Value{}, fmt.Errorf("eval: window function used outside of a window context")
	default:
		return types.Value{}, fmt.Errorf("eval: unsupported expression node %T", e)
	}
}

func literalValue(v any) types.Value {
	switch t := v.(type) {
	case nil:
		return types.NullValue(types.Text)
	case int64:
		return types.IntValue(types.BigInt, t)
	case float64:
		return types.FloatValue(types.Double, t)
	case string:
		return types.TextValue(t)
	case bool:
		return types.BoolValue(t)
	default:
		return types.NullValue(types.Text)
	}
}

func evalColumnRef(ctx *Context, ref *ast.ColumnRef) (types.Value, error) {
	name := ref.Name
	if idx := ctx.Frame.ColIndex(name); idx >= 0 {
		return ctx.Frame.Columns[idx][ctx.Row], nil
	}
	if ref.Table != "" {
		qualified := ref.Table + "." + name
		if idx := ctx.Frame.ColIndex(qualified); idx >= 0 {
			return ctx.Frame.Columns[idx][ctx.Row], nil
		}
	}
	if idx, ok := ctx.Aliases[name]; ok {
		return ctx.Frame.Columns[idx][ctx.Row], nil
	}
	return types.Value{}, fmt.Errorf("eval: unknown column %q", name)
}

// boolOf implements Kleene's three-valued logic lookup: returns
// (value, isNull).
func boolOf(v types.Value) (bool, bool) {
	if v.Null {
		return false, true
	}
	return v.B, false
}

func evalBinary(ctx *Context, n *ast.BinaryExpr) (types.Value, error) {
	switch n.Op {
	case ast.OpAnd:
		l, err := Eval(ctx, n.Left)
		if err != nil {
			return types.Value{}, err
		}
		lb, lNull := boolOf(l)
		if !lNull && !lb {
			return types.BoolValue(false), nil // short-circuit: FALSE AND x = FALSE
		}
		r, err := Eval(ctx, n.Right)
		if err != nil {
			return types.Value{}, err
		}
		rb, rNull := boolOf(r)
		if !rNull && !rb {
			return types.BoolValue(false), nil
		}
		if lNull || rNull {
			return types.NullValue(types.Boolean), nil
		}
		return types.BoolValue(lb && rb), nil
	case ast.OpOr:
		l, err := Eval(ctx, n.Left)
		if err != nil {
			return types.Value{}, err
		}
		lb, lNull := boolOf(l)
		if !lNull && lb {
			return types.BoolValue(true), nil
		}
		r, err := Eval(ctx, n.Right)
		if err != nil {
			return types.Value{}, err
		}
		rb, rNull := boolOf(r)
		if !rNull && rb {
			return types.BoolValue(true), nil
		}
		if lNull || rNull {
			return types.NullValue(types.Boolean), nil
		}
		return types.BoolValue(lb || rb), nil
	}

	l, err := Eval(ctx, n.Left)
	if err != nil {
		return types.Value{}, err
	}
	r, err := Eval(ctx, n.Right)
	if err != nil {
		return types.Value{}, err
	}

	switch n.Op {
	case ast.OpEq, ast.OpNeq, ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte:
		if l.Null || r.Null {
			return types.NullValue(types.Boolean), nil
		}
		cmp := l.Compare(r)
		var b bool
		switch n.Op {
		case ast.OpEq:
			b = cmp == 0
		case ast.OpNeq:
			b = cmp != 0
		case ast.OpLt:
			b = cmp < 0
		case ast.OpLte:
			b = cmp <= 0
		case ast.OpGt:
			b = cmp > 0
		case ast.OpGte:
			b = cmp >= 0
		}
		return types.BoolValue(b), nil
	case ast.OpLike, ast.OpNotLike:
		if l.Null || r.Null {
			return types.NullValue(types.Boolean), nil
		}
		match := LikeMatch(r.S, l.S)
		if n.Op == ast.OpNotLike {
			match = !match
		}
		return types.BoolValue(match), nil
	case ast.OpConcat:
		if l.Null || r.Null {
			return types.NullValue(types.Text), nil
		}
		return types.TextValue(l.String() + r.String()), nil
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		return evalArith(n.Op, l, r)
	default:
		return types.Value{}, fmt.Errorf("eval: unsupported binary op %v", n.Op)
	}
}

// evalArith implements arithmetic widening: integer -> float on division
// or mixed operands, integer overflow wraps, division
// by zero -> NULL.
func evalArith(op ast.BinOp, l, r types.Value) (types.Value, error) {
	if l.Null || r.Null {
		kind := types.Double
		if l.Kind.IsInteger() && r.Kind.IsInteger() {
			kind = types.BigInt
		}
		return types.NullValue(kind), nil
	}
	if !l.Kind.IsNumeric() {
		if f, err := types.ParseNumeric(l.S); err == nil {
			l = types.FloatValue(types.Double, f)
		} else {
			return types.Value{}, fmt.Errorf("eval: %q is not numeric", l.String())
		}
	}
	if !r.Kind.IsNumeric() {
		if f, err := types.ParseNumeric(r.S); err == nil {
			r = types.FloatValue(types.Double, f)
		} else {
			return types.Value{}, fmt.Errorf("eval: %q is not numeric", r.String())
		}
	}

	bothInt := l.Kind.IsInteger() && r.Kind.IsInteger()
	if op == ast.OpDiv {
		bothInt = false // division always widens to float
	}

	if bothInt {
		li, _ := l.AsInt()
		ri, _ := r.AsInt()
		var out int64
		switch op {
		case ast.OpAdd:
			out = li + ri // wraps on overflow, Go int64 semantics
		case ast.OpSub:
			out = li - ri
		case ast.OpMul:
			out = li * ri
		case ast.OpMod:
			if ri == 0 {
				return types.NullValue(types.BigInt), nil
			}
			out = li % ri
		}
		return types.IntValue(types.BigInt, out), nil
	}

	lf, _ := l.AsFloat()
	rf, _ := r.AsFloat()
	var out float64
	switch op {
	case ast.OpAdd:
		out = lf + rf
	case ast.OpSub:
		out = lf - rf
	case ast.OpMul:
		out = lf * rf
	case ast.OpDiv:
		if rf == 0 {
			return types.NullValue(types.Double), nil
		}
		out = lf / rf
	case ast.OpMod:
		if rf == 0 {
			return types.NullValue(types.Double), nil
		}
		out = lf - rf*float64(int64(lf/rf))
	}
	return types.FloatValue(types.Double, out), nil
}

func evalUnary(ctx *Context, n *ast.UnaryExpr) (types.Value, error) {
	v, err := Eval(ctx, n.Operand)
	if err != nil {
		return types.Value{}, err
	}
	switch n.Op {
	case ast.OpIsNull:
		return types.BoolValue(v.Null), nil
	case ast.OpIsNotNull:
		return types.BoolValue(!v.Null), nil
	case ast.OpNot:
		if v.Null {
			return types.NullValue(types.Boolean), nil
		}
		return types.BoolValue(!v.B), nil
	case ast.OpNeg:
		if v.Null {
			return v, nil
		}
		if v.Kind.IsInteger() {
			return types.IntValue(v.Kind, -v.I), nil
		}
		f, _ := v.AsFloat()
		return types.FloatValue(types.Double, -f), nil
	default:
		return types.Value{}, fmt.Errorf("eval: unsupported unary op %v", n.Op)
	}
}

func evalBetween(ctx *Context, n *ast.BetweenExpr) (types.Value, error) {
	v, err := Eval(ctx, n.Operand)
	if err != nil {
		return types.Value{}, err
	}
	low, err := Eval(ctx, n.Low)
	if err != nil {
		return types.Value{}, err
	}
	high, err := Eval(ctx, n.High)
	if err != nil {
		return types.Value{}, err
	}
	if v.Null || low.Null || high.Null {
		return types.NullValue(types.Boolean), nil
	}
	b := v.Compare(low) >= 0 && v.Compare(high) <= 0
	if n.Not {
		b = !b
	}
	return types.BoolValue(b), nil
}

func evalIn(ctx *Context, n *ast.InExpr) (types.Value, error) {
	v, err := Eval(ctx, n.Operand)
	if err != nil {
		return types.Value{}, err
	}
	if v.Null {
		return types.NullValue(types.Boolean), nil
	}
	var found bool
	if n.Sub != nil {
		rows, err := runCorrelated(ctx, n.Sub, "in")
		if err != nil {
			return types.Value{}, err
		}
		for i := 0; i < rows.NumRows(); i++ {
			if rows.Columns[0][i].Equal(v) {
				found = true
				break
			}
		}
	} else {
		for _, item := range n.List {
			iv, err := Eval(ctx, item)
			if err != nil {
				return types.Value{}, err
			}
			if !iv.Null && iv.Equal(v) {
				found = true
				break
			}
		}
	}
	if n.Not {
		found = !found
	}
	return types.BoolValue(found), nil
}

func evalSubquery(ctx *Context, n *ast.SubqueryExpr) (types.Value, error) {
	rows, err := runCorrelated(ctx, n.Query, "sub")
	if err != nil {
		return types.Value{}, err
	}
	switch n.Kind {
	case ast.QuantExists:
		// The parser marks a parenthesized scalar subquery with a non-nil
		// Left; a bare EXISTS(...) predicate has Left == nil.
		if n.Left != nil {
			if rows.NumRows() == 0 || len(rows.Columns) == 0 {
				return types.NullValue(types.Text), nil
			}
			return rows.Columns[0][0], nil
		}
		return types.BoolValue(rows.NumRows() > 0), nil
	case ast.QuantAny, ast.QuantAll:
		left, err := Eval(ctx, n.Left)
		if err != nil {
			return types.Value{}, err
		}
		if left.Null {
			return types.NullValue(types.Boolean), nil
		}
		anyTrue, allTrue, sawNull := false, true, false
		for i := 0; i < rows.NumRows(); i++ {
			rv := rows.Columns[0][i]
			if rv.Null {
				sawNull = true
				continue
			}
			cmp := left.Compare(rv)
			var ok bool
			switch n.Op {
			case ast.OpEq:
				ok = cmp == 0
			case ast.OpNeq:
				ok = cmp != 0
			case ast.OpLt:
				ok = cmp < 0
			case ast.OpLte:
				ok = cmp <= 0
			case ast.OpGt:
				ok = cmp > 0
			case ast.OpGte:
				ok = cmp >= 0
			}
			if ok {
				anyTrue = true
			} else {
				allTrue = false
			}
		}
		if n.Kind == ast.QuantAny {
			if anyTrue {
				return types.BoolValue(true), nil
			}
			if sawNull {
				return types.NullValue(types.Boolean), nil
			}
			return types.BoolValue(false), nil
		}
		if !allTrue {
			return types.BoolValue(false), nil
		}
		if sawNull {
			return types.NullValue(types.Boolean), nil
		}
		return types.BoolValue(true), nil
	default:
		return types.Value{}, fmt.Errorf("eval: unsupported subquery kind")
	}
}

// runCorrelated evaluates the subquery against the snapshot captured at the
// outer scan start, memoizing the result in ctx's cache. The cache lives
// only as long as ctx, and the engine builds a new Context for each row, so
// the subquery runs again for every outer row, even rows with equal values.
func runCorrelated(ctx *Context, stmt *ast.SelectStmt, tag string) (*frame.Frame, error) {
	key := fmt.Sprintf("%s:%p:%d", tag, stmt, correlationKey(ctx))
	if cached, ok := ctx.subqueryCache[key]; ok {
		return cached, nil
	}
	result, err := ctx.Runner.RunSubquery(stmt)
	if err != nil {
		return nil, err
	}
	ctx.subqueryCache[key] = result
	return result, nil
}

// correlationKey builds a cheap identity for "this outer row" from its
// values, used only to distinguish cache entries across rows — not a
// cryptographic hash.
func correlationKey(ctx *Context) uint64 {
	var h uint64 = 1469598103934665603
	for _, col := range ctx.Frame.Columns {
		if ctx.Row >= len(col) {
			continue
		}
		s := col[ctx.Row].String()
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= 1099511628211
		}
	}
	return h
}

func evalCase(ctx *Context, n *ast.CaseExpr) (types.Value, error) {
	for _, branch := range n.Branches {
		cond, err := Eval(ctx, branch.When)
		if err != nil {
			return types.Value{}, err
		}
		if !cond.Null && cond.B {
			return Eval(ctx, branch.Then)
		}
	}
	if n.Else != nil {
		return Eval(ctx, n.Else)
	}
	return types.NullValue(types.Text), nil
}

func evalFString(ctx *Context, n *ast.FStringExpr) (types.Value, error) {
	var b strings.Builder
	for _, part := range n.Parts {
		v, err := Eval(ctx, part)
		if err != nil {
			return types.Value{}, err
		}
		if v.Null {
			continue
		}
		b.WriteString(v.String())
	}
	return types.TextValue(b.String()), nil
}
