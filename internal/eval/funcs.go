package eval

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/types"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// evalFuncCall dispatches the small set of builtin scalar functions. Unlike
// AggExpr/WindowExpr these take effect row-by-row with no grouping context.
func evalFuncCall(ctx *Context, n *ast.FuncCall) (types.Value, error) {
	name := strings.ToUpper(n.Name)

	if name == "COALESCE" {
		for _, a := range n.Args {
			v, err := Eval(ctx, a)
			if err != nil {
				return types.Value{}, err
			}
			if !v.Null {
				return v, nil
			}
		}
		return types.NullValue(types.Text), nil
	}

	args := make([]types.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := Eval(ctx, a)
		if err != nil {
			return types.Value{}, err
		}
		args[i] = v
	}

	switch name {
	case "UPPER":
		if err := arity(name, args, 1); err != nil {
			return types.Value{}, err
		}
		if args[0].Null {
			return types.NullValue(types.Text), nil
		}
		return types.TextValue(strings.ToUpper(args[0].String())), nil
	case "LOWER":
		if err := arity(name, args, 1); err != nil {
			return types.Value{}, err
		}
		if args[0].Null {
			return types.NullValue(types.Text), nil
		}
		return types.TextValue(strings.ToLower(args[0].String())), nil
	case "TRIM":
		if err := arity(name, args, 1); err != nil {
			return types.Value{}, err
		}
		if args[0].Null {
			return types.NullValue(types.Text), nil
		}
		return types.TextValue(strings.TrimSpace(args[0].String())), nil
	case "LENGTH", "LEN":
		if err := arity(name, args, 1); err != nil {
			return types.Value{}, err
		}
		if args[0].Null {
			return types.NullValue(types.BigInt), nil
		}
		return types.IntValue(types.BigInt, int64(len([]rune(args[0].String())))), nil
	case "CONCAT":
		var b strings.Builder
		for _, a := range args {
			if !a.Null {
				b.WriteString(a.String())
			}
		}
		return types.TextValue(b.String()), nil
	case "ABS":
		if err := arity(name, args, 1); err != nil {
			return types.Value{}, err
		}
		if args[0].Null {
			return args[0], nil
		}
		if args[0].Kind.IsInteger() {
			i := args[0].I
			if i < 0 {
				i = -i
			}
			return types.IntValue(args[0].Kind, i), nil
		}
		f, _ := args[0].AsFloat()
		return types.FloatValue(types.Double, math.Abs(f)), nil
	case "ROUND":
		if len(args) < 1 || len(args) > 2 {
			return types.Value{}, fmt.Errorf("eval: ROUND takes 1 or 2 arguments")
		}
		if args[0].Null {
			return types.NullValue(types.Double), nil
		}
		f, _ := args[0].AsFloat()
		places := 0
		if len(args) == 2 && !args[1].Null {
			p, _ := args[1].AsInt()
			places = int(p)
		}
		mul := math.Pow(10, float64(places))
		return types.FloatValue(types.Double, math.Round(f*mul)/mul), nil
	case "FLOOR":
		if err := arity(name, args, 1); err != nil {
			return types.Value{}, err
		}
		if args[0].Null {
			return types.NullValue(types.Double), nil
		}
		f, _ := args[0].AsFloat()
		return types.FloatValue(types.Double, math.Floor(f)), nil
	case "CEIL", "CEILING":
		if err := arity(name, args, 1); err != nil {
			return types.Value{}, err
		}
		if args[0].Null {
			return types.NullValue(types.Double), nil
		}
		f, _ := args[0].AsFloat()
		return types.FloatValue(types.Double, math.Ceil(f)), nil
	case "SQRT":
		if err := arity(name, args, 1); err != nil {
			return types.Value{}, err
		}
		if args[0].Null {
			return types.NullValue(types.Double), nil
		}
		f, _ := args[0].AsFloat()
		return types.FloatValue(types.Double, math.Sqrt(f)), nil
	case "SUBSTR", "SUBSTRING":
		if len(args) < 2 || len(args) > 3 {
			return types.Value{}, fmt.Errorf("eval: SUBSTR takes 2 or 3 arguments")
		}
		if args[0].Null {
			return types.NullValue(types.Text), nil
		}
		runes := []rune(args[0].String())
		start, _ := args[1].AsInt()
		idx := int(start) - 1 // 1-indexed, matching the dialect's DATEPART-style conventions
		if idx < 0 {
			idx = 0
		}
		if idx > len(runes) {
			idx = len(runes)
		}
		end := len(runes)
		if len(args) == 3 && !args[2].Null {
			n, _ := args[2].AsInt()
			end = idx + int(n)
			if end > len(runes) {
				end = len(runes)
			}
		}
		if end < idx {
			end = idx
		}
		return types.TextValue(string(runes[idx:end])), nil
	case "NOW":
		return types.IntValue(types.Timestamp, nowMs()), nil
	default:
		if ctx.Runner != nil {
			if params, body, ok := ctx.Runner.ResolveUDF(strings.ToLower(n.Name)); ok {
				if len(params) != len(args) {
					return types.Value{}, fmt.Errorf("eval: %s takes %d argument(s), got %d", n.Name, len(params), len(args))
				}
				return Eval(ctx, bindUDFParams(body, params, args))
			}
		}
		return types.Value{}, fmt.Errorf("eval: unknown function %s", n.Name)
	}
}

// bindUDFParams substitutes a UDF body's parameter references with the
// caller's already-evaluated argument values; every other node (including
// column references, which resolve in the caller's row context) passes
// through untouched.
func bindUDFParams(e ast.Expr, params []string, args []types.Value) ast.Expr {
	if len(params) == 0 {
		return e
	}
	byName := make(map[string]types.Value, len(params))
	for i, p := range params {
		byName[strings.ToLower(p)] = args[i]
	}
	return substituteParams(e, byName)
}

func substituteParams(e ast.Expr, byName map[string]types.Value) ast.Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *ast.ColumnRef:
		if v, ok := byName[strings.ToLower(n.Name)]; ok && n.Table == "" {
			return &ast.ValueExpr{V: v}
		}
		return n
	case *ast.BinaryExpr:
		return &ast.BinaryExpr{Op: n.Op, Left: substituteParams(n.Left, byName), Right: substituteParams(n.Right, byName)}
	case *ast.UnaryExpr:
		return &ast.UnaryExpr{Op: n.Op, Operand: substituteParams(n.Operand, byName)}
	case *ast.BetweenExpr:
		return &ast.BetweenExpr{Operand: substituteParams(n.Operand, byName), Low: substituteParams(n.Low, byName), High: substituteParams(n.High, byName), Not: n.Not}
	case *ast.InExpr:
		out := &ast.InExpr{Operand: substituteParams(n.Operand, byName), Sub: n.Sub, Not: n.Not}
		for _, l := range n.List {
			out.List = append(out.List, substituteParams(l, byName))
		}
		return out
	case *ast.CastExpr:
		return &ast.CastExpr{Operand: substituteParams(n.Operand, byName), Type: n.Type}
	case *ast.CaseExpr:
		out := &ast.CaseExpr{Else: substituteParams(n.Else, byName)}
		for _, b := range n.Branches {
			out.Branches = append(out.Branches, ast.CaseWhen{When: substituteParams(b.When, byName), Then: substituteParams(b.Then, byName)})
		}
		return out
	case *ast.SliceExpr:
		out := *n
		out.Operand = substituteParams(n.Operand, byName)
		out.Start.Index = substituteParams(n.Start.Index, byName)
		out.Stop.Index = substituteParams(n.Stop.Index, byName)
		out.Step.Index = substituteParams(n.Step.Index, byName)
		return &out
	case *ast.FStringExpr:
		out := &ast.FStringExpr{}
		for _, p := range n.Parts {
			out.Parts = append(out.Parts, substituteParams(p, byName))
		}
		return out
	case *ast.DateFuncExpr:
		return &ast.DateFuncExpr{Kind: n.Kind, Part: n.Part, N: substituteParams(n.N, byName), A: substituteParams(n.A, byName), B: substituteParams(n.B, byName)}
	case *ast.FuncCall:
		out := &ast.FuncCall{Name: n.Name}
		for _, a := range n.Args {
			out.Args = append(out.Args, substituteParams(a, byName))
		}
		return out
	default:
		return e
	}
}

func arity(name string, args []types.Value, want int) error {
	if len(args) != want {
		return fmt.Errorf("eval: %s takes %d argument(s), got %d", name, want, len(args))
	}
	return nil
}
