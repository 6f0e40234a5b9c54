package eval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/types"
)

func evalCast(ctx *Context, n *ast.CastExpr) (types.Value, error) {
	v, err := Eval(ctx, n.Operand)
	if err != nil {
		return types.Value{}, err
	}
	target, err := types.ParseKind(n.Type)
	if err != nil {
		return types.Value{}, fmt.Errorf("eval: cast to %q: %w", n.Type, err)
	}
	if v.Null {
		return types.NullValue(target), nil
	}
	return castValue(v, target)
}

func castValue(v types.Value, target types.Kind) (types.Value, error) {
	switch {
	case target.IsInteger():
		i, err := coerceInt(v)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntValue(target, i), nil
	case target == types.Double || target == types.Real:
		f, err := coerceFloat(v)
		if err != nil {
			return types.Value{}, err
		}
		return types.FloatValue(target, f), nil
	case target == types.Boolean:
		b, err := coerceBool(v)
		if err != nil {
			return types.Value{}, err
		}
		return types.BoolValue(b), nil
	case target == types.Text:
		return types.TextValue(v.String()), nil
	case target == types.Timestamp:
		ms, err := coerceTimestamp(v)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntValue(types.Timestamp, ms), nil
	default:
		return types.Value{}, fmt.Errorf("eval: unsupported cast target %v", target)
	}
}

func coerceInt(v types.Value) (int64, error) {
	switch {
	case v.Kind.IsInteger():
		return v.I, nil
	case v.Kind.IsNumeric():
		return int64(v.F), nil
	case v.Kind == types.Boolean:
		if v.B {
			return 1, nil
		}
		return 0, nil
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(v.S), 10, 64)
		if err != nil {
			f, ferr := types.ParseNumeric(v.S)
			if ferr != nil {
				return 0, fmt.Errorf("cannot cast %q to integer", v.S)
			}
			return int64(f), nil
		}
		return n, nil
	}
}

func coerceFloat(v types.Value) (float64, error) {
	if v.Kind.IsNumeric() {
		f, _ := v.AsFloat()
		return f, nil
	}
	if v.Kind == types.Boolean {
		if v.B {
			return 1, nil
		}
		return 0, nil
	}
	f, err := types.ParseNumeric(v.S)
	if err != nil {
		return 0, fmt.Errorf("cannot cast %q to float", v.S)
	}
	return f, nil
}

func coerceBool(v types.Value) (bool, error) {
	switch {
	case v.Kind == types.Boolean:
		return v.B, nil
	case v.Kind.IsNumeric():
		f, _ := v.AsFloat()
		return f != 0, nil
	default:
		switch strings.ToLower(strings.TrimSpace(v.S)) {
		case "true", "t", "1", "yes":
			return true, nil
		case "false", "f", "0", "no":
			return false, nil
		default:
			return false, fmt.Errorf("cannot cast %q to boolean", v.S)
		}
	}
}

func coerceTimestamp(v types.Value) (int64, error) {
	if ms, ok := v.AsInt(); ok {
		return ms, nil
	}
	return types.ParseTimestampMs(v.S)
}
