package eval

import (
	"fmt"
	"strings"
	"time"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/types"
)

func evalDateFunc(ctx *Context, n *ast.DateFuncExpr) (types.Value, error) {
	a, err := Eval(ctx, n.A)
	if err != nil {
		return types.Value{}, err
	}
	if a.Null {
		switch n.Kind {
		case ast.DatePart:
			return types.NullValue(types.BigInt), nil
		default:
			return types.NullValue(types.Timestamp), nil
		}
	}
	ms, err := toEpochMs(a)
	if err != nil {
		return types.Value{}, err
	}
	t := time.UnixMilli(ms).UTC()

	switch n.Kind {
	case ast.DatePart:
		part, err := datePart(t, n.Part)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntValue(types.BigInt, part), nil
	case ast.DateAdd:
		nVal, err := Eval(ctx, n.N)
		if err != nil {
			return types.Value{}, err
		}
		if nVal.Null {
			return types.NullValue(types.Timestamp), nil
		}
		qty, _ := nVal.AsInt()
		out, err := dateAdd(t, n.Part, qty)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntValue(types.Timestamp, out.UnixMilli()), nil
	case ast.DateDiff:
		b, err := Eval(ctx, n.B)
		if err != nil {
			return types.Value{}, err
		}
		if b.Null {
			return types.NullValue(types.BigInt), nil
		}
		bms, err := toEpochMs(b)
		if err != nil {
			return types.Value{}, err
		}
		diff, err := dateDiff(t, time.UnixMilli(bms).UTC(), n.Part)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntValue(types.BigInt, diff), nil
	default:
		return types.Value{}, fmt.Errorf("eval: unsupported date function kind %v", n.Kind)
	}
}

func toEpochMs(v types.Value) (int64, error) {
	if v.Kind.IsInteger() {
		return v.I, nil
	}
	return types.ParseTimestampMs(v.S)
}

func datePart(t time.Time, part string) (int64, error) {
	switch strings.ToLower(part) {
	case "year":
		return int64(t.Year()), nil
	case "month":
		return int64(t.Month()), nil
	case "day":
		return int64(t.Day()), nil
	case "hour":
		return int64(t.Hour()), nil
	case "minute":
		return int64(t.Minute()), nil
	case "second":
		return int64(t.Second()), nil
	case "dow", "weekday":
		return int64(t.Weekday()), nil
	case "doy":
		return int64(t.YearDay()), nil
	case "epoch":
		return t.Unix(), nil
	default:
		return 0, fmt.Errorf("eval: unknown DATEPART unit %q", part)
	}
}

func dateAdd(t time.Time, part string, n int64) (time.Time, error) {
	switch strings.ToLower(part) {
	case "year":
		return t.AddDate(int(n), 0, 0), nil
	case "month":
		return t.AddDate(0, int(n), 0), nil
	case "day":
		return t.AddDate(0, 0, int(n)), nil
	case "hour":
		return t.Add(time.Duration(n) * time.Hour), nil
	case "minute":
		return t.Add(time.Duration(n) * time.Minute), nil
	case "second":
		return t.Add(time.Duration(n) * time.Second), nil
	case "millisecond":
		return t.Add(time.Duration(n) * time.Millisecond), nil
	default:
		return t, fmt.Errorf("eval: unknown DATEADD unit %q", part)
	}
}

func dateDiff(a, b time.Time, part string) (int64, error) {
	d := a.Sub(b)
	switch strings.ToLower(part) {
	case "year":
		return int64(a.Year() - b.Year()), nil
	case "month":
		return int64((a.Year()-b.Year())*12 + int(a.Month()) - int(b.Month())), nil
	case "day":
		return int64(d / (24 * time.Hour)), nil
	case "hour":
		return int64(d / time.Hour), nil
	case "minute":
		return int64(d / time.Minute), nil
	case "second":
		return int64(d / time.Second), nil
	case "millisecond":
		return int64(d / time.Millisecond), nil
	default:
		return 0, fmt.Errorf("eval: unknown DATEDIFF unit %q", part)
	}
}
