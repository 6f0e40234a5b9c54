package eval

import (
	"fmt"
	"math"
	"sort"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

// EvalAgg evaluates an aggregate expression over a group of row indices
// (FIRST/LAST/DELTA see them in the order given; the engine's grouping
// stages pass each group's rows in source-frame order, and the query's
// ORDER BY is applied to the grouped output, not to rows within a group).
// runner is passed to each per-row evaluation of the operand; COUNT(*)
// has no operand and does not use it.
func EvalAgg(f *frame.Frame, rows []int, agg *ast.AggExpr, runner QueryRunner) (types.Value, error) {
	if agg.Kind == ast.AggCount && agg.Arg == nil {
		return types.IntValue(types.BigInt, int64(len(rows))), nil
	}

	vals := make([]types.Value, 0, len(rows))
	for _, r := range rows {
		ctx := NewContext(f, r, runner)
		v, err := Eval(ctx, agg.Arg)
		if err != nil {
			return types.Value{}, err
		}
		vals = append(vals, v)
	}

	nonNull := make([]types.Value, 0, len(vals))
	for _, v := range vals {
		if !v.Null {
			nonNull = append(nonNull, v)
		}
	}

	switch agg.Kind {
	case ast.AggCount:
		return types.IntValue(types.BigInt, int64(len(nonNull))), nil
	case ast.AggSum:
		if len(nonNull) == 0 {
			return types.NullValue(types.Double), nil
		}
		var sum float64
		allInt := true
		for _, v := range nonNull {
			f, _ := v.AsFloat()
			sum += f
			allInt = allInt && v.Kind.IsInteger()
		}
		if allInt {
			return types.IntValue(types.BigInt, int64(sum)), nil
		}
		return types.FloatValue(types.Double, sum), nil
	case ast.AggAvg:
		if len(nonNull) == 0 {
			return types.NullValue(types.Double), nil
		}
		var sum float64
		for _, v := range nonNull {
			f, _ := v.AsFloat()
			sum += f
		}
		return types.FloatValue(types.Double, sum/float64(len(nonNull))), nil
	case ast.AggMax:
		if len(nonNull) == 0 {
			return types.NullValue(types.Double), nil
		}
		m := nonNull[0]
		for _, v := range nonNull[1:] {
			if v.Compare(m) > 0 {
				m = v
			}
		}
		return m, nil
	case ast.AggMin:
		if len(nonNull) == 0 {
			return types.NullValue(types.Double), nil
		}
		m := nonNull[0]
		for _, v := range nonNull[1:] {
			if v.Compare(m) < 0 {
				m = v
			}
		}
		return m, nil
	case ast.AggFirst:
		if len(vals) == 0 {
			return types.NullValue(types.Text), nil
		}
		return vals[0], nil
	case ast.AggLast:
		if len(vals) == 0 {
			return types.NullValue(types.Text), nil
		}
		return vals[len(vals)-1], nil
	case ast.AggStdev:
		if len(nonNull) < 2 {
			return types.NullValue(types.Double), nil
		}
		return types.FloatValue(types.Double, stdev(nonNull)), nil
	case ast.AggDelta:
		if len(vals) == 0 {
			return types.NullValue(types.Double), nil
		}
		first, firstOk := firstNonNullFloat(vals)
		last, lastOk := lastNonNullFloat(vals)
		if !firstOk || !lastOk {
			return types.NullValue(types.Double), nil
		}
		return types.FloatValue(types.Double, last-first), nil
	case ast.AggHeight:
		if len(nonNull) == 0 {
			return types.NullValue(types.Double), nil
		}
		lo, hi := nonNull[0], nonNull[0]
		for _, v := range nonNull[1:] {
			if v.Compare(lo) < 0 {
				lo = v
			}
			if v.Compare(hi) > 0 {
				hi = v
			}
		}
		loF, _ := lo.AsFloat()
		hiF, _ := hi.AsFloat()
		return types.FloatValue(types.Double, hiF-loF), nil
	case ast.AggGradient:
		return gradient(f, rows, vals), nil
	case ast.AggQuantile:
		if len(nonNull) == 0 {
			return types.NullValue(types.Double), nil
		}
		pctVal, err := Eval(NewContext(f, rows[0], runner), agg.Quantile)
		if err != nil {
			return types.Value{}, err
		}
		pct, _ := pctVal.AsFloat()
		return types.FloatValue(types.Double, quantile(nonNull, pct)), nil
	case ast.AggArray:
		var b []float32
		for _, v := range nonNull {
			f, _ := v.AsFloat()
			b = append(b, float32(f))
		}
		return types.VectorValue(b), nil
	default:
		return types.Value{}, fmt.Errorf("eval: unsupported aggregate kind %v", agg.Kind)
	}
}

// gradient is the slope of the least-squares fit of (_time, value) pairs:
// Σ(t-t̄)(v-v̄) / Σ(t-t̄)². NULL when the frame has no _time column, fewer
// than two usable pairs remain, or every timestamp is identical.
func gradient(f *frame.Frame, rows []int, vals []types.Value) types.Value {
	ti := f.ColIndex("_time")
	if ti < 0 {
		return types.NullValue(types.Double)
	}
	var ts, vs []float64
	for i, r := range rows {
		if i >= len(vals) || vals[i].Null {
			continue
		}
		tv := f.Columns[ti][r]
		if tv.Null {
			continue
		}
		t, tok := tv.AsFloat()
		v, vok := vals[i].AsFloat()
		if !tok || !vok {
			continue
		}
		ts = append(ts, t)
		vs = append(vs, v)
	}
	if len(ts) < 2 {
		return types.NullValue(types.Double)
	}
	var tMean, vMean float64
	for i := range ts {
		tMean += ts[i]
		vMean += vs[i]
	}
	tMean /= float64(len(ts))
	vMean /= float64(len(vs))
	var num, den float64
	for i := range ts {
		dt := ts[i] - tMean
		num += dt * (vs[i] - vMean)
		den += dt * dt
	}
	if den == 0 {
		return types.NullValue(types.Double)
	}
	return types.FloatValue(types.Double, num/den)
}

func stdev(vals []types.Value) float64 {
	var sum float64
	for _, v := range vals {
		f, _ := v.AsFloat()
		sum += f
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		f, _ := v.AsFloat()
		sq += (f - mean) * (f - mean)
	}
	return math.Sqrt(sq / float64(len(vals)-1))
}

func firstNonNullFloat(vals []types.Value) (float64, bool) {
	for _, v := range vals {
		if !v.Null {
			f, _ := v.AsFloat()
			return f, true
		}
	}
	return 0, false
}

func lastNonNullFloat(vals []types.Value) (float64, bool) {
	for i := len(vals) - 1; i >= 0; i-- {
		if !vals[i].Null {
			f, _ := vals[i].AsFloat()
			return f, true
		}
	}
	return 0, false
}

// quantile uses linear interpolation between closest ranks (R-7 / NumPy's
// default method), pct in [0, 100].
func quantile(vals []types.Value, pct float64) float64 {
	floats := make([]float64, len(vals))
	for i, v := range vals {
		floats[i], _ = v.AsFloat()
	}
	sort.Float64s(floats)
	if len(floats) == 1 {
		return floats[0]
	}
	if pct <= 0 {
		return floats[0]
	}
	if pct >= 100 {
		return floats[len(floats)-1]
	}
	rank := (pct / 100) * float64(len(floats)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return floats[lo]
	}
	frac := rank - float64(lo)
	return floats[lo]*(1-frac) + floats[hi]*frac
}
