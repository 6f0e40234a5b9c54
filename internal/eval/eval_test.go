package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

func oneRowFrame(names []string, vals []types.Value) *frame.Frame {
	kinds := make([]types.Kind, len(vals))
	for i, v := range vals {
		kinds[i] = v.Kind
	}
	f := frame.New(names, kinds)
	f.Columns = make([][]types.Value, len(names))
	f.AppendRow(vals, 0)
	return f
}

func evalOne(t *testing.T, f *frame.Frame, e ast.Expr) types.Value {
	t.Helper()
	v, err := Eval(NewContext(f, 0, nil), e)
	require.NoError(t, err)
	return v
}

func lit(v any) ast.Expr { return &ast.Literal{Value: v} }

func TestArithmeticWideningAndNulls(t *testing.T) {
	f := oneRowFrame(nil, nil)

	v := evalOne(t, f, &ast.BinaryExpr{Op: ast.OpAdd, Left: lit(int64(2)), Right: lit(int64(3))})
	assert.EqualValues(t, 5, v.I)
	assert.Equal(t, types.BigInt, v.Kind)

	// Division always widens to float.
	v = evalOne(t, f, &ast.BinaryExpr{Op: ast.OpDiv, Left: lit(int64(7)), Right: lit(int64(2))})
	assert.Equal(t, types.Double, v.Kind)
	assert.EqualValues(t, 3.5, v.F)

	// Division by zero yields NULL, not an error.
	v = evalOne(t, f, &ast.BinaryExpr{Op: ast.OpDiv, Left: lit(int64(1)), Right: lit(int64(0))})
	assert.True(t, v.Null)

	// NULL propagates through arithmetic.
	v = evalOne(t, f, &ast.BinaryExpr{Op: ast.OpMul, Left: lit(nil), Right: lit(int64(3))})
	assert.True(t, v.Null)
}

func TestTriValuedLogic(t *testing.T) {
	f := oneRowFrame(nil, nil)
	null, tru, fls := lit(nil), lit(true), lit(false)

	// Kleene AND: false dominates NULL, NULL dominates true.
	v := evalOne(t, f, &ast.BinaryExpr{Op: ast.OpAnd, Left: null, Right: fls})
	assert.False(t, v.Null)
	assert.False(t, v.B)
	v = evalOne(t, f, &ast.BinaryExpr{Op: ast.OpAnd, Left: null, Right: tru})
	assert.True(t, v.Null)

	// Kleene OR: true dominates NULL, NULL dominates false.
	v = evalOne(t, f, &ast.BinaryExpr{Op: ast.OpOr, Left: null, Right: tru})
	assert.False(t, v.Null)
	assert.True(t, v.B)
	v = evalOne(t, f, &ast.BinaryExpr{Op: ast.OpOr, Left: null, Right: fls})
	assert.True(t, v.Null)

	// IS NULL / IS NOT NULL always return non-null booleans.
	v = evalOne(t, f, &ast.UnaryExpr{Op: ast.OpIsNull, Operand: null})
	assert.False(t, v.Null)
	assert.True(t, v.B)
	v = evalOne(t, f, &ast.UnaryExpr{Op: ast.OpIsNotNull, Operand: null})
	assert.False(t, v.Null)
	assert.False(t, v.B)

	// Comparison with NULL is NULL.
	v = evalOne(t, f, &ast.BinaryExpr{Op: ast.OpEq, Left: null, Right: lit(int64(1))})
	assert.True(t, v.Null)
}

func TestLikeMatch(t *testing.T) {
	// Anchored both ends.
	assert.True(t, LikeMatch("abc", "abc"))
	assert.False(t, LikeMatch("abc", "xabc"))
	assert.False(t, LikeMatch("abc", "abcx"))

	assert.True(t, LikeMatch("a%c", "abbbc"))
	assert.True(t, LikeMatch("a_c", "abc"))
	assert.False(t, LikeMatch("a_c", "abbc"))

	// Empty pattern matches the empty string only.
	assert.True(t, LikeMatch("", ""))
	assert.False(t, LikeMatch("", "x"))

	// Escaped wildcards are literal.
	assert.True(t, LikeMatch(`100\%`, "100%"))
	assert.False(t, LikeMatch(`100\%`, "100x"))
}

func TestStringSlice(t *testing.T) {
	f := oneRowFrame([]string{"s"}, []types.Value{types.TextValue("hello world")})
	col := &ast.ColumnRef{Name: "s"}

	v := evalOne(t, f, &ast.SliceExpr{Operand: col,
		Start: ast.SliceBound{Index: lit(int64(0)), Set: true},
		Stop:  ast.SliceBound{Index: lit(int64(5)), Set: true}})
	assert.Equal(t, "hello", v.S)

	// Negative indices count from the end.
	v = evalOne(t, f, &ast.SliceExpr{Operand: col,
		Start: ast.SliceBound{Index: lit(int64(-5)), Set: true}})
	assert.Equal(t, "world", v.S)

	// Negative step reverses.
	v = evalOne(t, f, &ast.SliceExpr{Operand: col,
		Step: ast.SliceBound{Index: lit(int64(-1)), Set: true}})
	assert.Equal(t, "dlrow olleh", v.S)

	// Pattern bound: include keeps the match, "-'pat'" excludes it.
	v = evalOne(t, f, &ast.SliceExpr{Operand: col,
		Start: ast.SliceBound{Pattern: "world", Include: true, Set: true}})
	assert.Equal(t, "world", v.S)
	v = evalOne(t, f, &ast.SliceExpr{Operand: col,
		Stop: ast.SliceBound{Pattern: " world", Include: false, Set: true}})
	assert.Equal(t, "hello", v.S)
}

func TestCasts(t *testing.T) {
	f := oneRowFrame(nil, nil)

	v := evalOne(t, f, &ast.CastExpr{Operand: lit("42"), Type: "integer"})
	assert.Equal(t, types.Integer, v.Kind)
	assert.EqualValues(t, 42, v.I)

	v = evalOne(t, f, &ast.CastExpr{Operand: lit(int64(7)), Type: "text"})
	assert.Equal(t, "7", v.S)

	// Date-shaped strings cast to epoch-ms.
	v = evalOne(t, f, &ast.CastExpr{Operand: lit("1970-01-02"), Type: "timestamp"})
	assert.EqualValues(t, 86_400_000, v.I)

	// Typed NULL propagation.
	v = evalOne(t, f, &ast.CastExpr{Operand: lit(nil), Type: "integer"})
	assert.True(t, v.Null)

	_, err := Eval(NewContext(f, 0, nil), &ast.CastExpr{Operand: lit("nope"), Type: "integer"})
	require.Error(t, err)
}

func TestFStringConcat(t *testing.T) {
	f := oneRowFrame([]string{"v"}, []types.Value{types.IntValue(types.BigInt, 9)})
	e := &ast.FStringExpr{Parts: []ast.Expr{lit("v="), &ast.ColumnRef{Name: "v"}}}
	v := evalOne(t, f, e)
	assert.Equal(t, "v=9", v.S)
}

func TestBetweenAndIn(t *testing.T) {
	f := oneRowFrame(nil, nil)

	v := evalOne(t, f, &ast.BetweenExpr{Operand: lit(int64(5)), Low: lit(int64(1)), High: lit(int64(10))})
	assert.True(t, v.B)
	v = evalOne(t, f, &ast.BetweenExpr{Operand: lit(int64(5)), Low: lit(int64(1)), High: lit(int64(10)), Not: true})
	assert.False(t, v.B)

	v = evalOne(t, f, &ast.InExpr{Operand: lit(int64(2)), List: []ast.Expr{lit(int64(1)), lit(int64(2))}})
	assert.True(t, v.B)
	v = evalOne(t, f, &ast.InExpr{Operand: lit(int64(3)), List: []ast.Expr{lit(int64(1)), lit(int64(2))}, Not: true})
	assert.True(t, v.B)
}

func aggOver(t *testing.T, kind ast.AggKind, vals []types.Value, quantile ast.Expr) types.Value {
	t.Helper()
	f := frame.New([]string{"c"}, []types.Kind{types.Double})
	f.Columns = make([][]types.Value, 1)
	rows := make([]int, len(vals))
	for i, v := range vals {
		f.AppendRow([]types.Value{v}, int64(i))
		rows[i] = i
	}
	v, err := EvalAgg(f, rows, &ast.AggExpr{Kind: kind, Arg: &ast.ColumnRef{Name: "c"}, Quantile: quantile}, nil)
	require.NoError(t, err)
	return v
}

func dv(f float64) types.Value { return types.FloatValue(types.Double, f) }

func TestAggregatesOverEmptyGroup(t *testing.T) {
	f := frame.New([]string{"c"}, []types.Kind{types.Double})
	f.Columns = make([][]types.Value, 1)

	count, err := EvalAgg(f, nil, &ast.AggExpr{Kind: ast.AggCount}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count.I)

	for _, kind := range []ast.AggKind{ast.AggSum, ast.AggAvg, ast.AggMax, ast.AggMin, ast.AggDelta, ast.AggHeight} {
		v, err := EvalAgg(f, nil, &ast.AggExpr{Kind: kind, Arg: &ast.ColumnRef{Name: "c"}}, nil)
		require.NoError(t, err)
		assert.True(t, v.Null, "aggregate kind %v over empty group", kind)
	}
}

func TestAggregateSemantics(t *testing.T) {
	vals := []types.Value{dv(10), dv(30), dv(20)}

	assert.EqualValues(t, 60, aggOver(t, ast.AggSum, vals, nil).F)
	assert.EqualValues(t, 20, aggOver(t, ast.AggAvg, vals, nil).F)
	assert.EqualValues(t, 30, aggOver(t, ast.AggMax, vals, nil).F)
	assert.EqualValues(t, 10, aggOver(t, ast.AggMin, vals, nil).F)
	assert.EqualValues(t, 10, aggOver(t, ast.AggFirst, vals, nil).F)
	assert.EqualValues(t, 20, aggOver(t, ast.AggLast, vals, nil).F)

	// DELTA = last - first, HEIGHT = max - min.
	assert.EqualValues(t, 10, aggOver(t, ast.AggDelta, vals, nil).F)
	assert.EqualValues(t, 20, aggOver(t, ast.AggHeight, vals, nil).F)

	// COUNT skips NULLs when given an operand.
	withNull := append(append([]types.Value(nil), vals...), types.NullValue(types.Double))
	assert.EqualValues(t, 3, aggOver(t, ast.AggCount, withNull, nil).I)
}

// timedAgg evaluates an aggregate over a frame carrying a _time column, for
// the time-aware aggregates (GRADIENT).
func timedAgg(t *testing.T, kind ast.AggKind, times []int64, vals []types.Value) types.Value {
	t.Helper()
	f := frame.New([]string{"_time", "c"}, []types.Kind{types.Timestamp, types.Double})
	f.Columns = make([][]types.Value, 2)
	rows := make([]int, len(vals))
	for i, v := range vals {
		f.AppendRow([]types.Value{types.IntValue(types.Timestamp, times[i]), v}, int64(i))
		rows[i] = i
	}
	v, err := EvalAgg(f, rows, &ast.AggExpr{Kind: kind, Arg: &ast.ColumnRef{Name: "c"}}, nil)
	require.NoError(t, err)
	return v
}

func TestGradientLeastSquares(t *testing.T) {
	// Perfectly linear series with irregular spacing: v = 0.002 * t.
	v := timedAgg(t, ast.AggGradient, []int64{0, 1000, 3000},
		[]types.Value{dv(0), dv(2), dv(6)})
	assert.InDelta(t, 0.002, v.F, 1e-12)

	// Non-linear series: the regression slope, not the endpoint slope.
	// t̄=1000, v̄=1: Σ(t-t̄)(v-v̄)=3000, Σ(t-t̄)²=2e6.
	v = timedAgg(t, ast.AggGradient, []int64{0, 1000, 2000},
		[]types.Value{dv(0), dv(0), dv(3)})
	assert.InDelta(t, 0.0015, v.F, 1e-12)

	// NULL values drop out of the fit along with their timestamps.
	v = timedAgg(t, ast.AggGradient, []int64{0, 500, 1000},
		[]types.Value{dv(0), types.NullValue(types.Double), dv(1)})
	assert.InDelta(t, 0.001, v.F, 1e-12)

	// All timestamps identical: no defined slope.
	v = timedAgg(t, ast.AggGradient, []int64{42, 42, 42},
		[]types.Value{dv(1), dv(2), dv(3)})
	assert.True(t, v.Null)

	// Fewer than two usable points.
	v = timedAgg(t, ast.AggGradient, []int64{0}, []types.Value{dv(1)})
	assert.True(t, v.Null)

	// No _time column at all.
	assert.True(t, aggOver(t, ast.AggGradient, []types.Value{dv(1), dv(2)}, nil).Null)
}

func TestQuantileInterpolation(t *testing.T) {
	vals := []types.Value{dv(1), dv(2), dv(3), dv(4)}

	assert.EqualValues(t, 1, aggOver(t, ast.AggQuantile, vals, lit(float64(0))).F)
	assert.EqualValues(t, 4, aggOver(t, ast.AggQuantile, vals, lit(float64(100))).F)
	// 50th percentile of [1,2,3,4] interpolates between 2 and 3.
	assert.EqualValues(t, 2.5, aggOver(t, ast.AggQuantile, vals, lit(float64(50))).F)
	assert.InDelta(t, 1.75, aggOver(t, ast.AggQuantile, vals, lit(float64(25))).F, 1e-9)
}

func TestCaseExpression(t *testing.T) {
	f := oneRowFrame(nil, nil)
	e := &ast.CaseExpr{
		Branches: []ast.CaseWhen{
			{When: lit(false), Then: lit("a")},
			{When: lit(true), Then: lit("b")},
		},
		Else: lit("c"),
	}
	assert.Equal(t, "b", evalOne(t, f, e).S)

	e.Branches[1].When = lit(false)
	assert.Equal(t, "c", evalOne(t, f, e).S)
}

func TestDateFunctions(t *testing.T) {
	f := oneRowFrame(nil, nil)
	// 1970-01-02T00:00:00Z in epoch-ms.
	day2 := lit(int64(86_400_000))

	v := evalOne(t, f, &ast.DateFuncExpr{Kind: ast.DatePart, Part: "day", A: day2})
	assert.EqualValues(t, 2, v.I)

	v = evalOne(t, f, &ast.DateFuncExpr{Kind: ast.DateAdd, Part: "day", N: lit(int64(1)), A: day2})
	assert.EqualValues(t, 2*86_400_000, v.I)

	v = evalOne(t, f, &ast.DateFuncExpr{Kind: ast.DateDiff, Part: "day", A: day2, B: lit(int64(0))})
	assert.EqualValues(t, 1, v.I)
}
