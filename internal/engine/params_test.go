package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/types"
)

func TestBindParamsSubstitutesPlaceholders(t *testing.T) {
	sel := &ast.SelectStmt{
		Items: []ast.SelectItem{{Expr: &ast.CastExpr{Operand: &ast.ColumnRef{Name: "$1"}, Type: "int4"}}},
		Where: &ast.BinaryExpr{
			Op:    ast.OpEq,
			Left:  &ast.ColumnRef{Name: "c"},
			Right: &ast.ColumnRef{Name: "$2"},
		},
	}
	params := []types.Value{
		types.IntValue(types.Integer, 42),
		types.TextValue("x"),
	}

	bound := BindParams(sel, params).(*ast.SelectStmt)

	cast := bound.Items[0].Expr.(*ast.CastExpr)
	v := cast.Operand.(*ast.ValueExpr)
	assert.EqualValues(t, 42, v.V.I)

	where := bound.Where.(*ast.BinaryExpr)
	assert.IsType(t, &ast.ColumnRef{}, where.Left, "ordinary columns stay put")
	rv := where.Right.(*ast.ValueExpr)
	assert.Equal(t, "x", rv.V.S)

	// The original tree is untouched.
	assert.IsType(t, &ast.ColumnRef{}, sel.Items[0].Expr.(*ast.CastExpr).Operand)
}

func TestBindParamsOutOfRangeLeftUntouched(t *testing.T) {
	sel := &ast.SelectStmt{
		Items: []ast.SelectItem{{Expr: &ast.ColumnRef{Name: "$3"}}},
	}
	bound := BindParams(sel, []types.Value{types.TextValue("only-one")}).(*ast.SelectStmt)
	ref, ok := bound.Items[0].Expr.(*ast.ColumnRef)
	require.True(t, ok)
	assert.Equal(t, "$3", ref.Name)
}

func TestBindParamsInsertRows(t *testing.T) {
	ins := &ast.InsertStmt{
		Table:   ast.Ident{Parts: []string{"t"}},
		Columns: []string{"a"},
		Rows:    [][]ast.Expr{{&ast.ColumnRef{Name: "$1"}}},
	}
	bound := BindParams(ins, []types.Value{types.IntValue(types.BigInt, 9)}).(*ast.InsertStmt)
	v := bound.Rows[0][0].(*ast.ValueExpr)
	assert.EqualValues(t, 9, v.V.I)
}

func TestParamIndex(t *testing.T) {
	n, ok := paramIndex("$1")
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	n, ok = paramIndex("$12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok = paramIndex("c")
	assert.False(t, ok)
	_, ok = paramIndex("$x")
	assert.False(t, ok)
	_, ok = paramIndex("$")
	assert.False(t, ok)
}
