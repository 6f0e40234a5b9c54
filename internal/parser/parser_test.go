package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/internal/ast"
)

func parseOne(t *testing.T, sql string) ast.Command {
	t.Helper()
	cmd, err := ParseOne(sql)
	require.NoError(t, err, sql)
	return cmd
}

func TestParseSelectClauses(t *testing.T) {
	cmd := parseOne(t, `
		SELECT cat, SUM(val) AS total
		FROM d.public.t
		WHERE val > 10 AND cat IS NOT NULL
		GROUP BY cat
		HAVING SUM(val) > 20
		ORDER BY cat DESC
		LIMIT 5`)
	sel := cmd.(*ast.SelectStmt)

	require.Len(t, sel.Items, 2)
	assert.Equal(t, "total", sel.Items[1].Alias)
	require.NotNil(t, sel.From)
	assert.Equal(t, []string{"d", "public", "t"}, sel.From.Table.Parts)
	assert.NotNil(t, sel.Where)
	require.Len(t, sel.GroupBy, 1)
	assert.NotNil(t, sel.Having)
	require.Len(t, sel.OrderBy, 1)
	assert.True(t, sel.OrderBy[0].Desc)
	assert.NotNil(t, sel.Limit)
}

func TestParseWindowSpec(t *testing.T) {
	sel := parseOne(t, "SELECT COUNT(*) FROM ts BY 5m").(*ast.SelectStmt)
	require.NotNil(t, sel.Window)
	assert.EqualValues(t, 5*60_000, *sel.Window)

	sel = parseOne(t, "SELECT AVG(v) FROM ts BY 250ms ROLLING BY 1s").(*ast.SelectStmt)
	require.NotNil(t, sel.Window)
	assert.EqualValues(t, 250, *sel.Window)
	require.NotNil(t, sel.Rolling)
	assert.EqualValues(t, 1000, *sel.Rolling)
}

func TestParseNegativeWindowFails(t *testing.T) {
	_, err := ParseOne("SELECT COUNT(*) FROM ts BY -1s")
	require.Error(t, err)
}

func TestParseUnionAssociativity(t *testing.T) {
	sel := parseOne(t, "SELECT a FROM x UNION ALL SELECT a FROM y UNION SELECT a FROM z").(*ast.SelectStmt)
	require.NotNil(t, sel.Union)
	assert.True(t, sel.UnionAll)
	require.NotNil(t, sel.Union.Union)
	assert.False(t, sel.Union.UnionAll)
}

func TestParseJoins(t *testing.T) {
	sel := parseOne(t, "SELECT * FROM a LEFT JOIN b ON a.id = b.id JOIN c ON b.id = c.id").(*ast.SelectStmt)
	from := sel.From
	require.NotNil(t, from.Next)
	require.NotNil(t, from.Next.Join)
	assert.Equal(t, ast.JoinLeft, *from.Next.Join)
	require.NotNil(t, from.Next.Next)
	assert.Equal(t, ast.JoinInner, *from.Next.Next.Join)
}

func TestParseExpressionPrecedence(t *testing.T) {
	sel := parseOne(t, "SELECT 1 + 2 * 3").(*ast.SelectStmt)
	add := sel.Items[0].Expr.(*ast.BinaryExpr)
	assert.Equal(t, ast.OpAdd, add.Op)
	mul := add.Right.(*ast.BinaryExpr)
	assert.Equal(t, ast.OpMul, mul.Op)

	sel = parseOne(t, "SELECT * FROM t WHERE a = 1 OR b = 2 AND c = 3").(*ast.SelectStmt)
	or := sel.Where.(*ast.BinaryExpr)
	assert.Equal(t, ast.OpOr, or.Op)
	and := or.Right.(*ast.BinaryExpr)
	assert.Equal(t, ast.OpAnd, and.Op)
}

func TestParseCastChain(t *testing.T) {
	sel := parseOne(t, "SELECT v::text::integer FROM t").(*ast.SelectStmt)
	outer := sel.Items[0].Expr.(*ast.CastExpr)
	assert.Equal(t, "integer", outer.Type)
	inner := outer.Operand.(*ast.CastExpr)
	assert.Equal(t, "text", inner.Type)
}

func TestParseSliceAndFString(t *testing.T) {
	sel := parseOne(t, "SELECT name[1:4] FROM t").(*ast.SelectStmt)
	sl := sel.Items[0].Expr.(*ast.SliceExpr)
	assert.True(t, sl.Start.Set)
	assert.True(t, sl.Stop.Set)

	sel = parseOne(t, "SELECT f'id={id} v={v * 2}' FROM t").(*ast.SelectStmt)
	fs := sel.Items[0].Expr.(*ast.FStringExpr)
	assert.GreaterOrEqual(t, len(fs.Parts), 3)
}

func TestParsePatternSliceBounds(t *testing.T) {
	sel := parseOne(t, "SELECT name['a':-'z'] FROM t").(*ast.SelectStmt)
	sl := sel.Items[0].Expr.(*ast.SliceExpr)
	assert.Equal(t, "a", sl.Start.Pattern)
	assert.True(t, sl.Start.Include)
	assert.Equal(t, "z", sl.Stop.Pattern)
	assert.False(t, sl.Stop.Include)
}

func TestParseCase(t *testing.T) {
	sel := parseOne(t, "SELECT CASE WHEN a > 1 THEN 'x' WHEN a > 0 THEN 'y' ELSE 'z' END FROM t").(*ast.SelectStmt)
	c := sel.Items[0].Expr.(*ast.CaseExpr)
	assert.Len(t, c.Branches, 2)
	assert.NotNil(t, c.Else)
}

func TestParseSubqueryPredicates(t *testing.T) {
	sel := parseOne(t, "SELECT * FROM t WHERE id IN (SELECT id FROM u) AND EXISTS (SELECT 1 FROM v)").(*ast.SelectStmt)
	and := sel.Where.(*ast.BinaryExpr)
	in := and.Left.(*ast.InExpr)
	assert.NotNil(t, in.Sub)
	ex := and.Right.(*ast.SubqueryExpr)
	assert.Equal(t, ast.QuantExists, ex.Kind)
}

func TestParseInsertMultiRow(t *testing.T) {
	ins := parseOne(t, "INSERT INTO t (a, b) VALUES (1, 'x'), (2, 'y')").(*ast.InsertStmt)
	assert.Equal(t, []string{"a", "b"}, ins.Columns)
	assert.Len(t, ins.Rows, 2)
}

func TestParseDeleteColumns(t *testing.T) {
	del := parseOne(t, "DELETE COLUMNS (a, b) FROM t").(*ast.DeleteStmt)
	assert.Equal(t, []string{"a", "b"}, del.DropColumns)
	assert.Nil(t, del.Where)
}

func TestParseWriteKey(t *testing.T) {
	wk := parseOne(t, "WRITE KEY k IN d.store.s = 1 TTL 1s RESET ON ACCESS").(*ast.WriteKeyStmt)
	assert.Equal(t, "k", wk.Key)
	assert.Equal(t, []string{"d", "store", "s"}, wk.Namespace.Parts)
	require.NotNil(t, wk.TTLMillis)
	assert.EqualValues(t, 1000, *wk.TTLMillis)
	assert.True(t, wk.ResetOnAccess)
}

func TestParseCreateTable(t *testing.T) {
	cr := parseOne(t, "CREATE TABLE t (id integer NOT NULL, name varchar(20), PRIMARY KEY (id)) PARTITIONS (name)").(*ast.CreateStmt)
	assert.Equal(t, ast.ObjTable, cr.Kind)
	require.Len(t, cr.Columns, 2)
	assert.False(t, cr.Columns[0].Nullable)
	assert.Equal(t, 20, cr.Columns[1].Length)
	assert.Equal(t, []string{"id"}, cr.PrimaryKey)
	assert.Equal(t, []string{"name"}, cr.Partitions)
}

func TestParseCreateVectorIndex(t *testing.T) {
	cr := parseOne(t, "CREATE VECTOR INDEX vi ON t (vec) USING hnsw (metric = cos, m = 32, ef_build = 200)").(*ast.CreateStmt)
	assert.Equal(t, ast.ObjVectorIndex, cr.Kind)
	assert.Equal(t, "vec", cr.VectorCol)
	assert.Equal(t, "hnsw", cr.VectorAlgo)
	assert.Equal(t, "cos", cr.VectorMetric)
	assert.Equal(t, 32, cr.VectorM)
	assert.Equal(t, 200, cr.VectorEfBuild)
}

func TestParseCreateGraph(t *testing.T) {
	cr := parseOne(t, `CREATE GRAPH g
		NODES (person KEY (id), city KEY (name))
		EDGES (lives_in FROM person TO city)
		USING TABLES (nodes = people, edges = residences)`).(*ast.CreateStmt)
	require.NotNil(t, cr.GraphSpec)
	assert.Len(t, cr.GraphSpec.Nodes, 2)
	assert.Len(t, cr.GraphSpec.Edges, 1)
	assert.Equal(t, "people", cr.GraphSpec.NodesTable)
	assert.Equal(t, "residences", cr.GraphSpec.EdgesTable)
}

func TestParseIfNotExistsAndIfExists(t *testing.T) {
	cr := parseOne(t, "CREATE TABLE IF NOT EXISTS t (c integer)").(*ast.CreateStmt)
	assert.True(t, cr.IfNotExists)

	dr := parseOne(t, "DROP TABLE IF EXISTS t").(*ast.DropStmt)
	assert.True(t, dr.IfExists)
}

func TestParseUserStatements(t *testing.T) {
	u := parseOne(t, "USER ADD alice WITH PASSWORD 'secret' ROLE analyst ROLE admin").(*ast.UserStmt)
	assert.Equal(t, ast.UserAdd, u.Op)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "secret", u.Password)
	assert.Equal(t, []string{"analyst", "admin"}, u.Roles)

	d := parseOne(t, "USER DELETE alice").(*ast.UserStmt)
	assert.Equal(t, ast.UserDelete, d.Op)
}

func TestParseMultipleStatements(t *testing.T) {
	cmds, err := Parse("USE DATABASE d; SELECT 1; WRITE KEY k IN d.store.s = 2")
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.IsType(t, &ast.UseStmt{}, cmds[0])
	assert.IsType(t, &ast.SelectStmt{}, cmds[1])
	assert.IsType(t, &ast.WriteKeyStmt{}, cmds[2])
}

func TestParseErrorsCarryPosition(t *testing.T) {
	_, err := Parse("SELECT FROM WHERE")
	require.Error(t, err)

	_, err = Parse("SELEKT 1")
	require.Error(t, err)

	_, err = Parse("SELECT (1 + 2")
	require.Error(t, err)
}

func TestParseCommentsStripped(t *testing.T) {
	sel := parseOne(t, `SELECT 1 -- trailing comment
		/* block /* nested */ comment */ + 2`).(*ast.SelectStmt)
	bin := sel.Items[0].Expr.(*ast.BinaryExpr)
	assert.Equal(t, ast.OpAdd, bin.Op)
}

func TestParsePlaceholders(t *testing.T) {
	sel := parseOne(t, "SELECT $1::int4").(*ast.SelectStmt)
	cast := sel.Items[0].Expr.(*ast.CastExpr)
	ref := cast.Operand.(*ast.ColumnRef)
	assert.Equal(t, "$1", ref.Name)
}

func TestParseSliceStatement(t *testing.T) {
	sl := parseOne(t, "SLICE d.public.t [10:20]").(*ast.SliceStmt)
	assert.Equal(t, []string{"d", "public", "t"}, sl.Table.Parts)
	assert.NotNil(t, sl.Start)
	assert.NotNil(t, sl.Stop)

	sl = parseOne(t, "SLICE t [:5]").(*ast.SliceStmt)
	assert.Nil(t, sl.Start)
	assert.NotNil(t, sl.Stop)

	sl = parseOne(t, "SLICE t").(*ast.SliceStmt)
	assert.Nil(t, sl.Start)
	assert.Nil(t, sl.Stop)
}

func TestParseOrderByANNHint(t *testing.T) {
	sel := parseOne(t, "SELECT * FROM t ORDER BY dist USING ANN LIMIT 10").(*ast.SelectStmt)
	assert.Equal(t, ast.HintANN, sel.OrderHint)

	sel = parseOne(t, "SELECT * FROM t ORDER BY dist USING EXACT").(*ast.SelectStmt)
	assert.Equal(t, ast.HintEXACT, sel.OrderHint)
}
