package engine_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/internal/engine"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/storage"
	"github.com/lattice-db/lattice/internal/testutil"
)

func TestGroupedAggregation(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (id integer, cat integer, val double)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (id, cat, val) VALUES (1, 0, 10), (2, 0, 30), (3, 1, 20)")

	res := testutil.Exec(t, eng, sess, "SELECT cat, SUM(val), COUNT(*) FROM t GROUP BY cat ORDER BY cat")
	require.Len(t, res.Rows, 2)

	assert.EqualValues(t, 0, res.Rows[0][0].I)
	assert.EqualValues(t, 40, res.Rows[0][1].F)
	assert.EqualValues(t, 2, res.Rows[0][2].I)

	assert.EqualValues(t, 1, res.Rows[1][0].I)
	assert.EqualValues(t, 20, res.Rows[1][1].F)
	assert.EqualValues(t, 1, res.Rows[1][2].I)
}

func TestWindowedTimeSeries(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TIMETABLE ts (val double)")
	testutil.Exec(t, eng, sess, "INSERT INTO ts (_time, val) VALUES (1000, 1), (1500, 1), (2000, 1), (2500, 1)")

	res := testutil.Exec(t, eng, sess, "SELECT _time, SUM(val) FROM ts BY 1s")
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, 1000, res.Rows[0][0].I)
	assert.EqualValues(t, 2, res.Rows[0][1].F)
	assert.EqualValues(t, 2000, res.Rows[1][0].I)
	assert.EqualValues(t, 2, res.Rows[1][1].F)
}

func TestRollingWindowAggregation(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TIMETABLE ts (val double)")
	testutil.Exec(t, eng, sess, "INSERT INTO ts (_time, val) VALUES (500, 1), (1500, 1), (2500, 1)")

	// Each 1s bucket aggregates over the trailing 2s ending at its close:
	// bucket 0 sees {500}, bucket 1000 sees {500,1500}, bucket 2000 sees
	// {1500,2500}.
	res := testutil.Exec(t, eng, sess, "SELECT _time, SUM(val) FROM ts BY 1s ROLLING BY 2s")
	require.Len(t, res.Rows, 3)
	assert.EqualValues(t, 1, res.Rows[0][1].F)
	assert.EqualValues(t, 2, res.Rows[1][1].F)
	assert.EqualValues(t, 2, res.Rows[2][1].F)
}

func TestRunLengthGrouping(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (k integer, v integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (k, v) VALUES (1, 10), (1, 20), (2, 30), (1, 40)")

	// Hash grouping folds the two k=1 runs together; NOTNULL keeps each
	// contiguous run as its own group.
	hashed := testutil.Exec(t, eng, sess, "SELECT k, SUM(v) FROM t GROUP BY k")
	assert.Len(t, hashed.Rows, 2)

	runs := testutil.Exec(t, eng, sess, "SELECT k, SUM(v) FROM t GROUP BY k NOTNULL")
	require.Len(t, runs.Rows, 3)
	assert.EqualValues(t, 30, runs.Rows[0][1].I)
	assert.EqualValues(t, 30, runs.Rows[1][1].I)
	assert.EqualValues(t, 40, runs.Rows[2][1].I)
}

func TestInsertSelectRoundTrip(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (c) VALUES (3), (1), (2)")

	res := testutil.Exec(t, eng, sess, "SELECT c FROM t")
	require.Len(t, res.Rows, 3)
	// Insertion order is preserved on a single-partition file with no ORDER BY.
	assert.EqualValues(t, 3, res.Rows[0][0].I)
	assert.EqualValues(t, 1, res.Rows[1][0].I)
	assert.EqualValues(t, 2, res.Rows[2][0].I)
}

func TestPrimaryKeyConflict(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (id integer, v text, PRIMARY KEY (id))")
	testutil.Exec(t, eng, sess, "INSERT INTO t (id, v) VALUES (1, 'a')")

	err := testutil.ExecErr(t, eng, sess, "INSERT INTO t (id, v) VALUES (1, 'b')")
	require.Error(t, err)
	assert.Equal(t, engine.KindConflict, engine.KindOf(err))

	res := testutil.Exec(t, eng, sess, "SELECT COUNT(*) FROM t")
	assert.EqualValues(t, 1, res.Rows[0][0].I)
}

func TestUnionDeduplication(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE a (c integer)")
	testutil.Exec(t, eng, sess, "CREATE TABLE b (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO a (c) VALUES (1), (2)")
	testutil.Exec(t, eng, sess, "INSERT INTO b (c) VALUES (2), (3)")

	all := testutil.Exec(t, eng, sess, "SELECT c FROM a UNION ALL SELECT c FROM b")
	assert.Len(t, all.Rows, 4)

	distinct := testutil.Exec(t, eng, sess, "SELECT c FROM a UNION SELECT c FROM b")
	assert.Len(t, distinct.Rows, 3)
}

func TestWhereFilterAndUpdateDelete(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (id integer, v double)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (id, v) VALUES (1, 10), (2, 20), (3, 30)")

	res := testutil.Exec(t, eng, sess, "SELECT id FROM t WHERE v > 15")
	assert.Len(t, res.Rows, 2)

	upd := testutil.Exec(t, eng, sess, "UPDATE t SET v = v + 1 WHERE id = 2")
	assert.EqualValues(t, 1, upd.RowsAffected)
	res = testutil.Exec(t, eng, sess, "SELECT v FROM t WHERE id = 2")
	assert.EqualValues(t, 21, res.Rows[0][0].F)

	del := testutil.Exec(t, eng, sess, "DELETE FROM t WHERE id = 1")
	assert.EqualValues(t, 1, del.RowsAffected)
	res = testutil.Exec(t, eng, sess, "SELECT COUNT(*) FROM t")
	assert.EqualValues(t, 2, res.Rows[0][0].I)
}

func TestDeleteColumnsRewritesSchema(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (a integer, b integer, c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (a, b, c) VALUES (1, 2, 3)")
	testutil.Exec(t, eng, sess, "DELETE COLUMNS (b) FROM t")

	res := testutil.Exec(t, eng, sess, "SELECT * FROM t")
	assert.Equal(t, []string{"a", "c"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 1, res.Rows[0][0].I)
	assert.EqualValues(t, 3, res.Rows[0][1].I)
}

func TestLimitAndNegativeLimit(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (c) VALUES (1), (2), (3)")

	res := testutil.Exec(t, eng, sess, "SELECT c FROM t LIMIT 2")
	assert.Len(t, res.Rows, 2)

	// Negative limits parse and execute as "no limit".
	res = testutil.Exec(t, eng, sess, "SELECT c FROM t LIMIT -1")
	assert.Len(t, res.Rows, 3)
}

func TestOrderByDescAndTies(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (a integer, b integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (a, b) VALUES (1, 1), (1, 2), (2, 3)")

	res := testutil.Exec(t, eng, sess, "SELECT a, b FROM t ORDER BY a DESC")
	require.Len(t, res.Rows, 3)
	assert.EqualValues(t, 2, res.Rows[0][0].I)
	// Ties broken by the internal row id: insertion order within a == 1.
	assert.EqualValues(t, 1, res.Rows[1][1].I)
	assert.EqualValues(t, 2, res.Rows[2][1].I)
}

func TestSelectIntoAppendAndReplace(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE src (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO src (c) VALUES (1), (2)")

	testutil.Exec(t, eng, sess, "SELECT c FROM src INTO dst APPEND")
	res := testutil.Exec(t, eng, sess, "SELECT COUNT(*) FROM dst")
	assert.EqualValues(t, 2, res.Rows[0][0].I)

	testutil.Exec(t, eng, sess, "SELECT c FROM src INTO dst APPEND")
	res = testutil.Exec(t, eng, sess, "SELECT COUNT(*) FROM dst")
	assert.EqualValues(t, 4, res.Rows[0][0].I)

	testutil.Exec(t, eng, sess, "SELECT c FROM src INTO dst REPLACE")
	res = testutil.Exec(t, eng, sess, "SELECT COUNT(*) FROM dst")
	assert.EqualValues(t, 2, res.Rows[0][0].I)
}

func TestViewResolutionAndCycleDetection(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (c) VALUES (1), (2), (3)")
	testutil.Exec(t, eng, sess, "CREATE VIEW v AS SELECT c FROM t WHERE c > 1")

	res := testutil.Exec(t, eng, sess, "SELECT * FROM v")
	assert.Len(t, res.Rows, 2)

	// A view referencing itself fails with a cycle error instead of looping.
	testutil.Exec(t, eng, sess, "CREATE VIEW loopy AS SELECT * FROM loopy")
	err := testutil.ExecErr(t, eng, sess, "SELECT * FROM loopy")
	require.Error(t, err)
	assert.Equal(t, engine.KindConflict, engine.KindOf(err))
}

func TestCTEAndSubquery(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (c) VALUES (1), (2), (3)")

	res := testutil.Exec(t, eng, sess, "WITH big AS (SELECT c FROM t WHERE c > 1) SELECT COUNT(*) FROM big")
	assert.EqualValues(t, 2, res.Rows[0][0].I)

	res = testutil.Exec(t, eng, sess, "SELECT c FROM t WHERE c IN (SELECT c FROM t WHERE c > 2)")
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 3, res.Rows[0][0].I)

	// Scalar subquery in a comparison.
	res = testutil.Exec(t, eng, sess, "SELECT c FROM t WHERE c = (SELECT MAX(c) FROM t)")
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 3, res.Rows[0][0].I)

	// Quantified comparison and EXISTS.
	res = testutil.Exec(t, eng, sess, "SELECT c FROM t WHERE c >= ALL (SELECT c FROM t)")
	require.Len(t, res.Rows, 1)
	res = testutil.Exec(t, eng, sess, "SELECT c FROM t WHERE EXISTS (SELECT 1 FROM t WHERE c > 10)")
	assert.Len(t, res.Rows, 0)
}

func TestJoin(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE l (id integer, name text)")
	testutil.Exec(t, eng, sess, "CREATE TABLE r (id integer, score integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO l (id, name) VALUES (1, 'a'), (2, 'b')")
	testutil.Exec(t, eng, sess, "INSERT INTO r (id, score) VALUES (1, 10), (3, 30)")

	inner := testutil.Exec(t, eng, sess, "SELECT l.name, r.score FROM l JOIN r ON l.id = r.id")
	require.Len(t, inner.Rows, 1)
	assert.Equal(t, "a", inner.Rows[0][0].S)
	assert.EqualValues(t, 10, inner.Rows[0][1].I)

	left := testutil.Exec(t, eng, sess, "SELECT l.name, r.score FROM l LEFT JOIN r ON l.id = r.id")
	require.Len(t, left.Rows, 2)
}

func TestKVStatements(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")

	testutil.Exec(t, eng, sess, "WRITE KEY k IN d.store.s = 42")
	res := testutil.Exec(t, eng, sess, "READ KEY k IN d.store.s")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "k", res.Rows[0][0].S)
	assert.EqualValues(t, 42, res.Rows[0][1].I)

	testutil.Exec(t, eng, sess, "WRITE KEY k2 IN d.store.s = 'hello'")
	keys := testutil.Exec(t, eng, sess, "LIST KEYS IN d.store.s")
	require.Len(t, keys.Rows, 2)
	assert.Equal(t, "k", keys.Rows[0][0].S)
	assert.Equal(t, "k2", keys.Rows[1][0].S)

	testutil.Exec(t, eng, sess, "RENAME KEY k IN d.store.s TO kk")
	testutil.Exec(t, eng, sess, "DROP KEY kk IN d.store.s")
	err := testutil.ExecErr(t, eng, sess, "READ KEY kk IN d.store.s")
	require.Error(t, err)
	assert.Equal(t, engine.KindNotFound, engine.KindOf(err))

	stores := testutil.Exec(t, eng, sess, "LIST STORES IN d")
	require.Len(t, stores.Rows, 1)
	assert.Equal(t, "s", stores.Rows[0][0].S)
}

func TestDescribeAndShow(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (id integer NOT NULL, v text, PRIMARY KEY (id))")

	desc := testutil.Exec(t, eng, sess, "DESCRIBE t")
	require.Len(t, desc.Rows, 2)
	assert.Equal(t, "id", desc.Rows[0][0].S)
	assert.False(t, desc.Rows[0][2].B)
	assert.True(t, desc.Rows[0][3].B)

	dbs := testutil.Exec(t, eng, sess, "SHOW databases")
	require.Len(t, dbs.Rows, 1)
	assert.Equal(t, "d", dbs.Rows[0][0].S)

	tables := testutil.Exec(t, eng, sess, "SHOW tables")
	require.Len(t, tables.Rows, 1)
	assert.Equal(t, "t", tables.Rows[0][0].S)
}

func TestUseUnknownDatabaseFails(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	err := testutil.ExecErr(t, eng, sess, "USE DATABASE nope")
	require.Error(t, err)
	assert.Equal(t, engine.KindNotFound, engine.KindOf(err))
}

func TestCreateDropIdempotence(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE IF NOT EXISTS t (c integer)")
	testutil.Exec(t, eng, sess, "CREATE TABLE IF NOT EXISTS t (c integer)")

	err := testutil.ExecErr(t, eng, sess, "CREATE TABLE t (c integer)")
	require.Error(t, err)
	assert.Equal(t, engine.KindConflict, engine.KindOf(err))

	testutil.Exec(t, eng, sess, "DROP TABLE IF EXISTS t")
	testutil.Exec(t, eng, sess, "DROP TABLE IF EXISTS t")
}

func TestCalculateAppendsSensorReadings(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TIMETABLE raw (val double)")
	testutil.Exec(t, eng, sess, "INSERT INTO raw (_time, val) VALUES (1000, 2), (1500, 4)")
	testutil.Exec(t, eng, sess, "CREATE TIMETABLE smooth (avg_val double)")

	testutil.Exec(t, eng, sess, "CALCULATE smooth AS SELECT _time, AVG(val) AS avg_val FROM raw BY 1s")
	res := testutil.Exec(t, eng, sess, "SELECT avg_val FROM smooth")
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 3, res.Rows[0][0].F)
}

func TestCaseAndArithmetic(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (c) VALUES (1), (5)")

	res := testutil.Exec(t, eng, sess,
		"SELECT CASE WHEN c > 3 THEN 'big' ELSE 'small' END, c * 2 + 1 FROM t")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "small", res.Rows[0][0].S)
	assert.EqualValues(t, 3, res.Rows[0][1].I)
	assert.Equal(t, "big", res.Rows[1][0].S)
	assert.EqualValues(t, 11, res.Rows[1][1].I)
}

func TestEmptyTableAggregates(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (c double)")

	res := testutil.Exec(t, eng, sess, "SELECT COUNT(*), SUM(c), AVG(c), MAX(c) FROM t")
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 0, res.Rows[0][0].I)
	assert.True(t, res.Rows[0][1].Null)
	assert.True(t, res.Rows[0][2].Null)
	assert.True(t, res.Rows[0][3].Null)
}

func TestSliceStatement(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (c) VALUES (0), (1), (2), (3), (4)")

	res := testutil.Exec(t, eng, sess, "SLICE t [1:3]")
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, 1, res.Rows[0][0].I)
	assert.EqualValues(t, 2, res.Rows[1][0].I)

	res = testutil.Exec(t, eng, sess, "SLICE t [-2:]")
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, 3, res.Rows[0][0].I)

	res = testutil.Exec(t, eng, sess, "SLICE t")
	assert.Len(t, res.Rows, 5)
}

func TestScalarUDFDispatch(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (v integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (v) VALUES (3), (5)")
	testutil.Exec(t, eng, sess, "CREATE SCRIPT doubled AS v * 2")

	res := testutil.Exec(t, eng, sess, "SELECT doubled() FROM t")
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, 6, res.Rows[0][0].I)
	assert.EqualValues(t, 10, res.Rows[1][0].I)

	err := testutil.ExecErr(t, eng, sess, "SELECT no_such_fn() FROM t")
	require.Error(t, err)
}

func TestGraphNeighborsTVF(t *testing.T) {
	root := t.TempDir()
	eng := engine.New(root, nil, testutil.Quiet())
	sess := session.NewRegistry(time.Hour).Create("tester", nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d", "public"), 0o755))
	testutil.Exec(t, eng, sess, "USE DATABASE d")

	// Seed the adjacency store directly; the engine opens the same files on
	// first query.
	cat := storage.OpenCatalog(root, "d")
	g, err := cat.OpenGraph("g")
	require.NoError(t, err)
	ids := make([]int64, 3)
	for i, key := range []string{"a", "b", "c"} {
		ids[i], err = g.AddNode("n", key)
		require.NoError(t, err)
	}
	require.NoError(t, g.AddEdge(ids[0], ids[1], "E"))
	require.NoError(t, g.AddEdge(ids[1], ids[2], "E"))
	require.NoError(t, cat.Close())

	res := testutil.Exec(t, eng, sess, "SELECT node_id, depth FROM graph_neighbors('g', 0, 'E', 2) ORDER BY depth")
	require.Len(t, res.Rows, 3)
	assert.EqualValues(t, 0, res.Rows[0][1].I)
	assert.EqualValues(t, 1, res.Rows[1][1].I)
	assert.EqualValues(t, 2, res.Rows[2][1].I)

	// Depth 1 stops one hop out.
	res = testutil.Exec(t, eng, sess, "SELECT node_id FROM graph_neighbors('g', 0, 'E', 1)")
	assert.Len(t, res.Rows, 2)
}

func TestNearestNeighborsTVF(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE vt (vec vector(2))")
	testutil.Exec(t, eng, sess, "INSERT INTO vt (vec) VALUES ('[0,0]'), ('[1,0]'), ('[0,3]')")

	res := testutil.Exec(t, eng, sess, "SELECT row_id, distance FROM nearest_neighbors('vt', 'vec', '[0,0]', 2, 'l2')")
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, 0, res.Rows[0][0].I)
	assert.EqualValues(t, 0, res.Rows[0][1].F)
	assert.EqualValues(t, 1, res.Rows[1][0].I)
	assert.EqualValues(t, 1, res.Rows[1][1].F)
}

func TestNearestNeighborsWithIndex(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE vt (vec vector(2))")
	testutil.Exec(t, eng, sess, "INSERT INTO vt (vec) VALUES ('[0,0]'), ('[5,5]'), ('[0,1]')")
	testutil.Exec(t, eng, sess, "CREATE VECTOR INDEX vi ON vt (vec) USING hnsw (metric = l2, m = 16, ef_build = 100)")

	res := testutil.Exec(t, eng, sess, "SELECT row_id FROM nearest_neighbors('vt', 'vec', '[0,0]', 2, 'l2')")
	require.Len(t, res.Rows, 2)
	got := map[int64]bool{res.Rows[0][0].I: true, res.Rows[1][0].I: true}
	assert.True(t, got[0] && got[2], "ANN top-2 must be the two nearest rows, got %v", got)
}

func TestUnnestTVF(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")

	res := testutil.Exec(t, eng, sess, "SELECT value FROM unnest('{a,b,c}')")
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "a", res.Rows[0][0].S)
	assert.Equal(t, "c", res.Rows[2][0].S)

	res = testutil.Exec(t, eng, sess, "SELECT COUNT(*) FROM unnest(array(1, 2, 3))")
	assert.EqualValues(t, 3, res.Rows[0][0].I)
}

func TestDivisionByZeroIsNull(t *testing.T) {
	eng, sess := testutil.NewEngine(t)
	testutil.Bootstrap(t, eng, sess, "d")
	testutil.Exec(t, eng, sess, "CREATE TABLE t (c integer)")
	testutil.Exec(t, eng, sess, "INSERT INTO t (c) VALUES (1)")

	res := testutil.Exec(t, eng, sess, "SELECT c / 0 FROM t")
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0][0].Null)
}
