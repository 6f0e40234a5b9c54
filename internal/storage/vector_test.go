package storage

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()
		}
		out[i] = v
	}
	return out
}

func vectorFrame(vecs [][]float32) *frame.Frame {
	f := frame.New([]string{"vec"}, []types.Kind{types.VectorF32})
	f.Columns = make([][]types.Value, 1)
	for i, v := range vecs {
		f.AppendRow([]types.Value{types.VectorValue(v)}, int64(i))
	}
	return f
}

func TestFlatScanOrderingAndTieBreak(t *testing.T) {
	f := vectorFrame([][]float32{
		{0, 0}, // distance 0
		{3, 4}, // distance 5
		{0, 1}, // distance 1
		{1, 0}, // distance 1, higher row id loses the tie
	})

	hits, err := FlatScan(f, "vec", []float32{0, 0}, 3, "l2")
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.EqualValues(t, 0, hits[0].RowID)
	assert.EqualValues(t, 2, hits[1].RowID)
	assert.EqualValues(t, 3, hits[2].RowID)
}

func TestFlatScanCosine(t *testing.T) {
	f := vectorFrame([][]float32{
		{1, 0},
		{0, 1},
		{2, 0}, // same direction as the query, despite larger magnitude
	})
	hits, err := FlatScan(f, "vec", []float32{1, 0}, 2, "cos")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// Cosine distance ignores magnitude; rows 0 and 2 tie at 0, smaller row
	// id first.
	assert.EqualValues(t, 0, hits[0].RowID)
	assert.EqualValues(t, 2, hits[1].RowID)
}

func TestFlatScanSkipsNullAndMismatchedDims(t *testing.T) {
	f := frame.New([]string{"vec"}, []types.Kind{types.VectorF32})
	f.Columns = make([][]types.Value, 1)
	f.AppendRow([]types.Value{types.VectorValue([]float32{0, 0})}, 0)
	f.AppendRow([]types.Value{types.NullValue(types.VectorF32)}, 1)
	f.AppendRow([]types.Value{types.VectorValue([]float32{1, 2, 3})}, 2)

	hits, err := FlatScan(f, "vec", []float32{0, 0}, 10, "l2")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = FlatScan(f, "vec", []float32{0, 0}, 1, "hamming")
	assert.Error(t, err)
}

// HNSW recall against the flat scan: with M=32, ef_build=200, ef_search=64
// the top-10 id sets overlap by at least 0.8 Jaccard on 1000 random 64-d
// vectors.
func TestHNSWParityWithFlatScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vecs := randomVectors(rng, 1000, 64)
	f := vectorFrame(vecs)

	idx := NewHNSWIndex(VectorIndexMeta{Algorithm: "hnsw", Metric: "l2", M: 32, EfBuild: 200})
	for i, v := range vecs {
		idx.Add(int64(i), v)
	}

	query := make([]float32, 64)
	for d := range query {
		query[d] = rng.Float32()
	}

	flat, err := FlatScan(f, "vec", query, 10, "l2")
	require.NoError(t, err)
	ann := idx.Search(query, 10, 64)
	require.Len(t, ann, 10)

	flatIDs := map[int64]bool{}
	for _, h := range flat {
		flatIDs[h.RowID] = true
	}
	inter := 0
	for _, h := range ann {
		if flatIDs[h.RowID] {
			inter++
		}
	}
	union := len(flat) + len(ann) - inter
	jaccard := float64(inter) / float64(union)
	assert.GreaterOrEqual(t, jaccard, 0.8, "ANN top-10 diverged too far from exact top-10")
}

func TestClampEfSearch(t *testing.T) {
	assert.Equal(t, 20, clampEfSearch(0, 10)) // default 2k
	assert.Equal(t, 10, clampEfSearch(5, 10)) // floor k
	assert.Equal(t, 512, clampEfSearch(9999, 10))
	assert.Equal(t, 64, clampEfSearch(64, 10))
}
