package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogViews(t *testing.T) {
	c := OpenCatalog(t.TempDir(), "d")

	_, ok, err := c.GetView("v")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.PutView(ViewDef{Name: "v", Query: "SELECT 1"}))
	def, ok, err := c.GetView("v")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", def.Query)

	require.NoError(t, c.DropView("v"))
	_, ok, err = c.GetView("v")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalogVectorIndexMeta(t *testing.T) {
	c := OpenCatalog(t.TempDir(), "d")
	meta := VectorIndexMeta{Table: "t", Column: "vec", Algorithm: "hnsw", Metric: "cos", M: 32, EfBuild: 200}
	require.NoError(t, c.PutVectorIndexMeta(meta))

	got, ok, err := c.GetVectorIndexMeta("t", "vec")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, meta, got)

	_, ok, err = c.GetVectorIndexMeta("t", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	// The built index caches per (table, column).
	idx := NewHNSWIndex(meta)
	c.CacheVectorIndex("t", "vec", idx)
	cached, ok := c.CachedVectorIndex("t", "vec")
	require.True(t, ok)
	assert.Same(t, idx, cached)
}

func TestCatalogGraphLifecycle(t *testing.T) {
	c := OpenCatalog(t.TempDir(), "d")
	require.NoError(t, c.PutGraphSpec("g", GraphSpecDef{NodesTable: "n", EdgesTable: "e"}))

	spec, ok, err := c.GetGraphSpec("g")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "n", spec.NodesTable)

	g, err := c.OpenGraph("g")
	require.NoError(t, err)
	id, err := g.AddNode("x", "1")
	require.NoError(t, err)

	// OpenGraph returns the same live handle for the same name.
	again, err := c.OpenGraph("g")
	require.NoError(t, err)
	sameID, err := again.AddNode("x", "1")
	require.NoError(t, err)
	assert.Equal(t, id, sameID)

	require.NoError(t, c.DropGraphSpec("g"))
	_, ok, err = c.GetGraphSpec("g")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEpochMonotonicity(t *testing.T) {
	before := Epoch()
	next := BumpEpoch()
	assert.Greater(t, next, before)
	assert.Equal(t, next, Epoch())
}
