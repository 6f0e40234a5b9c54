package storage

import (
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndexMeta is the catalog record for one VECTOR INDEX: algorithm is
// "hnsw" only today, metric is "l2" or "cos", M/EfBuild tune the graph at
// build time.
type VectorIndexMeta struct {
	Table     string `json:"table"`
	Column    string `json:"column"`
	Algorithm string `json:"algorithm"`
	Metric    string `json:"metric"`
	M         int    `json:"m"`
	EfBuild   int    `json:"ef_build"`
}

// annIndex isolates this package's one dependency on coder/hnsw's exact API
// behind a narrow interface, so only this file needs to track upstream
// changes to it.
type annIndex interface {
	Add(id int64, vec []float32)
	Search(query []float32, k, efSearch int) []VectorHit
}

// HNSWIndex wraps a coder/hnsw graph keyed by row id, built once from a
// table's full column and kept resident for the session.
type HNSWIndex struct {
	meta VectorIndexMeta
	mu   sync.RWMutex
	g    *hnsw.Graph[int64]
}

func NewHNSWIndex(meta VectorIndexMeta) *HNSWIndex {
	g := hnsw.NewGraph[int64]()
	if meta.M > 0 {
		g.M = meta.M
	}
	if meta.EfBuild > 0 {
		g.EfSearch = meta.EfBuild
	}
	switch meta.Metric {
	case "cos":
		g.Distance = hnsw.CosineDistance
	default:
		g.Distance = hnsw.EuclideanDistance
	}
	return &HNSWIndex{meta: meta, g: g}
}

func (h *HNSWIndex) Add(id int64, vec []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.g.Add(hnsw.MakeNode(id, vec))
}

// Search returns the k nearest neighbors to query. efSearch, if zero,
// defaults to 2*k and is always clamped to [k, 512], overriding the graph's
// build-time EfSearch for this one query.
func (h *HNSWIndex) Search(query []float32, k, efSearch int) []VectorHit {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.g.EfSearch = clampEfSearch(efSearch, k)
	nodes := h.g.Search(query, k)
	dist, _ := distanceFunc(h.meta.Metric)
	hits := make([]VectorHit, 0, len(nodes))
	for _, n := range nodes {
		hits = append(hits, VectorHit{RowID: n.Key, Distance: dist(query, n.Value)})
	}
	return hits
}

// clampEfSearch applies the nearest_neighbors default (2*k) and bound
// [k, 512] when the caller doesn't supply an explicit ef_search.
func clampEfSearch(efSearch, k int) int {
	if efSearch <= 0 {
		efSearch = 2 * k
	}
	if efSearch < k {
		efSearch = k
	}
	if efSearch > 512 {
		efSearch = 512
	}
	return efSearch
}

var _ annIndex = (*HNSWIndex)(nil)
