package storage

import (
	"fmt"
	"math"
	"sort"

	"github.com/lattice-db/lattice/internal/frame"
)

// VectorHit is one result of a nearest-neighbor scan: the row id and its
// distance under the chosen metric (smaller is always closer, even for
// cosine, where we return 1-cosine-similarity so ordering is uniform).
type VectorHit struct {
	RowID    int64
	Distance float32
}

// FlatScan computes the distance from query to every non-null vector in
// column colName of f and returns the k closest, tie-broken by smallest row
// id.
func FlatScan(f *frame.Frame, colName string, query []float32, k int, metric string) ([]VectorHit, error) {
	idx := f.ColIndex(colName)
	if idx < 0 {
		return nil, fmt.Errorf("storage: unknown vector column %q", colName)
	}
	dist, err := distanceFunc(metric)
	if err != nil {
		return nil, err
	}

	hits := make([]VectorHit, 0, f.NumRows())
	for r := 0; r < f.NumRows(); r++ {
		v := f.Columns[idx][r]
		if v.Null || len(v.Vec) != len(query) {
			continue
		}
		hits = append(hits, VectorHit{RowID: f.RowIDs[r], Distance: dist(query, v.Vec)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].RowID < hits[j].RowID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func distanceFunc(metric string) (func(a, b []float32) float32, error) {
	switch metric {
	case "l2":
		return l2Distance, nil
	case "cos":
		return cosineDistance, nil
	default:
		return nil, fmt.Errorf("storage: unknown vector metric %q", metric)
	}
}

func l2Distance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// cosineDistance returns 1 - cosine_similarity, so 0 means identical
// direction, matching l2Distance's "smaller is closer" convention.
func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}
