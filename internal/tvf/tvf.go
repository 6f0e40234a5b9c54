// Package tvf implements the table-valued functions for the
// property-graph and vector-collection models, plus the array
// fan-out helper UNNEST — each a pure function from already-resolved
// arguments to a frame.Frame, so internal/engine owns all catalog/storage
// lookups and argument evaluation and this package only shapes results.
package tvf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/storage"
	"github.com/lattice-db/lattice/internal/types"
)

// GraphNeighbors shapes a BFS walk into the graph_neighbors(...) result:
// one row per node reached, (node_id, depth).
func GraphNeighbors(results []storage.BFSResult) *frame.Frame {
	f := frame.New([]string{"node_id", "depth"}, []types.Kind{types.BigInt, types.Integer})
	f.Columns = make([][]types.Value, 2)
	for i, r := range results {
		f.AppendRow([]types.Value{
			types.IntValue(types.BigInt, r.NodeID),
			types.IntValue(types.Integer, int64(r.Depth)),
		}, int64(i))
	}
	return f
}

// NearestNeighbors shapes a vector scan (flat or ANN) into the
// nearest_neighbors(...) result: one row per hit, (row_id, distance),
// ordered by increasing distance as the storage layer already returns it.
func NearestNeighbors(hits []storage.VectorHit) *frame.Frame {
	f := frame.New([]string{"row_id", "distance"}, []types.Kind{types.BigInt, types.Double})
	f.Columns = make([][]types.Value, 2)
	for i, h := range hits {
		f.AppendRow([]types.Value{
			types.IntValue(types.BigInt, h.RowID),
			types.FloatValue(types.Double, float64(h.Distance)),
		}, int64(i))
	}
	return f
}

// Unnest expands v into a one-column ("value") frame, accepting any of the
// dialect's array spellings: ARRAY[1,2,3]/array(1,2,3) already desugar to a
// FuncCall the engine evaluates element-by-element before reaching here; a
// brace literal "{a,b,c}" or quoted CSV "a,b,c" arrives as a single text
// Value and is split here.
func Unnest(v types.Value) (*frame.Frame, error) {
	f := frame.New([]string{"value"}, []types.Kind{types.Text})
	f.Columns = make([][]types.Value, 1)
	if v.Null {
		return f, nil
	}
	if v.Kind == types.VectorF32 {
		f.ColumnTypes[0] = types.Double
		for i, e := range v.Vec {
			f.AppendRow([]types.Value{types.FloatValue(types.Double, float64(e))}, int64(i))
		}
		return f, nil
	}
	parts, err := splitArrayLiteral(v.S)
	if err != nil {
		return nil, err
	}
	for i, p := range parts {
		f.AppendRow([]types.Value{types.TextValue(p)}, int64(i))
	}
	return f, nil
}

// UnnestValues expands an already-materialized element list (the result of
// evaluating an ARRAY[...]/array(...) call argument-by-argument) into a
// one-column frame, preserving each element's own Kind.
func UnnestValues(vals []types.Value) *frame.Frame {
	kind := types.Text
	if len(vals) > 0 {
		kind = vals[0].Kind
	}
	f := frame.New([]string{"value"}, []types.Kind{kind})
	f.Columns = make([][]types.Value, 1)
	for i, v := range vals {
		f.AppendRow([]types.Value{v}, int64(i))
	}
	return f
}

// splitArrayLiteral parses "{a,b,c}" or a bare "a,b,c" quoted-CSV spelling
// into trimmed, unquoted elements.
func splitArrayLiteral(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil, nil
	}
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if len(r) >= 2 && r[0] == '\'' && r[len(r)-1] == '\'' {
			r = r[1 : len(r)-1]
		} else if len(r) >= 2 && r[0] == '"' && r[len(r)-1] == '"' {
			r = r[1 : len(r)-1]
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseEfSearch parses an optional ef_search argument, 0 meaning "use the
// nearest_neighbors default" (2*k, clamped to [k,512], applied by the
// storage layer's HNSWIndex.Search).
func ParseEfSearch(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("tvf: invalid ef_search %q: %w", s, err)
	}
	return n, nil
}
