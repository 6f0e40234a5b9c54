// Package frame holds the in-memory columnar batch every pipeline stage in
// internal/engine consumes and produces.
package frame

import "github.com/lattice-db/lattice/internal/types"

// Frame is an in-memory columnar batch of rows with a schema, produced by a
// pipeline stage. Columns are stored as parallel slices
// indexed by row; RowIDs assigns each row a stable id at read time used to
// break ORDER BY ties.
type Frame struct {
	ColumnNames []string
	ColumnTypes []types.Kind
	Columns     [][]types.Value
	RowIDs      []int64
}

func New(names []string, kinds []types.Kind) *Frame {
	cols := make([][]types.Value, len(names))
	return &Frame{ColumnNames: names, ColumnTypes: kinds, Columns: cols}
}

func (f *Frame) NumRows() int {
	if len(f.Columns) == 0 {
		return 0
	}
	return len(f.Columns[0])
}

func (f *Frame) ColIndex(name string) int {
	for i, n := range f.ColumnNames {
		if n == name {
			return i
		}
	}
	return -1
}

// AppendRow appends one row of values (column order must match f.ColumnNames)
// assigning it the next row id.
func (f *Frame) AppendRow(vals []types.Value, rowID int64) {
	for i, v := range vals {
		f.Columns[i] = append(f.Columns[i], v)
	}
	f.RowIDs = append(f.RowIDs, rowID)
}

// Row materializes row i as a slice, for evaluator convenience.
func (f *Frame) Row(i int) []types.Value {
	row := make([]types.Value, len(f.Columns))
	for c := range f.Columns {
		row[c] = f.Columns[c][i]
	}
	return row
}

// Select returns a new Frame containing only the given row indices, in
// order, preserving row ids (used by filter/order/limit stages).
func (f *Frame) Select(indices []int) *Frame {
	out := New(append([]string(nil), f.ColumnNames...), append([]types.Kind(nil), f.ColumnTypes...))
	out.Columns = make([][]types.Value, len(f.Columns))
	for c := range f.Columns {
		col := make([]types.Value, len(indices))
		for i, idx := range indices {
			col[i] = f.Columns[c][idx]
		}
		out.Columns[c] = col
	}
	out.RowIDs = make([]int64, len(indices))
	for i, idx := range indices {
		out.RowIDs[i] = f.RowIDs[idx]
	}
	return out
}

// Clone makes a deep-enough copy for callers that mutate columns in place.
func (f *Frame) Clone() *Frame {
	idx := make([]int, f.NumRows())
	for i := range idx {
		idx[i] = i
	}
	return f.Select(idx)
}
