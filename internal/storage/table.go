package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

// Table is the storage adapter for one columnar table, backed by
// <dir>/schema.json and <dir>/data.parquet (or <dir>/part=<k>/data.parquet
// for a partitioned table). The lock guards only the snapshot step: readers
// take RLock only long enough to capture the current file path(s), writers
// take Lock only around the rename that publishes a new file.
type Table struct {
	dir  string
	mu   sync.RWMutex
	meta TableMeta
}

// OpenTable loads an existing table's schema.json. It does not read rows.
func OpenTable(dir string) (*Table, error) {
	meta, err := loadMeta(dir)
	if err != nil {
		return nil, err
	}
	return &Table{dir: dir, meta: meta}, nil
}

// CreateTable makes a new table directory and writes its initial schema.json.
func CreateTable(dir string, meta TableMeta) (*Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating table dir %s: %w", dir, err)
	}
	if err := saveMeta(dir, meta); err != nil {
		return nil, err
	}
	return &Table{dir: dir, meta: meta}, nil
}

func (t *Table) Meta() TableMeta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta
}

// partitionPaths snapshots the set of data.parquet paths to read: either
// the single top-level file, or one per part=<k> directory present at
// snapshot time.
func (t *Table) partitionPaths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.meta.Partitions) == 0 {
		return []string{filepath.Join(t.dir, "data.parquet")}
	}
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return []string{filepath.Join(t.dir, "data.parquet")}
	}
	var parts []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > 5 && e.Name()[:5] == "part=" {
			parts = append(parts, filepath.Join(t.dir, e.Name(), "data.parquet"))
		}
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		return []string{filepath.Join(t.dir, "data.parquet")}
	}
	return parts
}

// Read opens a snapshot of every partition current at call time and returns
// their union as one Frame with freshly assigned, contiguous row ids.
func (t *Table) Read() (*frame.Frame, error) {
	meta := t.Meta()
	paths := t.partitionPaths()

	out := frame.New(meta.Names(), meta.Kinds())
	out.Columns = make([][]types.Value, len(meta.Columns))
	var rowID int64
	for _, p := range paths {
		part, err := readParquet(p, meta)
		if err != nil {
			return nil, err
		}
		for r := 0; r < part.NumRows(); r++ {
			out.AppendRow(part.Row(r), rowID)
			rowID++
		}
	}
	return out, nil
}

// Replace fully rewrites the table's (single-partition) data file with f's
// contents, write-then-rename.
func (t *Table) Replace(f *frame.Frame) error {
	meta := t.Meta()
	path := filepath.Join(t.dir, "data.parquet")
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeParquet(path, meta, f)
}

// Append reads the current snapshot, concatenates rows, and rewrites the
// file. Parquet's columnar layout has no true in-place append, so an
// append is a read-modify-write under the table's write lock.
func (t *Table) Append(rows *frame.Frame) error {
	meta := t.Meta()
	path := filepath.Join(t.dir, "data.parquet")

	existing, err := readParquet(path, meta)
	if err != nil {
		return err
	}
	merged := frame.New(meta.Names(), meta.Kinds())
	merged.Columns = make([][]types.Value, len(meta.Columns))
	var rowID int64
	for r := 0; r < existing.NumRows(); r++ {
		merged.AppendRow(existing.Row(r), rowID)
		rowID++
	}
	for r := 0; r < rows.NumRows(); r++ {
		vals := make([]types.Value, len(meta.Columns))
		for c, col := range meta.Columns {
			idx := rows.ColIndex(col.Name)
			if idx >= 0 {
				vals[c] = rows.Columns[idx][r]
			} else {
				vals[c] = types.NullValue(col.Type)
			}
		}
		merged.AppendRow(vals, rowID)
		rowID++
	}
	merged = sortByTime(merged)

	t.mu.Lock()
	defer t.mu.Unlock()
	return writeParquet(path, meta, merged)
}

// sortByTime keeps a time-series table's _time ordering invariant across
// appends: if the frame has a _time column, rows are stably re-ordered by
// it before the file is rewritten. Tables without _time come back as-is.
func sortByTime(f *frame.Frame) *frame.Frame {
	ti := f.ColIndex("_time")
	if ti < 0 {
		return f
	}
	idx := make([]int, f.NumRows())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := f.Columns[ti][idx[a]], f.Columns[ti][idx[b]]
		if va.Null || vb.Null {
			return vb.Null && !va.Null
		}
		return va.I < vb.I
	})
	return f.Select(idx)
}

// AddColumn rewrites schema.json to add a new nullable column; existing
// rows read back NULL for it until the data file is next rewritten.
func (t *Table) AddColumn(col types.ColumnDef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.meta.colIndex(col.Name) >= 0 {
		return fmt.Errorf("storage: column %q already exists", col.Name)
	}
	t.meta.Columns = append(t.meta.Columns, col)
	return saveMeta(t.dir, t.meta)
}

// DropColumns rewrites schema.json and the data file to omit the named
// columns (DELETE COLUMNS).
func (t *Table) DropColumns(names []string) error {
	t.mu.Lock()
	meta := t.meta
	t.mu.Unlock()

	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var kept []types.ColumnDef
	for _, c := range meta.Columns {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	newMeta := TableMeta{Columns: kept, PrimaryKey: meta.PrimaryKey, Partitions: meta.Partitions}

	existing, err := t.Read()
	if err != nil {
		return err
	}
	projected := frame.New(newMeta.Names(), newMeta.Kinds())
	projected.Columns = make([][]types.Value, len(newMeta.Columns))
	for r := 0; r < existing.NumRows(); r++ {
		vals := make([]types.Value, len(newMeta.Columns))
		for c, col := range newMeta.Columns {
			idx := existing.ColIndex(col.Name)
			vals[c] = existing.Columns[idx][r]
		}
		projected.AppendRow(vals, existing.RowIDs[r])
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta = newMeta
	if err := saveMeta(t.dir, newMeta); err != nil {
		return err
	}
	return writeParquet(filepath.Join(t.dir, "data.parquet"), newMeta, projected)
}
