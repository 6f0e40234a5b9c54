package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/types"
)

// buildParquetSchema generates a dynamic parquet.Schema from a column list.
// Column sets are only known at table-creation time, so this builds the
// schema by hand from parquet.Group/Leaf/Optional/Repeated nodes rather than
// going through the library's generic struct-reflection writer, which needs
// a compile-time Go type per table.
func buildParquetSchema(cols []types.ColumnDef) *parquet.Schema {
	group := make(parquet.Group, len(cols))
	for _, c := range cols {
		group[c.Name] = parquetNode(c.Type, c.Nullable)
	}
	return parquet.NewSchema("row", group)
}

func parquetNode(k types.Kind, nullable bool) parquet.Node {
	var node parquet.Node
	switch k {
	case types.Boolean:
		node = parquet.Leaf(parquet.BooleanType)
	case types.SmallInt, types.Integer, types.BigInt,
		types.Date, types.Time, types.TimeTz, types.Timestamp, types.TimestampTz:
		node = parquet.Leaf(parquet.Int64Type)
	case types.Real, types.Double, types.Numeric:
		node = parquet.Leaf(parquet.DoubleType)
	case types.Bytea:
		node = parquet.Leaf(parquet.ByteArrayType)
	case types.VectorF32:
		// Vectors serialize as their JSON-array text form, keeping the
		// one-value-per-column row shape instead of a repeated field.
		node = parquet.String()
	default: // Text, Varchar, Char, Json, Jsonb, Uuid, Interval
		node = parquet.String()
	}
	if nullable {
		node = parquet.Optional(node)
	}
	return node
}

// writeParquet encodes f to path via a temp-file-then-rename, so a reader
// opening path never observes a partially written file.
func writeParquet(path string, meta TableMeta, f *frame.Frame) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("storage: creating %s: %w", tmp, err)
	}
	schema := buildParquetSchema(meta.Columns)
	w := parquet.NewWriter(out, schema)

	rows := make([]parquet.Row, f.NumRows())
	for r := 0; r < f.NumRows(); r++ {
		row := make(parquet.Row, len(meta.Columns))
		for c, col := range meta.Columns {
			idx := f.ColIndex(col.Name)
			var v types.Value
			if idx >= 0 {
				v = f.Columns[idx][r]
			} else {
				v = types.NullValue(col.Type)
			}
			row[c] = toParquetValue(v, col.Type, c)
		}
		rows[r] = row
	}
	if len(rows) > 0 {
		if _, err := w.WriteRows(rows); err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("storage: writing parquet rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: closing parquet writer: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: closing %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

func toParquetValue(v types.Value, k types.Kind, col int) parquet.Value {
	if v.Null {
		return parquet.ValueOf(nil).Level(0, 0, col)
	}
	switch k {
	case types.Boolean:
		return parquet.ValueOf(v.B).Level(0, 1, col)
	case types.SmallInt, types.Integer, types.BigInt,
		types.Date, types.Time, types.TimeTz, types.Timestamp, types.TimestampTz:
		return parquet.ValueOf(v.I).Level(0, 1, col)
	case types.Real, types.Double, types.Numeric:
		f, _ := v.AsFloat()
		return parquet.ValueOf(f).Level(0, 1, col)
	case types.Bytea:
		return parquet.ValueOf([]byte(v.S)).Level(0, 1, col)
	case types.VectorF32:
		return parquet.ValueOf(v.String()).Level(0, 1, col)
	default:
		return parquet.ValueOf(v.S).Level(0, 1, col)
	}
}

// readParquet decodes every row in path into a frame matching meta's column
// order. A missing file (table created but never written to) yields an
// empty frame rather than an error.
func readParquet(path string, meta TableMeta) (*frame.Frame, error) {
	f := frame.New(meta.Names(), meta.Kinds())
	f.Columns = make([][]types.Value, len(meta.Columns))

	in, err := os.Open(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", path, err)
	}
	defer in.Close()

	stat, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	schema := buildParquetSchema(meta.Columns)
	r := parquet.NewReader(in, schema)
	defer r.Close()
	if stat.Size() == 0 {
		return f, nil
	}

	buf := make([]parquet.Row, 128)
	var rowID int64
	for {
		n, err := r.ReadRows(buf)
		for i := 0; i < n; i++ {
			vals := make([]types.Value, len(meta.Columns))
			for c, col := range meta.Columns {
				vals[c] = fromParquetValue(buf[i][c], col.Type)
			}
			f.AppendRow(vals, rowID)
			rowID++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: reading parquet rows from %s: %w", path, err)
		}
		if n == 0 {
			break
		}
	}
	return f, nil
}

func fromParquetValue(v parquet.Value, k types.Kind) types.Value {
	if v.IsNull() {
		return types.NullValue(k)
	}
	switch k {
	case types.Boolean:
		return types.BoolValue(v.Boolean())
	case types.SmallInt, types.Integer, types.BigInt,
		types.Date, types.Time, types.TimeTz, types.Timestamp, types.TimestampTz:
		return types.IntValue(k, v.Int64())
	case types.Real, types.Double, types.Numeric:
		return types.FloatValue(k, v.Double())
	case types.Bytea:
		return types.Value{Kind: k, S: string(v.ByteArray())}
	case types.VectorF32:
		vec, err := ParseVectorText(v.String())
		if err != nil {
			return types.NullValue(k)
		}
		return types.VectorValue(vec)
	default:
		return types.TextValue(v.String())
	}
}

// ParseVectorText parses a "[1,2,3]" JSON-array spelling into a vector.
func ParseVectorText(s string) ([]float32, error) {
	var out []float32
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("storage: parsing %q as a vector: %w", s, err)
	}
	return out, nil
}
