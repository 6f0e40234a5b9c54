// Package storage is the on-disk adapter for all four data models: Parquet
// tables, KV namespaces, property graphs, and vector collections.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lattice-db/lattice/internal/types"
)

// TableMeta is the schema.json shape for one table: column list plus the
// optional primary_key and partitions column lists.
type TableMeta struct {
	Columns    []types.ColumnDef `json:"columns"`
	PrimaryKey []string          `json:"primary_key,omitempty"`
	Partitions []string          `json:"partitions,omitempty"`
}

func loadMeta(dir string) (TableMeta, error) {
	var meta TableMeta
	b, err := os.ReadFile(filepath.Join(dir, "schema.json"))
	if err != nil {
		return meta, fmt.Errorf("storage: reading schema.json: %w", err)
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("storage: parsing schema.json: %w", err)
	}
	for i := range meta.Columns {
		k, err := types.ParseKind(meta.Columns[i].TypeName)
		if err != nil {
			return meta, fmt.Errorf("storage: schema.json column %q: %w", meta.Columns[i].Name, err)
		}
		meta.Columns[i].Type = k
	}
	return meta, nil
}

func saveMeta(dir string, meta TableMeta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshaling schema.json: %w", err)
	}
	tmp := filepath.Join(dir, "schema.json.tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("storage: writing schema.json: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, "schema.json"))
}

func (m TableMeta) colIndex(name string) int {
	for i, c := range m.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (m TableMeta) Names() []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Name
	}
	return out
}

func (m TableMeta) Kinds() []types.Kind {
	out := make([]types.Kind, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Type
	}
	return out
}
