package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Paths resolves the on-disk layout under one root directory:
//
//	<root>/<db>/<schema>/<table>/{data.parquet,schema.json}
//	<root>/<db>/.system/catalog/{views,udfs,graph_specs}/<name>.json
//	<root>/<db>/.system/catalog/vector_indexes/<table>.<column>.json
//	<root>/<db>/.system/catalog/graphs/<name>/{snapshot.json,wal.log}
//	<root>/<db>.store.<ns>/kv.ndjson
type Paths struct {
	Root string
}

func (p Paths) TableDir(db, schema, table string) string {
	return filepath.Join(p.Root, db, schema, table)
}

func (p Paths) GraphDir(db, name string) string {
	return filepath.Join(p.Root, db, ".system", "catalog", "graphs", name)
}

func (p Paths) NamespacePath(db, ns string) string {
	return filepath.Join(p.Root, db+".store."+ns, "kv.ndjson")
}

func (p Paths) viewPath(db, name string) string {
	return filepath.Join(p.Root, db, ".system", "catalog", "views", name+".json")
}

func (p Paths) vectorIndexPath(db, table, column string) string {
	return filepath.Join(p.Root, db, ".system", "catalog", "vector_indexes", table+"."+column+".json")
}

func (p Paths) udfPath(db, name string) string {
	return filepath.Join(p.Root, db, ".system", "catalog", "udfs", name+".json")
}

func (p Paths) graphSpecPath(db, name string) string {
	return filepath.Join(p.Root, db, ".system", "catalog", "graph_specs", name+".json")
}

// ViewDef is a stored CREATE VIEW: just its defining query text, re-parsed
// and re-planned on every reference so it always sees current table schemas.
type ViewDef struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// UDFDef is a stored user-defined scalar function: parameter names and the
// expression body, evaluated in the caller's row context with parameters
// bound as extra columns.
type UDFDef struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Body   string   `json:"body"`
}

// Catalog is the per-database system catalog: views, vector indexes, graphs,
// and UDFs, persisted under .system/catalog/<kind>/ (one JSON file per
// object, except that each graph is a directory of its own).
// A process-wide epoch counter is bumped on any catalog or grant mutation so
// cached ACL decisions and prepared statements know to invalidate.
type Catalog struct {
	paths Paths
	db    string
	mu    sync.Mutex

	graphs  map[string]*Graph
	indexes map[string]*HNSWIndex
}

var globalEpoch int64

// Epoch returns the current process-wide invalidation epoch.
func Epoch() int64 { return atomic.LoadInt64(&globalEpoch) }

// BumpEpoch advances the invalidation epoch and returns the new value. Call
// on any grant mutation or catalog change that must invalidate caches.
func BumpEpoch() int64 { return atomic.AddInt64(&globalEpoch, 1) }

func OpenCatalog(root, db string) *Catalog {
	return &Catalog{
		paths:   Paths{Root: root},
		db:      db,
		graphs:  map[string]*Graph{},
		indexes: map[string]*HNSWIndex{},
	}
}

func (c *Catalog) ensureDirs() error {
	for _, kind := range []string{"views", "vector_indexes", "graphs", "udfs", "graph_specs"} {
		dir := filepath.Join(c.paths.Root, c.db, ".system", "catalog", kind)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: creating catalog dir %s: %w", dir, err)
		}
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, v)
}

// PutView persists a view definition and bumps the invalidation epoch.
func (c *Catalog) PutView(def ViewDef) error {
	if err := c.ensureDirs(); err != nil {
		return err
	}
	if err := writeJSONAtomic(c.paths.viewPath(c.db, def.Name), def); err != nil {
		return fmt.Errorf("storage: writing view %q: %w", def.Name, err)
	}
	BumpEpoch()
	return nil
}

func (c *Catalog) GetView(name string) (ViewDef, bool, error) {
	var def ViewDef
	ok, err := readJSON(c.paths.viewPath(c.db, name), &def)
	return def, ok, err
}

func (c *Catalog) DropView(name string) error {
	if err := os.Remove(c.paths.viewPath(c.db, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: dropping view %q: %w", name, err)
	}
	BumpEpoch()
	return nil
}

func (c *Catalog) PutUDF(def UDFDef) error {
	if err := c.ensureDirs(); err != nil {
		return err
	}
	if err := writeJSONAtomic(c.paths.udfPath(c.db, def.Name), def); err != nil {
		return fmt.Errorf("storage: writing UDF %q: %w", def.Name, err)
	}
	BumpEpoch()
	return nil
}

func (c *Catalog) GetUDF(name string) (UDFDef, bool, error) {
	var def UDFDef
	ok, err := readJSON(c.paths.udfPath(c.db, name), &def)
	return def, ok, err
}

// DropUDF removes a stored script/UDF definition.
func (c *Catalog) DropUDF(name string) error {
	if err := os.Remove(c.paths.udfPath(c.db, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: dropping UDF %q: %w", name, err)
	}
	BumpEpoch()
	return nil
}

// GraphNodeSpecDef and GraphEdgeSpecDef mirror the parsed CREATE GRAPH body
// (node label/key column, edge type/endpoints), persisted independently of
// the parser's AST so storage has no dependency on internal/ast.
type GraphNodeSpecDef struct {
	Label  string `json:"label"`
	KeyCol string `json:"key_col"`
}

type GraphEdgeSpecDef struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphSpecDef is the catalog record for a CREATE GRAPH's declared node and
// edge shape, letting DESCRIBE report a graph's schema even though the
// underlying Graph store itself only tracks raw adjacency.
type GraphSpecDef struct {
	Nodes      []GraphNodeSpecDef `json:"nodes"`
	Edges      []GraphEdgeSpecDef `json:"edges"`
	NodesTable string             `json:"nodes_table,omitempty"`
	EdgesTable string             `json:"edges_table,omitempty"`
}

func (c *Catalog) PutGraphSpec(name string, spec GraphSpecDef) error {
	if err := c.ensureDirs(); err != nil {
		return err
	}
	if err := writeJSONAtomic(c.paths.graphSpecPath(c.db, name), spec); err != nil {
		return fmt.Errorf("storage: writing graph spec %q: %w", name, err)
	}
	BumpEpoch()
	return nil
}

func (c *Catalog) GetGraphSpec(name string) (GraphSpecDef, bool, error) {
	var spec GraphSpecDef
	ok, err := readJSON(c.paths.graphSpecPath(c.db, name), &spec)
	return spec, ok, err
}

func (c *Catalog) DropGraphSpec(name string) error {
	if err := os.Remove(c.paths.graphSpecPath(c.db, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: dropping graph spec %q: %w", name, err)
	}
	BumpEpoch()
	return nil
}

// OpenGraph returns the named graph, opening and caching it on first use.
func (c *Catalog) OpenGraph(name string) (*Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.graphs[name]; ok {
		return g, nil
	}
	g, err := OpenGraph(c.paths.GraphDir(c.db, name))
	if err != nil {
		return nil, err
	}
	c.graphs[name] = g
	return g, nil
}

// PutVectorIndexMeta persists a vector index's build parameters. The
// in-memory HNSWIndex itself is built lazily by the query engine from the
// backing table and cached under the same name.
func (c *Catalog) PutVectorIndexMeta(meta VectorIndexMeta) error {
	if err := c.ensureDirs(); err != nil {
		return err
	}
	if err := writeJSONAtomic(c.paths.vectorIndexPath(c.db, meta.Table, meta.Column), meta); err != nil {
		return fmt.Errorf("storage: writing vector index %s.%s: %w", meta.Table, meta.Column, err)
	}
	BumpEpoch()
	return nil
}

func (c *Catalog) GetVectorIndexMeta(table, column string) (VectorIndexMeta, bool, error) {
	var meta VectorIndexMeta
	ok, err := readJSON(c.paths.vectorIndexPath(c.db, table, column), &meta)
	return meta, ok, err
}

// CacheVectorIndex registers a built HNSWIndex for reuse across queries
// until the backing table's epoch changes.
func (c *Catalog) CacheVectorIndex(table, column string, idx *HNSWIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[table+"."+column] = idx
}

func (c *Catalog) CachedVectorIndex(table, column string) (*HNSWIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indexes[table+"."+column]
	return idx, ok
}

// Close closes every graph this catalog has opened.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, g := range c.graphs {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
