package engine

import (
	"os"
	"path/filepath"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/storage"
	"github.com/lattice-db/lattice/internal/types"
)

// splitDBName resolves a one- or two-part identifier to a (db, name) pair,
// completing a bare name against the session's current database. Used for
// objects that live directly under a database (schemas, stores, graphs)
// rather than under a db.schema.table path.
func splitDBName(sess *session.Session, id ast.Ident) (string, string, error) {
	switch len(id.Parts) {
	case 1:
		if sess.CurrentDB == "" {
			return "", "", newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		return sess.CurrentDB, id.Parts[0], nil
	case 2:
		return id.Parts[0], id.Parts[1], nil
	default:
		return "", "", newErr(KindParseError, "malformed identifier %q", id.Raw)
	}
}

func (e *Engine) execCreate(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	switch stmt.Kind {
	case ast.ObjDatabase:
		return e.createDatabase(sess, stmt)
	case ast.ObjSchema:
		return e.createSchema(sess, stmt)
	case ast.ObjTable, ast.ObjTimeTable:
		return e.createTableStmt(sess, stmt)
	case ast.ObjView:
		return e.createView(sess, stmt)
	case ast.ObjStore:
		return e.createStore(sess, stmt)
	case ast.ObjVectorIndex:
		return e.createVectorIndex(sess, stmt)
	case ast.ObjGraph:
		return e.createGraph(sess, stmt)
	case ast.ObjScript:
		return e.createScript(sess, stmt)
	default:
		return nil, newErr(KindInternal, "unsupported CREATE object kind %d", stmt.Kind)
	}
}

func (e *Engine) createDatabase(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	name := stmt.Name.Last()
	if err := e.checkRBAC(sess, rbac.ObjectDB, rbac.ActionAlter, name); err != nil {
		return nil, err
	}
	dir := filepath.Join(e.root, name)
	if _, err := os.Stat(dir); err == nil {
		if stmt.IfNotExists {
			return &Result{Message: "CREATE DATABASE"}, nil
		}
		return nil, newErr(KindConflict, "database %q already exists", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr(KindInternal, err, "creating database %q", name)
	}
	storage.BumpEpoch()
	return &Result{Message: "CREATE DATABASE"}, nil
}

func (e *Engine) createSchema(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	db, schema, err := splitDBName(sess, stmt.Name)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectSchema, rbac.ActionAlter, db+"."+schema); err != nil {
		return nil, err
	}
	dir := filepath.Join(e.root, db, schema)
	if _, err := os.Stat(dir); err == nil {
		if stmt.IfNotExists {
			return &Result{Message: "CREATE SCHEMA"}, nil
		}
		return nil, newErr(KindConflict, "schema %q already exists", schema)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr(KindInternal, err, "creating schema %q", schema)
	}
	storage.BumpEpoch()
	return &Result{Message: "CREATE SCHEMA"}, nil
}

func (e *Engine) createTableStmt(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	r, err := resolveIdent(sess, stmt.Name)
	if err != nil {
		return nil, err
	}
	if err := e.checkTable(sess, r, rbac.ActionAlter); err != nil {
		return nil, err
	}
	if _, err := e.openTable(r.DB, r.Schema, r.Table); err == nil {
		if stmt.IfNotExists {
			return &Result{Message: "CREATE TABLE"}, nil
		}
		return nil, newErr(KindConflict, "table %s already exists", r.Path())
	}

	meta := storage.TableMeta{PrimaryKey: stmt.PrimaryKey, Partitions: stmt.Partitions}
	for _, c := range stmt.Columns {
		k, perr := types.ParseKind(c.TypeName)
		if perr != nil {
			return nil, wrapErr(KindTypeMismatch, perr, "column %q", c.Name)
		}
		meta.Columns = append(meta.Columns, types.ColumnDef{
			Name: c.Name, Type: k, TypeName: c.TypeName, Nullable: c.Nullable,
			Length: c.Length, Precision: c.Precision, Scale: c.Scale, VectorDim: c.VectorDim,
		})
	}
	if stmt.Kind == ast.ObjTimeTable {
		hasTime := false
		for _, c := range meta.Columns {
			if c.Name == "_time" {
				hasTime = true
				break
			}
		}
		if !hasTime {
			meta.Columns = append([]types.ColumnDef{{Name: "_time", Type: types.Timestamp, TypeName: "timestamp", Nullable: false}}, meta.Columns...)
		}
	}

	if _, err := e.createTable(r.DB, r.Schema, r.Table, meta); err != nil {
		return nil, err
	}
	return &Result{Message: "CREATE TABLE"}, nil
}

// createView persists the view's defining SELECT text, keyed by bare table
// name within its database's catalog (matching source.go's
// e.catalog(r.DB).GetView(r.Table) lookup at use time).
func (e *Engine) createView(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	r, err := resolveIdent(sess, stmt.Name)
	if err != nil {
		return nil, err
	}
	if err := e.checkTable(sess, r, rbac.ActionAlter); err != nil {
		return nil, err
	}
	if stmt.ViewQuery == nil {
		return nil, newErr(KindParseError, "CREATE VIEW requires an AS SELECT ... body")
	}
	if err := e.catalog(r.DB).PutView(storage.ViewDef{Name: r.Table, Query: stmt.ViewQuery.RawSQL}); err != nil {
		return nil, wrapErr(KindInternal, err, "creating view %s", r.Path())
	}
	return &Result{Message: "CREATE VIEW"}, nil
}

// createStore makes a KV namespace's backing file exist by opening (and
// thereby lazily creating on first write) its namespace.
func (e *Engine) createStore(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	db, name, err := splitDBName(sess, stmt.Name)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionAlter, db+".store."+name); err != nil {
		return nil, err
	}
	if _, err := e.namespace(db, name); err != nil {
		return nil, err
	}
	return &Result{Message: "CREATE STORE"}, nil
}

func (e *Engine) createVectorIndex(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	if stmt.VectorOn == nil {
		return nil, newErr(KindParseError, "CREATE VECTOR INDEX requires ON <table>(<column>)")
	}
	r, err := resolveIdent(sess, *stmt.VectorOn)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectVector, rbac.ActionAlter, r.Path()+"."+stmt.VectorCol); err != nil {
		return nil, err
	}
	if _, err := e.openTable(r.DB, r.Schema, r.Table); err != nil {
		return nil, err
	}
	meta := storage.VectorIndexMeta{
		Table: r.Table, Column: stmt.VectorCol, Algorithm: stmt.VectorAlgo,
		Metric: stmt.VectorMetric, M: stmt.VectorM, EfBuild: stmt.VectorEfBuild,
	}
	if err := e.catalog(r.DB).PutVectorIndexMeta(meta); err != nil {
		return nil, wrapErr(KindInternal, err, "creating vector index on %s.%s", r.Path(), stmt.VectorCol)
	}
	return &Result{Message: "CREATE VECTOR INDEX"}, nil
}

func (e *Engine) createGraph(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	db, name, err := splitDBName(sess, stmt.Name)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectGraph, rbac.ActionAlter, db+"."+name); err != nil {
		return nil, err
	}
	if err := e.catalog(db).PutGraphSpec(name, graphSpecDefOf(stmt.GraphSpec)); err != nil {
		return nil, wrapErr(KindInternal, err, "creating graph %s.%s", db, name)
	}
	if _, err := e.catalog(db).OpenGraph(name); err != nil {
		return nil, wrapErr(KindInternal, err, "opening graph %s.%s", db, name)
	}
	return &Result{Message: "CREATE GRAPH"}, nil
}

// graphSpecDefOf converts the parser's GraphSpec into storage's persisted
// form; spec may be nil if CREATE GRAPH was given no NODES/EDGES body.
func graphSpecDefOf(spec *ast.GraphSpec) storage.GraphSpecDef {
	if spec == nil {
		return storage.GraphSpecDef{}
	}
	out := storage.GraphSpecDef{NodesTable: spec.NodesTable, EdgesTable: spec.EdgesTable}
	for _, n := range spec.Nodes {
		out.Nodes = append(out.Nodes, storage.GraphNodeSpecDef{Label: n.Label, KeyCol: n.KeyCol})
	}
	for _, ed := range spec.Edges {
		out.Edges = append(out.Edges, storage.GraphEdgeSpecDef{Type: ed.Type, From: ed.From, To: ed.To})
	}
	return out
}

// createScript stores a script body as a zero-argument UDF-like definition:
// CREATE SCRIPT is a reusable named expression body, the same persistence
// shape as a UDF without parameters.
func (e *Engine) createScript(sess *session.Session, stmt *ast.CreateStmt) (*Result, error) {
	r, err := resolveIdent(sess, stmt.Name)
	if err != nil {
		return nil, err
	}
	if err := e.checkTable(sess, r, rbac.ActionAlter); err != nil {
		return nil, err
	}
	if err := e.catalog(r.DB).PutUDF(storage.UDFDef{Name: r.Table, Body: stmt.ScriptBody}); err != nil {
		return nil, wrapErr(KindInternal, err, "creating script %s", r.Path())
	}
	return &Result{Message: "CREATE SCRIPT"}, nil
}

func (e *Engine) execDrop(sess *session.Session, stmt *ast.DropStmt) (*Result, error) {
	switch stmt.Kind {
	case ast.ObjDatabase:
		name := stmt.Name.Last()
		if err := e.checkRBAC(sess, rbac.ObjectDB, rbac.ActionDrop, name); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(filepath.Join(e.root, name)); err != nil {
			if !stmt.IfExists {
				return nil, wrapErr(KindInternal, err, "dropping database %q", name)
			}
		}
		storage.BumpEpoch()
		return &Result{Message: "DROP DATABASE"}, nil

	case ast.ObjSchema:
		db, schema, err := splitDBName(sess, stmt.Name)
		if err != nil {
			return nil, err
		}
		if err := e.checkRBAC(sess, rbac.ObjectSchema, rbac.ActionDrop, db+"."+schema); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(filepath.Join(e.root, db, schema)); err != nil && !stmt.IfExists {
			return nil, wrapErr(KindInternal, err, "dropping schema %q", schema)
		}
		storage.BumpEpoch()
		return &Result{Message: "DROP SCHEMA"}, nil

	case ast.ObjTable, ast.ObjTimeTable:
		r, err := resolveIdent(sess, stmt.Name)
		if err != nil {
			return nil, err
		}
		if err := e.checkTable(sess, r, rbac.ActionDrop); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(e.paths.TableDir(r.DB, r.Schema, r.Table)); err != nil {
			if !stmt.IfExists {
				return nil, wrapErr(KindInternal, err, "dropping table %s", r.Path())
			}
		}
		e.forgetTable(r.DB, r.Schema, r.Table)
		return &Result{Message: "DROP TABLE"}, nil

	case ast.ObjView:
		r, err := resolveIdent(sess, stmt.Name)
		if err != nil {
			return nil, err
		}
		if err := e.checkTable(sess, r, rbac.ActionDrop); err != nil {
			return nil, err
		}
		if err := e.catalog(r.DB).DropView(r.Table); err != nil {
			return nil, wrapErr(KindInternal, err, "dropping view %s", r.Path())
		}
		return &Result{Message: "DROP VIEW"}, nil

	case ast.ObjStore:
		db, name, err := splitDBName(sess, stmt.Name)
		if err != nil {
			return nil, err
		}
		if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionDrop, db+".store."+name); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(filepath.Dir(e.paths.NamespacePath(db, name))); err != nil && !stmt.IfExists {
			return nil, wrapErr(KindInternal, err, "dropping store %s.%s", db, name)
		}
		e.mu.Lock()
		delete(e.namespaces, db+".store."+name)
		e.mu.Unlock()
		storage.BumpEpoch()
		return &Result{Message: "DROP STORE"}, nil

	case ast.ObjGraph:
		db, name, err := splitDBName(sess, stmt.Name)
		if err != nil {
			return nil, err
		}
		if err := e.checkRBAC(sess, rbac.ObjectGraph, rbac.ActionDrop, db+"."+name); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(e.paths.GraphDir(db, name)); err != nil && !stmt.IfExists {
			return nil, wrapErr(KindInternal, err, "dropping graph %s.%s", db, name)
		}
		if err := e.catalog(db).DropGraphSpec(name); err != nil && !stmt.IfExists {
			return nil, wrapErr(KindInternal, err, "dropping graph spec %s.%s", db, name)
		}
		return &Result{Message: "DROP GRAPH"}, nil

	case ast.ObjScript:
		r, err := resolveIdent(sess, stmt.Name)
		if err != nil {
			return nil, err
		}
		if err := e.checkTable(sess, r, rbac.ActionDrop); err != nil {
			return nil, err
		}
		if err := e.catalog(r.DB).DropUDF(r.Table); err != nil && !stmt.IfExists {
			return nil, wrapErr(KindInternal, err, "dropping script %s", r.Path())
		}
		return &Result{Message: "DROP SCRIPT"}, nil

	default:
		return nil, newErr(KindInternal, "unsupported DROP object kind %d", stmt.Kind)
	}
}

func (e *Engine) execRename(sess *session.Session, stmt *ast.RenameStmt) (*Result, error) {
	switch stmt.Kind {
	case ast.ObjTable, ast.ObjTimeTable:
		from, err := resolveIdent(sess, stmt.From)
		if err != nil {
			return nil, err
		}
		to, err := resolveIdent(sess, stmt.To)
		if err != nil {
			return nil, err
		}
		if err := e.checkTable(sess, from, rbac.ActionAlter); err != nil {
			return nil, err
		}
		if err := os.Rename(e.paths.TableDir(from.DB, from.Schema, from.Table), e.paths.TableDir(to.DB, to.Schema, to.Table)); err != nil {
			return nil, wrapErr(KindInternal, err, "renaming table %s to %s", from.Path(), to.Path())
		}
		e.forgetTable(from.DB, from.Schema, from.Table)
		e.forgetTable(to.DB, to.Schema, to.Table)
		return &Result{Message: "ALTER TABLE"}, nil

	case ast.ObjStore:
		fromDB, fromName, err := splitDBName(sess, stmt.From)
		if err != nil {
			return nil, err
		}
		toDB, toName, err := splitDBName(sess, stmt.To)
		if err != nil {
			return nil, err
		}
		if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionAlter, fromDB+".store."+fromName); err != nil {
			return nil, err
		}
		if err := os.Rename(filepath.Dir(e.paths.NamespacePath(fromDB, fromName)), filepath.Dir(e.paths.NamespacePath(toDB, toName))); err != nil {
			return nil, wrapErr(KindInternal, err, "renaming store %s.%s to %s.%s", fromDB, fromName, toDB, toName)
		}
		e.mu.Lock()
		delete(e.namespaces, fromDB+".store."+fromName)
		e.mu.Unlock()
		storage.BumpEpoch()
		return &Result{Message: "ALTER STORE"}, nil

	default:
		return nil, newErr(KindInternal, "RENAME is not supported for object kind %d", stmt.Kind)
	}
}
