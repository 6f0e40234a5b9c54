// Package engine implements the execution planner/engine: it resolves a
// parsed ast.Command against session defaults and RBAC,
// dispatches to the storage adapter and multi-model TVFs, and runs the
// scan->filter->group->window->order->limit->sink pipeline over columnar
// frame.Frame batches.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/parser"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/storage"
	"github.com/lattice-db/lattice/internal/types"
)

// Result is the row-oriented result set or command-complete acknowledgement
// a statement produces.
type Result struct {
	Columns      []string
	ColumnTypes  []types.Kind
	Rows         [][]types.Value
	RowsAffected int64
	Message      string
	ElapsedMs    int64
}

// Engine owns every table/namespace/catalog handle opened under one
// storage root, caching them for reuse across statements in the same
// process. Tables are exclusively owned by their storage
// adapter; this cache just avoids re-reading schema.json on every
// statement.
type Engine struct {
	root   string
	logger *slog.Logger
	RBAC   *rbac.Registry

	mu         sync.Mutex
	tables     map[string]*storage.Table
	namespaces map[string]*storage.Namespace
	catalogs   map[string]*storage.Catalog
	paths      storage.Paths
}

func New(root string, rbacReg *rbac.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		root:       root,
		logger:     logger,
		RBAC:       rbacReg,
		tables:     map[string]*storage.Table{},
		namespaces: map[string]*storage.Namespace{},
		catalogs:   map[string]*storage.Catalog{},
		paths:      storage.Paths{Root: root},
	}
}

func tableKey(db, schema, table string) string { return db + "/" + schema + "/" + table }

func (e *Engine) catalog(db string) *storage.Catalog {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.catalogs[db]; ok {
		return c
	}
	c := storage.OpenCatalog(e.root, db)
	e.catalogs[db] = c
	return c
}

func (e *Engine) openTable(db, schema, table string) (*storage.Table, error) {
	key := tableKey(db, schema, table)
	e.mu.Lock()
	if t, ok := e.tables[key]; ok {
		e.mu.Unlock()
		return t, nil
	}
	e.mu.Unlock()

	t, err := storage.OpenTable(e.paths.TableDir(db, schema, table))
	if err != nil {
		return nil, wrapErr(KindNotFound, err, "table %s.%s.%s", db, schema, table)
	}
	e.mu.Lock()
	e.tables[key] = t
	e.mu.Unlock()
	return t, nil
}

func (e *Engine) createTable(db, schema, table string, meta storage.TableMeta) (*storage.Table, error) {
	key := tableKey(db, schema, table)
	t, err := storage.CreateTable(e.paths.TableDir(db, schema, table), meta)
	if err != nil {
		return nil, wrapErr(KindInternal, err, "creating table %s.%s.%s", db, schema, table)
	}
	e.mu.Lock()
	e.tables[key] = t
	e.mu.Unlock()
	storage.BumpEpoch()
	return t, nil
}

func (e *Engine) forgetTable(db, schema, table string) {
	e.mu.Lock()
	delete(e.tables, tableKey(db, schema, table))
	e.mu.Unlock()
	storage.BumpEpoch()
}

func (e *Engine) namespace(db, ns string) (*storage.Namespace, error) {
	key := db + ".store." + ns
	e.mu.Lock()
	if n, ok := e.namespaces[key]; ok {
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()

	n, err := storage.OpenNamespace(e.paths.NamespacePath(db, ns))
	if err != nil {
		return nil, wrapErr(KindInternal, err, "namespace %s", key)
	}
	e.mu.Lock()
	e.namespaces[key] = n
	e.mu.Unlock()
	return n, nil
}

// ---- identifier resolution ----

// resolved is a fully qualified db/schema/table triple completed against
// session defaults.
type resolved struct {
	DB     string
	Schema string
	Table  string
}

func (r resolved) Path() string { return r.DB + "." + r.Schema + "." + r.Table }

func resolveIdent(sess *session.Session, id ast.Ident) (resolved, error) {
	parts := id.Parts
	switch len(parts) {
	case 1:
		if sess.CurrentDB == "" {
			return resolved{}, newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		return resolved{DB: sess.CurrentDB, Schema: sess.CurrentSchema, Table: parts[0]}, nil
	case 2:
		if sess.CurrentDB == "" {
			return resolved{}, newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		return resolved{DB: sess.CurrentDB, Schema: parts[0], Table: parts[1]}, nil
	case 3:
		return resolved{DB: parts[0], Schema: parts[1], Table: parts[2]}, nil
	default:
		return resolved{}, newErr(KindParseError, "malformed identifier %q", id.Raw)
	}
}

// resolveNamespace splits a db.store.<name> path (or store.<name> against
// the current database) into (db, namespace).
func resolveNamespace(sess *session.Session, id ast.Ident) (string, string, error) {
	parts := id.Parts
	switch {
	case len(parts) == 3 && parts[1] == "store":
		return parts[0], parts[2], nil
	case len(parts) == 2 && parts[0] == "store":
		if sess.CurrentDB == "" {
			return "", "", newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		return sess.CurrentDB, parts[1], nil
	default:
		return "", "", newErr(KindParseError, "malformed namespace reference %q (expected db.store.name)", id.Raw)
	}
}

// ---- RBAC gate ----

func (e *Engine) checkRBAC(sess *session.Session, obj rbac.Object, action rbac.Action, path string) error {
	if e.RBAC == nil {
		return nil
	}
	user, ok := e.RBAC.GetUser(sess.User)
	if !ok {
		return newErr(KindDenied, "unknown user %q", sess.User)
	}
	priv := rbac.Privilege{Object: obj, Action: action}
	if !e.RBAC.Check(user, priv, path, storage.Epoch()) {
		return newErr(KindDenied, "permission denied for %s on %s", priv, path)
	}
	return nil
}

func (e *Engine) checkTable(sess *session.Session, r resolved, action rbac.Action) error {
	return e.checkRBAC(sess, rbac.ObjectTable, action, r.Path())
}

// ---- deadline / cancellation plumbing ----

func checkDeadline(sess *session.Session, deadline time.Time) error {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return newErr(KindTimeout, "statement deadline exceeded")
	}
	select {
	case <-sess.Canceled():
		return newErr(KindCanceled, "statement canceled")
	default:
		return nil
	}
}

// ---- top-level dispatch ----

// Execute resolves and runs cmd against sess's current db/schema, returning
// a Result. deadline is the optional per-statement cancellation point;
// zero value means no deadline.
func (e *Engine) Execute(sess *session.Session, cmd ast.Command, deadline time.Time) (*Result, error) {
	start := time.Now()
	if err := checkDeadline(sess, deadline); err != nil {
		return nil, err
	}

	var res *Result
	var err error
	switch n := cmd.(type) {
	case *ast.SelectStmt:
		f, rerr := e.runSelect(sess, n, deadline)
		if rerr != nil {
			err = rerr
			break
		}
		res = frameToResult(f)
	case *ast.InsertStmt:
		res, err = e.execInsert(sess, n)
	case *ast.UpdateStmt:
		res, err = e.execUpdate(sess, n)
	case *ast.DeleteStmt:
		res, err = e.execDelete(sess, n)
	case *ast.CalculateStmt:
		res, err = e.execCalculate(sess, n, deadline)
	case *ast.CreateStmt:
		res, err = e.execCreate(sess, n)
	case *ast.DropStmt:
		res, err = e.execDrop(sess, n)
	case *ast.RenameStmt:
		res, err = e.execRename(sess, n)
	case *ast.WriteKeyStmt:
		res, err = e.execWriteKey(sess, n)
	case *ast.ReadKeyStmt:
		res, err = e.execReadKey(sess, n)
	case *ast.DropKeyStmt:
		res, err = e.execDropKey(sess, n)
	case *ast.RenameKeyStmt:
		res, err = e.execRenameKey(sess, n)
	case *ast.ListStmt:
		res, err = e.execList(sess, n)
	case *ast.DescribeStmt:
		res, err = e.execDescribe(sess, n)
	case *ast.ShowStmt:
		res, err = e.execShow(sess, n)
	case *ast.UseStmt:
		res, err = e.execUse(sess, n)
	case *ast.SetStmt:
		res, err = e.execSet(sess, n)
	case *ast.SliceStmt:
		res, err = e.execSlice(sess, n)
	case *ast.UserStmt:
		res, err = e.execUser(sess, n)
	default:
		err = newErr(KindInternal, "unsupported command type %T", cmd)
	}
	if err != nil {
		if KindOf(err) == KindInternal {
			// Internal errors log a correlation id; the caller only sees the
			// opaque message.
			e.logger.Error("internal error", "correlation_id", uuid.NewString(), "err", err)
		}
		return nil, err
	}
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res, nil
}

func frameToResult(f *frame.Frame) *Result {
	rows := make([][]types.Value, f.NumRows())
	for i := 0; i < f.NumRows(); i++ {
		rows[i] = f.Row(i)
	}
	return &Result{
		Columns:     append([]string(nil), f.ColumnNames...),
		ColumnTypes: append([]types.Kind(nil), f.ColumnTypes...),
		Rows:        rows,
	}
}

// engineRunner implements eval.QueryRunner by running a nested SELECT
// through the same engine and session, injected to avoid an eval<->engine
// import cycle.
type engineRunner struct {
	eng      *Engine
	sess     *session.Session
	deadline time.Time
}

func (r *engineRunner) RunSubquery(stmt *ast.SelectStmt) (*frame.Frame, error) {
	return r.eng.runSelect(r.sess, stmt, r.deadline)
}

// ResolveUDF looks up a stored scalar function in the current database's
// catalog, parsing its body expression on each resolution so the definition
// always reflects the latest CREATE SCRIPT (same re-parse-at-use policy as
// views).
func (r *engineRunner) ResolveUDF(name string) ([]string, ast.Expr, bool) {
	if r.sess.CurrentDB == "" {
		return nil, nil, false
	}
	def, ok, err := r.eng.catalog(r.sess.CurrentDB).GetUDF(name)
	if err != nil || !ok {
		return nil, nil, false
	}
	cmds, err := parser.Parse("SELECT " + def.Body)
	if err != nil {
		return nil, nil, false
	}
	sel, isSel := cmds[0].(*ast.SelectStmt)
	if !isSel || len(sel.Items) == 0 {
		return nil, nil, false
	}
	return def.Params, sel.Items[0].Expr, true
}
