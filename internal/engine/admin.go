package engine

import (
	"crypto/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/eval"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/storage"
	"github.com/lattice-db/lattice/internal/types"
)

// ---- KV statements ----

func (e *Engine) execWriteKey(sess *session.Session, stmt *ast.WriteKeyStmt) (*Result, error) {
	db, name, err := resolveNamespace(sess, stmt.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionWrite, db+".store."+name); err != nil {
		return nil, err
	}
	ns, err := e.namespace(db, name)
	if err != nil {
		return nil, err
	}
	v, err := eval.Eval(emptyRowCtx(nil), stmt.Value)
	if err != nil {
		return nil, wrapErr(KindTypeMismatch, err, "evaluating key value")
	}
	if err := ns.Write(stmt.Key, v, stmt.TTLMillis, stmt.ResetOnAccess, time.Now().UnixMilli()); err != nil {
		return nil, wrapErr(KindInternal, err, "writing key %q", stmt.Key)
	}
	return &Result{Message: "WRITE KEY", RowsAffected: 1}, nil
}

func (e *Engine) execReadKey(sess *session.Session, stmt *ast.ReadKeyStmt) (*Result, error) {
	db, name, err := resolveNamespace(sess, stmt.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionRead, db+".store."+name); err != nil {
		return nil, err
	}
	ns, err := e.namespace(db, name)
	if err != nil {
		return nil, err
	}
	v, ok, err := ns.Read(stmt.Key, time.Now().UnixMilli())
	if err != nil {
		return nil, wrapErr(KindInternal, err, "reading key %q", stmt.Key)
	}
	if !ok {
		return nil, newErr(KindNotFound, "key %q not found in %s.store.%s", stmt.Key, db, name)
	}
	return &Result{
		Columns:     []string{"key", "value"},
		ColumnTypes: []types.Kind{types.Text, v.Kind},
		Rows:        [][]types.Value{{types.TextValue(stmt.Key), v}},
	}, nil
}

func (e *Engine) execDropKey(sess *session.Session, stmt *ast.DropKeyStmt) (*Result, error) {
	db, name, err := resolveNamespace(sess, stmt.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionWrite, db+".store."+name); err != nil {
		return nil, err
	}
	ns, err := e.namespace(db, name)
	if err != nil {
		return nil, err
	}
	if err := ns.Drop(stmt.Key); err != nil {
		if stmt.IfExists {
			return &Result{Message: "DROP KEY"}, nil
		}
		return nil, wrapErr(KindNotFound, err, "dropping key %q", stmt.Key)
	}
	return &Result{Message: "DROP KEY", RowsAffected: 1}, nil
}

func (e *Engine) execRenameKey(sess *session.Session, stmt *ast.RenameKeyStmt) (*Result, error) {
	db, name, err := resolveNamespace(sess, stmt.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionWrite, db+".store."+name); err != nil {
		return nil, err
	}
	ns, err := e.namespace(db, name)
	if err != nil {
		return nil, err
	}
	if err := ns.Rename(stmt.From, stmt.To); err != nil {
		return nil, wrapErr(KindNotFound, err, "renaming key %q", stmt.From)
	}
	return &Result{Message: "RENAME KEY", RowsAffected: 1}, nil
}

func (e *Engine) execList(sess *session.Session, stmt *ast.ListStmt) (*Result, error) {
	if stmt.Stores {
		db := stmt.DB.Last()
		if db == "" {
			db = sess.CurrentDB
		}
		if db == "" {
			return nil, newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionRead, db); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(e.root)
		if err != nil {
			return nil, wrapErr(KindInternal, err, "listing stores in %q", db)
		}
		prefix := db + ".store."
		out := &Result{Columns: []string{"store"}, ColumnTypes: []types.Kind{types.Text}}
		for _, ent := range entries {
			if ent.IsDir() && strings.HasPrefix(ent.Name(), prefix) {
				out.Rows = append(out.Rows, []types.Value{types.TextValue(strings.TrimPrefix(ent.Name(), prefix))})
			}
		}
		return out, nil
	}

	db, name, err := resolveNamespace(sess, stmt.DB)
	if err != nil {
		return nil, err
	}
	if err := e.checkRBAC(sess, rbac.ObjectFile, rbac.ActionRead, db+".store."+name); err != nil {
		return nil, err
	}
	ns, err := e.namespace(db, name)
	if err != nil {
		return nil, err
	}
	out := &Result{Columns: []string{"key"}, ColumnTypes: []types.Kind{types.Text}}
	for _, k := range ns.ListKeys(stmt.Prefix, time.Now().UnixMilli()) {
		out.Rows = append(out.Rows, []types.Value{types.TextValue(k)})
	}
	return out, nil
}

// ---- DESCRIBE / SHOW ----

func (e *Engine) execDescribe(sess *session.Session, stmt *ast.DescribeStmt) (*Result, error) {
	r, err := resolveIdent(sess, stmt.Name)
	if err != nil {
		return nil, err
	}
	if err := e.checkTable(sess, r, rbac.ActionRead); err != nil {
		return nil, err
	}

	if view, ok, verr := e.catalog(r.DB).GetView(r.Table); verr == nil && ok {
		return &Result{
			Columns:     []string{"view", "definition"},
			ColumnTypes: []types.Kind{types.Text, types.Text},
			Rows:        [][]types.Value{{types.TextValue(r.Table), types.TextValue(view.Query)}},
		}, nil
	}

	t, err := e.openTable(r.DB, r.Schema, r.Table)
	if err != nil {
		return nil, err
	}
	meta := t.Meta()
	pk := map[string]bool{}
	for _, c := range meta.PrimaryKey {
		pk[c] = true
	}
	out := &Result{
		Columns:     []string{"column", "type", "nullable", "primary_key"},
		ColumnTypes: []types.Kind{types.Text, types.Text, types.Boolean, types.Boolean},
	}
	for _, c := range meta.Columns {
		out.Rows = append(out.Rows, []types.Value{
			types.TextValue(c.Name),
			types.TextValue(c.TypeName),
			types.BoolValue(c.Nullable),
			types.BoolValue(pk[c.Name]),
		})
	}
	return out, nil
}

func (e *Engine) execShow(sess *session.Session, stmt *ast.ShowStmt) (*Result, error) {
	single := func(col string, names []string) *Result {
		sort.Strings(names)
		out := &Result{Columns: []string{col}, ColumnTypes: []types.Kind{types.Text}}
		for _, n := range names {
			out.Rows = append(out.Rows, []types.Value{types.TextValue(n)})
		}
		return out
	}

	switch stmt.What {
	case "databases":
		entries, err := os.ReadDir(e.root)
		if err != nil {
			return nil, wrapErr(KindInternal, err, "listing databases")
		}
		var names []string
		for _, ent := range entries {
			if ent.IsDir() && !strings.Contains(ent.Name(), ".store.") {
				names = append(names, ent.Name())
			}
		}
		return single("database", names), nil

	case "schemas":
		if sess.CurrentDB == "" {
			return nil, newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		entries, err := os.ReadDir(e.paths.Root + "/" + sess.CurrentDB)
		if err != nil {
			return nil, wrapErr(KindNotFound, err, "listing schemas in %q", sess.CurrentDB)
		}
		var names []string
		for _, ent := range entries {
			if ent.IsDir() && ent.Name() != ".system" {
				names = append(names, ent.Name())
			}
		}
		return single("schema", names), nil

	case "tables":
		if sess.CurrentDB == "" {
			return nil, newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		entries, err := os.ReadDir(e.paths.Root + "/" + sess.CurrentDB + "/" + sess.CurrentSchema)
		if err != nil {
			return nil, wrapErr(KindNotFound, err, "listing tables in %s.%s", sess.CurrentDB, sess.CurrentSchema)
		}
		var names []string
		for _, ent := range entries {
			if ent.IsDir() {
				names = append(names, ent.Name())
			}
		}
		return single("table", names), nil

	case "users":
		if e.RBAC == nil {
			return single("user", nil), nil
		}
		return single("user", e.RBAC.Users()), nil

	default:
		return nil, newErr(KindParseError, "unknown SHOW target %q", stmt.What)
	}
}

// ---- session statements ----

func (e *Engine) execUse(sess *session.Session, stmt *ast.UseStmt) (*Result, error) {
	if stmt.Schema {
		if sess.CurrentDB == "" {
			return nil, newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		dir := e.paths.Root + "/" + sess.CurrentDB + "/" + stmt.Name
		if _, err := os.Stat(dir); err != nil {
			return nil, newErr(KindNotFound, "schema %q not found in database %q", stmt.Name, sess.CurrentDB)
		}
		sess.CurrentSchema = stmt.Name
		return &Result{Message: "USE SCHEMA"}, nil
	}
	if _, err := os.Stat(e.paths.Root + "/" + stmt.Name); err != nil {
		return nil, newErr(KindNotFound, "database %q not found", stmt.Name)
	}
	sess.CurrentDB = stmt.Name
	if sess.CurrentSchema == "" {
		sess.CurrentSchema = "public"
	}
	return &Result{Message: "USE DATABASE"}, nil
}

func (e *Engine) execSet(sess *session.Session, stmt *ast.SetStmt) (*Result, error) {
	v, err := eval.Eval(emptyRowCtx(nil), stmt.Value)
	if err != nil {
		return nil, wrapErr(KindTypeMismatch, err, "evaluating SET value")
	}
	switch strings.ToLower(stmt.Name) {
	case "application_name":
		sess.AppName = v.String()
	case "client_encoding", "encoding":
		sess.Encoding = v.String()
	default:
		// Unknown parameters are accepted and ignored, the way PostgreSQL
		// treats custom GUCs it has no handler for.
	}
	return &Result{Message: "SET"}, nil
}

// execSlice returns a Python-style row range of a table in stable row-id
// order: either bound may be absent, negative bounds count from the end.
func (e *Engine) execSlice(sess *session.Session, stmt *ast.SliceStmt) (*Result, error) {
	r, err := resolveIdent(sess, stmt.Table)
	if err != nil {
		return nil, err
	}
	if err := e.checkTable(sess, r, rbac.ActionRead); err != nil {
		return nil, err
	}
	t, err := e.openTable(r.DB, r.Schema, r.Table)
	if err != nil {
		return nil, err
	}
	f, err := t.Read()
	if err != nil {
		return nil, wrapErr(KindInternal, err, "reading table %s", r.Path())
	}

	n := f.NumRows()
	bound := func(expr ast.Expr, fallback int) (int, error) {
		if expr == nil {
			return fallback, nil
		}
		v, err := eval.Eval(emptyRowCtx(nil), expr)
		if err != nil {
			return 0, wrapErr(KindTypeMismatch, err, "evaluating slice bound")
		}
		i, ok := v.AsInt()
		if !ok {
			return 0, newErr(KindTypeMismatch, "slice bound must be an integer")
		}
		idx := int(i)
		if idx < 0 {
			idx += n
		}
		if idx < 0 {
			idx = 0
		}
		if idx > n {
			idx = n
		}
		return idx, nil
	}
	start, err := bound(stmt.Start, 0)
	if err != nil {
		return nil, err
	}
	stop, err := bound(stmt.Stop, n)
	if err != nil {
		return nil, err
	}
	if stop < start {
		stop = start
	}
	idx := make([]int, 0, stop-start)
	for i := start; i < stop; i++ {
		idx = append(idx, i)
	}
	return frameToResult(f.Select(idx)), nil
}

// ---- user management ----

func (e *Engine) execUser(sess *session.Session, stmt *ast.UserStmt) (*Result, error) {
	if e.RBAC == nil {
		return nil, newErr(KindInternal, "user management requires an RBAC registry")
	}
	if err := e.checkRBAC(sess, rbac.ObjectDB, rbac.ActionAlter, ""); err != nil {
		return nil, err
	}

	switch stmt.Op {
	case ast.UserAdd:
		if _, ok := e.RBAC.GetUser(stmt.Username); ok {
			return nil, newErr(KindConflict, "user %q already exists", stmt.Username)
		}
		u := &rbac.User{Name: stmt.Username, Roles: stmt.Roles}
		if stmt.Password != "" {
			u.PasswordHash = rbac.HashPassword(stmt.Password, newSalt())
		}
		e.RBAC.PutUser(u)
		storage.BumpEpoch()
		return &Result{Message: "USER ADD", RowsAffected: 1}, nil

	case ast.UserAlter:
		u, ok := e.RBAC.GetUser(stmt.Username)
		if !ok {
			return nil, newErr(KindNotFound, "user %q not found", stmt.Username)
		}
		upd := *u
		if stmt.Password != "" {
			upd.PasswordHash = rbac.HashPassword(stmt.Password, newSalt())
		}
		if len(stmt.Roles) > 0 {
			upd.Roles = stmt.Roles
		}
		e.RBAC.PutUser(&upd)
		storage.BumpEpoch()
		return &Result{Message: "USER ALTER", RowsAffected: 1}, nil

	case ast.UserDelete:
		if _, ok := e.RBAC.GetUser(stmt.Username); !ok {
			return nil, newErr(KindNotFound, "user %q not found", stmt.Username)
		}
		e.RBAC.DeleteUser(stmt.Username)
		storage.BumpEpoch()
		return &Result{Message: "USER DELETE", RowsAffected: 1}, nil

	default:
		return nil, newErr(KindInternal, "unsupported USER operation %d", stmt.Op)
	}
}

func newSalt() []byte {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return b
}
