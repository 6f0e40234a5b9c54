package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/eval"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/storage"
	"github.com/lattice-db/lattice/internal/types"
)

// emptyRowCtx evaluates literal-only expressions (INSERT values, WRITE KEY
// values) that reference no source frame, same empty-frame idiom
// source.go's TVF argument evaluation uses.
func emptyRowCtx(runner eval.QueryRunner) *eval.Context {
	return eval.NewContext(frame.New(nil, nil), 0, runner)
}

func (e *Engine) execInsert(sess *session.Session, stmt *ast.InsertStmt) (*Result, error) {
	r, err := resolveIdent(sess, stmt.Table)
	if err != nil {
		return nil, err
	}
	if err := e.checkTable(sess, r, rbac.ActionWrite); err != nil {
		return nil, err
	}
	t, err := e.openTable(r.DB, r.Schema, r.Table)
	if err != nil {
		return nil, err
	}
	meta := t.Meta()

	targetCols := stmt.Columns
	if len(targetCols) == 0 {
		targetCols = meta.Names()
	}
	colSlot := make([]int, len(targetCols))
	for i, name := range targetCols {
		idx := -1
		for c, col := range meta.Columns {
			if col.Name == name {
				idx = c
				break
			}
		}
		if idx < 0 {
			return nil, newErr(KindTypeMismatch, "unknown column %q in INSERT INTO %s", name, r.Path())
		}
		colSlot[i] = idx
	}

	runner := &engineRunner{eng: e, sess: sess}
	out := frame.New(meta.Names(), meta.Kinds())
	out.Columns = make([][]types.Value, len(meta.Columns))
	for ri, row := range stmt.Rows {
		if len(row) != len(targetCols) {
			return nil, newErr(KindTypeMismatch, "row %d has %d values, expected %d", ri+1, len(row), len(targetCols))
		}
		vals := make([]types.Value, len(meta.Columns))
		for c, col := range meta.Columns {
			vals[c] = types.NullValue(col.Type)
		}
		ctx := emptyRowCtx(runner)
		for i, expr := range row {
			v, err := eval.Eval(ctx, expr)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating row %d column %q", ri+1, targetCols[i])
			}
			// Vector columns accept their JSON-array string spelling.
			if col := meta.Columns[colSlot[i]]; col.Type == types.VectorF32 && !v.Null && v.Kind != types.VectorF32 {
				vec, perr := storage.ParseVectorText(v.S)
				if perr != nil {
					return nil, wrapErr(KindTypeMismatch, perr, "row %d column %q", ri+1, targetCols[i])
				}
				v = types.VectorValue(vec)
			}
			vals[colSlot[i]] = v
		}
		out.AppendRow(vals, int64(ri))
	}

	if len(meta.PrimaryKey) > 0 {
		if err := e.checkPrimaryKey(t, meta, out, r); err != nil {
			return nil, err
		}
	}

	if err := t.Append(out); err != nil {
		return nil, wrapErr(KindInternal, err, "inserting into %s", r.Path())
	}
	return &Result{Message: "INSERT", RowsAffected: int64(len(stmt.Rows))}, nil
}

// checkPrimaryKey rejects rows whose declared-key tuple collides with a live
// row or with another row in the same batch.
func (e *Engine) checkPrimaryKey(t *storage.Table, meta storage.TableMeta, batch *frame.Frame, r resolved) error {
	keyOf := func(f *frame.Frame, row int) (string, error) {
		var sb strings.Builder
		for _, col := range meta.PrimaryKey {
			ci := f.ColIndex(col)
			if ci < 0 {
				return "", newErr(KindInternal, "primary key column %q missing from %s", col, r.Path())
			}
			v := f.Columns[ci][row]
			if v.Null {
				return "", newErr(KindConflict, "primary key column %q is NULL", col)
			}
			sb.WriteString(valueKey(v))
			sb.WriteByte(0)
		}
		return sb.String(), nil
	}

	existing, err := t.Read()
	if err != nil {
		return wrapErr(KindInternal, err, "reading table %s", r.Path())
	}
	seen := make(map[string]bool, existing.NumRows()+batch.NumRows())
	for row := 0; row < existing.NumRows(); row++ {
		k, err := keyOf(existing, row)
		if err != nil {
			return err
		}
		seen[k] = true
	}
	for row := 0; row < batch.NumRows(); row++ {
		k, err := keyOf(batch, row)
		if err != nil {
			return err
		}
		if seen[k] {
			return newErr(KindConflict, "duplicate primary key in %s", r.Path())
		}
		seen[k] = true
	}
	return nil
}

func (e *Engine) execUpdate(sess *session.Session, stmt *ast.UpdateStmt) (*Result, error) {
	r, err := resolveIdent(sess, stmt.Table)
	if err != nil {
		return nil, err
	}
	if err := e.checkTable(sess, r, rbac.ActionWrite); err != nil {
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

	runner := &engineRunner{eng: e, sess: sess}
	var affected int64
	for row := 0; row < f.NumRows(); row++ {
		ctx := eval.NewContext(f, row, runner)
		if stmt.Where != nil {
			v, err := eval.Eval(ctx, stmt.Where)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating WHERE")
			}
			if v.Null || !v.B {
				continue
			}
		}
		for _, asn := range stmt.Assignments {
			ci := f.ColIndex(asn.Column)
			if ci < 0 {
				return nil, newErr(KindTypeMismatch, "unknown column %q in UPDATE %s", asn.Column, r.Path())
			}
			v, err := eval.Eval(ctx, asn.Value)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating assignment to %q", asn.Column)
			}
			f.Columns[ci][row] = v
		}
		affected++
	}

	if err := t.Replace(f); err != nil {
		return nil, wrapErr(KindInternal, err, "updating %s", r.Path())
	}
	return &Result{Message: "UPDATE", RowsAffected: affected}, nil
}

func (e *Engine) execDelete(sess *session.Session, stmt *ast.DeleteStmt) (*Result, error) {
	r, err := resolveIdent(sess, stmt.Table)
	if err != nil {
		return nil, err
	}
	if err := e.checkTable(sess, r, rbac.ActionWrite); err != nil {
		return nil, err
	}
	t, err := e.openTable(r.DB, r.Schema, r.Table)
	if err != nil {
		return nil, err
	}

	if len(stmt.DropColumns) > 0 {
		if err := t.DropColumns(stmt.DropColumns); err != nil {
			return nil, wrapErr(KindInternal, err, "dropping columns from %s", r.Path())
		}
		return &Result{Message: "DELETE COLUMNS"}, nil
	}

	f, err := t.Read()
	if err != nil {
		return nil, wrapErr(KindInternal, err, "reading table %s", r.Path())
	}
	runner := &engineRunner{eng: e, sess: sess}
	var keep []int
	for row := 0; row < f.NumRows(); row++ {
		match := true
		if stmt.Where != nil {
			v, err := eval.Eval(eval.NewContext(f, row, runner), stmt.Where)
			if err != nil {
				return nil, wrapErr(KindTypeMismatch, err, "evaluating WHERE")
			}
			match = !v.Null && v.B
		}
		if !match {
			keep = append(keep, row)
		}
	}
	deleted := f.NumRows() - len(keep)
	if err := t.Replace(f.Select(keep)); err != nil {
		return nil, wrapErr(KindInternal, err, "deleting from %s", r.Path())
	}
	return &Result{Message: "DELETE", RowsAffected: int64(deleted)}, nil
}

// execCalculate runs the inner SELECT and appends its (_time, target) rows
// into the sensor's time-series table, same sink path as SELECT ... INTO.
func (e *Engine) execCalculate(sess *session.Session, stmt *ast.CalculateStmt, deadline time.Time) (*Result, error) {
	f, err := e.runSelect(sess, stmt.Query, deadline)
	if err != nil {
		return nil, err
	}
	target := ast.Ident{Parts: []string{stmt.Sensor}, Raw: stmt.Sensor}
	if err := e.sinkInto(sess, &target, "APPEND", f); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("CALCULATE %d", f.NumRows()), RowsAffected: int64(f.NumRows())}, nil
}
