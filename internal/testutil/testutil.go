// Package testutil carries the shared fixtures the package tests build on:
// an engine over a temp storage root and a SQL one-liner runner, so each
// test reads as the statements it executes.
package testutil

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/internal/engine"
	"github.com/lattice-db/lattice/internal/parser"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
)

// Quiet is a logger that discards everything, for tests that don't assert
// on log output.
func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewEngine returns an engine over a fresh temp root with RBAC disabled and
// a session with no current database selected.
func NewEngine(t *testing.T) (*engine.Engine, *session.Session) {
	t.Helper()
	eng := engine.New(t.TempDir(), nil, Quiet())
	sess := session.NewRegistry(time.Hour).Create("tester", nil)
	return eng, sess
}

// NewEngineWithRBAC is NewEngine with a populated RBAC registry and an
// admin session, for tests that exercise authorization.
func NewEngineWithRBAC(t *testing.T, reg *rbac.Registry) (*engine.Engine, *session.Session) {
	t.Helper()
	eng := engine.New(t.TempDir(), reg, Quiet())
	sess := session.NewRegistry(time.Hour).Create("admin", []string{rbac.AdminRole})
	return eng, sess
}

// Exec parses and executes every statement in sql, failing the test on any
// error, and returns the last statement's result.
func Exec(t *testing.T, eng *engine.Engine, sess *session.Session, sql string) *engine.Result {
	t.Helper()
	cmds, err := parser.Parse(sql)
	require.NoError(t, err, "parsing %q", sql)
	var last *engine.Result
	for _, cmd := range cmds {
		last, err = eng.Execute(sess, cmd, time.Time{})
		require.NoError(t, err, "executing %q", sql)
	}
	return last
}

// ExecErr parses and executes sql, returning the first error from either
// stage; the test decides what the error should look like.
func ExecErr(t *testing.T, eng *engine.Engine, sess *session.Session, sql string) error {
	t.Helper()
	cmds, err := parser.Parse(sql)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if _, err := eng.Execute(sess, cmd, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap creates database db with a public schema and selects both.
func Bootstrap(t *testing.T, eng *engine.Engine, sess *session.Session, db string) {
	t.Helper()
	Exec(t, eng, sess, "CREATE DATABASE "+db)
	Exec(t, eng, sess, "USE DATABASE "+db)
	Exec(t, eng, sess, "CREATE SCHEMA IF NOT EXISTS public")
	Exec(t, eng, sess, "USE SCHEMA public")
}
