package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/internal/ast"
)

func TestRegistryCreateAndGet(t *testing.T) {
	reg := NewRegistry(time.Hour)
	s := reg.Create("alice", []string{"analyst"})

	require.NotEmpty(t, s.Token)
	assert.Equal(t, "alice", s.User)
	assert.Equal(t, "public", s.CurrentSchema)
	assert.Equal(t, "UTF8", s.Encoding)

	got, ok := reg.Get(s.Token)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = reg.Get("not-a-token")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Count())
}

func TestTokensAreUnique(t *testing.T) {
	reg := NewRegistry(time.Hour)
	a := reg.Create("u", nil)
	b := reg.Create("u", nil)
	assert.NotEqual(t, a.Token, b.Token)
	assert.Len(t, a.Token, 64) // 32 random bytes, hex-encoded
}

func TestRevocation(t *testing.T) {
	reg := NewRegistry(time.Hour)
	s := reg.Create("alice", nil)
	reg.Revoke(s.Token)

	_, ok := reg.Get(s.Token)
	assert.False(t, ok)
	assert.True(t, reg.IsRevoked(s.Token))

	// Sweeping before the denylist TTL keeps the revocation visible.
	reg.Sweep()
	assert.True(t, reg.IsRevoked(s.Token))
}

func TestExpiryAndSweep(t *testing.T) {
	reg := NewRegistry(-time.Second) // already expired at creation
	s := reg.Create("alice", nil)

	_, ok := reg.Get(s.Token)
	assert.False(t, ok)

	reg.Sweep()
	assert.Equal(t, 0, reg.Count())
}

func TestCancellation(t *testing.T) {
	reg := NewRegistry(time.Hour)
	s := reg.Create("alice", nil)

	select {
	case <-s.Canceled():
		t.Fatal("fresh session must not be canceled")
	default:
	}

	s.Cancel()
	s.Cancel() // idempotent
	select {
	case <-s.Canceled():
	default:
		t.Fatal("canceled session must signal")
	}
}

func TestPreparedStatementAndPortalCaches(t *testing.T) {
	reg := NewRegistry(time.Hour)
	s := reg.Create("alice", nil)

	stmt := &PreparedStmt{Name: "ps", Command: &ast.SelectStmt{}, ParamOIDs: []uint32{23}}
	s.PutPrepared("ps", stmt)
	got, ok := s.GetPrepared("ps")
	require.True(t, ok)
	assert.Same(t, stmt, got)

	p := &Portal{Name: "p", Stmt: stmt}
	s.PutPortal("p", p)
	gp, ok := s.GetPortal("p")
	require.True(t, ok)
	assert.Same(t, p, gp)

	s.ClosePrepared("ps")
	_, ok = s.GetPrepared("ps")
	assert.False(t, ok)
	s.ClosePortal("p")
	_, ok = s.GetPortal("p")
	assert.False(t, ok)

	// Unnamed statement/portal slots behave like any other name.
	s.PutPrepared("", stmt)
	_, ok = s.GetPrepared("")
	assert.True(t, ok)
}
