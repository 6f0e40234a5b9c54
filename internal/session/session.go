// Package session models per-connection state: user/roles, current
// db/schema, prepared-statement and portal caches, owned by a
// process-wide Registry with TTL eviction. Modeled as one explicit
// service object rather than ambient globals, so tests stay hermetic.
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/types"
)

// PreparedStmt is a pgwire-extended-protocol Parse result: a command plus
// the parameter type OIDs assigned or inferred for its $n placeholders.
type PreparedStmt struct {
	Name       string
	Command    ast.Command
	ParamOIDs  []uint32
	ResultCols []string
}

// Portal is a Bind result: a prepared statement with concrete parameter
// values and the text/binary format codes negotiated for parameters and
// results.
type Portal struct {
	Name          string
	Stmt          *PreparedStmt
	Params        []types.Value
	ParamFormats  []int16
	ResultFormats []int16
}

// Session is one logged-in connection's state. Lifetime: created on login,
// destroyed on logout or TTL expiry.
type Session struct {
	Token string

	User  string
	Roles []string

	CurrentDB     string
	CurrentSchema string
	AppName       string
	Encoding      string

	// CancelKey is pgwire's per-session (pid, secret) pair used to route a
	// CancelRequest back to this session's in-flight statement.
	CancelKey [2]int32

	mu       sync.Mutex
	prepared map[string]*PreparedStmt
	portals  map[string]*Portal

	createdAt time.Time
	expiresAt time.Time

	// cancel is closed (or its channel signaled) by the executor's
	// cancellation plumbing; engine callers select on it alongside a
	// deadline to implement statement cancellation and timeouts.
	cancel chan struct{}
	once   sync.Once
}

func newToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func newSession(user string, roles []string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		Token:         newToken(),
		User:          user,
		Roles:         append([]string(nil), roles...),
		CurrentDB:     "",
		CurrentSchema: "public",
		Encoding:      "UTF8",
		prepared:      map[string]*PreparedStmt{},
		portals:       map[string]*Portal{},
		createdAt:     now,
		expiresAt:     now.Add(ttl),
		cancel:        make(chan struct{}),
	}
}

func (s *Session) Cancel() { s.once.Do(func() { close(s.cancel) }) }

func (s *Session) Canceled() <-chan struct{} { return s.cancel }

func (s *Session) PutPrepared(name string, stmt *PreparedStmt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared[name] = stmt
}

func (s *Session) GetPrepared(name string) (*PreparedStmt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.prepared[name]
	return st, ok
}

func (s *Session) ClosePrepared(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prepared, name)
}

func (s *Session) PutPortal(name string, p *Portal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portals[name] = p
}

func (s *Session) GetPortal(name string) (*Portal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portals[name]
	return p, ok
}

func (s *Session) ClosePortal(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.portals, name)
}

// Registry is the process-wide session store. Reads take a plain RWMutex
// read lock rather than a lock-free snapshot pointer: Go's map type gives
// no cheaper lock-free read path without a full copy-on-write scheme this
// store's scale doesn't warrant.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	denylist map[string]time.Time // revoked tokens, swept by TTL
	ttl      time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: map[string]*Session{},
		denylist: map[string]time.Time{},
		ttl:      ttl,
	}
}

// Create issues a new session for user with the given roles.
func (r *Registry) Create(user string, roles []string) *Session {
	s := newSession(user, roles, r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Token] = s
	return s
}

// Get validates a token in constant time against the stored value and
// returns the session if live and not expired.
func (r *Registry) Get(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for t, s := range r.sessions {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			if time.Now().After(s.expiresAt) {
				return nil, false
			}
			return s, true
		}
	}
	return nil, false
}

// Revoke moves a token to the denylist (logout or admin revocation) and
// drops the live session immediately.
func (r *Registry) Revoke(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
	r.denylist[token] = time.Now().Add(r.ttl)
}

// IsRevoked reports whether token was explicitly revoked and hasn't yet
// been swept from the denylist.
func (r *Registry) IsRevoked(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.denylist[token]
	return ok
}

// Sweep evicts expired sessions and denylist entries, bounding memory.
// Intended to be called periodically (e.g. from a ticker in cmd/query's
// server mode).
func (r *Registry) Sweep() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for tok, s := range r.sessions {
		if now.After(s.expiresAt) {
			delete(r.sessions, tok)
		}
	}
	for tok, exp := range r.denylist {
		if now.After(exp) {
			delete(r.denylist, tok)
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
