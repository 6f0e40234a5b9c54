// Package httpapi exposes the JSON query API: cookie-based
// login, a CSRF token endpoint, POST /query, and the session-default
// switchers. Routing and CORS use go-chi, the stack the engine's HTTP edge
// standardizes on.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/engine"
	"github.com/lattice-db/lattice/internal/parser"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/types"
)

const sessionCookie = "lattice_session"

// Server is the HTTP frontend over one engine + session registry.
type Server struct {
	Engine   *engine.Engine
	Sessions *session.Registry
	RBAC     *rbac.Registry
	Logger   *slog.Logger

	mu   sync.Mutex
	csrf map[string]string // session token -> issued CSRF token
}

func NewServer(eng *engine.Engine, sessions *session.Registry, rbacReg *rbac.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Engine:   eng,
		Sessions: sessions,
		RBAC:     rbacReg,
		Logger:   logger,
		csrf:     map[string]string{},
	}
}

// Router builds the chi mux with CORS configured for credentialed
// cross-origin callers.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type", "x-csrf-token"},
		AllowCredentials: true,
	}))
	r.Post("/login", s.handleLogin)
	r.Get("/csrf", s.handleCSRF)
	r.Post("/query", s.handleQuery)
	r.Post("/use/database", s.handleUseDatabase)
	r.Post("/use/schema", s.handleUseSchema)
	return r
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type queryMetrics struct {
	ElapsedMs int64 `json:"elapsed_ms"`
}

type queryResults struct {
	Columns []string     `json:"columns"`
	Rows    [][]any      `json:"rows"`
	Metrics queryMetrics `json:"metrics"`
}

type queryResponse struct {
	Status  string        `json:"status"`
	Results *queryResults `json:"results,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{Status: "error", Error: "malformed login body"})
		return
	}

	var roles []string
	if s.RBAC != nil {
		u, ok := s.RBAC.GetUser(req.Username)
		if !ok || (u.PasswordHash != "" && !rbac.VerifyPassword(req.Password, u.PasswordHash)) {
			writeJSON(w, http.StatusUnauthorized, queryResponse{Status: "error", Error: "invalid credentials"})
			return
		}
		roles = u.Roles
	}

	sess := s.Sessions.Create(req.Username, roles)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, queryResponse{Status: "ok"})
}

// sessionFor authenticates the request's cookie, or writes a 401 and
// returns nil.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.Session {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, queryResponse{Status: "error", Error: "not logged in"})
		return nil
	}
	if s.Sessions.IsRevoked(c.Value) {
		writeJSON(w, http.StatusUnauthorized, queryResponse{Status: "error", Error: "session revoked"})
		return nil
	}
	sess, ok := s.Sessions.Get(c.Value)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, queryResponse{Status: "error", Error: "session expired"})
		return nil
	}
	return sess
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	if sess == nil {
		return
	}
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	tok := hex.EncodeToString(b)
	s.mu.Lock()
	s.csrf[sess.Token] = tok
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"csrf": tok})
}

func (s *Server) checkCSRF(sess *session.Session, r *http.Request) bool {
	s.mu.Lock()
	want, ok := s.csrf[sess.Token]
	s.mu.Unlock()
	return ok && want == r.Header.Get("x-csrf-token")
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	if sess == nil {
		return
	}
	if !s.checkCSRF(sess, r) {
		writeJSON(w, http.StatusForbidden, queryResponse{Status: "error", Error: "missing or invalid CSRF token"})
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{Status: "error", Error: "malformed query body"})
		return
	}

	cmds, err := parser.Parse(req.Query)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{Status: "error", Error: err.Error()})
		return
	}
	var last *engine.Result
	for _, cmd := range cmds {
		res, err := s.Engine.Execute(sess, cmd, time.Time{})
		if err != nil {
			writeJSON(w, statusOf(err), queryResponse{Status: "error", Error: err.Error()})
			return
		}
		last = res
	}
	if last == nil {
		writeJSON(w, http.StatusOK, queryResponse{Status: "ok"})
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Status: "ok", Results: resultsOf(last)})
}

func (s *Server) handleUseDatabase(w http.ResponseWriter, r *http.Request) { s.handleUse(w, r, false) }
func (s *Server) handleUseSchema(w http.ResponseWriter, r *http.Request)   { s.handleUse(w, r, true) }

func (s *Server) handleUse(w http.ResponseWriter, r *http.Request, schema bool) {
	sess := s.sessionFor(w, r)
	if sess == nil {
		return
	}
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, queryResponse{Status: "error", Error: "missing name"})
		return
	}
	// Routed through the engine so validation and RBAC match the SQL
	// USE statement exactly.
	if _, err := s.Engine.Execute(sess, &ast.UseStmt{Schema: schema, Name: req.Name}, time.Time{}); err != nil {
		writeJSON(w, statusOf(err), queryResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Status: "ok"})
}

// statusOf maps the engine's error taxonomy to HTTP status codes.
func statusOf(err error) int {
	switch engine.KindOf(err) {
	case engine.KindParseError, engine.KindTypeMismatch:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindDenied:
		return http.StatusForbidden
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindTimeout, engine.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func resultsOf(res *engine.Result) *queryResults {
	out := &queryResults{
		Columns: res.Columns,
		Rows:    make([][]any, len(res.Rows)),
		Metrics: queryMetrics{ElapsedMs: res.ElapsedMs},
	}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	for i, row := range res.Rows {
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = jsonValue(v)
		}
		out.Rows[i] = vals
	}
	return out
}

func jsonValue(v types.Value) any {
	if v.Null {
		return nil
	}
	switch v.Kind {
	case types.Boolean:
		return v.B
	case types.SmallInt, types.Integer, types.BigInt,
		types.Date, types.Time, types.TimeTz, types.Timestamp, types.TimestampTz:
		return v.I
	case types.Real, types.Double, types.Numeric:
		return v.F
	case types.VectorF32:
		return v.Vec
	default:
		return v.S
	}
}
