package pgwire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/engine"
	"github.com/lattice-db/lattice/internal/parser"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/types"
)

// Startup codes from the v3 protocol: the protocol version proper plus the
// two special requests that arrive in StartupMessage position.
const (
	protocolV3     = 196608
	sslRequestCode = 80877103
	cancelReqCode  = 80877102
)

// Server accepts pgwire connections and runs each one against the shared
// engine and session registry.
type Server struct {
	Engine   *engine.Engine
	Sessions *session.Registry
	RBAC     *rbac.Registry
	Logger   *slog.Logger

	nextPid int32

	mu    sync.Mutex
	byPid map[int32]*session.Session
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
		nextPid:  1000,
		byPid:    map[int32]*session.Session{},
	}
}

// Serve accepts connections on ln until ln is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			defer conn.Close()
			if err := s.HandleConn(conn); err != nil && err != io.EOF {
				s.Logger.Debug("pgwire connection closed", "err", err)
			}
		}()
	}
}

// HandleConn speaks the full v3 exchange on one connection: startup, auth,
// then the simple/extended query loop until Terminate or disconnect.
// Exported so a single connection can be driven directly.
func (s *Server) HandleConn(conn net.Conn) error {
	r := newReader(conn)
	w := newWriter(conn)
	b := &backend{w: w}

	var params map[string]string
	for params == nil {
		body, err := r.readStartupBody()
		if err != nil {
			return err
		}
		if len(body) < 4 {
			return fmt.Errorf("pgwire: short startup message")
		}
		switch code := binary.BigEndian.Uint32(body[:4]); code {
		case sslRequestCode:
			// TLS is not terminated here; reject and let the client
			// continue in cleartext.
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return err
			}
		case cancelReqCode:
			if len(body) >= 12 {
				pid := int32(binary.BigEndian.Uint32(body[4:8]))
				secret := int32(binary.BigEndian.Uint32(body[8:12]))
				s.cancelByKey(pid, secret)
			}
			return nil
		case protocolV3:
			params = parseCStringPairs(body[4:])
		default:
			return fmt.Errorf("pgwire: unsupported protocol %d", code)
		}
	}

	sess, err := s.authenticate(r, b, params)
	if err != nil {
		b.errorResponse(err)
		return w.flush()
	}
	defer s.releaseSession(sess)

	for _, kv := range [][2]string{
		{"server_version", "16.0 (lattice)"},
		{"client_encoding", sess.Encoding},
		{"application_name", sess.AppName},
		{"DateStyle", "ISO"},
	} {
		if err := b.paramStatus(kv[0], kv[1]); err != nil {
			return err
		}
	}
	if err := b.backendKeyData(sess.CancelKey[0], sess.CancelKey[1]); err != nil {
		return err
	}
	if err := b.readyForQuery(); err != nil {
		return err
	}
	if err := w.flush(); err != nil {
		return err
	}

	st := &connState{described: map[string]bool{}, results: map[string]*engine.Result{}}
	skipTillSync := false
	for {
		t, body, err := r.readMessage()
		if err != nil {
			return err
		}
		if skipTillSync && t != msgSync && t != msgTerminate {
			continue
		}
		switch t {
		case msgTerminate:
			return nil

		case msgQuery:
			s.simpleQuery(b, sess, cstringAt(body, 0))
			b.readyForQuery()
			if err := w.flush(); err != nil {
				return err
			}

		case msgParse:
			if err := s.handleParse(b, sess, body); err != nil {
				b.errorResponse(err)
				skipTillSync = true
			}

		case msgBind:
			if err := s.handleBind(b, sess, st, body); err != nil {
				b.errorResponse(err)
				skipTillSync = true
			}

		case msgDescribe:
			if err := s.handleDescribe(b, sess, st, body); err != nil {
				b.errorResponse(err)
				skipTillSync = true
			}

		case msgExecute:
			if err := s.handleExecute(b, sess, st, body); err != nil {
				b.errorResponse(err)
				skipTillSync = true
			}

		case msgClose:
			s.handleClose(b, sess, st, body)

		case msgSync:
			skipTillSync = false
			b.readyForQuery()
			if err := w.flush(); err != nil {
				return err
			}

		case msgFlush:
			if err := w.flush(); err != nil {
				return err
			}

		default:
			s.Logger.Debug("pgwire: ignoring message", "type", string(rune(t)))
		}
	}
}

// connState is per-connection extended-protocol scratch: which portals have
// had a RowDescription emitted, and each portal's materialized result
// (Describe on a portal executes eagerly so the description is accurate).
type connState struct {
	described map[string]bool
	results   map[string]*engine.Result
}

func (s *Server) authenticate(r *reader, b *backend, params map[string]string) (*session.Session, error) {
	user := params["user"]
	var roles []string

	if s.RBAC != nil {
		u, ok := s.RBAC.GetUser(user)
		if !ok {
			return nil, &engine.Error{Kind: engine.KindDenied, Msg: fmt.Sprintf("role %q does not exist", user)}
		}
		roles = u.Roles
		if u.PasswordHash != "" {
			if err := b.authCleartextPassword(); err != nil {
				return nil, err
			}
			if err := b.w.flush(); err != nil {
				return nil, err
			}
			t, body, err := r.readMessage()
			if err != nil {
				return nil, err
			}
			if t != msgPasswordMsg {
				return nil, &engine.Error{Kind: engine.KindDenied, Msg: "expected a password message"}
			}
			if !rbac.VerifyPassword(cstringAt(body, 0), u.PasswordHash) {
				return nil, &engine.Error{Kind: engine.KindDenied, Msg: fmt.Sprintf("password authentication failed for user %q", user)}
			}
		}
	}
	if err := b.authOk(); err != nil {
		return nil, err
	}

	sess := s.Sessions.Create(user, roles)
	sess.CurrentDB = params["database"]
	if v, ok := params["application_name"]; ok {
		sess.AppName = v
	}
	if v, ok := params["client_encoding"]; ok {
		sess.Encoding = v
	}

	pid := atomic.AddInt32(&s.nextPid, 1)
	var sb [4]byte
	_, _ = rand.Read(sb[:])
	secret := int32(binary.BigEndian.Uint32(sb[:]))
	sess.CancelKey = [2]int32{pid, secret}
	s.mu.Lock()
	s.byPid[pid] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Server) releaseSession(sess *session.Session) {
	s.mu.Lock()
	delete(s.byPid, sess.CancelKey[0])
	s.mu.Unlock()
	s.Sessions.Revoke(sess.Token)
}

func (s *Server) cancelByKey(pid, secret int32) {
	s.mu.Lock()
	sess, ok := s.byPid[pid]
	s.mu.Unlock()
	if ok && sess.CancelKey[1] == secret {
		sess.Cancel()
	}
}

// simpleQuery runs every statement in sql sequentially, stopping the batch
// at the first failure.
func (s *Server) simpleQuery(b *backend, sess *session.Session, sql string) {
	if isBlank(sql) {
		b.emptyQueryResponse()
		return
	}
	cmds, err := parser.Parse(sql)
	if err != nil {
		b.errorResponse(wrapParse(err))
		return
	}
	for _, cmd := range cmds {
		res, err := s.Engine.Execute(sess, cmd, time.Time{})
		if err != nil {
			b.errorResponse(err)
			return
		}
		if len(res.Columns) > 0 {
			cols := negotiateFormats(res, nil)
			b.rowDescription(cols)
			for _, row := range res.Rows {
				b.dataRow(row, cols)
			}
		}
		b.commandComplete(tagFor(cmd, res))
	}
}

func (s *Server) handleParse(b *backend, sess *session.Session, body []byte) error {
	br := bodyReader{buf: body}
	name := br.cstring()
	query := br.cstring()
	n := int(br.u16())
	oids := make([]uint32, n)
	for i := 0; i < n; i++ {
		oids[i] = br.u32()
	}

	var cmd ast.Command
	if !isBlank(query) {
		var err error
		cmd, err = parser.ParseOne(query)
		if err != nil {
			return wrapParse(err)
		}
	}
	// Declared OIDs of 0 (unspecified) are taken as text; parameters beyond
	// the declared list are decoded as text at Bind.
	for i := range oids {
		if oids[i] == 0 {
			oids[i] = 25 // text
		}
	}
	sess.PutPrepared(name, &session.PreparedStmt{Name: name, Command: cmd, ParamOIDs: oids})
	return b.parseComplete()
}

func (s *Server) handleBind(b *backend, sess *session.Session, st *connState, body []byte) error {
	br := bodyReader{buf: body}
	portalName := br.cstring()
	stmtName := br.cstring()

	stmt, ok := sess.GetPrepared(stmtName)
	if !ok {
		return &engine.Error{Kind: engine.KindNotFound, Msg: fmt.Sprintf("prepared statement %q does not exist", stmtName)}
	}

	nFmt := int(br.u16())
	paramFmts := make([]int16, nFmt)
	for i := range paramFmts {
		paramFmts[i] = int16(br.u16())
	}
	nParams := int(br.u16())
	params := make([]types.Value, nParams)
	for i := 0; i < nParams; i++ {
		l := br.i32()
		kind := types.Text
		if i < len(stmt.ParamOIDs) {
			kind = kindForOID(stmt.ParamOIDs[i])
		}
		if l < 0 {
			params[i] = types.NullValue(kind)
			continue
		}
		raw := br.bytesN(int(l))
		var v types.Value
		var err error
		if formatAt(paramFmts, i) == FormatBinary {
			v, err = decodeBinary(kind, raw)
		} else {
			v, err = decodeText(kind, string(raw))
		}
		if err != nil {
			return &engine.Error{Kind: engine.KindTypeMismatch, Msg: fmt.Sprintf("parameter $%d", i+1), Err: err}
		}
		params[i] = v
	}
	nResFmt := int(br.u16())
	resFmts := make([]int16, nResFmt)
	for i := range resFmts {
		resFmts[i] = int16(br.u16())
	}

	sess.PutPortal(portalName, &session.Portal{
		Name: portalName, Stmt: stmt, Params: params,
		ParamFormats: paramFmts, ResultFormats: resFmts,
	})
	delete(st.described, portalName)
	delete(st.results, portalName)
	return b.bindComplete()
}

func (s *Server) handleDescribe(b *backend, sess *session.Session, st *connState, body []byte) error {
	br := bodyReader{buf: body}
	kind := br.u8()
	name := br.cstring()

	switch kind {
	case 'S':
		stmt, ok := sess.GetPrepared(name)
		if !ok {
			return &engine.Error{Kind: engine.KindNotFound, Msg: fmt.Sprintf("prepared statement %q does not exist", name)}
		}
		b.parameterDescription(stmt.ParamOIDs)
		// The result shape of an unbound statement is unknown until Bind
		// supplies parameters; the portal Describe path gives the real
		// RowDescription.
		return b.noData()

	case 'P':
		portal, ok := sess.GetPortal(name)
		if !ok {
			return &engine.Error{Kind: engine.KindNotFound, Msg: fmt.Sprintf("portal %q does not exist", name)}
		}
		res, err := s.runPortal(sess, st, portal)
		if err != nil {
			return err
		}
		if len(res.Columns) == 0 {
			return b.noData()
		}
		st.described[name] = true
		return b.rowDescription(negotiateFormats(res, portal.ResultFormats))

	default:
		return &engine.Error{Kind: engine.KindParseError, Msg: fmt.Sprintf("unknown Describe kind %q", kind)}
	}
}

func (s *Server) handleExecute(b *backend, sess *session.Session, st *connState, body []byte) error {
	br := bodyReader{buf: body}
	name := br.cstring()
	maxRows := int(br.i32())

	portal, ok := sess.GetPortal(name)
	if !ok {
		return &engine.Error{Kind: engine.KindNotFound, Msg: fmt.Sprintf("portal %q does not exist", name)}
	}
	if portal.Stmt.Command == nil {
		return b.emptyQueryResponse()
	}
	res, err := s.runPortal(sess, st, portal)
	if err != nil {
		return err
	}

	if len(res.Columns) > 0 {
		cols := negotiateFormats(res, portal.ResultFormats)
		if !st.described[name] {
			// Clients that skip Describe still need the shape once.
			b.rowDescription(cols)
			st.described[name] = true
		}
		rows := res.Rows
		suspended := false
		if maxRows > 0 && maxRows < len(rows) {
			rows, suspended = rows[:maxRows], true
		}
		for _, row := range rows {
			b.dataRow(row, cols)
		}
		if suspended {
			st.results[name] = &engine.Result{Columns: res.Columns, ColumnTypes: res.ColumnTypes, Rows: res.Rows[maxRows:]}
			return b.portalSuspended()
		}
	}
	delete(st.results, name)
	return b.commandComplete(tagFor(portal.Stmt.Command, res))
}

// runPortal executes (or returns the cached execution of) a bound portal.
func (s *Server) runPortal(sess *session.Session, st *connState, portal *session.Portal) (*engine.Result, error) {
	if res, ok := st.results[portal.Name]; ok {
		return res, nil
	}
	bound := engine.BindParams(portal.Stmt.Command, portal.Params)
	res, err := s.Engine.Execute(sess, bound, time.Time{})
	if err != nil {
		return nil, err
	}
	st.results[portal.Name] = res
	return res, nil
}

func (s *Server) handleClose(b *backend, sess *session.Session, st *connState, body []byte) {
	br := bodyReader{buf: body}
	kind := br.u8()
	name := br.cstring()
	switch kind {
	case 'S':
		sess.ClosePrepared(name)
	case 'P':
		sess.ClosePortal(name)
		delete(st.described, name)
		delete(st.results, name)
	}
	b.closeComplete()
}

// ---- format negotiation ----

// negotiateFormats resolves per-column result formats per the Bind rules
// (0 codes: all text; 1 code: uniform; n codes: positional), downgrading a
// binary request to text for kinds with no binary form.
func negotiateFormats(res *engine.Result, fmts []int16) []resultColumn {
	cols := make([]resultColumn, len(res.Columns))
	for i, name := range res.Columns {
		k := types.Text
		if i < len(res.ColumnTypes) {
			k = res.ColumnTypes[i]
		}
		f := FormatCode(formatAt(fmts, i))
		if f == FormatBinary && !binarySupported(k) {
			f = FormatText
		}
		cols[i] = resultColumn{Name: name, Kind: k, Format: f}
	}
	return cols
}

func formatAt(fmts []int16, i int) FormatCode {
	switch {
	case len(fmts) == 0:
		return FormatText
	case len(fmts) == 1:
		return FormatCode(fmts[0])
	case i < len(fmts):
		return FormatCode(fmts[i])
	default:
		return FormatText
	}
}

// binarySupported lists the kinds encodeBinary has a canonical wire form
// for; everything else falls back to text.
func binarySupported(k types.Kind) bool {
	switch k {
	case types.Boolean, types.SmallInt, types.Integer, types.BigInt,
		types.Real, types.Double, types.Bytea, types.Text, types.Varchar,
		types.Char, types.Json, types.Jsonb, types.Uuid, types.Date,
		types.Time, types.TimeTz, types.Timestamp, types.TimestampTz:
		return true
	default:
		return false
	}
}

// tagFor builds the CommandComplete tag from the statement's kind; DDL and
// admin statements carry their tag in Result.Message.
func tagFor(cmd ast.Command, res *engine.Result) string {
	switch cmd.(type) {
	case *ast.SelectStmt:
		return commandTag("SELECT", res)
	case *ast.InsertStmt:
		return commandTag("INSERT", res)
	case *ast.UpdateStmt:
		return commandTag("UPDATE", res)
	case *ast.DeleteStmt:
		return commandTag("DELETE", res)
	default:
		if res.Message != "" {
			return res.Message
		}
		return commandTag("SELECT", res)
	}
}

func wrapParse(err error) error {
	return &engine.Error{Kind: engine.KindParseError, Msg: err.Error()}
}

func isBlank(sql string) bool {
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case ' ', '\t', '\r', '\n', ';':
		default:
			return false
		}
	}
	return true
}

// ---- body field reader ----

// bodyReader walks a frontend message payload field by field; reads past
// the end return zero values, and the message handlers validate semantics
// rather than lengths.
type bodyReader struct {
	buf []byte
	pos int
}

func (r *bodyReader) u8() byte {
	if r.pos >= len(r.buf) {
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *bodyReader) u16() uint16 {
	if r.pos+2 > len(r.buf) {
		r.pos = len(r.buf)
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *bodyReader) u32() uint32 {
	if r.pos+4 > len(r.buf) {
		r.pos = len(r.buf)
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *bodyReader) i32() int32 { return int32(r.u32()) }

func (r *bodyReader) cstring() string {
	start := r.pos
	for r.pos < len(r.buf) && r.buf[r.pos] != 0 {
		r.pos++
	}
	s := string(r.buf[start:r.pos])
	if r.pos < len(r.buf) {
		r.pos++ // null terminator
	}
	return s
}

func (r *bodyReader) bytesN(n int) []byte {
	if n < 0 || r.pos+n > len(r.buf) {
		n = len(r.buf) - r.pos
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// cstringAt reads the null-terminated string starting at off in buf.
func cstringAt(buf []byte, off int) string {
	for i := off; i < len(buf); i++ {
		if buf[i] == 0 {
			return string(buf[off:i])
		}
	}
	return string(buf[off:])
}
