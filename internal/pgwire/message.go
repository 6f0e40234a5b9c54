// Package pgwire implements the PostgreSQL frontend/backend protocol v3
// subset the engine speaks: startup/auth, simple query, and the
// extended query sub-protocol (Parse/Bind/Describe/Execute/Sync/Close/
// Flush) with text/binary parameter and result format negotiation.
//
// Structurally: one session per connection, message builders as small
// value types, a query runner that dispatches SELECT vs everything-else
// and writes RowDescription/DataRow*/CommandComplete in sequence.
package pgwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// msgType is a backend or frontend message type byte. The StartupMessage
// and SSLRequest carry no type byte; every message after that does.
type msgType byte

const (
	msgParse       msgType = 'P'
	msgBind        msgType = 'B'
	msgDescribe    msgType = 'D'
	msgExecute     msgType = 'E'
	msgSync        msgType = 'S'
	msgClose       msgType = 'C'
	msgFlush       msgType = 'H'
	msgQuery       msgType = 'Q'
	msgTerminate   msgType = 'X'
	msgPasswordMsg msgType = 'p'
	msgCopyFail    msgType = 'f'

	msgAuth             msgType = 'R'
	msgParamStatus      msgType = 'S'
	msgBackendKeyData   msgType = 'K'
	msgReadyForQuery    msgType = 'Z'
	msgRowDescription   msgType = 'T'
	msgDataRow          msgType = 'D'
	msgCommandComplete  msgType = 'C'
	msgErrorResponse    msgType = 'E'
	msgNoticeResponse   msgType = 'N'
	msgEmptyQueryResp   msgType = 'I'
	msgParseComplete    msgType = '1'
	msgBindComplete     msgType = '2'
	msgCloseComplete    msgType = '3'
	msgNoData           msgType = 'n'
	msgParamDescription msgType = 't'
	msgPortalSuspended  msgType = 's'
)

// reader wraps a buffered net.Conn reader with the frontend message framing:
// after startup, every message is [type byte][int32 len incl. self][payload].
type reader struct {
	br *bufio.Reader
}

func newReader(r io.Reader) *reader { return &reader{br: bufio.NewReaderSize(r, 16*1024)} }

// readUint32 reads the raw startup length (no type byte precedes it).
func (r *reader) readUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.br, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// readStartupBody reads length-prefixed bytes for the StartupMessage /
// SSLRequest / CancelRequest, which have no leading type byte.
func (r *reader) readStartupBody() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if n < 4 || n > 1<<20 {
		return nil, fmt.Errorf("pgwire: implausible startup length %d", n)
	}
	buf := make([]byte, n-4)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readMessage reads one typed frontend message after the startup exchange.
func (r *reader) readMessage() (msgType, []byte, error) {
	t, err := r.br.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	n, err := r.readUint32()
	if err != nil {
		return 0, nil, err
	}
	if n < 4 {
		return 0, nil, fmt.Errorf("pgwire: implausible message length %d", n)
	}
	buf := make([]byte, n-4)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return 0, nil, err
	}
	return msgType(t), buf, nil
}

// writer accumulates and flushes typed backend messages.
type writer struct {
	bw *bufio.Writer
}

func newWriter(w io.Writer) *writer { return &writer{bw: bufio.NewWriterSize(w, 16*1024)} }

func (w *writer) send(t msgType, payload []byte) error {
	var hdr [5]byte
	hdr[0] = byte(t)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)+4))
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.bw.Write(payload); err != nil {
		return err
	}
	return nil
}

func (w *writer) flush() error { return w.bw.Flush() }

// ---- payload builders ----

type bodyBuilder struct{ buf []byte }

func (b *bodyBuilder) u8(v byte) { b.buf = append(b.buf, v) }

func (b *bodyBuilder) u16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bodyBuilder) i32(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bodyBuilder) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bodyBuilder) cstring(s string) {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
}

func (b *bodyBuilder) raw(p []byte) { b.buf = append(b.buf, p...) }

func (b *bodyBuilder) bytes() []byte { return b.buf }

// parseCStringPairs splits a null-terminated-cstring-pairs buffer (as used in
// StartupMessage parameters) into a map, stopping at the final zero byte.
func parseCStringPairs(buf []byte) map[string]string {
	out := map[string]string{}
	i := 0
	for i < len(buf) && buf[i] != 0 {
		keyStart := i
		for i < len(buf) && buf[i] != 0 {
			i++
		}
		key := string(buf[keyStart:i])
		i++ // skip null
		valStart := i
		for i < len(buf) && buf[i] != 0 {
			i++
		}
		val := string(buf[valStart:i])
		i++ // skip null
		if key == "" {
			break
		}
		out[key] = val
	}
	return out
}
