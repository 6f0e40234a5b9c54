package pgwire

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/internal/engine"
	"github.com/lattice-db/lattice/internal/session"
	"github.com/lattice-db/lattice/internal/testutil"
	"github.com/lattice-db/lattice/internal/types"
)

// testClient is a minimal frontend: just enough framing to drive the server
// through startup and the simple/extended protocols.
type testClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dialTestServer(t *testing.T) *testClient {
	t.Helper()
	eng := engine.New(t.TempDir(), nil, testutil.Quiet())
	srv := NewServer(eng, session.NewRegistry(time.Hour), nil, testutil.Quiet())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go srv.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, br: bufio.NewReader(conn)}
}

func (c *testClient) startup(params ...string) {
	var body []byte
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], protocolV3)
	body = append(body, tmp[:]...)
	for _, p := range params {
		body = append(body, p...)
		body = append(body, 0)
	}
	body = append(body, 0)
	binary.BigEndian.PutUint32(tmp[:], uint32(len(body)+4))
	_, err := c.conn.Write(append(tmp[:], body...))
	require.NoError(c.t, err)
}

func (c *testClient) send(t byte, payload []byte) {
	var hdr [5]byte
	hdr[0] = t
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)+4))
	_, err := c.conn.Write(append(hdr[:], payload...))
	require.NoError(c.t, err)
}

func (c *testClient) recv() (byte, []byte) {
	var hdr [5]byte
	_, err := io.ReadFull(c.br, hdr[:])
	require.NoError(c.t, err)
	n := binary.BigEndian.Uint32(hdr[1:])
	body := make([]byte, n-4)
	_, err = io.ReadFull(c.br, body)
	require.NoError(c.t, err)
	return hdr[0], body
}

// recvUntil collects messages until one of type want arrives, failing on an
// ErrorResponse unless that's what the caller wants.
func (c *testClient) recvUntil(want byte) map[byte][][]byte {
	seen := map[byte][][]byte{}
	for {
		t, body := c.recv()
		seen[t] = append(seen[t], body)
		if t == want {
			return seen
		}
		if t == 'E' && want != 'E' {
			c.t.Fatalf("unexpected ErrorResponse: %q", body)
		}
	}
}

func b(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func u16b(v uint16) []byte {
	var t [2]byte
	binary.BigEndian.PutUint16(t[:], v)
	return t[:]
}

func u32b(v uint32) []byte {
	var t [4]byte
	binary.BigEndian.PutUint32(t[:], v)
	return t[:]
}

func TestStartupAndSimpleQuery(t *testing.T) {
	c := dialTestServer(t)
	c.startup("user", "tester")

	seen := c.recvUntil('Z')
	require.Len(t, seen['R'], 1, "expected one auth message")
	assert.EqualValues(t, 0, binary.BigEndian.Uint32(seen['R'][0]), "trust auth sends AuthenticationOk")
	assert.NotEmpty(t, seen['S'], "parameter status messages")
	require.Len(t, seen['K'], 1, "backend key data")

	c.send('Q', cstr("SELECT 1"))
	seen = c.recvUntil('Z')
	require.Len(t, seen['T'], 1)
	require.Len(t, seen['D'], 1)
	require.Len(t, seen['C'], 1)
	assert.Equal(t, "SELECT 1", string(seen['C'][0][:len(seen['C'][0])-1]))

	// DataRow: one field, text "1".
	row := seen['D'][0]
	assert.EqualValues(t, 1, binary.BigEndian.Uint16(row[:2]))
	assert.EqualValues(t, 1, binary.BigEndian.Uint32(row[2:6]))
	assert.Equal(t, "1", string(row[6:7]))
}

func TestSSLRequestRejectedWithN(t *testing.T) {
	c := dialTestServer(t)
	var msg [8]byte
	binary.BigEndian.PutUint32(msg[:4], 8)
	binary.BigEndian.PutUint32(msg[4:], sslRequestCode)
	_, err := c.conn.Write(msg[:])
	require.NoError(t, err)

	one := make([]byte, 1)
	_, err = io.ReadFull(c.br, one)
	require.NoError(t, err)
	assert.Equal(t, byte('N'), one[0])

	// The client continues with a cleartext startup on the same connection.
	c.startup("user", "tester")
	c.recvUntil('Z')
}

func TestSimpleQueryErrorCarriesSQLState(t *testing.T) {
	c := dialTestServer(t)
	c.startup("user", "tester")
	c.recvUntil('Z')

	c.send('Q', cstr("SELEKT 1"))
	seen := c.recvUntil('Z')
	require.Len(t, seen['E'], 1)
	assert.Contains(t, string(seen['E'][0]), "42601")
}

func TestEmptyQueryResponse(t *testing.T) {
	c := dialTestServer(t)
	c.startup("user", "tester")
	c.recvUntil('Z')

	c.send('Q', cstr("  ;  "))
	seen := c.recvUntil('Z')
	assert.Len(t, seen['I'], 1)
}

// The extended-protocol scenario: Parse "SELECT $1::int4", Bind a binary
// big-endian 42 with binary result format, Execute, and get back one DataRow
// whose single field is the 4 bytes 42 big-endian.
func TestExtendedQueryBinaryInt4(t *testing.T) {
	c := dialTestServer(t)
	c.startup("user", "tester")
	c.recvUntil('Z')

	c.send('P', b(cstr(""), cstr("SELECT $1::int4"), u16b(1), u32b(23)))
	c.send('B', b(
		cstr(""), cstr(""),
		u16b(1), u16b(1), // one param format code: binary
		u16b(1),           // one parameter
		u32b(4), u32b(42), // 4-byte big-endian 42
		u16b(1), u16b(1), // one result format code: binary
	))
	c.send('E', b(cstr(""), u32b(0)))
	c.send('S', nil)

	seen := c.recvUntil('Z')
	require.Len(t, seen['1'], 1, "ParseComplete")
	require.Len(t, seen['2'], 1, "BindComplete")
	require.Len(t, seen['T'], 1, "RowDescription")
	require.Len(t, seen['D'], 1, "DataRow")
	require.Len(t, seen['C'], 1, "CommandComplete")

	// RowDescription reports the int4 OID and binary format.
	desc := seen['T'][0]
	require.EqualValues(t, 1, binary.BigEndian.Uint16(desc[:2]))
	rest := desc[2:]
	for i, bb := range rest {
		if bb == 0 {
			rest = rest[i+1:]
			break
		}
	}
	assert.EqualValues(t, 23, binary.BigEndian.Uint32(rest[6:10]), "type OID")
	assert.EqualValues(t, 1, binary.BigEndian.Uint16(rest[16:18]), "format code")

	row := seen['D'][0]
	require.EqualValues(t, 1, binary.BigEndian.Uint16(row[:2]))
	require.EqualValues(t, 4, binary.BigEndian.Uint32(row[2:6]))
	assert.EqualValues(t, 42, binary.BigEndian.Uint32(row[6:10]))
}

func TestDescribePortalAndClose(t *testing.T) {
	c := dialTestServer(t)
	c.startup("user", "tester")
	c.recvUntil('Z')

	c.send('P', b(cstr("ps"), cstr("SELECT 7"), u16b(0)))
	c.send('B', b(cstr("po"), cstr("ps"), u16b(0), u16b(0), u16b(0)))
	c.send('D', b([]byte{'S'}, cstr("ps")))
	c.send('D', b([]byte{'P'}, cstr("po")))
	c.send('E', b(cstr("po"), u32b(0)))
	c.send('C', b([]byte{'P'}, cstr("po")))
	c.send('S', nil)

	seen := c.recvUntil('Z')
	require.Len(t, seen['t'], 1, "ParameterDescription for the statement")
	require.Len(t, seen['T'], 1, "one RowDescription, from the portal Describe")
	require.Len(t, seen['D'], 1)
	require.Len(t, seen['3'], 1, "CloseComplete")
}

func TestExecuteRowLimitSuspendsPortal(t *testing.T) {
	c := dialTestServer(t)
	c.startup("user", "tester")
	c.recvUntil('Z')

	// UNION ALL yields three rows from a source-less SELECT chain.
	c.send('P', b(cstr(""), cstr("SELECT 1 UNION ALL SELECT 2 UNION ALL SELECT 3"), u16b(0)))
	c.send('B', b(cstr(""), cstr(""), u16b(0), u16b(0), u16b(0)))
	c.send('E', b(cstr(""), u32b(2)))
	c.send('S', nil)
	seen := c.recvUntil('Z')
	assert.Len(t, seen['D'], 2)
	require.Len(t, seen['s'], 1, "PortalSuspended")

	// Re-executing the suspended portal drains the rest.
	c.send('E', b(cstr(""), u32b(0)))
	c.send('S', nil)
	seen = c.recvUntil('Z')
	assert.Len(t, seen['D'], 1)
	require.Len(t, seen['C'], 1)
}

func TestErrorSkipsUntilSync(t *testing.T) {
	c := dialTestServer(t)
	c.startup("user", "tester")
	c.recvUntil('Z')

	c.send('P', b(cstr(""), cstr("SELEKT"), u16b(0)))
	c.send('B', b(cstr(""), cstr(""), u16b(0), u16b(0), u16b(0)))
	c.send('S', nil)
	seen := c.recvUntil('Z')
	require.Len(t, seen['E'], 1)
	// The Bind after the failed Parse was skipped.
	assert.Empty(t, seen['2'])
}

func TestBinaryEncodingRoundTrips(t *testing.T) {
	cases := []types.Value{
		types.BoolValue(true),
		types.IntValue(types.SmallInt, -7),
		types.IntValue(types.Integer, 123456),
		types.IntValue(types.BigInt, -9_000_000_000),
		types.FloatValue(types.Real, 1.5),
		types.FloatValue(types.Double, -2.25),
		types.IntValue(types.Timestamp, 1_700_000_000_000),
		types.IntValue(types.Date, 1_700_000_000_000-(1_700_000_000_000%86_400_000)),
	}
	for _, v := range cases {
		raw, err := encodeBinary(v)
		require.NoError(t, err, v.Kind)
		back, err := decodeBinary(v.Kind, raw)
		require.NoError(t, err, v.Kind)
		assert.True(t, v.Equal(back), "kind %v: %v != %v", v.Kind, v, back)
	}
}

func TestUnsupportedBinaryFallsBackToText(t *testing.T) {
	res := &engine.Result{
		Columns:     []string{"n"},
		ColumnTypes: []types.Kind{types.Numeric},
	}
	cols := negotiateFormats(res, []int16{1})
	require.Len(t, cols, 1)
	assert.Equal(t, FormatText, cols[0].Format)

	res.ColumnTypes = []types.Kind{types.Integer}
	cols = negotiateFormats(res, []int16{1})
	assert.Equal(t, FormatBinary, cols[0].Format)
}

func TestSQLStateMapping(t *testing.T) {
	assert.Equal(t, "42601", sqlState(engine.KindParseError))
	assert.Equal(t, "42501", sqlState(engine.KindDenied))
	assert.Equal(t, "42P01", sqlState(engine.KindNotFound))
	assert.Equal(t, "40001", sqlState(engine.KindConflict))
	assert.Equal(t, "XX000", sqlState(engine.KindInternal))
}
