package pgwire

import (
	"fmt"

	"github.com/lattice-db/lattice/internal/engine"
	"github.com/lattice-db/lattice/internal/types"
)

// backend bundles the writer with the helpers that build every backend
// message this protocol subset emits, one method per message kind named
// after the wire protocol's own name for it.
type backend struct{ w *writer }

func (b *backend) authOk() error {
	var body bodyBuilder
	body.i32(0)
	return b.w.send(msgAuth, body.bytes())
}

func (b *backend) authCleartextPassword() error {
	var body bodyBuilder
	body.i32(3)
	return b.w.send(msgAuth, body.bytes())
}

func (b *backend) paramStatus(name, value string) error {
	var body bodyBuilder
	body.cstring(name)
	body.cstring(value)
	return b.w.send(msgParamStatus, body.bytes())
}

func (b *backend) backendKeyData(pid, secret int32) error {
	var body bodyBuilder
	body.i32(pid)
	body.i32(secret)
	return b.w.send(msgBackendKeyData, body.bytes())
}

// txStatus values for ReadyForQuery's single status byte. This engine has
// no multi-statement transactions, so it always
// reports 'I' (idle, not in a transaction block).
const txIdle = 'I'

func (b *backend) readyForQuery() error {
	return b.w.send(msgReadyForQuery, []byte{txIdle})
}

// resultColumn is one RowDescription/DataRow column: its name, OID, and the
// negotiated format code for this portal.
type resultColumn struct {
	Name   string
	Kind   types.Kind
	Format FormatCode
}

func (b *backend) rowDescription(cols []resultColumn) error {
	var body bodyBuilder
	body.u16(uint16(len(cols)))
	for _, c := range cols {
		body.cstring(c.Name)
		body.i32(0) // table OID: none, not backed by a catalog relation
		body.u16(0) // column attribute number
		body.u32(uint32(oidFor(c.Kind)))
		body.u16(typeLen(c.Kind))
		body.i32(-1) // type modifier: unspecified
		body.u16(uint16(c.Format))
	}
	return b.w.send(msgRowDescription, body.bytes())
}

// typeLen is the fixed wire width for fixed-size types, or -1 for
// variable-length ones, per the RowDescription field spec.
func typeLen(k types.Kind) uint16 {
	switch k {
	case types.Boolean:
		return 1
	case types.SmallInt:
		return 2
	case types.Integer, types.Date:
		return 4
	case types.BigInt, types.Double, types.Timestamp, types.TimestampTz, types.Time, types.TimeTz:
		return 8
	case types.Real:
		return 4
	default:
		return uint16(0xffff) // -1 as uint16, variable length
	}
}

func (b *backend) dataRow(row []types.Value, cols []resultColumn) error {
	var body bodyBuilder
	body.u16(uint16(len(row)))
	for i, v := range row {
		format := FormatText
		if i < len(cols) {
			format = cols[i].Format
		}
		if v.Null {
			body.i32(-1)
			continue
		}
		var raw []byte
		if format == FormatBinary {
			enc, err := encodeBinary(v)
			if err != nil {
				raw = encodeText(v)
			} else {
				raw = enc
			}
		} else {
			raw = encodeText(v)
		}
		body.i32(int32(len(raw)))
		body.raw(raw)
	}
	return b.w.send(msgDataRow, body.bytes())
}

func (b *backend) commandComplete(tag string) error {
	var body bodyBuilder
	body.cstring(tag)
	return b.w.send(msgCommandComplete, body.bytes())
}

func (b *backend) emptyQueryResponse() error {
	return b.w.send(msgEmptyQueryResp, nil)
}

func (b *backend) parseComplete() error   { return b.w.send(msgParseComplete, nil) }
func (b *backend) bindComplete() error    { return b.w.send(msgBindComplete, nil) }
func (b *backend) closeComplete() error   { return b.w.send(msgCloseComplete, nil) }
func (b *backend) noData() error          { return b.w.send(msgNoData, nil) }
func (b *backend) portalSuspended() error { return b.w.send(msgPortalSuspended, nil) }

func (b *backend) parameterDescription(oids []uint32) error {
	var body bodyBuilder
	body.u16(uint16(len(oids)))
	for _, o := range oids {
		body.u32(o)
	}
	return b.w.send(msgParamDescription, body.bytes())
}

func (b *backend) errorResponse(err error) error {
	kind := engine.KindOf(err)
	var body bodyBuilder
	body.u8('S')
	body.cstring("ERROR")
	body.u8('C')
	body.cstring(sqlState(kind))
	body.u8('M')
	body.cstring(err.Error())
	body.u8(0)
	return b.w.send(msgErrorResponse, body.bytes())
}

// commandTag builds the "INSERT 0 n" / "SELECT n" / "UPDATE n" style tag
// CommandComplete reports. The verb comes from the caller (tagFor switches
// on the Command's concrete type), since engine.Result itself doesn't tag
// its statement kind.
func commandTag(verb string, res *engine.Result) string {
	if verb == "SELECT" || verb == "FETCH" {
		return fmt.Sprintf("%s %d", verb, len(res.Rows))
	}
	if verb == "INSERT" {
		return fmt.Sprintf("INSERT 0 %d", res.RowsAffected)
	}
	return fmt.Sprintf("%s %d", verb, res.RowsAffected)
}
