package pgwire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lib/pq/oid"

	"github.com/lattice-db/lattice/internal/types"
)

// FormatCode is the per-parameter/per-result wire format: 0=text, 1=binary.
type FormatCode int16

const (
	FormatText   FormatCode = 0
	FormatBinary FormatCode = 1
)

// oidFor maps a column's types.Kind to the canonical PostgreSQL type OID.
// Kinds with no canonical OID mapping (Numeric,
// Interval, Json/Jsonb, VectorF32, ...) fall back to text (25); they still
// round-trip correctly since every kind supports text encoding.
func oidFor(k types.Kind) oid.Oid {
	switch k {
	case types.Boolean:
		return oid.T_bool
	case types.SmallInt:
		return oid.T_int2
	case types.Integer:
		return oid.T_int4
	case types.BigInt:
		return oid.T_int8
	case types.Real:
		return oid.T_float4
	case types.Double:
		return oid.T_float8
	case types.Bytea:
		return oid.T_bytea
	case types.Uuid:
		return oid.T_uuid
	case types.Date:
		return oid.T_date
	case types.Time, types.TimeTz:
		return oid.T_time
	case types.Timestamp:
		return oid.T_timestamp
	case types.TimestampTz:
		return oid.T_timestamptz
	default:
		return oid.T_text
	}
}

// kindForOID is the inverse mapping, used by Bind/Describe to assign a
// types.Kind to a placeholder's declared or inferred parameter OID.
func kindForOID(o uint32) types.Kind {
	switch oid.Oid(o) {
	case oid.T_bool:
		return types.Boolean
	case oid.T_int2:
		return types.SmallInt
	case oid.T_int4:
		return types.Integer
	case oid.T_int8:
		return types.BigInt
	case oid.T_float4:
		return types.Real
	case oid.T_float8:
		return types.Double
	case oid.T_bytea:
		return types.Bytea
	case oid.T_uuid:
		return types.Uuid
	case oid.T_date:
		return types.Date
	case oid.T_time:
		return types.Time
	case oid.T_timestamp:
		return types.Timestamp
	case oid.T_timestamptz:
		return types.TimestampTz
	default:
		return types.Text
	}
}

// pgEpochMillis is 2000-01-01T00:00:00Z expressed in Unix epoch-ms, since
// this engine stores every date/time/timestamp column as Unix epoch-ms,
// while PostgreSQL's binary date/timestamp formats count from
// 2000-01-01.
const pgEpochMillis int64 = 946684800000

// encodeBinary renders v in the wire binary format for its OID. Callers
// that don't support a binary form for a given kind should not reach here;
// the Bind/Describe layer falls back to text for those.
func encodeBinary(v types.Value) ([]byte, error) {
	if v.Null {
		return nil, nil // caller encodes NULL as a -1 length, not an empty buffer
	}
	switch v.Kind {
	case types.Boolean:
		if v.B {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case types.SmallInt:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(int16(v.I)))
		return b[:], nil
	case types.Integer:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(v.I)))
		return b[:], nil
	case types.BigInt:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.I))
		return b[:], nil
	case types.Real:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(float32(v.F)))
		return b[:], nil
	case types.Double:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.F))
		return b[:], nil
	case types.Bytea:
		return []byte(v.S), nil
	case types.Text, types.Varchar, types.Char, types.Json, types.Jsonb, types.Uuid:
		return []byte(v.S), nil
	case types.Date:
		var b [4]byte
		days := int32((v.I - pgEpochMillis) / 86400000)
		binary.BigEndian.PutUint32(b[:], uint32(days))
		return b[:], nil
	case types.Timestamp, types.TimestampTz:
		var b [8]byte
		micros := (v.I - pgEpochMillis) * 1000
		binary.BigEndian.PutUint64(b[:], uint64(micros))
		return b[:], nil
	case types.Time, types.TimeTz:
		var b [8]byte
		micros := v.I * 1000
		binary.BigEndian.PutUint64(b[:], uint64(micros))
		return b[:], nil
	default:
		return nil, fmt.Errorf("pgwire: no binary encoding for kind %s", v.Kind)
	}
}

// decodeBinary parses a wire binary value of kind k into a types.Value, the
// inverse of encodeBinary, used when a Bind parameter arrives in binary
// format.
func decodeBinary(k types.Kind, buf []byte) (types.Value, error) {
	switch k {
	case types.Boolean:
		if len(buf) != 1 {
			return types.Value{}, fmt.Errorf("pgwire: bad bool binary length %d", len(buf))
		}
		return types.BoolValue(buf[0] != 0), nil
	case types.SmallInt:
		if len(buf) != 2 {
			return types.Value{}, fmt.Errorf("pgwire: bad int2 binary length %d", len(buf))
		}
		return types.IntValue(types.SmallInt, int64(int16(binary.BigEndian.Uint16(buf)))), nil
	case types.Integer:
		if len(buf) != 4 {
			return types.Value{}, fmt.Errorf("pgwire: bad int4 binary length %d", len(buf))
		}
		return types.IntValue(types.Integer, int64(int32(binary.BigEndian.Uint32(buf)))), nil
	case types.BigInt:
		if len(buf) != 8 {
			return types.Value{}, fmt.Errorf("pgwire: bad int8 binary length %d", len(buf))
		}
		return types.IntValue(types.BigInt, int64(binary.BigEndian.Uint64(buf))), nil
	case types.Real:
		if len(buf) != 4 {
			return types.Value{}, fmt.Errorf("pgwire: bad float4 binary length %d", len(buf))
		}
		return types.FloatValue(types.Real, float64(math.Float32frombits(binary.BigEndian.Uint32(buf)))), nil
	case types.Double:
		if len(buf) != 8 {
			return types.Value{}, fmt.Errorf("pgwire: bad float8 binary length %d", len(buf))
		}
		return types.FloatValue(types.Double, math.Float64frombits(binary.BigEndian.Uint64(buf))), nil
	case types.Bytea:
		return types.Value{Kind: types.Bytea, S: string(buf)}, nil
	case types.Date:
		if len(buf) != 4 {
			return types.Value{}, fmt.Errorf("pgwire: bad date binary length %d", len(buf))
		}
		days := int32(binary.BigEndian.Uint32(buf))
		return types.IntValue(types.Date, int64(days)*86400000+pgEpochMillis), nil
	case types.Timestamp, types.TimestampTz:
		if len(buf) != 8 {
			return types.Value{}, fmt.Errorf("pgwire: bad timestamp binary length %d", len(buf))
		}
		micros := int64(binary.BigEndian.Uint64(buf))
		return types.IntValue(k, micros/1000+pgEpochMillis), nil
	case types.Time, types.TimeTz:
		if len(buf) != 8 {
			return types.Value{}, fmt.Errorf("pgwire: bad time binary length %d", len(buf))
		}
		micros := int64(binary.BigEndian.Uint64(buf))
		return types.IntValue(k, micros/1000), nil
	default:
		return decodeText(k, string(buf))
	}
}

// decodeText parses a wire text-format value of kind k, used both for text
// Bind parameters and as the fallback for any kind with no binary form.
func decodeText(k types.Kind, s string) (types.Value, error) {
	switch k {
	case types.Boolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return types.Value{}, err
		}
		return types.BoolValue(b), nil
	case types.SmallInt, types.Integer, types.BigInt, types.Date, types.Time, types.TimeTz, types.Timestamp, types.TimestampTz:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntValue(k, i), nil
	case types.Real, types.Double, types.Numeric:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.FloatValue(k, f), nil
	default:
		return types.Value{Kind: k, S: s}, nil
	}
}

// encodeText renders v as its wire text representation; types.Value.String
// already implements SQL's textual form for every kind.
func encodeText(v types.Value) []byte {
	return []byte(v.String())
}
