// Package types models the SQL type system: column types, the tri-valued
// NULL a value can carry, and the coercion rules the evaluator and storage
// adapter share.
package types

import "fmt"

// Kind is a closed enum of the column types this dialect supports. A closed
// switch dispatch over Kind, not an open interface hierarchy, keeps new
// kinds from requiring changes scattered across an interface hierarchy.
type Kind int

const (
	Boolean Kind = iota
	SmallInt
	Integer
	BigInt
	Real
	Double
	Text
	Varchar
	Char
	Bytea
	Uuid
	Json
	Jsonb
	Date
	Time
	TimeTz
	Timestamp
	TimestampTz
	Interval
	Numeric
	VectorF32
)

func (k Kind) String() string {
	switch k {
	case Boolean:
		return "boolean"
	case SmallInt:
		return "smallint"
	case Integer:
		return "integer"
	case BigInt:
		return "bigint"
	case Real:
		return "real"
	case Double:
		return "double"
	case Text:
		return "text"
	case Varchar:
		return "varchar"
	case Char:
		return "char"
	case Bytea:
		return "bytea"
	case Uuid:
		return "uuid"
	case Json:
		return "json"
	case Jsonb:
		return "jsonb"
	case Date:
		return "date"
	case Time:
		return "time"
	case TimeTz:
		return "timetz"
	case Timestamp:
		return "timestamp"
	case TimestampTz:
		return "timestamptz"
	case Interval:
		return "interval"
	case Numeric:
		return "numeric"
	case VectorF32:
		return "vector"
	default:
		return "unknown"
	}
}

// ParseKind maps a type-name token from the parser to a Kind, resolving the
// handful of aliases the dialect accepts (int -> integer, bool -> boolean),
// via a small alias table rather than a sprawling switch.
var aliases = map[string]string{
	"int":      "integer",
	"int4":     "integer",
	"int2":     "smallint",
	"int8":     "bigint",
	"bool":     "boolean",
	"float4":   "real",
	"float8":   "double",
	"float":    "double",
	"string":   "text",
	"datetime": "timestamp",
}

func ParseKind(name string) (Kind, error) {
	if canon, ok := aliases[name]; ok {
		name = canon
	}
	switch name {
	case "boolean":
		return Boolean, nil
	case "smallint":
		return SmallInt, nil
	case "integer":
		return Integer, nil
	case "bigint":
		return BigInt, nil
	case "real":
		return Real, nil
	case "double":
		return Double, nil
	case "text":
		return Text, nil
	case "varchar":
		return Varchar, nil
	case "char":
		return Char, nil
	case "bytea":
		return Bytea, nil
	case "uuid":
		return Uuid, nil
	case "json":
		return Json, nil
	case "jsonb":
		return Jsonb, nil
	case "date":
		return Date, nil
	case "time":
		return Time, nil
	case "timetz":
		return TimeTz, nil
	case "timestamp":
		return Timestamp, nil
	case "timestamptz":
		return TimestampTz, nil
	case "interval":
		return Interval, nil
	case "numeric":
		return Numeric, nil
	case "vector":
		return VectorF32, nil
	default:
		return 0, fmt.Errorf("types: unknown type name %q", name)
	}
}

// IsNumeric reports whether k participates in arithmetic widening.
func (k Kind) IsNumeric() bool {
	switch k {
	case SmallInt, Integer, BigInt, Real, Double, Numeric:
		return true
	default:
		return false
	}
}

// IsInteger reports whether k is a whole-number kind (no implicit fraction).
func (k Kind) IsInteger() bool {
	switch k {
	case SmallInt, Integer, BigInt:
		return true
	default:
		return false
	}
}

// ColumnDef is the on-disk column shape recorded in schema.json, generalizing
// schema.Column (type name + nullability, no runtime value).
type ColumnDef struct {
	Name      string `json:"name"`
	Type      Kind   `json:"-"`
	TypeName  string `json:"type"`
	Nullable  bool   `json:"nullable"`
	Length    int    `json:"length,omitempty"`
	Precision int    `json:"precision,omitempty"`
	Scale     int    `json:"scale,omitempty"`
	VectorDim int    `json:"vector_dim,omitempty"`
}
