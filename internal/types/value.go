package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Value is a tagged runtime scalar. Null==true means SQL NULL for that
// cell, and NullValue(k) builds a typed NULL; the zero Value{} has
// Null==false and Kind 0, so it is not NULL.
type Value struct {
	Kind Kind
	Null bool

	I   int64
	F   float64
	S   string
	B   bool
	Vec []float32
}

// NullValue returns the canonical NULL of the given kind (kind matters for
// typed NULL propagation through casts).
func NullValue(k Kind) Value { return Value{Kind: k, Null: true} }

func IntValue(k Kind, i int64) Value     { return Value{Kind: k, I: i} }
func FloatValue(k Kind, f float64) Value { return Value{Kind: k, F: f} }
func TextValue(s string) Value           { return Value{Kind: Text, S: s} }
func BoolValue(b bool) Value             { return Value{Kind: Boolean, B: b} }
func VectorValue(v []float32) Value      { return Value{Kind: VectorF32, Vec: v} }

// AsFloat widens any numeric Value to float64. The date/time kinds count
// as numeric here since they carry epoch-ms integers. Other kinds return
// (0, false).
func (v Value) AsFloat() (float64, bool) {
	if v.Null {
		return 0, false
	}
	switch v.Kind {
	case Real, Double, Numeric:
		return v.F, true
	case SmallInt, Integer, BigInt, Date, Time, TimeTz, Timestamp, TimestampTz:
		return float64(v.I), true
	default:
		return 0, false
	}
}

// AsInt narrows any numeric Value to int64, truncating floats. Date/time
// kinds yield their epoch-ms value.
func (v Value) AsInt() (int64, bool) {
	if v.Null {
		return 0, false
	}
	switch v.Kind {
	case SmallInt, Integer, BigInt, Date, Time, TimeTz, Timestamp, TimestampTz:
		return v.I, true
	case Real, Double, Numeric:
		return int64(v.F), true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	if v.Null {
		return "NULL"
	}
	switch v.Kind {
	case Boolean:
		return strconv.FormatBool(v.B)
	case SmallInt, Integer, BigInt, Date, Timestamp, TimestampTz, Time, TimeTz:
		return strconv.FormatInt(v.I, 10)
	case Real, Double, Numeric:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case VectorF32:
		parts := make([]string, len(v.Vec))
		for i, f := range v.Vec {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return v.S
	}
}

// Equal implements the equality the engine uses for GROUP BY keys, UNION
// dedup, and comparison operators. Two NULLs of any kind compare
// equal here, so dedup and grouping fold them into one key, even though SQL
// WHERE-clause equality treats NULL specially — that distinction is handled
// one layer up in the evaluator's comparison operator, not here.
func (v Value) Equal(o Value) bool {
	if v.Null || o.Null {
		return v.Null == o.Null
	}
	if af, aok := v.AsFloat(); aok {
		if bf, bok := o.AsFloat(); bok {
			return af == bf
		}
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Boolean:
		return v.B == o.B
	case VectorF32:
		if len(v.Vec) != len(o.Vec) {
			return false
		}
		for i := range v.Vec {
			if v.Vec[i] != o.Vec[i] {
				return false
			}
		}
		return true
	default:
		return v.S == o.S
	}
}

// Compare returns -1/0/1 for ordering (ORDER BY, BETWEEN, comparisons).
// Only called on non-NULL values of comparable kinds; callers are
// responsible for NULL short-circuiting per SQL tri-valued logic.
func (v Value) Compare(o Value) int {
	if v.Kind.IsNumeric() || o.Kind.IsNumeric() {
		af, _ := v.AsFloat()
		bf, _ := o.AsFloat()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	switch v.Kind {
	case Date, Time, TimeTz, Timestamp, TimestampTz:
		switch {
		case v.I < o.I:
			return -1
		case v.I > o.I:
			return 1
		default:
			return 0
		}
	case Boolean:
		if v.B == o.B {
			return 0
		}
		if !v.B {
			return -1
		}
		return 1
	default:
		return strings.Compare(v.S, o.S)
	}
}

// ParseTimestampMs parses RFC-3339 or "YYYY-MM-DD[ HH:MM:SS[.f]]" into
// epoch-ms.
func ParseTimestampMs(s string) (int64, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		} else {
			lastErr = err
		}
	}
	return 0, fmt.Errorf("types: cannot parse %q as a date/timestamp: %w", s, lastErr)
}

// ParseNumeric permissively parses a string into a float64, rejecting
// anything that isn't a finite number.
func ParseNumeric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("types: cannot parse %q as numeric: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("types: %q is not a finite number", s)
	}
	return f, nil
}
