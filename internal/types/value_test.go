package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEquality(t *testing.T) {
	// Cross-width numeric equality.
	assert.True(t, IntValue(Integer, 5).Equal(FloatValue(Double, 5)))
	assert.False(t, IntValue(Integer, 5).Equal(FloatValue(Double, 5.5)))

	// Two NULLs compare equal for grouping/dedup purposes.
	assert.True(t, NullValue(Integer).Equal(NullValue(Text)))
	assert.False(t, NullValue(Integer).Equal(IntValue(Integer, 0)))

	assert.True(t, TextValue("a").Equal(TextValue("a")))
	assert.False(t, TextValue("a").Equal(BoolValue(true)))

	assert.True(t, VectorValue([]float32{1, 2}).Equal(VectorValue([]float32{1, 2})))
	assert.False(t, VectorValue([]float32{1, 2}).Equal(VectorValue([]float32{1})))

	// Epoch-ms kinds compare by their integer value, not their (empty)
	// string field.
	assert.True(t, IntValue(Timestamp, 1000).Equal(IntValue(Timestamp, 1000)))
	assert.False(t, IntValue(Timestamp, 1000).Equal(IntValue(Timestamp, 2000)))
	assert.True(t, IntValue(Timestamp, 1000).Equal(IntValue(BigInt, 1000)))
}

func TestEpochKindsAreNumericAccessors(t *testing.T) {
	ms, ok := IntValue(Timestamp, 1500).AsInt()
	assert.True(t, ok)
	assert.EqualValues(t, 1500, ms)
	f, ok := IntValue(Date, 86_400_000).AsFloat()
	assert.True(t, ok)
	assert.EqualValues(t, 86_400_000, f)
}

func TestValueCompare(t *testing.T) {
	assert.Equal(t, -1, IntValue(BigInt, 1).Compare(FloatValue(Double, 1.5)))
	assert.Equal(t, 1, TextValue("b").Compare(TextValue("a")))
	assert.Equal(t, 0, TextValue("a").Compare(TextValue("a")))
	assert.Equal(t, -1, BoolValue(false).Compare(BoolValue(true)))
	assert.Equal(t, 1, IntValue(Timestamp, 2000).Compare(IntValue(Timestamp, 1000)))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "NULL", NullValue(Integer).String())
	assert.Equal(t, "42", IntValue(BigInt, 42).String())
	assert.Equal(t, "2.5", FloatValue(Double, 2.5).String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "[1,2]", VectorValue([]float32{1, 2}).String())
}

func TestParseTimestampMs(t *testing.T) {
	ms, err := ParseTimestampMs("1970-01-02")
	require.NoError(t, err)
	assert.EqualValues(t, 86_400_000, ms)

	ms, err = ParseTimestampMs("1970-01-01T00:00:01Z")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, ms)

	ms, err = ParseTimestampMs("1970-01-01 00:00:00.5")
	require.NoError(t, err)
	assert.EqualValues(t, 500, ms)

	_, err = ParseTimestampMs("not a date")
	assert.Error(t, err)
}

func TestParseNumeric(t *testing.T) {
	f, err := ParseNumeric(" 3.5 ")
	require.NoError(t, err)
	assert.Equal(t, 3.5, f)

	_, err = ParseNumeric("NaN")
	assert.Error(t, err)
	_, err = ParseNumeric("abc")
	assert.Error(t, err)
}

func TestParseKindAliases(t *testing.T) {
	for name, want := range map[string]Kind{
		"integer": Integer, "int4": Integer, "int": Integer,
		"int2": SmallInt, "smallint": SmallInt,
		"int8": BigInt, "bigint": BigInt,
		"float4": Real, "float8": Double, "double": Double,
		"text": Text, "bool": Boolean, "boolean": Boolean,
		"timestamp": Timestamp,
	} {
		k, err := ParseKind(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, k, name)
	}
	_, err := ParseKind("whatsit")
	assert.Error(t, err)
}
