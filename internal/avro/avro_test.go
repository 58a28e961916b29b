package avro

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func zigzag(n int64) []byte {
	var out []byte
	u := uint64((n << 1) ^ (n >> 63))
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

func TestDecodePrimitives(t *testing.T) {
	s, err := ParseSchema(`"long"`)
	require.NoError(t, err)
	v, err := Decode(s, zigzag(150))
	require.NoError(t, err)
	require.EqualValues(t, 150, v)

	s, err = ParseSchema(`"string"`)
	require.NoError(t, err)
	buf := append(zigzag(5), []byte("hello")...)
	v, err = Decode(s, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", v)

	s, err = ParseSchema(`"double"`)
	require.NoError(t, err)
	dbuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(dbuf, math.Float64bits(3.5))
	v, err = Decode(s, dbuf)
	require.NoError(t, err)
	require.Equal(t, 3.5, v)
}

func TestDecodeArray(t *testing.T) {
	schemaJSON := `{"type":"array","items":"int"}`
	s, err := ParseSchema(schemaJSON)
	require.NoError(t, err)

	var buf []byte
	buf = append(buf, zigzag(3)...)
	buf = append(buf, zigzag(1)...)
	buf = append(buf, zigzag(2)...)
	buf = append(buf, zigzag(3)...)
	buf = append(buf, zigzag(0)...)

	v, err := Decode(s, buf)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, v)
}

func TestDecodeRecordAndUnion(t *testing.T) {
	schemaJSON := `{
		"type": "record",
		"name": "Complex",
		"fields": [
			{"name": "a", "type": "int"},
			{"name": "b", "type": ["null", "string"]}
		]
	}`
	s, err := ParseSchema(schemaJSON)
	require.NoError(t, err)

	var buf []byte
	buf = append(buf, zigzag(7)...)
	buf = append(buf, zigzag(1)...) // union index 1 -> string
	buf = append(buf, zigzag(2)...)
	buf = append(buf, []byte("hi")...)

	v, err := Decode(s, buf)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 7, m["a"])
	require.Equal(t, "hi", m["b"])
}

func TestDecodeMap(t *testing.T) {
	schemaJSON := `{"type":"map","values":"long"}`
	s, err := ParseSchema(schemaJSON)
	require.NoError(t, err)

	var buf []byte
	buf = append(buf, zigzag(1)...)
	buf = append(buf, zigzag(3)...)
	buf = append(buf, []byte("key")...)
	buf = append(buf, zigzag(42)...)
	buf = append(buf, zigzag(0)...)

	v, err := Decode(s, buf)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 42, m["key"])
}
