// Package avro implements the minimal Avro binary-encoding decoder the
// feature-vector planner needs to render complex-feature columns (spec.md
// §3.3, §4.5.3): MAP, ARRAY, STRUCT (record) and UNIONTYPE base types. No
// Avro library was retrieved alongside the example repos for this spec
// (see DESIGN.md), so this is a direct, from-scratch reading of the Avro
// 1.11 binary encoding spec, scoped to the subset
// null|boolean|int|long|float|double|bytes|string|array|map|record|union
// that spec.md's complex-feature cases require — it is not a general Avro
// library (no schema resolution, no logical types).
package avro

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Schema is a parsed Avro schema node.
type Schema struct {
	Type string // "null","boolean","int","long","float","double","bytes","string","array","map","record","union","enum","fixed"

	Items  *Schema   // array
	Values *Schema   // map
	Fields []Field   // record
	Union  []*Schema // union
	Size   int       // fixed
	Name   string    // record/enum name
}

// Field is one record field.
type Field struct {
	Name string
	Type *Schema
}

// ParseSchema parses an Avro schema from its canonical JSON form.
func ParseSchema(jsonSchema string) (*Schema, error) {
	var raw any
	if err := json.Unmarshal([]byte(jsonSchema), &raw); err != nil {
		return nil, fmt.Errorf("avro: invalid schema json: %w", err)
	}
	return parseNode(raw)
}

func parseNode(raw any) (*Schema, error) {
	switch v := raw.(type) {
	case string:
		return &Schema{Type: normalizePrimitive(v)}, nil
	case []any:
		u := make([]*Schema, 0, len(v))
		for _, e := range v {
			s, err := parseNode(e)
			if err != nil {
				return nil, err
			}
			u = append(u, s)
		}
		return &Schema{Type: "union", Union: u}, nil
	case map[string]any:
		t, _ := v["type"].(string)
		switch normalizePrimitive(t) {
		case "array":
			items, err := parseNode(v["items"])
			if err != nil {
				return nil, err
			}
			return &Schema{Type: "array", Items: items}, nil
		case "map":
			values, err := parseNode(v["values"])
			if err != nil {
				return nil, err
			}
			return &Schema{Type: "map", Values: values}, nil
		case "record", "error":
			name, _ := v["name"].(string)
			fieldsRaw, _ := v["fields"].([]any)
			fields := make([]Field, 0, len(fieldsRaw))
			for _, fr := range fieldsRaw {
				fm, ok := fr.(map[string]any)
				if !ok {
					continue
				}
				fname, _ := fm["name"].(string)
				fs, err := parseNode(fm["type"])
				if err != nil {
					return nil, err
				}
				fields = append(fields, Field{Name: fname, Type: fs})
			}
			return &Schema{Type: "record", Name: name, Fields: fields}, nil
		case "fixed":
			name, _ := v["name"].(string)
			size, _ := v["size"].(float64)
			return &Schema{Type: "fixed", Name: name, Size: int(size)}, nil
		case "enum":
			name, _ := v["name"].(string)
			return &Schema{Type: "enum", Name: name}, nil
		default:
			// {"type": "<nested primitive or reference>"}
			return parseNode(t)
		}
	default:
		return nil, fmt.Errorf("avro: unsupported schema node %T", raw)
	}
}

func normalizePrimitive(t string) string {
	switch t {
	case "int", "long", "float", "double", "boolean", "string", "bytes", "null",
		"array", "map", "record", "union", "enum", "fixed", "error":
		return t
	default:
		return t
	}
}

// decoder reads Avro binary-encoded values sequentially from buf.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("avro: unexpected end of buffer")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// zigzagVarint decodes an Avro int/long: zigzag-encoded variable-length.
func (d *decoder) zigzagVarint() (int64, error) {
	var result uint64
	var shift uint
	for {
		b, err := d.byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("avro: varint too long")
		}
	}
	return int64(result>>1) ^ -(int64(result) & 1), nil
}

func (d *decoder) bytesOfLen(n int64) ([]byte, error) {
	if n < 0 || d.pos+int(n) > len(d.buf) {
		return nil, fmt.Errorf("avro: invalid byte length %d", n)
	}
	out := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return out, nil
}

// Decode decodes one value of the given schema from data, returning a Go
// value suitable for json.Marshal: nil, bool, int64, float64, string,
// []byte, []any, map[string]any.
func Decode(schema *Schema, data []byte) (any, error) {
	d := &decoder{buf: data}
	v, err := d.decodeValue(schema)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (d *decoder) decodeValue(s *Schema) (any, error) {
	switch s.Type {
	case "null":
		return nil, nil
	case "boolean":
		b, err := d.byte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case "int", "long":
		return d.zigzagVarint()
	case "float":
		if d.pos+4 > len(d.buf) {
			return nil, fmt.Errorf("avro: truncated float")
		}
		bits := binary.LittleEndian.Uint32(d.buf[d.pos : d.pos+4])
		d.pos += 4
		return float64(math.Float32frombits(bits)), nil
	case "double":
		if d.pos+8 > len(d.buf) {
			return nil, fmt.Errorf("avro: truncated double")
		}
		bits := binary.LittleEndian.Uint64(d.buf[d.pos : d.pos+8])
		d.pos += 8
		return math.Float64frombits(bits), nil
	case "bytes":
		n, err := d.zigzagVarint()
		if err != nil {
			return nil, err
		}
		b, err := d.bytesOfLen(n)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case "string":
		n, err := d.zigzagVarint()
		if err != nil {
			return nil, err
		}
		b, err := d.bytesOfLen(n)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case "fixed":
		b, err := d.bytesOfLen(int64(s.Size))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case "enum":
		_, err := d.zigzagVarint() // index, unresolved without symbol table
		return nil, err
	case "array":
		var out []any
		for {
			count, err := d.zigzagVarint()
			if err != nil {
				return nil, err
			}
			if count == 0 {
				break
			}
			if count < 0 {
				// block with byte-size prefix; consume and ignore the size
				if _, err := d.zigzagVarint(); err != nil {
					return nil, err
				}
				count = -count
			}
			for i := int64(0); i < count; i++ {
				v, err := d.decodeValue(s.Items)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	case "map":
		out := map[string]any{}
		for {
			count, err := d.zigzagVarint()
			if err != nil {
				return nil, err
			}
			if count == 0 {
				break
			}
			if count < 0 {
				if _, err := d.zigzagVarint(); err != nil {
					return nil, err
				}
				count = -count
			}
			for i := int64(0); i < count; i++ {
				kv, err := d.decodeValue(&Schema{Type: "string"})
				if err != nil {
					return nil, err
				}
				key, _ := kv.(string)
				v, err := d.decodeValue(s.Values)
				if err != nil {
					return nil, err
				}
				out[key] = v
			}
		}
		return out, nil
	case "record":
		out := map[string]any{}
		for _, f := range s.Fields {
			v, err := d.decodeValue(f.Type)
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
		return out, nil
	case "union":
		idx, err := d.zigzagVarint()
		if err != nil {
			return nil, err
		}
		if idx < 0 || int(idx) >= len(s.Union) {
			return nil, fmt.Errorf("avro: union index %d out of range", idx)
		}
		return d.decodeValue(s.Union[idx])
	default:
		return nil, fmt.Errorf("avro: unsupported schema type %q", s.Type)
	}
}
