// Package structured implements the neutral JSON-shaped value used at every
// component boundary: tool input/output, manifests, job records.
package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a tagged-variant JSON value: null, bool, number, string, an
// ordered array of Value, or an ordered mapping of string to Value. It is
// immutable once constructed; equality is structural (see Equal).
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	// obj preserves insertion order via keys, paired with vals by index.
	keys []string
	vals []Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps an ordered list of values. The slice is copied.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// ObjectBuilder builds an ordered mapping, preserving the order keys are supplied.
type ObjectBuilder struct {
	keys []string
	vals []Value
	seen map[string]int
}

// NewObject starts an empty ordered object.
func NewObject() *ObjectBuilder {
	return &ObjectBuilder{seen: map[string]int{}}
}

// Set inserts or replaces a key, preserving first-insertion order.
func (b *ObjectBuilder) Set(key string, v Value) *ObjectBuilder {
	if idx, ok := b.seen[key]; ok {
		b.vals[idx] = v
		return b
	}
	b.seen[key] = len(b.keys)
	b.keys = append(b.keys, key)
	b.vals = append(b.vals, v)
	return b
}

// Build finalizes the object into an immutable Value.
func (b *ObjectBuilder) Build() Value {
	return Value{kind: KindObject, keys: append([]string(nil), b.keys...), vals: append([]Value(nil), b.vals...)}
}

// Kind reports the variant held.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool and whether the variant matched.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the float64 and whether the variant matched.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string and whether the variant matched.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the backing slice (read-only use expected) and whether the
// variant matched.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// Keys returns the ordered key list of an object, nil for non-objects.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return v.keys
}

// Get looks up a key in an object variant.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for i, k := range v.keys {
		if k == key {
			return v.vals[i], true
		}
	}
	return Value{}, false
}

// Equal reports structural equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for i, k := range a.keys {
			bv, ok := b.Get(k)
			if !ok || a.keys[i] != b.keys[i] || !Equal(a.vals[i], bv) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler, preserving object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyData, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(keyData)
			buf.WriteByte(':')
			valData, err := v.vals[i].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(valData)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("structured: unknown kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler, preserving object key order via
// json.Decoder's token stream (encoding/json's map decoding would lose it).
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return Value{kind: KindArray, arr: items}, nil
		case '{':
			ob := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("structured: expected string key, got %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				ob.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return ob.Build(), nil
		}
	}
	return Value{}, fmt.Errorf("structured: unexpected token %v", tok)
}

// FromAny converts a decoded interface{} (e.g. from a JSON schema library
// that uses map[string]any) into a Value. Object key order is alphabetized
// since map[string]any carries none.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case string:
		return String(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Value{kind: KindArray, arr: items}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ob := NewObject()
		for _, k := range keys {
			ob.Set(k, FromAny(t[k]))
		}
		return ob.Build()
	default:
		return Null()
	}
}

// ToAny converts a Value back into plain interface{} form, for interop with
// libraries (e.g. jsonschema validators) that expect map[string]any.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.keys))
		for i, k := range v.keys {
			out[k] = v.vals[i].ToAny()
		}
		return out
	}
	return nil
}
