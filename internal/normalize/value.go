// Package normalize reduces the polymorphic JSON shapes carried by ML
// result payloads to the flat column values the destination tables store.
// The same field may arrive as a string, a number, a list, or an object
// depending on the model version that produced it; every normalizer here
// accepts all of them and emits a bounded canonical form.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the JSON shape a Value decoded from.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
)

// Value is one decoded JSON value. Object fields keep document order so
// flattened renderings are deterministic.
type Value struct {
	kind   Kind
	str    string
	numRaw string
	num    float64
	b      bool
	list   []Value
	keys   []string
	fields map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String wraps s.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps n.
func Number(n float64) Value {
	return Value{kind: KindNumber, num: n, numRaw: strconv.FormatFloat(n, 'f', -1, 64)}
}

// Bool wraps b.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List wraps items.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Object builds an object from alternating key, Value pairs, preserving
// the given order. It panics on a malformed pair list; it exists for tests
// and fixtures, not for decoding.
func Object(pairs ...any) Value {
	if len(pairs)%2 != 0 {
		panic("normalize: Object requires key/value pairs")
	}
	v := Value{kind: KindObject, fields: make(map[string]Value, len(pairs)/2)}
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("normalize: Object keys must be strings")
		}
		val, ok := pairs[i+1].(Value)
		if !ok {
			panic("normalize: Object values must be normalize.Value")
		}
		if _, dup := v.fields[key]; !dup {
			v.keys = append(v.keys, key)
		}
		v.fields[key] = val
	}
	return v
}

// UnmarshalJSON decodes any JSON value, keeping object key order and the
// original numeric literal.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	decoded, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := Value{kind: KindObject, fields: map[string]Value{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("decode object key: unexpected token %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				if _, dup := obj.fields[key]; !dup {
					obj.keys = append(obj.keys, key)
				}
				obj.fields[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return obj, nil
		case '[':
			arr := Value{kind: KindList}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr.list = append(arr.list, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return arr, nil
		default:
			return Value{}, fmt.Errorf("decode value: unexpected delimiter %v", t)
		}
	case string:
		return String(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("decode number %q: %w", t.String(), err)
		}
		return Value{kind: KindNumber, num: n, numRaw: t.String()}, nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("decode value: unexpected token %v", tok)
	}
}

// Kind reports the decoded shape.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null (or a zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string contents for KindString values, "" otherwise.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.str
	}
	return ""
}

// Num returns the numeric contents for KindNumber values, 0 otherwise.
func (v Value) Num() float64 {
	if v.kind == KindNumber {
		return v.num
	}
	return 0
}

// Items returns the elements of a list value.
func (v Value) Items() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Field looks up an object field by key.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.fields[key]
	return f, ok
}

// Keys returns object keys in document order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return v.keys
}

// Truthy mirrors the emptiness rules the flattening laws are defined
// over: null, "", blank strings, 0, false and empty containers are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindString:
		return strings.TrimSpace(v.str) != ""
	case KindNumber:
		return v.num != 0
	case KindBool:
		return v.b
	case KindList:
		return len(v.list) > 0
	case KindObject:
		return len(v.fields) > 0
	default:
		return false
	}
}

// Stringify renders the value as display text. Strings pass through,
// numbers keep their original literal, lists join their non-empty
// elements and objects render "key: value" pairs for truthy fields in
// document order.
func (v Value) Stringify() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return v.formatNumber()
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			if s := item.Stringify(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case KindObject:
		parts := make([]string, 0, len(v.keys))
		for _, k := range v.keys {
			f := v.fields[k]
			if !f.Truthy() {
				continue
			}
			parts = append(parts, k+": "+f.Stringify())
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func (v Value) formatNumber() string {
	if v.numRaw != "" {
		return v.numRaw
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}
