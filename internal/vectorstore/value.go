package vectorstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindStringList
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindStringList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a metadata scalar or a list of strings. The zero Value is invalid
// and is rejected by validation.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []string
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Int(n int) Value { return Number(float64(n)) }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Strings(s ...string) Value {
	return Value{kind: KindStringList, list: append([]string{}, s...)}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsString returns the string payload and whether v holds a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric payload and whether v holds a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean payload and whether v holds a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsStrings returns a copy of the list payload and whether v holds a list.
func (v Value) AsStrings() ([]string, bool) {
	if v.kind != KindStringList {
		return nil, false
	}
	return append([]string{}, v.list...), true
}

// Equal reports whether two values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindStringList:
		return slices.Equal(v.list, o.list)
	}
	return true
}

// Any converts the value to its plain Go form (string, float64, bool or
// []string).
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindStringList:
		return append([]string{}, v.list...)
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindStringList:
		return fmt.Sprintf("%q", v.list)
	}
	return "<invalid>"
}

func (v Value) validate() error {
	switch v.kind {
	case KindInvalid:
		return fmt.Errorf("value is unset")
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return fmt.Errorf("number %v is not finite", v.num)
		}
	}
	return nil
}

// MarshalJSON encodes the payload without any type tag.
func (v Value) MarshalJSON() ([]byte, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	if v.kind == KindStringList && v.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON accepts a string, number, bool or array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("metadata value cannot be null")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("metadata lists must contain only strings: %w", err)
		}
		*v = Strings(list...)
	case '{':
		return fmt.Errorf("nested metadata objects are not supported")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
	}
	return nil
}

// ValueOf converts a plain Go value into a Value. Integers of any width and
// float32/float64 become numbers; []string and []any of strings become lists.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(n), nil
	case []string:
		return Strings(t...), nil
	case []any:
		list := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return Value{}, fmt.Errorf("metadata lists must contain only strings, got %T", e)
			}
			list = append(list, s)
		}
		return Strings(list...), nil
	}
	return Value{}, fmt.Errorf("unsupported metadata type %T", x)
}

// Metadata is the per-record map of auxiliary fields.
type Metadata map[string]Value

// MetadataFrom converts a loosely typed map into Metadata.
func MetadataFrom(m map[string]any) (Metadata, error) {
	if m == nil {
		return nil, nil
	}
	out := make(Metadata, len(m))
	for k, raw := range m {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Map converts the metadata to plain Go values.
func (m Metadata) Map() map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

// Equal reports whether both maps hold the same keys and values.
func (m Metadata) Equal(o Metadata) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (m Metadata) validate() error {
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("metadata field name is empty")
		}
		if err := v.validate(); err != nil {
			return fmt.Errorf("metadata field %q: %w", k, err)
		}
	}
	return nil
}
