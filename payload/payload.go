// Package payload provides the typed key/value payload model attached
// to every record.
//
// It uses the unique package to intern string values, keeping repetitive
// payloads cheap.
package payload

import (
	"fmt"
	"math"
	"strconv"
	"unique"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindNull represents a null value.
	KindNull
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindBool:
		return "Bool"
	default:
		return "Invalid"
	}
}

// Value is a small typed scalar used for payload documents and filters.
//
// The representation keeps filtering fast and predictable: no reflection
// and no fmt-based stringification.
type Value struct {
	Kind Kind
	I64  int64
	F64  float64
	s    unique.Handle[string]
	B    bool
}

// Null returns a null Value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an int64 Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float64 Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, s: unique.Make(v)} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Of converts a plain Go scalar into a Value. Supported inputs are nil,
// string, bool, int, int32, int64, float32 and float64; any other type,
// including the other integer types, is an error.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported payload type %T", v)
	}
}

// AsInt64 returns the int64 value if Kind is KindInt.
func (v Value) AsInt64() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat64 returns the float64 value if Kind is KindFloat.
func (v Value) AsFloat64() (float64, bool) {
	if v.Kind != KindFloat {
		return 0, false
	}
	return v.F64, true
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.s.Value(), true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// StringValue returns the string value if Kind is KindString, otherwise
// the empty string.
func (v Value) StringValue() string {
	if v.Kind == KindString {
		return v.s.Value()
	}
	return ""
}

// Numeric reports the value as float64 for KindInt and KindFloat.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I64), true
	case KindFloat:
		return v.F64, true
	default:
		return 0, false
	}
}

// Key returns a stable string representation for use in map keys.
func (v Value) Key() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.s.Value()
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	default:
		return "invalid"
	}
}

// Equal reports whether two values compare equal. Int and float values
// compare numerically across kinds.
func (v Value) Equal(other Value) bool {
	if a, ok := v.Numeric(); ok {
		if b, ok := other.Numeric(); ok {
			return a == b
		}
		return false
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.s == other.s
	case KindBool:
		return v.B == other.B
	default:
		return false
	}
}

// Compare orders two values of compatible kinds: -1, 0 or +1. Int and
// float values interoperate; any other kind mix is an error, as is any
// kind without a total order (null, bool ordered false<true is allowed).
func Compare(a, b Value) (int, error) {
	if x, ok := a.Numeric(); ok {
		y, ok := b.Numeric()
		if !ok {
			return 0, fmt.Errorf("cannot order %s against %s", a.Kind, b.Kind)
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.Kind != b.Kind {
		return 0, fmt.Errorf("cannot order %s against %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindString:
		x, y := a.s.Value(), b.s.Value()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		default:
			return 0, nil
		}
	case KindBool:
		switch {
		case !a.B && b.B:
			return -1, nil
		case a.B && !b.B:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("kind %s has no total order", a.Kind)
	}
}

// Document is a typed payload document.
type Document map[string]Value

// Clone creates a copy of the payload document. Values are immutable, so
// a shallow copy of the map is a full clone.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}

// FromMap converts a plain map into a Document.
func FromMap(m map[string]any) (Document, error) {
	doc := make(Document, len(m))
	for k, v := range m {
		val, err := Of(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc[k] = val
	}
	return doc, nil
}
