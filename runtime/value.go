package runtime

import (
	"fmt"
	"strconv"
)

// Kind identifies the variant a Value holds.
type Kind uint8

const (
	KindNil Kind = iota
	KindEmptyTuple
	KindBoolTrue
	KindBoolFalse
	KindInteger
	KindFloat
	KindInternStr
	KindObject
)

// String returns a human-readable name for Kind.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindEmptyTuple:
		return "empty"
	case KindBoolTrue, KindBoolFalse:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindInternStr:
		return "string"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Variant is a Sphinx runtime value.
//
// Primitives (nil, the empty tuple, booleans, integers, floats, interned
// strings) have copy semantics. Heap objects are referenced through a GC
// Handle; the Variant itself never owns heap storage.
type Variant struct {
	kind Kind
	num  int64   // integer payload, Symbol, or packed Handle
	flt  float64 // float payload
}

// Singleton primitive values.
var (
	Nil        = Variant{kind: KindNil}
	EmptyTuple = Variant{kind: KindEmptyTuple}
	True       = Variant{kind: KindBoolTrue}
	False      = Variant{kind: KindBoolFalse}
)

// FromInt creates an integer Variant.
func FromInt(n int64) Variant {
	return Variant{kind: KindInteger, num: n}
}

// FromFloat creates a float Variant.
func FromFloat(f float64) Variant {
	return Variant{kind: KindFloat, flt: f}
}

// FromBool creates a boolean Variant.
func FromBool(b bool) Variant {
	if b {
		return True
	}
	return False
}

// FromSymbol creates an interned-string Variant.
func FromSymbol(sym Symbol) Variant {
	return Variant{kind: KindInternStr, num: int64(sym)}
}

// FromObject creates a Variant referencing a heap object.
func FromObject(h Handle) Variant {
	return Variant{kind: KindObject, num: h.pack()}
}

// Kind returns the variant tag.
func (v Variant) Kind() Kind { return v.kind }

func (v Variant) IsNil() bool        { return v.kind == KindNil }
func (v Variant) IsEmptyTuple() bool { return v.kind == KindEmptyTuple }
func (v Variant) IsBool() bool       { return v.kind == KindBoolTrue || v.kind == KindBoolFalse }
func (v Variant) IsInteger() bool    { return v.kind == KindInteger }
func (v Variant) IsFloat() bool      { return v.kind == KindFloat }
func (v Variant) IsInternStr() bool  { return v.kind == KindInternStr }
func (v Variant) IsObject() bool     { return v.kind == KindObject }

// Int returns the integer payload.
// Panics if v is not an integer.
func (v Variant) Int() int64 {
	if v.kind != KindInteger {
		panic("Variant.Int: not an integer")
	}
	return v.num
}

// Float returns the float payload.
// Panics if v is not a float.
func (v Variant) Float() float64 {
	if v.kind != KindFloat {
		panic("Variant.Float: not a float")
	}
	return v.flt
}

// Bool returns the boolean payload.
// Panics if v is not a boolean.
func (v Variant) Bool() bool {
	switch v.kind {
	case KindBoolTrue:
		return true
	case KindBoolFalse:
		return false
	default:
		panic("Variant.Bool: not a boolean")
	}
}

// Symbol returns the interned-string handle.
// Panics if v is not an interned string.
func (v Variant) Symbol() Symbol {
	if v.kind != KindInternStr {
		panic("Variant.Symbol: not an interned string")
	}
	return Symbol(v.num)
}

// Object returns the GC handle.
// Panics if v is not a heap object.
func (v Variant) Object() Handle {
	if v.kind != KindObject {
		panic("Variant.Object: not an object")
	}
	return unpackHandle(v.num)
}

// FloatValue coerces an arithmetic primitive to float64.
// Panics if v is not an integer or float.
func (v Variant) FloatValue() float64 {
	switch v.kind {
	case KindInteger:
		return float64(v.num)
	case KindFloat:
		return v.flt
	default:
		panic("Variant.FloatValue: not an arithmetic primitive")
	}
}

// BitValue coerces a bitwise primitive to an integer. Booleans map to 0/1,
// which is the representation used by the shift operators.
// Panics if v is not a boolean or integer.
func (v Variant) BitValue() int64 {
	switch v.kind {
	case KindBoolTrue:
		return 1
	case KindBoolFalse:
		return 0
	case KindInteger:
		return v.num
	default:
		panic("Variant.BitValue: not a bitwise primitive")
	}
}

// Truthy reports whether v is considered true in conditionals.
// Only nil and false are falsy.
func (v Variant) Truthy() bool {
	return v.kind != KindNil && v.kind != KindBoolFalse
}

// Display renders v for user-facing output, resolving interned strings
// through the given interner.
func (v Variant) Display(strings *Interner) string {
	if v.kind == KindInternStr {
		if s, ok := strings.Lookup(Symbol(v.num)); ok {
			return s
		}
		return fmt.Sprintf("$%d", v.num)
	}
	return v.String()
}

// String renders v without access to an interner. Interned strings and
// objects render as tagged handles.
func (v Variant) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindEmptyTuple:
		return "()"
	case KindBoolTrue:
		return "true"
	case KindBoolFalse:
		return "false"
	case KindInteger:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindInternStr:
		return fmt.Sprintf("$%d", v.num)
	case KindObject:
		h := unpackHandle(v.num)
		return fmt.Sprintf("<object %d.%d>", h.slot, h.gen)
	default:
		return fmt.Sprintf("<invalid %d>", v.kind)
	}
}
