// Package attr provides the typed attribute values stored on switch objects.
//
// A [Value] is a closed sum type: one Go type per scalar kind plus the generic
// [List] for homogeneous lists. Values are treated as immutable once stored.
package attr

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind identifies the scalar kind of a value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindU8
	KindU16
	KindU32
	KindU64
	KindI64
	KindEnum
	KindMAC
	KindString
	KindIP
	KindPrefix
	KindRange
	KindHandle
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindU8:      "u8",
	KindU16:     "u16",
	KindU32:     "u32",
	KindU64:     "u64",
	KindI64:     "i64",
	KindEnum:    "enum",
	KindMAC:     "mac",
	KindString:  "string",
	KindIP:      "ipaddr",
	KindPrefix:  "ipprefix",
	KindRange:   "range",
	KindHandle:  "handle",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Type is the full value type of an attribute: a scalar kind, optionally as a list.
type Type struct {
	Kind Kind
	List bool
}

// ScalarOf returns the scalar type of kind k.
func ScalarOf(k Kind) Type { return Type{Kind: k} }

// ListOf returns the list type with element kind k.
func ListOf(k Kind) Type { return Type{Kind: k, List: true} }

// Valid reports whether t can be stored. Lists of ranges are not supported.
func (t Type) Valid() bool {
	if t.Kind == KindInvalid || t.Kind > KindHandle {
		return false
	}
	return !(t.List && t.Kind == KindRange)
}

func (t Type) String() string {
	if t.List {
		return "list<" + t.Kind.String() + ">"
	}
	return t.Kind.String()
}

// ParseType parses the textual form produced by Type.String.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	list := false
	if strings.HasPrefix(s, "list<") && strings.HasSuffix(s, ">") {
		list = true
		s = s[len("list<") : len(s)-1]
	}
	for k, name := range kindNames {
		if k == int(KindInvalid) || name != s {
			continue
		}
		t := Type{Kind: Kind(k), List: list}
		if list && t.Kind == KindRange {
			return Type{}, fmt.Errorf("%w: list<range>", ErrNotSupported)
		}
		return t, nil
	}
	return Type{}, fmt.Errorf("%w: unknown type %q", ErrInvalidValue, s)
}

// Value is implemented by every storable attribute value.
type Value interface {
	ValueType() Type
	String() string
	isValue()
}

// Scalar value types.
type (
	Bool bool
	U8   uint8
	U16  uint16
	U32  uint32
	U64  uint64
	I64  int64
	Enum int32
	MAC  [6]byte
	Text string
	IP   netip.Addr
	// Prefix is an IP network prefix.
	Prefix netip.Prefix
	// Range is an inclusive numeric range, used by match-range fields.
	Range struct {
		Min uint32
		Max uint32
	}
)

// Elem constrains the element types of a List.
type Elem interface {
	Bool | U8 | U16 | U32 | U64 | I64 | Enum | MAC | Text | IP | Prefix | Range | Handle
	Value
}

func (Bool) ValueType() Type   { return ScalarOf(KindBool) }
func (U8) ValueType() Type     { return ScalarOf(KindU8) }
func (U16) ValueType() Type    { return ScalarOf(KindU16) }
func (U32) ValueType() Type    { return ScalarOf(KindU32) }
func (U64) ValueType() Type    { return ScalarOf(KindU64) }
func (I64) ValueType() Type    { return ScalarOf(KindI64) }
func (Enum) ValueType() Type   { return ScalarOf(KindEnum) }
func (MAC) ValueType() Type    { return ScalarOf(KindMAC) }
func (Text) ValueType() Type   { return ScalarOf(KindString) }
func (IP) ValueType() Type     { return ScalarOf(KindIP) }
func (Prefix) ValueType() Type { return ScalarOf(KindPrefix) }
func (Range) ValueType() Type  { return ScalarOf(KindRange) }

func (Bool) isValue()   {}
func (U8) isValue()     {}
func (U16) isValue()    {}
func (U32) isValue()    {}
func (U64) isValue()    {}
func (I64) isValue()    {}
func (Enum) isValue()   {}
func (MAC) isValue()    {}
func (Text) isValue()   {}
func (IP) isValue()     {}
func (Prefix) isValue() {}
func (Range) isValue()  {}

func (v Bool) String() string { return strconv.FormatBool(bool(v)) }
func (v U8) String() string   { return strconv.FormatUint(uint64(v), 10) }
func (v U16) String() string  { return strconv.FormatUint(uint64(v), 10) }
func (v U32) String() string  { return strconv.FormatUint(uint64(v), 10) }
func (v U64) String() string  { return strconv.FormatUint(uint64(v), 10) }
func (v I64) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Enum) String() string { return strconv.FormatInt(int64(v), 10) }
func (v Text) String() string { return string(v) }

func (v MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", v[0], v[1], v[2], v[3], v[4], v[5])
}

// String renders IPv4 as dotted quad and IPv6 as compressed colon-hex.
// The zero address renders as the empty string.
func (v IP) String() string {
	a := netip.Addr(v)
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

func (v Prefix) String() string {
	p := netip.Prefix(v)
	if !p.IsValid() {
		return ""
	}
	return p.String()
}

func (v Range) String() string {
	return strconv.FormatUint(uint64(v.Min), 10) + "-" + strconv.FormatUint(uint64(v.Max), 10)
}

// List is a homogeneous list value. Element order is significant.
type List[T Elem] []T

// listValue is the element-agnostic view of a List.
type listValue interface {
	Value
	Len() int
	Values() []Value
	clone() Value
}

func (l List[T]) ValueType() Type {
	var zero T
	return ListOf(zero.ValueType().Kind)
}

func (List[T]) isValue() {}

// Len returns the number of elements.
func (l List[T]) Len() int { return len(l) }

// Values returns the elements as Values.
func (l List[T]) Values() []Value {
	out := make([]Value, len(l))
	for i, v := range l {
		out[i] = v
	}
	return out
}

func (l List[T]) clone() Value {
	out := make(List[T], len(l))
	copy(out, l)
	return out
}

// String renders the list as a bracketed, comma separated list.
func (l List[T]) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Clone returns a copy of v that shares no backing storage with it.
func Clone(v Value) Value {
	if l, ok := v.(listValue); ok {
		return l.clone()
	}
	return v
}

// Validate checks that v survives export unchanged. Text must be valid
// UTF-8, since every backend stores items as text.
func Validate(v Value) error {
	switch x := v.(type) {
	case Text:
		if !utf8.ValidString(string(x)) {
			return fmt.Errorf("%w: text %q is not valid UTF-8", ErrInvalidValue, string(x))
		}
	case List[Text]:
		for i, e := range x {
			if !utf8.ValidString(string(e)) {
				return fmt.Errorf("%w: item %d %q is not valid UTF-8", ErrInvalidValue, i, string(e))
			}
		}
	}
	return nil
}

// TypeOf returns the type of v, or the zero Type for nil.
func TypeOf(v Value) Type {
	if v == nil {
		return Type{}
	}
	return v.ValueType()
}
