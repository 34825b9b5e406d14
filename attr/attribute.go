package attr

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net/netip"
	"strings"
)

// ID identifies an attribute within an object type.
type ID uint16

// Attribute is one (id, value) pair of an object.
type Attribute struct {
	ID    ID
	Value Value
}

// New returns the attribute id holding v.
func New(id ID, v Value) Attribute {
	return Attribute{ID: id, Value: v}
}

// FromList returns a list attribute holding a copy of vs.
// Range lists fail with ErrNotSupported.
func FromList[T Elem](id ID, vs ...T) (Attribute, error) {
	l := make(List[T], len(vs))
	copy(l, vs)
	if !l.ValueType().Valid() {
		return Attribute{}, fmt.Errorf("%w: %s", ErrNotSupported, l.ValueType())
	}
	return Attribute{ID: id, Value: l}, nil
}

// Get returns the value of a as T, or ErrTypeMismatch if a holds another type.
func Get[T Value](a Attribute) (T, error) {
	v, ok := a.Value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: attribute %d holds %s, not %s",
			ErrTypeMismatch, a.ID, TypeOf(a.Value), TypeOf(zero))
	}
	return v, nil
}

// Set overwrites the value, and with it the type, of a.
func (a *Attribute) Set(v Value) {
	a.Value = v
}

// Type returns the type of the held value.
func (a Attribute) Type() Type { return TypeOf(a.Value) }

// String renders the attribute as "id=value".
func (a Attribute) String() string {
	if a.Value == nil {
		return fmt.Sprintf("%d=<nil>", a.ID)
	}
	return fmt.Sprintf("%d=%s", a.ID, a.Value.String())
}

// Equal reports whether a and b have the same id and value.
func (a Attribute) Equal(b Attribute) bool {
	return Compare(a, b) == 0
}

// Compare orders attributes by id, then type, then value.
func Compare(a, b Attribute) int {
	if c := cmp.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	return CompareValues(a.Value, b.Value)
}

// CompareValues orders values by type, then content. Lists compare element
// by element, then by length.
func CompareValues(a, b Value) int {
	ta, tb := TypeOf(a), TypeOf(b)
	if c := cmp.Compare(ta.Kind, tb.Kind); c != 0 {
		return c
	}
	if ta.List != tb.List {
		if ta.List {
			return 1
		}
		return -1
	}
	if a == nil {
		return 0
	}
	if ta.List {
		la, lb := a.(listValue).Values(), b.(listValue).Values()
		for i := 0; i < len(la) && i < len(lb); i++ {
			if c := compareScalar(la[i], lb[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(la), len(lb))
	}
	return compareScalar(a, b)
}

func compareScalar(a, b Value) int {
	switch x := a.(type) {
	case Bool:
		y := b.(Bool)
		switch {
		case x == y:
			return 0
		case !bool(x):
			return -1
		default:
			return 1
		}
	case U8:
		return cmp.Compare(x, b.(U8))
	case U16:
		return cmp.Compare(x, b.(U16))
	case U32:
		return cmp.Compare(x, b.(U32))
	case U64:
		return cmp.Compare(x, b.(U64))
	case I64:
		return cmp.Compare(x, b.(I64))
	case Enum:
		return cmp.Compare(x, b.(Enum))
	case MAC:
		y := b.(MAC)
		return bytes.Compare(x[:], y[:])
	case Text:
		return strings.Compare(string(x), string(b.(Text)))
	case IP:
		return netip.Addr(x).Compare(netip.Addr(b.(IP)))
	case Prefix:
		px, py := netip.Prefix(x), netip.Prefix(b.(Prefix))
		if c := px.Addr().Compare(py.Addr()); c != 0 {
			return c
		}
		return cmp.Compare(px.Bits(), py.Bits())
	case Range:
		y := b.(Range)
		if c := cmp.Compare(x.Min, y.Min); c != 0 {
			return c
		}
		return cmp.Compare(x.Max, y.Max)
	case Handle:
		return CompareHandles(x, b.(Handle))
	}
	return 0
}

// Hash returns a 64-bit FNV-1a hash of the attribute. Equal attributes hash
// equally.
func (a Attribute) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[:2], uint16(a.ID))
	h.Write(buf[:2])
	h.Write([]byte(TypeOf(a.Value).String()))
	for _, item := range items(a.Value) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(item)))
		h.Write(buf[:])
		h.Write([]byte(item))
	}
	return h.Sum64()
}

// items renders each element of v in its canonical text form.
func items(v Value) []string {
	if v == nil {
		return nil
	}
	if l, ok := v.(listValue); ok {
		vs := l.Values()
		out := make([]string, len(vs))
		for i, e := range vs {
			out[i] = e.String()
		}
		return out
	}
	return []string{v.String()}
}
