package attr

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Flat is the serialization form of an attribute: its id, its type in text
// form and every element rendered as canonical text. Scalars have exactly one
// item.
type Flat struct {
	ID    ID       `json:"id" yaml:"id" dynamodbav:"id"`
	Type  string   `json:"type" yaml:"type" dynamodbav:"type"`
	Items []string `json:"items" yaml:"items" dynamodbav:"items"`
}

// Export flattens a. Values whose type cannot be stored fail with
// ErrNotSupported rather than losing data.
func Export(a Attribute) (Flat, error) {
	if a.Value == nil {
		return Flat{}, fmt.Errorf("%w: attribute %d has no value", ErrTypeMismatch, a.ID)
	}
	t := a.Value.ValueType()
	if !t.Valid() {
		return Flat{}, fmt.Errorf("%w: attribute %d of type %s", ErrNotSupported, a.ID, t)
	}
	if err := Validate(a.Value); err != nil {
		return Flat{}, fmt.Errorf("attribute %d: %w", a.ID, err)
	}
	its := items(a.Value)
	if its == nil {
		its = []string{}
	}
	return Flat{ID: a.ID, Type: t.String(), Items: its}, nil
}

// Import rebuilds the attribute described by f.
func Import(f Flat) (Attribute, error) {
	t, err := ParseType(f.Type)
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute %d: %w", f.ID, err)
	}
	if !t.List {
		if len(f.Items) != 1 {
			return Attribute{}, fmt.Errorf("%w: attribute %d: scalar needs one item, got %d",
				ErrInvalidValue, f.ID, len(f.Items))
		}
		v, err := ParseScalar(t.Kind, f.Items[0])
		if err != nil {
			return Attribute{}, fmt.Errorf("attribute %d: %w", f.ID, err)
		}
		return Attribute{ID: f.ID, Value: v}, nil
	}
	v, err := parseList(t.Kind, f.Items)
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute %d: %w", f.ID, err)
	}
	return Attribute{ID: f.ID, Value: v}, nil
}

// ExportSet flattens every attribute of s in id order.
func ExportSet(s Set) ([]Flat, error) {
	out := make([]Flat, 0, s.Len())
	for _, a := range s.attrs {
		f, err := Export(a)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ImportSet rebuilds a Set from flattened attributes.
func ImportSet(fs []Flat) (Set, error) {
	var s Set
	for _, f := range fs {
		a, err := Import(f)
		if err != nil {
			return Set{}, err
		}
		s.Put(a)
	}
	return s, nil
}

func parseList(k Kind, its []string) (Value, error) {
	switch k {
	case KindBool:
		return parseElems[Bool](k, its)
	case KindU8:
		return parseElems[U8](k, its)
	case KindU16:
		return parseElems[U16](k, its)
	case KindU32:
		return parseElems[U32](k, its)
	case KindU64:
		return parseElems[U64](k, its)
	case KindI64:
		return parseElems[I64](k, its)
	case KindEnum:
		return parseElems[Enum](k, its)
	case KindMAC:
		return parseElems[MAC](k, its)
	case KindString:
		return parseElems[Text](k, its)
	case KindIP:
		return parseElems[IP](k, its)
	case KindPrefix:
		return parseElems[Prefix](k, its)
	case KindHandle:
		return parseElems[Handle](k, its)
	case KindRange:
		return nil, fmt.Errorf("%w: list<range>", ErrNotSupported)
	}
	return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidValue, k)
}

func parseElems[T Elem](k Kind, its []string) (Value, error) {
	l := make(List[T], 0, len(its))
	for _, s := range its {
		v, err := ParseScalar(k, s)
		if err != nil {
			return nil, err
		}
		l = append(l, v.(T))
	}
	return l, nil
}

// ParseScalar parses the canonical text form of a scalar of kind k.
func ParseScalar(k Kind, s string) (Value, error) {
	bad := func(err error) (Value, error) {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidValue, k, s, err)
	}
	switch k {
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return bad(err)
		}
		return Bool(b), nil
	case KindU8, KindU16, KindU32, KindU64:
		bits := map[Kind]int{KindU8: 8, KindU16: 16, KindU32: 32, KindU64: 64}[k]
		n, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return bad(err)
		}
		switch k {
		case KindU8:
			return U8(n), nil
		case KindU16:
			return U16(n), nil
		case KindU32:
			return U32(n), nil
		}
		return U64(n), nil
	case KindI64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return bad(err)
		}
		return I64(n), nil
	case KindEnum:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return bad(err)
		}
		return Enum(n), nil
	case KindMAC:
		hw, err := net.ParseMAC(s)
		if err != nil {
			return bad(err)
		}
		if len(hw) != 6 {
			return bad(fmt.Errorf("want 6 bytes, got %d", len(hw)))
		}
		var m MAC
		copy(m[:], hw)
		return m, nil
	case KindString:
		return Text(s), nil
	case KindIP:
		if s == "" {
			return IP{}, nil
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return bad(err)
		}
		return IP(a), nil
	case KindPrefix:
		if s == "" {
			return Prefix{}, nil
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return bad(err)
		}
		return Prefix(p), nil
	case KindRange:
		lo, hi, ok := strings.Cut(s, "-")
		if !ok {
			return bad(fmt.Errorf("missing '-'"))
		}
		from, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return bad(err)
		}
		to, err := strconv.ParseUint(hi, 10, 32)
		if err != nil {
			return bad(err)
		}
		return Range{Min: uint32(from), Max: uint32(to)}, nil
	case KindHandle:
		i := strings.LastIndexByte(s, ':')
		if i < 0 {
			return bad(fmt.Errorf("missing ':'"))
		}
		id, err := strconv.ParseUint(s[i+1:], 10, 64)
		if err != nil {
			return bad(err)
		}
		return Handle{Type: ObjectType(s[:i]), ID: id}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidValue, k)
}
