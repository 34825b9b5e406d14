package attr

import (
	"cmp"
	"strconv"
)

// ObjectType names a class of objects declared in the schema (e.g., "port").
type ObjectType string

// Handle identifies a live object instance. The zero ID is the null handle.
type Handle struct {
	Type ObjectType
	ID   uint64
}

// IsNull reports whether h refers to no object.
func (h Handle) IsNull() bool { return h.ID == 0 }

func (Handle) ValueType() Type { return ScalarOf(KindHandle) }
func (Handle) isValue()        {}

// String renders the handle as "type:id".
func (h Handle) String() string {
	return string(h.Type) + ":" + strconv.FormatUint(h.ID, 10)
}

// CompareHandles orders handles by type name, then id.
func CompareHandles(a, b Handle) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Handles returns the non-null handles referenced by v, in list order.
func Handles(v Value) []Handle {
	switch x := v.(type) {
	case Handle:
		if x.IsNull() {
			return nil
		}
		return []Handle{x}
	case List[Handle]:
		out := make([]Handle, 0, len(x))
		for _, h := range x {
			if !h.IsNull() {
				out = append(out, h)
			}
		}
		return out
	}
	return nil
}
