package attr

import (
	"slices"
	"strings"
)

// Set holds at most one value per attribute id, kept sorted by id.
// The zero Set is empty and ready to use.
type Set struct {
	attrs []Attribute
}

// NewSet builds a Set from attrs. Later entries win over earlier ones with
// the same id.
func NewSet(attrs ...Attribute) Set {
	var s Set
	for _, a := range attrs {
		s.Put(a)
	}
	return s
}

func (s Set) search(id ID) (int, bool) {
	return slices.BinarySearchFunc(s.attrs, id, func(a Attribute, id ID) int {
		switch {
		case a.ID < id:
			return -1
		case a.ID > id:
			return 1
		}
		return 0
	})
}

// Put stores a, replacing any value already held for a.ID.
func (s *Set) Put(a Attribute) {
	i, found := s.search(a.ID)
	if found {
		s.attrs[i] = a
		return
	}
	s.attrs = slices.Insert(s.attrs, i, a)
}

// Get returns the value stored for id.
func (s Set) Get(id ID) (Value, bool) {
	i, found := s.search(id)
	if !found {
		return nil, false
	}
	return s.attrs[i].Value, true
}

// Lookup returns the attribute stored for id.
func (s Set) Lookup(id ID) (Attribute, bool) {
	i, found := s.search(id)
	if !found {
		return Attribute{}, false
	}
	return s.attrs[i], true
}

// Has reports whether a value is stored for id.
func (s Set) Has(id ID) bool {
	_, found := s.search(id)
	return found
}

// Delete removes id and reports whether it was present.
func (s *Set) Delete(id ID) bool {
	i, found := s.search(id)
	if !found {
		return false
	}
	s.attrs = slices.Delete(s.attrs, i, i+1)
	return true
}

// Len returns the number of attributes.
func (s Set) Len() int { return len(s.attrs) }

// Attrs returns a copy of the attributes in ascending id order.
func (s Set) Attrs() []Attribute {
	return slices.Clone(s.attrs)
}

// IDs returns the attribute ids in ascending order.
func (s Set) IDs() []ID {
	ids := make([]ID, len(s.attrs))
	for i, a := range s.attrs {
		ids[i] = a.ID
	}
	return ids
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	out := Set{attrs: make([]Attribute, len(s.attrs))}
	for i, a := range s.attrs {
		out.attrs[i] = Attribute{ID: a.ID, Value: Clone(a.Value)}
	}
	return out
}

// Equal reports whether s and o hold the same attributes.
func (s Set) Equal(o Set) bool {
	return slices.EqualFunc(s.attrs, o.attrs, Attribute.Equal)
}

func (s Set) String() string {
	parts := make([]string, len(s.attrs))
	for i, a := range s.attrs {
		parts[i] = a.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
