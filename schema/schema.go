// Package schema describes the object types known to a switch object store:
// their attributes, flags, key groups and the dependency graph that decides
// how auto-objects are derived from other objects.
//
// A Schema is read-only once built and may be shared between goroutines
// without locking.
package schema

import (
	"fmt"
	"slices"

	"github.com/jacentio/switchstore/attr"
)

// Class separates caller-created objects from factory-derived ones.
type Class uint8

const (
	ClassUser Class = iota
	ClassAuto
)

func (c Class) String() string {
	if c == ClassAuto {
		return "auto"
	}
	return "user"
}

// Flags restrict how an attribute may be written or referenced.
type Flags uint8

const (
	// Mandatory attributes must be supplied when a user object is created.
	Mandatory Flags = 1 << iota
	// Immutable attributes can never change after create.
	Immutable
	// Internal attributes are maintained by the system: callers can neither
	// read nor write them, and references they hold never block a delete.
	Internal
	// ReadOnly attributes are set by the system only; references they hold
	// never block a delete.
	ReadOnly
	// CreateOnly attributes are accepted at create and rejected afterwards.
	CreateOnly
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Mandatory, "mandatory"},
	{Immutable, "immutable"},
	{Internal, "internal"},
	{ReadOnly, "read_only"},
	{CreateOnly, "create_only"},
}

// Has reports whether every flag in f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	s := ""
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			if s != "" {
				s += "|"
			}
			s += fn.name
		}
	}
	return s
}

// AttrMeta describes one attribute of an object type.
type AttrMeta struct {
	ID    attr.ID
	Name  string
	Type  attr.Type
	Flags Flags

	// Ref is the object type a handle-valued attribute must point at.
	// Empty means any type.
	Ref attr.ObjectType
}

// Settable reports whether callers may change the attribute after create.
func (m AttrMeta) Settable() bool {
	return m.Flags&(Immutable|Internal|ReadOnly|CreateOnly) == 0
}

// Blocking reports whether references held by the attribute block deletion
// of their target.
func (m AttrMeta) Blocking() bool {
	return m.Flags&(Internal|ReadOnly) == 0
}

// KeyGroup is an alternate unique key made of an exact set of attributes.
type KeyGroup struct {
	Name  string
	Attrs []attr.ID // ascending
}

// Path names an attribute of one type whose handle values point at
// another object.
type Path struct {
	Type attr.ObjectType
	Attr attr.ID
}

func (p Path) String() string { return fmt.Sprintf("%s.%d", p.Type, p.Attr) }

// ObjectType is the schema of one class of objects.
type ObjectType struct {
	Name      attr.ObjectType
	Class     Class
	Counter   bool
	Attrs     []AttrMeta // ascending by ID
	KeyGroups []KeyGroup

	// The fields below apply to auto types only.

	// Parent is the type whose lifecycle creates and deletes this type.
	Parent attr.ObjectType
	// ParentAttr holds the handle of the parent object.
	ParentAttr attr.ID
	// DependsOn lists sibling auto types that must exist under the same
	// parent before this one is built.
	DependsOn []attr.ObjectType
	// Watch lists parent attributes whose change re-derives this type.
	Watch []attr.ID
	// Referrers gates existence: when non-empty the auto-object exists only
	// while its parent is referenced through at least one of these paths.
	Referrers []Path
	// Priority orders siblings: lower builds first and is deleted last.
	Priority int

	byID map[attr.ID]int
}

// Attr returns the metadata of attribute id.
func (t *ObjectType) Attr(id attr.ID) (AttrMeta, bool) {
	i, ok := t.byID[id]
	if !ok {
		return AttrMeta{}, false
	}
	return t.Attrs[i], true
}

// AttrByName returns the metadata of the attribute called name.
func (t *ObjectType) AttrByName(name string) (AttrMeta, bool) {
	for _, m := range t.Attrs {
		if m.Name == name {
			return m, true
		}
	}
	return AttrMeta{}, false
}

// IsAuto reports whether objects of t are derived by the factory.
func (t *ObjectType) IsAuto() bool { return t.Class == ClassAuto }

// Gated reports whether t exists only while its parent is referenced.
func (t *ObjectType) Gated() bool { return len(t.Referrers) > 0 }

// Mandatory returns the ids of mandatory attributes.
func (t *ObjectType) Mandatory() []attr.ID {
	var ids []attr.ID
	for _, m := range t.Attrs {
		if m.Flags.Has(Mandatory) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// KeyGroupFor returns the index of the key group whose attribute set equals
// ids exactly. ids must be sorted ascending.
func (t *ObjectType) KeyGroupFor(ids []attr.ID) (int, bool) {
	for i, g := range t.KeyGroups {
		if slices.Equal(g.Attrs, ids) {
			return i, true
		}
	}
	return -1, false
}

// Schema is the set of object types known to a store.
type Schema struct {
	types map[attr.ObjectType]*ObjectType
	order []attr.ObjectType

	autoByParent map[attr.ObjectType][]*ObjectType
	gates        map[Path][]*ObjectType
	watchers     map[Path][]*ObjectType
	contributors map[attr.ObjectType][]attr.ObjectType
}

// Type returns the schema of type name.
func (s *Schema) Type(name attr.ObjectType) (*ObjectType, bool) {
	t, ok := s.types[name]
	return t, ok
}

// Types returns all type names in declaration order.
func (s *Schema) Types() []attr.ObjectType {
	return slices.Clone(s.order)
}

// AutoTypes returns the auto types parented at parent in ascending priority.
func (s *Schema) AutoTypes(parent attr.ObjectType) []*ObjectType {
	return s.autoByParent[parent]
}

// Watchers returns the auto types re-derived when attribute p.Attr of a
// p.Type object changes. The auto types are parented at p.Type.
func (s *Schema) Watchers(p Path) []*ObjectType {
	return s.watchers[p]
}

// Gated returns the auto types whose existence depends on references made
// through p.
func (s *Schema) Gated(p Path) []*ObjectType {
	return s.gates[p]
}

// CounterContributors returns the types whose counter handlers contribute
// to the counters of a t object: t itself when it carries counters, then its
// counter-flagged auto types in priority order.
func (s *Schema) CounterContributors(t attr.ObjectType) []attr.ObjectType {
	return s.contributors[t]
}
