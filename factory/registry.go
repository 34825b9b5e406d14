package factory

import (
	"cmp"
	"slices"

	"github.com/jacentio/switchstore/attr"
)

// Binding attaches a builder to an auto type.
type Binding struct {
	// Type is the auto type the builder derives (e.g., "acl_entry").
	Type attr.ObjectType

	// Parent is the type whose objects the auto-objects are derived from.
	Parent attr.ObjectType

	// Priority orders siblings under one parent: lower builds first and is
	// deleted last.
	Priority int

	// Order is the position of Type in the schema. It breaks priority ties
	// so that build order does not depend on registration order.
	Order int

	Builder Builder
}

// Registry holds the builder bindings of one factory.
type Registry struct {
	bindings []Binding
	byType   map[attr.ObjectType]int
	byParent map[attr.ObjectType][]Binding
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: []Binding{},
		byType:   make(map[attr.ObjectType]int),
		byParent: make(map[attr.ObjectType][]Binding),
	}
}

// Register adds a binding. Registering a type again replaces its builder.
func (r *Registry) Register(b Binding) {
	if i, ok := r.byType[b.Type]; ok {
		r.bindings[i] = b
	} else {
		r.byType[b.Type] = len(r.bindings)
		r.bindings = append(r.bindings, b)
	}

	children := slices.DeleteFunc(r.byParent[b.Parent], func(o Binding) bool { return o.Type == b.Type })
	children = append(children, b)
	slices.SortStableFunc(children, func(x, y Binding) int {
		return cmp.Or(cmp.Compare(x.Priority, y.Priority), cmp.Compare(x.Order, y.Order))
	})
	r.byParent[b.Parent] = children
}

// BuilderFor returns the builder bound to typ.
func (r *Registry) BuilderFor(typ attr.ObjectType) (Builder, bool) {
	i, ok := r.byType[typ]
	if !ok {
		return nil, false
	}
	return r.bindings[i].Builder, true
}

// ChildrenOf returns the bindings parented at parent in ascending priority,
// then schema order.
func (r *Registry) ChildrenOf(parent attr.ObjectType) []Binding {
	return r.byParent[parent]
}

// AllBindings returns all bindings in registration order.
func (r *Registry) AllBindings() []Binding {
	return r.bindings
}

// HasChildren returns true if any auto type of parent has a builder.
func (r *Registry) HasChildren(parent attr.ObjectType) bool {
	return len(r.byParent[parent]) > 0
}
