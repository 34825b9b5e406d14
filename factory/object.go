package factory

import (
	"context"
	"fmt"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/schema"
	"github.com/jacentio/switchstore/store"
)

// Builder derives one auto type. Builders report failure through the
// returned error.
type Builder interface {
	// CreateUpdate brings obj in line with its parent. It is called for a
	// freshly created object and again whenever a watched parent attribute
	// changes, so calling it twice on unchanged input must leave the same
	// state as calling it once.
	CreateUpdate(ctx context.Context, obj *Object) error

	// Delete releases whatever CreateUpdate programmed. The object is
	// removed from the store afterwards.
	Delete(ctx context.Context, obj *Object) error
}

// Funcs adapts plain functions to Builder. A nil function does nothing.
type Funcs struct {
	CreateUpdateFunc func(ctx context.Context, obj *Object) error
	DeleteFunc       func(ctx context.Context, obj *Object) error
}

func (f Funcs) CreateUpdate(ctx context.Context, obj *Object) error {
	if f.CreateUpdateFunc == nil {
		return nil
	}
	return f.CreateUpdateFunc(ctx, obj)
}

func (f Funcs) Delete(ctx context.Context, obj *Object) error {
	if f.DeleteFunc == nil {
		return nil
	}
	return f.DeleteFunc(ctx, obj)
}

// Object is the view of an auto-object handed to its builder. It is valid
// only for the duration of the builder call.
type Object struct {
	store  *store.Store
	cs     *store.Cascade
	typ    *schema.ObjectType
	parent attr.Handle
	handle attr.Handle
}

// Type returns the auto type being derived.
func (o *Object) Type() attr.ObjectType { return o.typ.Name }

// Schema returns the schema of the auto type.
func (o *Object) Schema() *schema.ObjectType { return o.typ }

// Parent returns the object the auto-object is derived from.
func (o *Object) Parent() attr.Handle { return o.parent }

// Handle returns the auto-object itself.
func (o *Object) Handle() attr.Handle { return o.handle }

// Warm reports whether the object is being re-derived after a replay.
// Builders should then adopt existing hardware state instead of
// programming it anew.
func (o *Object) Warm() bool { return o.cs.Warm() }

// Store returns the store the object lives in.
func (o *Object) Store() *store.Store { return o.store }

// ParentAttr returns attribute id of the parent, internal attributes
// included. It reports false when the attribute is unset.
func (o *Object) ParentAttr(id attr.ID) (attr.Value, bool) {
	p, err := o.store.Object(o.parent)
	if err != nil {
		return nil, false
	}
	return p.Attrs.Get(id)
}

// Get returns attribute id of the auto-object itself.
func (o *Object) Get(id attr.ID) (attr.Value, bool) {
	self, err := o.store.Object(o.handle)
	if err != nil {
		return nil, false
	}
	return self.Attrs.Get(id)
}

// Sibling returns the auto-object of type typ under the same parent. It
// fails with store.ErrDependencyFailure when that object does not exist yet.
func (o *Object) Sibling(typ attr.ObjectType) (attr.Handle, error) {
	h, ok := o.store.AutoChild(o.parent, typ)
	if !ok {
		return attr.Handle{}, fmt.Errorf("%w: %s has no %s", store.ErrDependencyFailure, o.parent, typ)
	}
	return h, nil
}

// Set writes attributes of the auto-object.
func (o *Object) Set(ctx context.Context, attrs ...attr.Attribute) error {
	return o.store.SetAuto(ctx, o.cs, o.handle, attrs...)
}
