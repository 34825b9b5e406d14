package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/schema"
)

// CounterID identifies one counter of an object.
type CounterID uint16

// Counters maps counter ids to values.
type Counters map[CounterID]uint64

// BeforeCreateFunc runs before an object is inserted. It may add, change or
// remove pending attributes, including internal and read-only ones; the
// result is validated again afterwards. Returning an error aborts the create.
type BeforeCreateFunc func(ctx context.Context, typ attr.ObjectType, attrs *attr.Set) error

// ObjectFunc runs around creates and deletes with the object's attributes.
// Errors from before-delete hooks abort the delete. An error from an
// after-create hook removes the object again.
type ObjectFunc func(ctx context.Context, h attr.Handle, attrs attr.Set) error

// UpdateFunc runs around an attribute change with the new value. Errors from
// before-update hooks abort the change.
type UpdateFunc func(ctx context.Context, h attr.Handle, a attr.Attribute) error

// CountersFunc reads the free-running counters of an object.
type CountersFunc func(ctx context.Context, h attr.Handle) (Counters, error)

// ClearCountersFunc clears selected counters of an object.
type ClearCountersFunc func(ctx context.Context, h attr.Handle, ids []CounterID) error

// ClearAllCountersFunc clears every counter of an object.
type ClearAllCountersFunc func(ctx context.Context, h attr.Handle) error

// Triggers holds the per-type hooks of a store. Several hooks may be
// registered per point and run in registration order; counter handlers are
// one per type and replace any earlier registration.
type Triggers struct {
	schema *schema.Schema

	mu           sync.RWMutex
	beforeCreate map[attr.ObjectType][]BeforeCreateFunc
	afterCreate  map[attr.ObjectType][]ObjectFunc
	beforeUpdate map[attr.ObjectType][]UpdateFunc
	afterUpdate  map[attr.ObjectType][]UpdateFunc
	beforeDelete map[attr.ObjectType][]ObjectFunc
	afterDelete  map[attr.ObjectType][]ObjectFunc
	getCounters  map[attr.ObjectType]CountersFunc
	clear        map[attr.ObjectType]ClearCountersFunc
	clearAll     map[attr.ObjectType]ClearAllCountersFunc
}

func newTriggers(s *schema.Schema) *Triggers {
	return &Triggers{
		schema:       s,
		beforeCreate: make(map[attr.ObjectType][]BeforeCreateFunc),
		afterCreate:  make(map[attr.ObjectType][]ObjectFunc),
		beforeUpdate: make(map[attr.ObjectType][]UpdateFunc),
		afterUpdate:  make(map[attr.ObjectType][]UpdateFunc),
		beforeDelete: make(map[attr.ObjectType][]ObjectFunc),
		afterDelete:  make(map[attr.ObjectType][]ObjectFunc),
		getCounters:  make(map[attr.ObjectType]CountersFunc),
		clear:        make(map[attr.ObjectType]ClearCountersFunc),
		clearAll:     make(map[attr.ObjectType]ClearAllCountersFunc),
	}
}

func (t *Triggers) check(typ attr.ObjectType, isNil bool) error {
	if _, ok := t.schema.Type(typ); !ok {
		return fmt.Errorf("%w: unknown object type %q", ErrInvalidParameter, typ)
	}
	if isNil {
		return fmt.Errorf("%w: nil hook for %q", ErrInvalidParameter, typ)
	}
	return nil
}

// register appends fn to the hooks of typ in m.
func register[F any](t *Triggers, m map[attr.ObjectType][]F, typ attr.ObjectType, fn F, isNil bool) error {
	if err := t.check(typ, isNil); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m[typ] = append(m[typ], fn)
	return nil
}

func (t *Triggers) OnBeforeCreate(typ attr.ObjectType, fn BeforeCreateFunc) error {
	return register(t, t.beforeCreate, typ, fn, fn == nil)
}

func (t *Triggers) OnAfterCreate(typ attr.ObjectType, fn ObjectFunc) error {
	return register(t, t.afterCreate, typ, fn, fn == nil)
}

func (t *Triggers) OnBeforeUpdate(typ attr.ObjectType, fn UpdateFunc) error {
	return register(t, t.beforeUpdate, typ, fn, fn == nil)
}

func (t *Triggers) OnAfterUpdate(typ attr.ObjectType, fn UpdateFunc) error {
	return register(t, t.afterUpdate, typ, fn, fn == nil)
}

func (t *Triggers) OnBeforeDelete(typ attr.ObjectType, fn ObjectFunc) error {
	return register(t, t.beforeDelete, typ, fn, fn == nil)
}

func (t *Triggers) OnAfterDelete(typ attr.ObjectType, fn ObjectFunc) error {
	return register(t, t.afterDelete, typ, fn, fn == nil)
}

// OnGetCounters sets the counter reader of typ.
func (t *Triggers) OnGetCounters(typ attr.ObjectType, fn CountersFunc) error {
	if err := t.check(typ, fn == nil); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getCounters[typ] = fn
	return nil
}

// OnClearCounters sets the selective counter clear of typ.
func (t *Triggers) OnClearCounters(typ attr.ObjectType, fn ClearCountersFunc) error {
	if err := t.check(typ, fn == nil); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clear[typ] = fn
	return nil
}

// OnClearAllCounters sets the full counter clear of typ.
func (t *Triggers) OnClearAllCounters(typ attr.ObjectType, fn ClearAllCountersFunc) error {
	if err := t.check(typ, fn == nil); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearAll[typ] = fn
	return nil
}

// hooks returns a copy of the hooks of typ so they can run unlocked.
func hooks[F any](t *Triggers, m map[attr.ObjectType][]F, typ attr.ObjectType) []F {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(m[typ]) == 0 {
		return nil
	}
	return append([]F(nil), m[typ]...)
}

func (t *Triggers) runBeforeCreate(ctx context.Context, typ attr.ObjectType, attrs *attr.Set) error {
	for _, fn := range hooks(t, t.beforeCreate, typ) {
		if err := fn(ctx, typ, attrs); err != nil {
			return err
		}
	}
	return nil
}

func (t *Triggers) runObject(ctx context.Context, m map[attr.ObjectType][]ObjectFunc, h attr.Handle, attrs attr.Set) error {
	for _, fn := range hooks(t, m, h.Type) {
		if err := fn(ctx, h, attrs.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (t *Triggers) runUpdate(ctx context.Context, m map[attr.ObjectType][]UpdateFunc, h attr.Handle, a attr.Attribute) error {
	for _, fn := range hooks(t, m, h.Type) {
		if err := fn(ctx, h, attr.Attribute{ID: a.ID, Value: attr.Clone(a.Value)}); err != nil {
			return err
		}
	}
	return nil
}

// RunGetCounters reads the counters of h through the handler of its type.
// It fails with ErrNotSupported when the type has no handler.
func (t *Triggers) RunGetCounters(ctx context.Context, h attr.Handle) (Counters, error) {
	t.mu.RLock()
	fn := t.getCounters[h.Type]
	t.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: no counter handler for %q", ErrNotSupported, h.Type)
	}
	return fn(ctx, h)
}

// RunClearCounters clears counters of h through the handler of its type.
// It fails with ErrNotSupported when the type has no handler.
func (t *Triggers) RunClearCounters(ctx context.Context, h attr.Handle, ids []CounterID) error {
	t.mu.RLock()
	fn := t.clear[h.Type]
	t.mu.RUnlock()
	if fn == nil {
		return fmt.Errorf("%w: no counter clear handler for %q", ErrNotSupported, h.Type)
	}
	return fn(ctx, h, ids)
}

// RunClearAllCounters clears every counter of h through the handler of its
// type. It fails with ErrNotSupported when the type has no handler.
func (t *Triggers) RunClearAllCounters(ctx context.Context, h attr.Handle) error {
	t.mu.RLock()
	fn := t.clearAll[h.Type]
	t.mu.RUnlock()
	if fn == nil {
		return fmt.Errorf("%w: no counter clear handler for %q", ErrNotSupported, h.Type)
	}
	return fn(ctx, h)
}
