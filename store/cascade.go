package store

import (
	"context"

	"github.com/jacentio/switchstore/attr"
)

// Cascader derives auto-objects. The store calls it after every committed
// change, never while holding its table lock. Implementations create,
// update and delete auto-objects through CreateAuto, SetAuto and DeleteAuto
// with the Cascade they were handed.
type Cascader interface {
	// CreateAutoObjects builds the auto-objects of a new object.
	CreateAutoObjects(ctx context.Context, cs *Cascade, parent attr.Handle) error
	// DeleteAutoObjects removes the auto-objects of an object being deleted.
	DeleteAutoObjects(ctx context.Context, cs *Cascade, parent attr.Handle) error
	// UpdateAutoObjects reacts to attribute id of h changing from prev to
	// cur. A nil prev means the object was just created; a nil cur means
	// it was just deleted.
	UpdateAutoObjects(ctx context.Context, cs *Cascade, h attr.Handle, id attr.ID, prev, cur attr.Value) error
	// Rederive rebuilds derived state after a replay. cs is warm.
	Rederive(ctx context.Context, cs *Cascade) error

	Counters(ctx context.Context, h attr.Handle) (Counters, error)
	ClearCounters(ctx context.Context, h attr.Handle, ids []CounterID) error
	ClearAllCounters(ctx context.Context, h attr.Handle) error
}

type visitKey struct {
	typ    attr.ObjectType
	parent attr.Handle
}

// Cascade carries the state of one top-level operation through the
// derivations it triggers. It is not safe for concurrent use.
type Cascade struct {
	warm   bool
	active map[visitKey]bool
	built  map[visitKey]bool
}

// NewCascade returns the state for a cold (live) operation.
func NewCascade() *Cascade {
	return &Cascade{
		active: make(map[visitKey]bool),
		built:  make(map[visitKey]bool),
	}
}

// NewWarmCascade returns the state for re-deriving a replayed store. Hooks
// and triggers do not run for objects changed under a warm cascade.
func NewWarmCascade() *Cascade {
	cs := NewCascade()
	cs.warm = true
	return cs
}

// Warm reports whether the cascade replays restored state.
func (c *Cascade) Warm() bool { return c.warm }

// Enter marks the derivation of typ under parent as running. It returns
// false when that derivation is already running further up the call chain,
// which breaks cycles in watch and reference chains.
func (c *Cascade) Enter(typ attr.ObjectType, parent attr.Handle) bool {
	k := visitKey{typ, parent}
	if c.active[k] {
		return false
	}
	c.active[k] = true
	return true
}

// Leave ends a derivation started with Enter.
func (c *Cascade) Leave(typ attr.ObjectType, parent attr.Handle) {
	delete(c.active, visitKey{typ, parent})
}

// MarkBuilt records that the auto-object of typ under parent was built from
// current state during this operation.
func (c *Cascade) MarkBuilt(typ attr.ObjectType, parent attr.Handle) {
	c.built[visitKey{typ, parent}] = true
}

// Built reports whether MarkBuilt was called for typ under parent.
func (c *Cascade) Built(typ attr.ObjectType, parent attr.Handle) bool {
	return c.built[visitKey{typ, parent}]
}

// SetCascader installs the auto-object factory. Passing nil disables
// derivation.
func (s *Store) SetCascader(c Cascader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cascader = c
}

// Cascader returns the installed factory, or nil.
func (s *Store) Cascader() Cascader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cascader
}
