package store

import (
	"github.com/jacentio/switchstore/attr"
)

// Object is a copy of a stored object. Mutating it does not affect the store.
type Object struct {
	Handle attr.Handle
	Attrs  attr.Set

	// Internal objects are created by the system. References they hold never
	// block deletion of their targets.
	Internal bool
}

// object is the stored form. Fields are guarded by Store.mu.
type object struct {
	handle   attr.Handle
	attrs    attr.Set
	internal bool
	counters counterState

	// deleting is set once a delete passed its in-use check. New references
	// to the object are refused from then on.
	deleting bool
}

func (o *object) snapshot() Object {
	return Object{Handle: o.handle, Attrs: o.attrs.Clone(), Internal: o.internal}
}

// table holds the objects of one type.
type table struct {
	objects map[uint64]*object
	next    uint64
}

func newTable(first uint64) *table {
	return &table{objects: make(map[uint64]*object), next: first}
}

// allocate returns the next unused ID.
func (t *table) allocate() uint64 {
	for {
		id := t.next
		t.next++
		if _, taken := t.objects[id]; !taken {
			return id
		}
	}
}

// reserve marks id as used so allocate never returns it.
func (t *table) reserve(id uint64) {
	if id >= t.next {
		t.next = id + 1
	}
}
