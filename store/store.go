package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/schema"
)

// Store holds the objects of one switch.
type Store struct {
	schema   *schema.Schema
	config   Config
	logger   *slog.Logger
	triggers *Triggers
	locks    *lockTable

	mu       sync.RWMutex
	cascader Cascader
	tables   map[attr.ObjectType]*table
	refs     refIndex
	keys     map[string]attr.Handle
}

// New creates an empty Store for the types of s.
func New(s *schema.Schema, config Config) *Store {
	config.validate()
	st := &Store{
		schema:   s,
		config:   config,
		logger:   config.Logger,
		triggers: newTriggers(s),
		locks:    newLockTable(),
	}
	st.reset()
	return st
}

// reset drops every object. Caller holds s.mu or owns s exclusively.
func (s *Store) reset() {
	s.tables = make(map[attr.ObjectType]*table)
	for _, name := range s.schema.Types() {
		s.tables[name] = newTable(s.config.FirstHandleID)
	}
	s.refs = make(refIndex)
	s.keys = make(map[string]attr.Handle)
}

// Schema returns the schema the store was built with.
func (s *Store) Schema() *schema.Schema { return s.schema }

// Triggers returns the hook registry of the store.
func (s *Store) Triggers() *Triggers { return s.triggers }

// lookup returns the stored object for h. Caller holds s.mu.
func (s *Store) lookup(h attr.Handle) *object {
	tb, ok := s.tables[h.Type]
	if !ok {
		return nil
	}
	return tb.objects[h.ID]
}

// Exists reports whether h names a live object.
func (s *Store) Exists(h attr.Handle) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(h) != nil
}

// Get returns a copy of attribute id of h. Internal attributes cannot be
// read. An attribute that was never set fails with ErrItemNotFound.
func (s *Store) Get(h attr.Handle, id attr.ID) (attr.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.lookup(h)
	if o == nil {
		return nil, notFoundf("%s", h)
	}
	t, _ := s.schema.Type(h.Type)
	m, ok := t.Attr(id)
	if !ok {
		return nil, invalidf("%s has no attribute %d", h.Type, id)
	}
	if m.Flags.Has(schema.Internal) {
		return nil, invalidf("attribute %q of %s is internal", m.Name, h.Type)
	}
	v, ok := o.attrs.Get(id)
	if !ok {
		return nil, notFoundf("%s has no value for %q", h, m.Name)
	}
	return attr.Clone(v), nil
}

// Attributes returns a copy of the caller-visible attributes of h.
func (s *Store) Attributes(h attr.Handle) (attr.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.lookup(h)
	if o == nil {
		return attr.Set{}, notFoundf("%s", h)
	}
	t, _ := s.schema.Type(h.Type)
	out := o.attrs.Clone()
	for _, id := range out.IDs() {
		if m, _ := t.Attr(id); m.Flags.Has(schema.Internal) {
			out.Delete(id)
		}
	}
	return out, nil
}

// Object returns a full copy of h including internal attributes. It is
// meant for builders and persistence.
func (s *Store) Object(h attr.Handle) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.lookup(h)
	if o == nil {
		return Object{}, notFoundf("%s", h)
	}
	return o.snapshot(), nil
}

// Handles returns the live objects of typ in ascending ID order.
func (s *Store) Handles(typ attr.ObjectType) []attr.Handle {
	return s.NextHandles(typ, 0, -1)
}

// NextHandles returns up to n objects of typ with IDs greater than after, in
// ascending ID order. A negative n means no limit.
func (s *Store) NextHandles(typ attr.ObjectType, after uint64, n int) []attr.Handle {
	s.mu.RLock()
	tb, ok := s.tables[typ]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	ids := make([]uint64, 0, len(tb.objects))
	for id := range tb.objects {
		if id > after {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	if n >= 0 && len(ids) > n {
		ids = ids[:n]
	}
	out := make([]attr.Handle, len(ids))
	for i, id := range ids {
		out[i] = attr.Handle{Type: typ, ID: id}
	}
	return out
}

// Count returns the number of live objects of typ.
func (s *Store) Count(typ attr.ObjectType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tb, ok := s.tables[typ]; ok {
		return len(tb.objects)
	}
	return 0
}

// FlushAll drops every object without running hooks or derivations and
// resets ID allocation.
func (s *Store) FlushAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tb := range s.tables {
		n += len(tb.objects)
	}
	s.reset()
	s.logger.InfoContext(ctx, "store flushed", "objects", n)
}
