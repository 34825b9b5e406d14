package store

import (
	"slices"
	"strconv"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/internal/shard"
	"github.com/jacentio/switchstore/schema"
)

// groupKey returns the index key of s under key group g, or false when s
// lacks one of the group's attributes.
func groupKey(t *schema.ObjectType, g schema.KeyGroup, s attr.Set) (string, bool) {
	values := make([]string, 0, 3*len(g.Attrs))
	for _, id := range g.Attrs {
		a, ok := s.Lookup(id)
		if !ok {
			return "", false
		}
		f, err := attr.Export(a)
		if err != nil {
			return "", false
		}
		values = append(values, f.Type, strconv.Itoa(len(f.Items)))
		values = append(values, f.Items...)
	}
	return shard.KeyGroupKey(string(t.Name), g.Name, values...), true
}

// groupKeys returns the keys of s under every key group it covers.
func groupKeys(t *schema.ObjectType, s attr.Set) []string {
	var keys []string
	for _, g := range t.KeyGroups {
		if k, ok := groupKey(t, g, s); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// keyConflict returns the object other than self already indexed under one
// of keys. Caller holds s.mu.
func (s *Store) keyConflict(keys []string, self attr.Handle) (attr.Handle, bool) {
	for _, k := range keys {
		if h, ok := s.keys[k]; ok && h != self {
			return h, true
		}
	}
	return attr.Handle{}, false
}

func (s *Store) indexKeys(keys []string, h attr.Handle) {
	for _, k := range keys {
		s.keys[k] = h
	}
}

func (s *Store) unindexKeys(keys []string, h attr.Handle) {
	for _, k := range keys {
		if s.keys[k] == h {
			delete(s.keys, k)
		}
	}
}

// LookupByKeyGroup finds the object of type typ whose key group formed by
// exactly the ids of attrs holds attrs. It fails with ErrInvalidKeyGroup when
// no group has that attribute set and ErrItemNotFound when nothing matches.
func (s *Store) LookupByKeyGroup(typ attr.ObjectType, attrs ...attr.Attribute) (attr.Handle, error) {
	t, ok := s.schema.Type(typ)
	if !ok {
		return attr.Handle{}, invalidf("unknown object type %q", typ)
	}
	set := attr.NewSet(attrs...)
	i, ok := t.KeyGroupFor(set.IDs())
	if !ok {
		return attr.Handle{}, ErrInvalidKeyGroup
	}
	for _, a := range set.Attrs() {
		m, _ := t.Attr(a.ID)
		if attr.TypeOf(a.Value) != m.Type {
			return attr.Handle{}, invalidf("attribute %q has type %s, want %s", m.Name, attr.TypeOf(a.Value), m.Type)
		}
	}
	k, _ := groupKey(t, t.KeyGroups[i], set)

	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.keys[k]
	if !ok {
		return attr.Handle{}, notFoundf("no %s with key %s", typ, set)
	}
	return h, nil
}

// sameKeys reports whether two key lists hold the same keys in order.
func sameKeys(a, b []string) bool { return slices.Equal(a, b) }
