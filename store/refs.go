package store

import (
	"slices"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/schema"
)

// edge is one reference: attribute via of object from holds the target.
type edge struct {
	from attr.Handle
	via  attr.ID
}

// refIndex maps each referenced object to the edges pointing at it. A list
// attribute holding a handle twice counts twice.
type refIndex map[attr.Handle]map[edge]int

func (r refIndex) add(from attr.Handle, via attr.ID, v attr.Value) {
	for _, target := range attr.Handles(v) {
		m := r[target]
		if m == nil {
			m = make(map[edge]int)
			r[target] = m
		}
		m[edge{from, via}]++
	}
}

func (r refIndex) remove(from attr.Handle, via attr.ID, v attr.Value) {
	for _, target := range attr.Handles(v) {
		m := r[target]
		e := edge{from, via}
		if m[e] <= 1 {
			delete(m, e)
		} else {
			m[e]--
		}
		if len(m) == 0 {
			delete(r, target)
		}
	}
}

// addSet and removeSet index every handle-valued attribute of s.
func (r refIndex) addSet(from attr.Handle, s attr.Set) {
	for _, a := range s.Attrs() {
		r.add(from, a.ID, a.Value)
	}
}

func (r refIndex) removeSet(from attr.Handle, s attr.Set) {
	for _, a := range s.Attrs() {
		r.remove(from, a.ID, a.Value)
	}
}

// edges returns the edges into target sorted by referrer, then attribute.
func (r refIndex) edges(target attr.Handle) []edge {
	m := r[target]
	out := make([]edge, 0, len(m))
	for e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b edge) int {
		if c := attr.CompareHandles(a.from, b.from); c != 0 {
			return c
		}
		return int(a.via) - int(b.via)
	})
	return out
}

// blockers returns the referrers that prevent deleting target. Caller holds
// s.mu.
func (s *Store) blockers(target attr.Handle) []attr.Handle {
	var out []attr.Handle
	for _, e := range s.refs.edges(target) {
		if e.from == target {
			continue
		}
		o := s.lookup(e.from)
		if o == nil || o.internal {
			continue
		}
		t, _ := s.schema.Type(e.from.Type)
		if m, ok := t.Attr(e.via); ok && !m.Blocking() {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != e.from {
			out = append(out, e.from)
		}
	}
	return out
}

// checkRefs verifies that every handle in v names a live object of the type
// meta requires and that is not being deleted. Caller holds s.mu.
func (s *Store) checkRefs(meta schema.AttrMeta, v attr.Value) error {
	for _, target := range attr.Handles(v) {
		if meta.Ref != "" && target.Type != meta.Ref {
			return invalidf("attribute %q must refer to %q, got %s", meta.Name, meta.Ref, target)
		}
		o := s.lookup(target)
		if o == nil {
			return notFoundf("attribute %q refers to missing object %s", meta.Name, target)
		}
		if o.deleting {
			return notFoundf("attribute %q refers to %s, which is being deleted", meta.Name, target)
		}
	}
	return nil
}

// Referrers returns the objects referring to h, optionally restricted to
// type of. The result is sorted and free of duplicates.
func (s *Store) Referrers(h attr.Handle, of attr.ObjectType) []attr.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []attr.Handle
	for _, e := range s.refs.edges(h) {
		if of != "" && e.from.Type != of {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != e.from {
			out = append(out, e.from)
		}
	}
	return out
}

// ReferrersVia returns the objects of type p.Type whose attribute p.Attr
// holds h, sorted.
func (s *Store) ReferrersVia(h attr.Handle, p schema.Path) []attr.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referrersVia(h, p)
}

func (s *Store) referrersVia(h attr.Handle, p schema.Path) []attr.Handle {
	var out []attr.Handle
	for _, e := range s.refs.edges(h) {
		if e.from.Type == p.Type && e.via == p.Attr {
			out = append(out, e.from)
		}
	}
	return out
}

// AutoChildren returns the auto-objects of type typ derived from parent.
func (s *Store) AutoChildren(parent attr.Handle, typ attr.ObjectType) []attr.Handle {
	t, ok := s.schema.Type(typ)
	if !ok || !t.IsAuto() || t.Parent != parent.Type {
		return nil
	}
	return s.ReferrersVia(parent, schema.Path{Type: typ, Attr: t.ParentAttr})
}

// AutoChild returns the auto-object of type typ derived from parent.
func (s *Store) AutoChild(parent attr.Handle, typ attr.ObjectType) (attr.Handle, bool) {
	hs := s.AutoChildren(parent, typ)
	if len(hs) == 0 {
		return attr.Handle{}, false
	}
	return hs[0], true
}
