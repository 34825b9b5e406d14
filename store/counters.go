package store

import (
	"context"
	"errors"
	"slices"

	"github.com/jacentio/switchstore/attr"
)

// counterState turns free-running hardware counters into values relative to
// the last clear. Guarded by Store.mu.
type counterState struct {
	baseline map[CounterID]uint64
	dirty    map[CounterID]bool

	// dirtyAll marks a clear of every counter. It stays set until cleared
	// again; rebased lists the ids already read since then.
	dirtyAll bool
	rebased  map[CounterID]bool
}

// adjust rebases raw against the baseline. Counters marked dirty by a clear
// report zero on their next read and become the new baseline; the modular
// difference absorbs wraparound of the raw value. A clear stays pending for
// ids missing from raw.
func (c *counterState) adjust(raw Counters) Counters {
	if c.baseline == nil {
		c.baseline = make(map[CounterID]uint64, len(raw))
	}
	out := make(Counters, len(raw))
	for id, v := range raw {
		if c.dirty[id] || (c.dirtyAll && !c.rebased[id]) {
			c.baseline[id] = v
			out[id] = 0
			delete(c.dirty, id)
			if c.dirtyAll {
				if c.rebased == nil {
					c.rebased = make(map[CounterID]bool)
				}
				c.rebased[id] = true
			}
			continue
		}
		out[id] = v - c.baseline[id]
	}
	return out
}

func (c *counterState) markAllDirty() {
	c.dirtyAll = true
	c.rebased = nil
	c.dirty = nil
}

func (c *counterState) markDirty(ids []CounterID) {
	if c.dirty == nil {
		c.dirty = make(map[CounterID]bool, len(ids))
	}
	for _, id := range ids {
		c.dirty[id] = true
	}
}

func (s *Store) counterSource(typ attr.ObjectType) error {
	t, ok := s.schema.Type(typ)
	if !ok {
		return invalidf("unknown object type %q", typ)
	}
	if !t.Counter && len(s.schema.CounterContributors(typ)) == 0 {
		return ErrNotSupported
	}
	return nil
}

// Counters returns the counters of h since they were last cleared. Objects
// whose auto-objects carry counters report the per-id sum over the object
// and those auto-objects.
func (s *Store) Counters(ctx context.Context, h attr.Handle) (Counters, error) {
	if !s.Exists(h) {
		return nil, notFoundf("%s", h)
	}
	if err := s.counterSource(h.Type); err != nil {
		return nil, err
	}
	ctx, _ = session(ctx)

	var raw Counters
	var err error
	if c := s.Cascader(); c != nil {
		raw, err = c.Counters(ctx, h)
	} else {
		raw, err = s.triggers.RunGetCounters(ctx, h)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.lookup(h)
	if o == nil {
		return nil, notFoundf("%s", h)
	}
	return o.counters.adjust(raw), nil
}

// ClearCounters resets selected counters of h. Types without a clear handler
// are cleared in software: the next read reports zero for each id.
func (s *Store) ClearCounters(ctx context.Context, h attr.Handle, ids ...CounterID) error {
	if !s.Exists(h) {
		return notFoundf("%s", h)
	}
	if err := s.counterSource(h.Type); err != nil {
		return err
	}
	ctx, _ = session(ctx)
	ids = slices.Clone(ids)

	var err error
	if c := s.Cascader(); c != nil {
		err = c.ClearCounters(ctx, h, ids)
	} else {
		err = s.triggers.RunClearCounters(ctx, h, ids)
	}
	if err != nil && !errors.Is(err, ErrNotSupported) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.lookup(h); o != nil {
		o.counters.markDirty(ids)
	}
	return nil
}

// ClearAllCounters resets every counter of h.
func (s *Store) ClearAllCounters(ctx context.Context, h attr.Handle) error {
	if !s.Exists(h) {
		return notFoundf("%s", h)
	}
	if err := s.counterSource(h.Type); err != nil {
		return err
	}
	ctx, _ = session(ctx)

	var err error
	if c := s.Cascader(); c != nil {
		err = c.ClearAllCounters(ctx, h)
	} else {
		err = s.triggers.RunClearAllCounters(ctx, h)
	}
	if err != nil && !errors.Is(err, ErrNotSupported) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.lookup(h); o != nil {
		o.counters.markAllDirty()
	}
	return nil
}
