package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/snapshot"
	"github.com/jacentio/switchstore/snapshot/sqldump"
)

// DependencyOrder returns every live handle with referenced objects ahead of
// their referrers. Roots are taken by type in schema order, then by ID.
// Reference cycles are broken at the first object reached.
func (s *Store) DependencyOrder() []attr.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dependencyOrder()
}

func (s *Store) dependencyOrder() []attr.Handle {
	var out []attr.Handle
	seen := make(map[attr.Handle]bool)

	var visit func(h attr.Handle)
	visit = func(h attr.Handle) {
		if seen[h] {
			return
		}
		seen[h] = true
		o := s.lookup(h)
		if o == nil {
			return
		}
		for _, a := range o.attrs.Attrs() {
			for _, target := range attr.Handles(a.Value) {
				visit(target)
			}
		}
		out = append(out, h)
	}

	for _, name := range s.schema.Types() {
		tb := s.tables[name]
		ids := make([]uint64, 0, len(tb.objects))
		for id := range tb.objects {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			visit(attr.Handle{Type: name, ID: id})
		}
	}
	return out
}

// Snapshot captures every object in dependency order.
func (s *Store) Snapshot() (*snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := s.dependencyOrder()
	records := make([]snapshot.Record, 0, len(order))
	for _, h := range order {
		o := s.lookup(h)
		flats, err := attr.ExportSet(o.attrs)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", h, err)
		}
		records = append(records, snapshot.Record{Handle: h, Internal: o.internal, Attrs: flats})
	}
	return snapshot.New(records), nil
}

// DumpTo writes a snapshot of the store to w.
func (s *Store) DumpTo(ctx context.Context, w snapshot.Writer) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	if err := w.WriteSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.InfoContext(ctx, "store dumped", "snapshot", snap.ID, "objects", len(snap.Records))
	return nil
}

// Dump writes a snapshot of the store to the SQL database at dbURL: a
// sqlite:// or postgres:// URL, or a bare SQLite file path.
func (s *Store) Dump(ctx context.Context, dbURL string) error {
	db, err := sqldump.Open(ctx, dbURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return s.DumpTo(ctx, db)
}

// ReplayFrom restores the snapshot read from r. See Restore.
func (s *Store) ReplayFrom(ctx context.Context, r snapshot.Reader) error {
	snap, err := r.ReadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	return s.Restore(ctx, snap)
}

// Replay restores the snapshot stored in the SQL database at dbURL.
func (s *Store) Replay(ctx context.Context, dbURL string) error {
	db, err := sqldump.Open(ctx, dbURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return s.ReplayFrom(ctx, db)
}

// Restore reinstalls every object of snap at its recorded handle without
// running hooks, then lets the cascader re-derive auto-object state in warm
// mode. The store must be empty. Nothing is installed when a record is
// invalid or a reference dangles.
func (s *Store) Restore(ctx context.Context, snap *snapshot.Snapshot) error {
	if err := s.install(snap); err != nil {
		s.logger.ErrorContext(ctx, "restore rejected", "snapshot", snap.ID, "error", err)
		return err
	}
	ctx, _ = session(ctx)
	if c := s.Cascader(); c != nil {
		if err := c.Rederive(ctx, NewWarmCascade()); err != nil {
			s.logger.ErrorContext(ctx, "warm re-derivation failed", "snapshot", snap.ID, "error", err)
			return fmt.Errorf("%w: %w", ErrCascadeFailed, err)
		}
	}
	s.logger.InfoContext(ctx, "store restored", "snapshot", snap.ID, "objects", len(snap.Records))
	return nil
}

func (s *Store) install(snap *snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, tb := range s.tables {
		if len(tb.objects) > 0 {
			return invalidf("restore needs an empty store, %s holds %d objects", name, len(tb.objects))
		}
	}

	if err := s.installLocked(snap); err != nil {
		s.reset()
		return err
	}
	return nil
}

func (s *Store) installLocked(snap *snapshot.Snapshot) error {
	for _, r := range snap.Records {
		t, ok := s.schema.Type(r.Handle.Type)
		if !ok {
			return invalidf("record %d: unknown object type %q", r.Seq, r.Handle.Type)
		}
		if r.Handle.IsNull() {
			return invalidf("record %d: null handle", r.Seq)
		}
		set, err := attr.ImportSet(r.Attrs)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidParameter, r.Handle, err)
		}
		for _, a := range set.Attrs() {
			if _, err := checkAttr(t, a); err != nil {
				return fmt.Errorf("%s: %w", r.Handle, err)
			}
		}
		tb := s.tables[t.Name]
		if _, taken := tb.objects[r.Handle.ID]; taken {
			return fmt.Errorf("%w: %s recorded twice", ErrItemAlreadyExists, r.Handle)
		}
		if len(tb.objects) >= s.config.MaxObjectsPerType {
			return fmt.Errorf("%w: %s", ErrNoMemory, t.Name)
		}
		tb.objects[r.Handle.ID] = &object{handle: r.Handle, attrs: set, internal: r.Internal}
		tb.reserve(r.Handle.ID)
	}

	for _, r := range snap.Records {
		t, _ := s.schema.Type(r.Handle.Type)
		o := s.lookup(r.Handle)
		for _, a := range o.attrs.Attrs() {
			m, _ := t.Attr(a.ID)
			if err := s.checkRefs(m, a.Value); err != nil {
				return fmt.Errorf("%s: %w", r.Handle, err)
			}
		}
		keys := groupKeys(t, o.attrs)
		if other, ok := s.keyConflict(keys, r.Handle); ok {
			return fmt.Errorf("%w: %s and %s share a key", ErrItemAlreadyExists, r.Handle, other)
		}
		s.refs.addSet(r.Handle, o.attrs)
		s.indexKeys(keys, r.Handle)
	}
	return nil
}
