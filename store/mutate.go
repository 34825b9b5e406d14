package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/schema"
)

// origin is who asks for an object to be created.
type origin uint8

const (
	byCaller   origin = iota // user objects; system attributes are rejected
	byInternal               // user objects created by the system itself
	byFactory                // auto-objects
)

// checkAttr validates the id and value type of a against t.
func checkAttr(t *schema.ObjectType, a attr.Attribute) (schema.AttrMeta, error) {
	m, ok := t.Attr(a.ID)
	if !ok {
		return m, invalidf("%s has no attribute %d", t.Name, a.ID)
	}
	if a.Value == nil {
		return m, invalidf("attribute %q has no value", m.Name)
	}
	vt := attr.TypeOf(a.Value)
	if !vt.Valid() {
		return m, fmt.Errorf("%w: attribute %q of type %s", ErrNotSupported, m.Name, vt)
	}
	if vt != m.Type {
		return m, fmt.Errorf("%w: %w: attribute %q has type %s, want %s",
			ErrInvalidParameter, attr.ErrTypeMismatch, m.Name, vt, m.Type)
	}
	if err := attr.Validate(a.Value); err != nil {
		return m, fmt.Errorf("%w: attribute %q: %w", ErrInvalidParameter, m.Name, err)
	}
	return m, nil
}

func validateCreate(t *schema.ObjectType, set attr.Set, o origin) error {
	for _, a := range set.Attrs() {
		m, err := checkAttr(t, a)
		if err != nil {
			return err
		}
		if o == byCaller && m.Flags&(schema.Internal|schema.ReadOnly) != 0 {
			return invalidf("attribute %q of %s is %s", m.Name, t.Name, m.Flags)
		}
	}
	if o == byFactory {
		return nil
	}
	for _, id := range t.Mandatory() {
		if !set.Has(id) {
			m, _ := t.Attr(id)
			return invalidf("%s needs mandatory attribute %q", t.Name, m.Name)
		}
	}
	return nil
}

// Create creates a user object of type typ. Later attributes win over
// earlier ones with the same id.
//
// When deriving the object's auto-objects fails, Create returns the new
// handle together with an error wrapping ErrCascadeFailed: the object stays
// and after-create hooks do not run.
func (s *Store) Create(ctx context.Context, typ attr.ObjectType, attrs ...attr.Attribute) (attr.Handle, error) {
	return s.create(ctx, NewCascade(), typ, 0, attr.NewSet(attrs...).Clone(), byCaller)
}

// CreateWithID is Create with a caller-chosen ID. It fails with
// ErrItemAlreadyExists when the ID is taken.
func (s *Store) CreateWithID(ctx context.Context, h attr.Handle, attrs ...attr.Attribute) (attr.Handle, error) {
	if h.IsNull() {
		return attr.Handle{}, invalidf("null handle")
	}
	return s.create(ctx, NewCascade(), h.Type, h.ID, attr.NewSet(attrs...).Clone(), byCaller)
}

// CreateInternal creates a user object on behalf of the system. It may set
// internal and read-only attributes, and its references never block the
// deletion of their targets.
func (s *Store) CreateInternal(ctx context.Context, typ attr.ObjectType, attrs ...attr.Attribute) (attr.Handle, error) {
	return s.create(ctx, NewCascade(), typ, 0, attr.NewSet(attrs...).Clone(), byInternal)
}

// CreateAuto inserts an auto-object for a Cascader. It does not derive
// further objects: the caller builds the new object's own auto-objects.
func (s *Store) CreateAuto(ctx context.Context, cs *Cascade, typ attr.ObjectType, attrs ...attr.Attribute) (attr.Handle, error) {
	return s.create(ctx, cs, typ, 0, attr.NewSet(attrs...).Clone(), byFactory)
}

func (s *Store) create(ctx context.Context, cs *Cascade, typ attr.ObjectType, id uint64, set attr.Set, o origin) (attr.Handle, error) {
	t, ok := s.schema.Type(typ)
	if !ok {
		return attr.Handle{}, invalidf("unknown object type %q", typ)
	}
	if t.IsAuto() != (o == byFactory) {
		if t.IsAuto() {
			return attr.Handle{}, invalidf("%s objects are derived and cannot be created directly", typ)
		}
		return attr.Handle{}, invalidf("%s is not an auto type", typ)
	}
	if err := validateCreate(t, set, o); err != nil {
		s.logger.DebugContext(ctx, "create rejected", "type", typ, "error", err)
		return attr.Handle{}, err
	}

	ctx, _ = session(ctx)
	if !cs.warm {
		if err := s.triggers.runBeforeCreate(ctx, typ, &set); err != nil {
			return attr.Handle{}, err
		}
		// Hooks are system code: what they add may be internal or read-only.
		hooked := o
		if o == byCaller {
			hooked = byInternal
		}
		if err := validateCreate(t, set, hooked); err != nil {
			s.logger.DebugContext(ctx, "create rejected after hooks", "type", typ, "error", err)
			return attr.Handle{}, err
		}
	}

	h, err := s.insert(t, id, set, o == byInternal)
	if err != nil {
		s.logger.DebugContext(ctx, "create rejected", "type", typ, "error", err)
		return attr.Handle{}, err
	}
	release, err := s.hold(ctx, h)
	if err != nil {
		s.remove(h)
		return attr.Handle{}, err
	}
	defer release()

	if o != byFactory {
		if err := s.cascadeCreate(ctx, cs, h, set); err != nil {
			s.logger.ErrorContext(ctx, "auto-object derivation failed", "handle", h, "error", err)
			return h, fmt.Errorf("%w: %w", ErrCascadeFailed, err)
		}
	}

	if !cs.warm {
		if err := s.triggers.runObject(ctx, s.triggers.afterCreate, h, set); err != nil {
			s.logger.DebugContext(ctx, "after-create hook failed, removing object", "handle", h, "error", err)
			if _, terr := s.teardown(ctx, cs, h); terr != nil {
				s.logger.ErrorContext(ctx, "remove object after failed create", "handle", h, "error", terr)
			}
			return attr.Handle{}, err
		}
	}
	return h, nil
}

// insert commits a validated object and its index entries.
func (s *Store) insert(t *schema.ObjectType, id uint64, set attr.Set, internal bool) (attr.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range set.Attrs() {
		m, _ := t.Attr(a.ID)
		if err := s.checkRefs(m, a.Value); err != nil {
			return attr.Handle{}, err
		}
	}
	tb := s.tables[t.Name]
	if len(tb.objects) >= s.config.MaxObjectsPerType {
		return attr.Handle{}, fmt.Errorf("%w: %s holds %d objects", ErrNoMemory, t.Name, len(tb.objects))
	}
	if id != 0 {
		if _, taken := tb.objects[id]; taken {
			return attr.Handle{}, fmt.Errorf("%w: %s", ErrItemAlreadyExists, attr.Handle{Type: t.Name, ID: id})
		}
	}
	keys := groupKeys(t, set)
	if other, ok := s.keyConflict(keys, attr.Handle{}); ok {
		return attr.Handle{}, fmt.Errorf("%w: key group already holds %s", ErrItemAlreadyExists, other)
	}

	if id == 0 {
		id = tb.allocate()
	} else {
		tb.reserve(id)
	}
	h := attr.Handle{Type: t.Name, ID: id}
	tb.objects[id] = &object{handle: h, attrs: set, internal: internal}
	s.refs.addSet(h, set)
	s.indexKeys(keys, h)
	return h, nil
}

func (s *Store) cascadeCreate(ctx context.Context, cs *Cascade, h attr.Handle, set attr.Set) error {
	c := s.Cascader()
	if c == nil {
		return nil
	}
	if err := c.CreateAutoObjects(ctx, cs, h); err != nil {
		return err
	}
	for _, a := range set.Attrs() {
		if len(attr.Handles(a.Value)) == 0 {
			continue
		}
		if err := c.UpdateAutoObjects(ctx, cs, h, a.ID, nil, a.Value); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a user object. It fails with ErrResourceInUse while another
// non-internal object refers to h through a blocking attribute. The object's
// auto-objects are removed in reverse build order first.
func (s *Store) Delete(ctx context.Context, h attr.Handle) error {
	t, ok := s.schema.Type(h.Type)
	if !ok {
		return invalidf("unknown object type %q", h.Type)
	}
	if t.IsAuto() {
		return invalidf("%s objects are derived and cannot be deleted directly", h.Type)
	}
	return s.delete(ctx, NewCascade(), h, true)
}

// DeleteAuto removes an auto-object for a Cascader. References to it do not
// block the removal.
func (s *Store) DeleteAuto(ctx context.Context, cs *Cascade, h attr.Handle) error {
	t, ok := s.schema.Type(h.Type)
	if !ok || !t.IsAuto() {
		return invalidf("%s is not an auto type", h.Type)
	}
	return s.delete(ctx, cs, h, false)
}

func (s *Store) delete(ctx context.Context, cs *Cascade, h attr.Handle, checkInUse bool) error {
	if !s.Exists(h) {
		return notFoundf("%s", h)
	}
	ctx, _ = session(ctx)
	release, err := s.hold(ctx, h)
	if err != nil {
		return err
	}
	defer release()

	attrs, err := s.markDeleting(h, checkInUse)
	if err != nil {
		s.logger.DebugContext(ctx, "delete rejected", "handle", h, "error", err)
		return err
	}

	if !cs.warm {
		if err := s.triggers.runObject(ctx, s.triggers.beforeDelete, h, attrs); err != nil {
			s.unmarkDeleting(h)
			return err
		}
	}

	removed, err := s.teardown(ctx, cs, h)
	if !removed {
		s.unmarkDeleting(h)
		return err
	}
	if !cs.warm {
		if herr := s.triggers.runObject(ctx, s.triggers.afterDelete, h, attrs); herr != nil {
			err = errors.Join(err, herr)
		}
	}
	return err
}

// markDeleting checks that h may be deleted and flags it so that no new
// reference to it can be committed while its hooks and cascades run. It
// returns a copy of the attributes of h.
func (s *Store) markDeleting(h attr.Handle, checkInUse bool) (attr.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.lookup(h)
	if o == nil {
		return attr.Set{}, notFoundf("%s", h)
	}
	if o.deleting {
		return attr.Set{}, notFoundf("%s is being deleted", h)
	}
	if checkInUse {
		if blockers := s.blockers(h); len(blockers) > 0 {
			return attr.Set{}, fmt.Errorf("%w: %s is referenced by %v", ErrResourceInUse, h, blockers)
		}
	}
	o.deleting = true
	return o.attrs.Clone(), nil
}

func (s *Store) unmarkDeleting(h attr.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.lookup(h); o != nil {
		o.deleting = false
	}
}

// teardown deletes the auto-objects of h, removes h and re-evaluates the
// derivations its references gated. It reports whether h was removed.
func (s *Store) teardown(ctx context.Context, cs *Cascade, h attr.Handle) (bool, error) {
	c := s.Cascader()
	if c != nil {
		if err := c.DeleteAutoObjects(ctx, cs, h); err != nil {
			s.logger.ErrorContext(ctx, "auto-object removal failed", "handle", h, "error", err)
			return false, fmt.Errorf("%w: %w", ErrCascadeFailed, err)
		}
	}

	prev, ok := s.remove(h)
	if !ok || c == nil {
		return ok, nil
	}
	var errs []error
	for _, a := range prev.Attrs() {
		if len(attr.Handles(a.Value)) == 0 {
			continue
		}
		if err := c.UpdateAutoObjects(ctx, cs, h, a.ID, a.Value, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.ErrorContext(ctx, "auto-object re-evaluation failed", "handle", h, "error", err)
		return true, fmt.Errorf("%w: %w", ErrCascadeFailed, err)
	}
	return true, nil
}

// remove drops h and its index entries, returning its attributes.
func (s *Store) remove(h attr.Handle) (attr.Set, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.lookup(h)
	if o == nil {
		return attr.Set{}, false
	}
	t, _ := s.schema.Type(h.Type)
	s.unindexKeys(groupKeys(t, o.attrs), h)
	s.refs.removeSet(h, o.attrs)
	delete(s.refs, h)
	delete(s.tables[h.Type].objects, h.ID)
	return o.attrs, true
}

// Set changes attributes of a user object, in order. Setting the current
// value is a no-op. Only attributes without the immutable, create-only,
// read-only and internal flags can be set. Every attribute is validated
// before the first one is applied.
//
// A change is kept when re-deriving auto-objects fails afterwards; the error
// then wraps ErrCascadeFailed and later attributes are not applied.
func (s *Store) Set(ctx context.Context, h attr.Handle, attrs ...attr.Attribute) error {
	t, ok := s.schema.Type(h.Type)
	if !ok {
		return invalidf("unknown object type %q", h.Type)
	}
	if t.IsAuto() {
		return invalidf("%s objects are derived and cannot be set directly", h.Type)
	}
	metas := make([]schema.AttrMeta, len(attrs))
	for i, a := range attrs {
		m, err := checkAttr(t, a)
		if err == nil && !m.Settable() {
			err = invalidf("attribute %q of %s is %s", m.Name, h.Type, m.Flags)
		}
		if err != nil {
			s.logger.DebugContext(ctx, "set rejected", "handle", h, "attr", a.ID, "error", err)
			return err
		}
		metas[i] = m
	}
	ctx, _ = session(ctx)
	for i, a := range attrs {
		if err := s.update(ctx, NewCascade(), t, h, metas[i], a); err != nil {
			return err
		}
	}
	return nil
}

// SetAuto changes attributes of an auto-object for a Cascader. The parent
// attribute cannot change, and immutable attributes only take their first
// value.
func (s *Store) SetAuto(ctx context.Context, cs *Cascade, h attr.Handle, attrs ...attr.Attribute) error {
	t, ok := s.schema.Type(h.Type)
	if !ok || !t.IsAuto() {
		return invalidf("%s is not an auto type", h.Type)
	}
	ctx, _ = session(ctx)
	for _, a := range attrs {
		m, err := checkAttr(t, a)
		if err != nil {
			return err
		}
		if m.ID == t.ParentAttr {
			return invalidf("parent attribute %q of %s cannot change", m.Name, h.Type)
		}
		if err := s.update(ctx, cs, t, h, m, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) update(ctx context.Context, cs *Cascade, t *schema.ObjectType, h attr.Handle, m schema.AttrMeta, a attr.Attribute) error {
	if !s.Exists(h) {
		return notFoundf("%s", h)
	}
	release, err := s.hold(ctx, h)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	o := s.lookup(h)
	if o == nil {
		s.mu.RUnlock()
		return notFoundf("%s", h)
	}
	prev, had := o.attrs.Get(a.ID)
	s.mu.RUnlock()

	if had && attr.CompareValues(prev, a.Value) == 0 {
		return nil
	}
	if had && m.Flags.Has(schema.Immutable) {
		return invalidf("attribute %q of %s is immutable", m.Name, h.Type)
	}

	if !cs.warm {
		if err := s.triggers.runUpdate(ctx, s.triggers.beforeUpdate, h, a); err != nil {
			return err
		}
	}

	if err := s.commit(t, h, m, a); err != nil {
		s.logger.DebugContext(ctx, "set rejected", "handle", h, "attr", m.Name, "error", err)
		return err
	}

	var hookErr error
	if !cs.warm {
		hookErr = s.triggers.runUpdate(ctx, s.triggers.afterUpdate, h, a)
	}
	if c := s.Cascader(); c != nil {
		if !had {
			prev = nil
		}
		if err := c.UpdateAutoObjects(ctx, cs, h, a.ID, prev, a.Value); err != nil {
			s.logger.ErrorContext(ctx, "auto-object re-derivation failed", "handle", h, "attr", m.Name, "error", err)
			return errors.Join(hookErr, fmt.Errorf("%w: %w", ErrCascadeFailed, err))
		}
	}
	return hookErr
}

// commit stores a on h and updates the indexes.
func (s *Store) commit(t *schema.ObjectType, h attr.Handle, m schema.AttrMeta, a attr.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.lookup(h)
	if o == nil {
		return notFoundf("%s", h)
	}
	if err := s.checkRefs(m, a.Value); err != nil {
		return err
	}

	next := o.attrs.Clone()
	next.Put(attr.Attribute{ID: a.ID, Value: attr.Clone(a.Value)})
	oldKeys, newKeys := groupKeys(t, o.attrs), groupKeys(t, next)
	if !sameKeys(oldKeys, newKeys) {
		if other, ok := s.keyConflict(newKeys, h); ok {
			return fmt.Errorf("%w: key group already holds %s", ErrItemAlreadyExists, other)
		}
		s.unindexKeys(oldKeys, h)
		s.indexKeys(newKeys, h)
	}
	if prev, had := o.attrs.Get(a.ID); had {
		s.refs.remove(h, a.ID, prev)
	}
	s.refs.add(h, a.ID, a.Value)
	o.attrs = next
	return nil
}
