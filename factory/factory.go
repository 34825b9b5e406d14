// Package factory derives auto-objects. A Factory is installed as the
// cascader of one store and calls registered builders as objects are
// created, changed and deleted.
//
// # Derivation rules
//
//   - Creating an object builds each bound auto type parented at its type in
//     ascending priority. A failure deletes what the pass created, in
//     reverse order.
//   - Deleting an object deletes its auto-objects in descending priority.
//   - Changing a watched attribute re-runs CreateUpdate on the existing
//     auto-objects that watch it.
//   - A reference-gated auto type exists while its parent has at least one
//     referrer through a gating path: the first reference creates it and
//     removing the last one deletes it.
//   - After a replay, Rederive walks the store bottom-up and rebuilds every
//     bound auto-object in warm mode.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/schema"
	"github.com/jacentio/switchstore/store"
)

const tracerName = "github.com/jacentio/switchstore/factory"

// Factory implements store.Cascader on top of a builder registry.
type Factory struct {
	store  *store.Store
	schema *schema.Schema
	logger *slog.Logger
	tracer trace.Tracer

	mu       sync.RWMutex
	registry *Registry
}

var _ store.Cascader = (*Factory)(nil)

// New creates a factory for s and installs it as the store's cascader.
// A nil logger falls back to slog.Default().
func New(s *store.Store, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		store:    s,
		schema:   s.Schema(),
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		registry: NewRegistry(),
	}
	s.SetCascader(f)
	return f
}

// Register binds b to the auto type typ.
func (f *Factory) Register(typ attr.ObjectType, b Builder) error {
	t, ok := f.schema.Type(typ)
	if !ok {
		return fmt.Errorf("%w: unknown object type %q", store.ErrInvalidParameter, typ)
	}
	if !t.IsAuto() {
		return fmt.Errorf("%w: %s is not an auto type", store.ErrInvalidParameter, typ)
	}
	if b == nil {
		return fmt.Errorf("%w: nil builder for %s", store.ErrInvalidParameter, typ)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry.Register(Binding{
		Type:     t.Name,
		Parent:   t.Parent,
		Priority: t.Priority,
		Order:    slices.Index(f.schema.Types(), t.Name),
		Builder:  b,
	})
	return nil
}

// MustRegister is like Register but panics on error. It is meant for
// program start-up.
func (f *Factory) MustRegister(typ attr.ObjectType, b Builder) {
	if err := f.Register(typ, b); err != nil {
		panic(err)
	}
}

// Bindings returns the registered bindings in registration order.
func (f *Factory) Bindings() []Binding {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.registry.AllBindings())
}

func (f *Factory) builder(typ attr.ObjectType) (Builder, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.registry.BuilderFor(typ)
}

// children returns the bindings parented at parent in build order.
func (f *Factory) children(parent attr.ObjectType) []Binding {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.registry.ChildrenOf(parent))
}

func (f *Factory) hasChildren(parent attr.ObjectType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.registry.HasChildren(parent)
}

func (f *Factory) object(cs *store.Cascade, t *schema.ObjectType, parent, h attr.Handle) *Object {
	return &Object{store: f.store, cs: cs, typ: t, parent: parent, handle: h}
}

// call runs one builder method and turns a panic into store.ErrFailure.
func (f *Factory) call(ctx context.Context, op string, obj *Object, fn func(context.Context, *Object) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.ErrorContext(ctx, "builder panicked", "op", op, "type", obj.Type(), "handle", obj.Handle(), "panic", r)
			err = fmt.Errorf("%w: %s builder for %s panicked: %v", store.ErrFailure, op, obj.Type(), r)
		}
	}()
	return fn(ctx, obj)
}

func (f *Factory) start(ctx context.Context, name string, cs *store.Cascade, h attr.Handle) (context.Context, trace.Span) {
	return f.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("switchstore.handle", h.String()),
		attribute.Bool("switchstore.warm", cs.Warm()),
	))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// --- Create ---

// CreateAutoObjects builds the bound auto-objects of parent.
func (f *Factory) CreateAutoObjects(ctx context.Context, cs *store.Cascade, parent attr.Handle) (err error) {
	ctx, span := f.start(ctx, "factory.create", cs, parent)
	defer func() { finish(span, err) }()
	return f.createAutoObjects(ctx, cs, parent)
}

func (f *Factory) createAutoObjects(ctx context.Context, cs *store.Cascade, parent attr.Handle) error {
	var created []*Object
	for _, b := range f.children(parent.Type) {
		t, _ := f.schema.Type(b.Type)
		if t.Gated() && !f.gateOpen(t, parent) {
			continue
		}
		obj, err := f.ensure(ctx, cs, t, b.Builder, parent)
		if err != nil {
			f.rollback(ctx, cs, created)
			return fmt.Errorf("%s under %s: %w", t.Name, parent, err)
		}
		if obj != nil {
			created = append(created, obj)
		}
	}
	return nil
}

// ensure finds or creates the auto-object of t under parent and runs its
// builder. It returns the object only when it was created by this call.
func (f *Factory) ensure(ctx context.Context, cs *store.Cascade, t *schema.ObjectType, b Builder, parent attr.Handle) (*Object, error) {
	if !cs.Enter(t.Name, parent) {
		return nil, nil
	}
	defer cs.Leave(t.Name, parent)

	if h, ok := f.store.AutoChild(parent, t.Name); ok {
		obj := f.object(cs, t, parent, h)
		if err := f.call(ctx, "create_update", obj, b.CreateUpdate); err != nil {
			return nil, err
		}
		cs.MarkBuilt(t.Name, parent)
		if cs.Warm() {
			if err := f.createAutoObjects(ctx, cs, h); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	h, err := f.store.CreateAuto(ctx, cs, t.Name, attr.New(t.ParentAttr, parent))
	if err != nil {
		return nil, err
	}
	f.logger.DebugContext(ctx, "auto-object created", "type", t.Name, "handle", h, "parent", parent)
	obj := f.object(cs, t, parent, h)
	if err := f.call(ctx, "create_update", obj, b.CreateUpdate); err != nil {
		if derr := f.store.DeleteAuto(ctx, cs, h); derr != nil {
			f.logger.ErrorContext(ctx, "remove unbuilt auto-object", "handle", h, "error", derr)
		}
		return nil, err
	}
	cs.MarkBuilt(t.Name, parent)

	if err := f.createAutoObjects(ctx, cs, h); err != nil {
		if derr := f.deleteAuto(ctx, cs, t, h, parent); derr != nil {
			f.logger.ErrorContext(ctx, "remove partially built auto-object", "handle", h, "error", derr)
		}
		return nil, err
	}
	return obj, nil
}

// rollback deletes the auto-objects of one pass in reverse creation order.
func (f *Factory) rollback(ctx context.Context, cs *store.Cascade, created []*Object) {
	for i := len(created) - 1; i >= 0; i-- {
		obj := created[i]
		if err := f.deleteAuto(ctx, cs, obj.typ, obj.handle, obj.parent); err != nil {
			f.logger.ErrorContext(ctx, "rollback of auto-object failed", "handle", obj.handle, "error", err)
		}
	}
}

// --- Delete ---

// DeleteAutoObjects removes every auto-object derived from parent.
func (f *Factory) DeleteAutoObjects(ctx context.Context, cs *store.Cascade, parent attr.Handle) (err error) {
	ctx, span := f.start(ctx, "factory.delete", cs, parent)
	defer func() { finish(span, err) }()
	return f.deleteAutoObjects(ctx, cs, parent)
}

func (f *Factory) deleteAutoObjects(ctx context.Context, cs *store.Cascade, parent attr.Handle) error {
	autos := f.schema.AutoTypes(parent.Type)
	for i := len(autos) - 1; i >= 0; i-- {
		t := autos[i]
		for _, h := range f.store.AutoChildren(parent, t.Name) {
			if err := f.deleteAuto(ctx, cs, t, h, parent); err != nil {
				return fmt.Errorf("%s under %s: %w", h, parent, err)
			}
		}
	}
	return nil
}

// deleteAuto removes h after its own auto-objects. Auto-objects without a
// builder are removed without a Delete call.
func (f *Factory) deleteAuto(ctx context.Context, cs *store.Cascade, t *schema.ObjectType, h, parent attr.Handle) error {
	if err := f.deleteAutoObjects(ctx, cs, h); err != nil {
		return err
	}
	if b, ok := f.builder(t.Name); ok {
		if err := f.call(ctx, "delete", f.object(cs, t, parent, h), b.Delete); err != nil {
			return err
		}
	}
	if err := f.store.DeleteAuto(ctx, cs, h); err != nil && !errors.Is(err, store.ErrItemNotFound) {
		return err
	}
	f.logger.DebugContext(ctx, "auto-object deleted", "type", t.Name, "handle", h, "parent", parent)
	return nil
}

// --- Update ---

// UpdateAutoObjects re-derives the auto-objects affected by attribute id of
// h changing from prev to cur.
func (f *Factory) UpdateAutoObjects(ctx context.Context, cs *store.Cascade, h attr.Handle, id attr.ID, prev, cur attr.Value) (err error) {
	p := schema.Path{Type: h.Type, Attr: id}
	watchers, gated := f.schema.Watchers(p), f.schema.Gated(p)
	if len(watchers) == 0 && len(gated) == 0 {
		return nil
	}
	ctx, span := f.start(ctx, "factory.update", cs, h)
	span.SetAttributes(attribute.Int("switchstore.attr", int(id)))
	defer func() { finish(span, err) }()

	var errs []error
	if cur != nil {
		for _, t := range watchers {
			if err := f.rederiveWatcher(ctx, cs, t, h); err != nil {
				errs = append(errs, fmt.Errorf("%s under %s: %w", t.Name, h, err))
			}
		}
	}
	for _, t := range gated {
		if err := f.regate(ctx, cs, t, attr.Handles(prev), attr.Handles(cur)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// rederiveWatcher re-runs CreateUpdate on the existing auto-object of t
// under parent.
func (f *Factory) rederiveWatcher(ctx context.Context, cs *store.Cascade, t *schema.ObjectType, parent attr.Handle) error {
	if cs.Built(t.Name, parent) {
		return nil
	}
	b, ok := f.builder(t.Name)
	if !ok {
		return nil
	}
	h, ok := f.store.AutoChild(parent, t.Name)
	if !ok {
		return nil
	}
	if !cs.Enter(t.Name, parent) {
		return nil
	}
	defer cs.Leave(t.Name, parent)
	return f.call(ctx, "create_update", f.object(cs, t, parent, h), b.CreateUpdate)
}

// regate creates or deletes gated auto-objects of t for targets whose
// referrer count left or reached zero.
func (f *Factory) regate(ctx context.Context, cs *store.Cascade, t *schema.ObjectType, prev, cur []attr.Handle) error {
	b, ok := f.builder(t.Name)
	if !ok {
		return nil
	}
	var errs []error
	for _, target := range difference(prev, cur) {
		if target.Type != t.Parent || f.gateOpen(t, target) {
			continue
		}
		for _, h := range f.store.AutoChildren(target, t.Name) {
			if err := f.deleteAuto(ctx, cs, t, h, target); err != nil {
				errs = append(errs, fmt.Errorf("%s under %s: %w", t.Name, target, err))
			}
		}
	}
	for _, target := range difference(cur, prev) {
		if target.Type != t.Parent || !f.store.Exists(target) {
			continue
		}
		if _, ok := f.store.AutoChild(target, t.Name); ok || !f.gateOpen(t, target) {
			continue
		}
		if _, err := f.ensure(ctx, cs, t, b, target); err != nil {
			errs = append(errs, fmt.Errorf("%s under %s: %w", t.Name, target, err))
		}
	}
	return errors.Join(errs...)
}

// gateOpen reports whether parent is referenced through any gating path of t.
func (f *Factory) gateOpen(t *schema.ObjectType, parent attr.Handle) bool {
	for _, p := range t.Referrers {
		if len(f.store.ReferrersVia(parent, p)) > 0 {
			return true
		}
	}
	return false
}

// difference returns the distinct handles of a that are not in b.
func difference(a, b []attr.Handle) []attr.Handle {
	var out []attr.Handle
	for _, h := range a {
		if !slices.Contains(b, h) && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	return out
}

// --- Replay ---

// Rederive rebuilds the auto-objects of every user object, referenced
// objects first.
func (f *Factory) Rederive(ctx context.Context, cs *store.Cascade) (err error) {
	ctx, span := f.tracer.Start(ctx, "factory.rederive", trace.WithAttributes(attribute.Bool("switchstore.warm", cs.Warm())))
	defer func() { finish(span, err) }()

	var errs []error
	n := 0
	for _, h := range f.store.DependencyOrder() {
		t, ok := f.schema.Type(h.Type)
		if !ok || t.IsAuto() || !f.hasChildren(t.Name) {
			continue
		}
		n++
		if err := f.createAutoObjects(ctx, cs, h); err != nil {
			f.logger.ErrorContext(ctx, "re-derivation failed", "handle", h, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h, err))
		}
	}
	f.logger.InfoContext(ctx, "auto-objects re-derived", "objects", n, "failed", len(errs))
	return errors.Join(errs...)
}
