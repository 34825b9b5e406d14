package factory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/store"
)

// contributors returns the objects whose counter handlers make up the
// counters of h: h itself and its counter-carrying auto-objects.
func (f *Factory) contributors(h attr.Handle) []attr.Handle {
	var out []attr.Handle
	for _, typ := range f.schema.CounterContributors(h.Type) {
		if typ == h.Type {
			out = append(out, h)
			continue
		}
		out = append(out, f.store.AutoChildren(h, typ)...)
	}
	return out
}

// Counters sums the counters of h and its contributing auto-objects per
// counter id. Contributors without a handler carry no counters.
func (f *Factory) Counters(ctx context.Context, h attr.Handle) (store.Counters, error) {
	out := make(store.Counters)
	for _, c := range f.contributors(h) {
		got, err := f.store.Triggers().RunGetCounters(ctx, c)
		if errors.Is(err, store.ErrNotSupported) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("counters of %s: %w", c, err)
		}
		for id, v := range got {
			out[id] += v
		}
	}
	return out, nil
}

// ClearCounters clears ids on h and every contributing auto-object. It
// fails with store.ErrNotSupported when no contributor has a clear handler.
func (f *Factory) ClearCounters(ctx context.Context, h attr.Handle, ids []store.CounterID) error {
	return f.clear(h, func(c attr.Handle) error {
		return f.store.Triggers().RunClearCounters(ctx, c, ids)
	})
}

// ClearAllCounters clears every counter of h and its contributing
// auto-objects.
func (f *Factory) ClearAllCounters(ctx context.Context, h attr.Handle) error {
	return f.clear(h, func(c attr.Handle) error {
		return f.store.Triggers().RunClearAllCounters(ctx, c)
	})
}

func (f *Factory) clear(h attr.Handle, fn func(attr.Handle) error) error {
	handled := false
	for _, c := range f.contributors(h) {
		err := fn(c)
		if errors.Is(err, store.ErrNotSupported) {
			continue
		}
		if err != nil {
			return fmt.Errorf("clear counters of %s: %w", c, err)
		}
		handled = true
	}
	if !handled {
		return store.ErrNotSupported
	}
	return nil
}
