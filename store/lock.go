package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/switchstore/attr"
)

// LockOwner identifies the holder of object locks. An owner may lock the
// same object more than once; each Lock needs a matching Unlock.
type LockOwner uuid.UUID

// NewLockOwner returns a fresh owner token.
func NewLockOwner() LockOwner { return LockOwner(uuid.Must(uuid.NewV7())) }

func (o LockOwner) String() string { return uuid.UUID(o).String() }

type ownerKey struct{}

// WithLockOwner returns a context whose store calls act as owner. Store
// operations lock the objects they mutate; running them under an owner that
// already holds the lock does not block.
func WithLockOwner(ctx context.Context, owner LockOwner) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// LockOwnerFrom returns the owner carried by ctx.
func LockOwnerFrom(ctx context.Context) (LockOwner, bool) {
	o, ok := ctx.Value(ownerKey{}).(LockOwner)
	return o, ok
}

// session returns ctx with an owner, attaching a new one if ctx has none.
// Triggers and builders receive the returned context so that their nested
// store calls share the locks of the operation that invoked them.
func session(ctx context.Context) (context.Context, LockOwner) {
	if o, ok := LockOwnerFrom(ctx); ok {
		return ctx, o
	}
	o := NewLockOwner()
	return WithLockOwner(ctx, o), o
}

type heldLock struct {
	owner    LockOwner
	depth    int
	released chan struct{}
}

type lockTable struct {
	mu   sync.Mutex
	held map[attr.Handle]*heldLock
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[attr.Handle]*heldLock)}
}

func (l *lockTable) tryAcquire(h attr.Handle, o LockOwner) (<-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hl, ok := l.held[h]
	if !ok {
		l.held[h] = &heldLock{owner: o, depth: 1, released: make(chan struct{})}
		return nil, true
	}
	if hl.owner == o {
		hl.depth++
		return nil, true
	}
	return hl.released, false
}

func (l *lockTable) acquire(ctx context.Context, h attr.Handle, o LockOwner) error {
	for {
		wait, ok := l.tryAcquire(h, o)
		if ok {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *lockTable) release(h attr.Handle, o LockOwner) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hl, ok := l.held[h]
	if !ok || hl.owner != o {
		return fmt.Errorf("%w: %s is not locked by %s", ErrFailure, h, o)
	}
	hl.depth--
	if hl.depth == 0 {
		delete(l.held, h)
		close(hl.released)
	}
	return nil
}

// Lock blocks until the owner carried by ctx holds the lock of h.
// It fails with ErrInvalidParameter when ctx carries no owner.
func (s *Store) Lock(ctx context.Context, h attr.Handle) error {
	o, ok := LockOwnerFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: context carries no lock owner", ErrInvalidParameter)
	}
	if !s.Exists(h) {
		return fmt.Errorf("%w: %s", ErrItemNotFound, h)
	}
	return s.locks.acquire(ctx, h, o)
}

// TryLock is Lock without waiting. It reports whether the lock was taken.
func (s *Store) TryLock(ctx context.Context, h attr.Handle) (bool, error) {
	o, ok := LockOwnerFrom(ctx)
	if !ok {
		return false, fmt.Errorf("%w: context carries no lock owner", ErrInvalidParameter)
	}
	if !s.Exists(h) {
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, h)
	}
	_, got := s.locks.tryAcquire(h, o)
	return got, nil
}

// Unlock releases one level of the lock on h held by the owner in ctx.
func (s *Store) Unlock(ctx context.Context, h attr.Handle) error {
	o, ok := LockOwnerFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: context carries no lock owner", ErrInvalidParameter)
	}
	return s.locks.release(h, o)
}

// hold locks h for the owner of ctx and returns the matching release.
func (s *Store) hold(ctx context.Context, h attr.Handle) (func(), error) {
	o, _ := LockOwnerFrom(ctx)
	if err := s.locks.acquire(ctx, h, o); err != nil {
		return nil, err
	}
	return func() {
		if err := s.locks.release(h, o); err != nil {
			s.logger.Error("release object lock", "handle", h, "error", err)
		}
	}, nil
}
