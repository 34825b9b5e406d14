package store

import (
	"errors"
	"fmt"

	"github.com/jacentio/switchstore/attr"
)

var (
	// ErrInvalidParameter is returned for unknown types or attributes, type
	// mismatches, writes to attributes the caller may not change and
	// references to objects of the wrong type.
	ErrInvalidParameter = errors.New("switchstore: invalid parameter")

	// ErrItemNotFound is returned when a handle does not name a live object,
	// when a referenced object is missing, or when a key-group lookup misses.
	ErrItemNotFound = errors.New("switchstore: item not found")

	// ErrItemAlreadyExists is returned when a handle is already taken or a
	// key group would hold two objects with the same key.
	ErrItemAlreadyExists = errors.New("switchstore: item already exists")

	// ErrInvalidKeyGroup is returned when a lookup's attribute set matches no
	// declared key group.
	ErrInvalidKeyGroup = errors.New("switchstore: attributes match no key group")

	// ErrResourceInUse is returned when deleting an object still referenced
	// through a blocking attribute.
	ErrResourceInUse = errors.New("switchstore: object is in use")

	// ErrDependencyFailure is returned when an auto-object needs a sibling
	// that does not exist.
	ErrDependencyFailure = errors.New("switchstore: dependency not satisfied")

	// ErrNotSupported is returned for operations an object type or value
	// type does not implement.
	ErrNotSupported = attr.ErrNotSupported

	// ErrNoMemory is returned when a type's table is full.
	ErrNoMemory = errors.New("switchstore: table full")

	// ErrFailure is returned for internal failures and lock misuse.
	ErrFailure = errors.New("switchstore: failure")

	// ErrCascadeFailed wraps a failure of auto-object derivation. Objects
	// created by the operation are kept; auto-objects the failing derivation
	// already built are removed.
	ErrCascadeFailed = errors.New("switchstore: auto-object cascade failed")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrItemNotFound, fmt.Sprintf(format, args...))
}
