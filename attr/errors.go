package attr

import "errors"

var (
	// ErrTypeMismatch is returned when a value is read as a type it does not hold.
	ErrTypeMismatch = errors.New("switchstore: attribute type mismatch")

	// ErrNotSupported is returned for value types that cannot be stored or
	// exported, such as lists of ranges.
	ErrNotSupported = errors.New("switchstore: attribute type not supported")

	// ErrInvalidValue is returned when a textual value cannot be parsed.
	ErrInvalidValue = errors.New("switchstore: invalid attribute value")
)
