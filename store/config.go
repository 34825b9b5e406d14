package store

import "log/slog"

// Config holds configuration for the Store.
type Config struct {
	// FirstHandleID is the first ID handed out for each object type.
	// IDs are never reused within a store's lifetime, except by
	// CreateWithID and Replay.
	// Default: 1
	FirstHandleID uint64

	// MaxObjectsPerType caps the number of live objects of one type.
	// Creates beyond the cap fail with ErrNoMemory.
	// Default: 65536
	// Max: 1<<24
	MaxObjectsPerType int

	// Logger receives validation failures at debug level and invariant
	// violations at error level.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for a single switch.
func DefaultConfig() Config {
	return Config{
		FirstHandleID:     1,
		MaxObjectsPerType: 1 << 16,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.FirstHandleID == 0 {
		c.FirstHandleID = 1
	}
	if c.MaxObjectsPerType < 1 {
		c.MaxObjectsPerType = 1 << 16
	}
	if c.MaxObjectsPerType > 1<<24 {
		c.MaxObjectsPerType = 1 << 24
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
