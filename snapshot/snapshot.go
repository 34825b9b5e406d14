// Package snapshot defines the backend-neutral warm-reboot image of an object
// store: every live object with its handle and flattened attributes, in
// dependency order (referenced objects before their referrers).
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/switchstore/attr"
)

// ErrNotFound is returned by readers when no snapshot is stored.
var ErrNotFound = errors.New("switchstore: snapshot not found")

// Record is one object of a snapshot.
type Record struct {
	// Seq is the position of the record in dependency order, starting at 0.
	Seq      int
	Handle   attr.Handle
	Internal bool
	Attrs    []attr.Flat
}

// Snapshot is a complete object set.
type Snapshot struct {
	ID      uuid.UUID
	TakenAt time.Time
	Records []Record
}

// New returns a snapshot of records with a fresh time-ordered ID.
// Record sequence numbers are reassigned from their slice position.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func New(records []Record) *Snapshot {
	for i := range records {
		records[i].Seq = i
	}
	return &Snapshot{
		ID:      uuid.Must(uuid.NewV7()),
		TakenAt: time.Now().UTC(),
		Records: records,
	}
}

// Handles returns the handles of all records in order.
func (s *Snapshot) Handles() []attr.Handle {
	out := make([]attr.Handle, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Handle
	}
	return out
}

// Writer persists snapshots. Writing replaces any snapshot previously
// stored at the same destination.
type Writer interface {
	WriteSnapshot(ctx context.Context, snap *Snapshot) error
}

// Reader loads the most recently written snapshot.
type Reader interface {
	ReadSnapshot(ctx context.Context) (*Snapshot, error)
}
