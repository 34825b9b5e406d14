package sqldump

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/snapshot"
)

type snapshotRow struct {
	ID          string `db:"id"`
	TakenAt     string `db:"taken_at"`
	RecordCount int    `db:"record_count"`
}

type recordRow struct {
	Seq        int    `db:"seq"`
	ObjectType string `db:"object_type"`
	ObjectID   string `db:"object_id"`
	Internal   int    `db:"internal"`
	Attrs      string `db:"attrs"`
}

// WriteSnapshot replaces the stored snapshot with snap in one transaction.
func (d *DB) WriteSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, name := range []string{"delete-records", "delete-snapshots"} {
		q, err := d.query(name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	q, err := d.query("insert-snapshot")
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, q, snap.ID.String(), snap.TakenAt.UTC().Format(time.RFC3339Nano), len(snap.Records)); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	q, err = d.query("insert-record")
	if err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare insert-record: %w", err)
	}
	defer stmt.Close()

	for _, r := range snap.Records {
		items := r.Attrs
		if items == nil {
			items = []attr.Flat{}
		}
		body, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Handle, err)
		}
		internal := 0
		if r.Internal {
			internal = 1
		}
		if _, err := stmt.ExecContext(ctx, snap.ID.String(), r.Seq, string(r.Handle.Type),
			strconv.FormatUint(r.Handle.ID, 10), internal, string(body)); err != nil {
			return fmt.Errorf("insert %s: %w", r.Handle, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReadSnapshot loads the stored snapshot. It fails with snapshot.ErrNotFound
// when none was written.
func (d *DB) ReadSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	q, err := d.query("latest-snapshot")
	if err != nil {
		return nil, err
	}
	var head snapshotRow
	if err := d.db.GetContext(ctx, &head, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	id, err := uuid.Parse(head.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot id %q: %w", head.ID, err)
	}
	takenAt, err := time.Parse(time.RFC3339Nano, head.TakenAt)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s taken_at %q: %w", id, head.TakenAt, err)
	}

	q, err = d.query("list-records")
	if err != nil {
		return nil, err
	}
	var rows []recordRow
	if err := d.db.SelectContext(ctx, &rows, q, head.ID); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	if len(rows) != head.RecordCount {
		return nil, fmt.Errorf("snapshot %s: expected %d records, found %d", id, head.RecordCount, len(rows))
	}

	snap := &snapshot.Snapshot{ID: id, TakenAt: takenAt, Records: make([]snapshot.Record, 0, len(rows))}
	for _, row := range rows {
		objID, err := strconv.ParseUint(row.ObjectID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("record %d: object id %q: %w", row.Seq, row.ObjectID, err)
		}
		var flats []attr.Flat
		if err := json.Unmarshal([]byte(row.Attrs), &flats); err != nil {
			return nil, fmt.Errorf("record %d: decode attributes: %w", row.Seq, err)
		}
		snap.Records = append(snap.Records, snapshot.Record{
			Seq:      row.Seq,
			Handle:   attr.Handle{Type: attr.ObjectType(row.ObjectType), ID: objID},
			Internal: row.Internal != 0,
			Attrs:    flats,
		})
	}
	return snap, nil
}
