// Package sqldump stores warm-reboot snapshots in SQL databases.
//
// Supports SQLite (a file on the switch) and PostgreSQL (a central
// collector) via sqlx. Queries are named in an embedded .sql file and loaded
// with dotsql.
package sqldump

import (
	"context"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Connection pool limits. SQLite allows a single writer, so its pool holds
// one connection.
const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

// DB is a snapshot store backed by a SQL database.
type DB struct {
	db  *sqlx.DB
	dot *dotsql.DotSql
}

// driverFor maps a database URL to a driver name and data source.
// Supported URL schemes: sqlite://, postgres://, postgresql://
// SQLite URLs: sqlite://path/to/file.db or sqlite:///absolute/path
// A string without a scheme is a SQLite file path.
func driverFor(dbURL string) (string, string, error) {
	if !strings.Contains(dbURL, "://") {
		if dbURL == "" {
			return "", "", fmt.Errorf("empty database URL")
		}
		return "sqlite3", dbURL, nil
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid database URL: %w", err)
	}
	switch u.Scheme {
	case "sqlite":
		// sqlite://file.db uses host+path (relative),
		// sqlite:///absolute/path uses path-only (absolute with empty host)
		if u.Host != "" {
			return "sqlite3", u.Host + u.Path, nil
		}
		return "sqlite3", u.Path, nil
	case "postgres", "postgresql":
		return "postgres", dbURL, nil
	}
	return "", "", fmt.Errorf("unsupported database scheme: %s (expected sqlite or postgres)", u.Scheme)
}

// Open connects to the database at dbURL and creates the snapshot tables if
// needed.
func Open(ctx context.Context, dbURL string) (*DB, error) {
	driverName, dataSource, err := driverFor(dbURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
	}
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// New wraps an open connection and creates the snapshot tables if needed.
func New(ctx context.Context, db *sqlx.DB) (*DB, error) {
	content, err := queriesFS.ReadFile("queries/snapshot.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read queries: %w", err)
	}
	dot, err := dotsql.LoadFromString(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}
	d := &DB{db: db, dot: dot}
	if err := d.Migrate(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the snapshot tables if they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	for _, name := range []string{"create-snapshots-table", "create-records-table"} {
		q, err := d.query(name)
		if err != nil {
			return err
		}
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// query returns the named query with placeholders rebound for the driver.
func (d *DB) query(name string) (string, error) {
	raw, err := d.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return d.db.Rebind(raw), nil
}
