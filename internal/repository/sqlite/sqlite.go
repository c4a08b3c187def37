// Package sqlite implements repository.KVStore on a single SQLite file.
//
// It is meant for single-node deployments and local development: every
// instance that should share caches and pending markers must open the same
// database file. Expired rows are filtered on read and swept periodically.
//
// DATABASE/SQL OVERVIEW:
//   - sql.Open(driverName, dataSourceName) creates a pool, not a connection
//   - db.QueryRowContext / db.ExecContext run statements
//   - "sqlite" is the driver name registered by modernc.org/sqlite
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements repository.KVStore.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/report.db" → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database lives and dies with its connection, so the pool
	// must never open a second one.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Several instances may share the file; wait for locks instead of
	// failing immediately with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the key-value table. CREATE TABLE IF NOT EXISTS makes it
// safe to run on every start.
//
// expires_at is a Unix timestamp in milliseconds; 0 means the row never
// expires.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating kv table: %w", err)
	}
	return nil
}
