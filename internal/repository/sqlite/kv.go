package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/repository"
)

// compile-time check that *DB implements repository.KVStore
var _ repository.KVStore = (*DB)(nil)

// expiry converts a TTL into the stored expires_at value.
func (db *DB) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return db.now().Add(ttl).UnixMilli()
}

// Get returns the value stored under key. Expired rows are treated as absent
// even if the sweeper has not removed them yet.
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, db.now().UnixMilli(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("key", key)
		}
		return nil, fmt.Errorf("sqlite: getting %s: %w", key, err)
	}
	return value, nil
}

// Set writes value under key, replacing any previous value and expiry.
func (db *DB) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, db.expiry(ttl),
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting %s: %w", key, err)
	}
	return nil
}

// SetNX inserts key only when no live row exists.
//
// The upsert's WHERE clause only lets the UPDATE branch run when the
// existing row has expired, so a live row produces zero changes. SQLite
// serializes writers, which makes the statement atomic across connections
// and processes sharing the file.
func (db *DB) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := db.now().UnixMilli()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		 WHERE kv.expires_at != 0 AND kv.expires_at <= ?`,
		key, value, db.expiry(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: setnx %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: setnx %s: reading rows affected: %w", key, err)
	}
	return n == 1, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: deleting %s: %w", key, err)
	}
	return nil
}

// CompareAndDelete removes key only while it holds value.
func (db *DB) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND value = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, value, db.now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: compare-and-delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: compare-and-delete %s: reading rows affected: %w", key, err)
	}
	return n == 1, nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Sweep deletes expired rows and returns how many were removed.
func (db *DB) Sweep(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`, db.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: sweeping expired keys: %w", err)
	}
	return res.RowsAffected()
}
