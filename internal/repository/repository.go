// Package repository defines the storage contract shared by every backend.
//
// The service keeps no authoritative state in memory: caches, pending
// markers and sessions all round-trip through a KVStore so that any number
// of stateless instances can sit behind a load balancer. The Redis backend
// is the production store; the SQLite backend serves single-node setups and
// local development.
package repository

import (
	"context"
	"time"
)

// KVStore is a key-value store with per-key expiry.
//
// Get returns an error wrapping apperror.ErrNotFound when the key is absent
// or expired. A ttl of zero means "no expiry".
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent (or expired) and reports
	// whether it did. The check and the write are a single atomic step.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only while it still holds value and
	// reports whether it did.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
