// Package cache provides the two store-backed primitives the report
// pipeline coordinates through: a typed TTL cache and a pending guard.
//
// Both treat the store as an optimization. A failed read is a miss, a failed
// write is logged and dropped, and nothing is retried.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/repository"
)

// Cache stores JSON-encoded values of type T under "{namespace}:{key}".
type Cache[T any] struct {
	store     repository.KVStore
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// New creates a cache over store. ttl is the expiry used by Set.
func New[T any](store repository.KVStore, namespace string, ttl time.Duration, logger *slog.Logger) *Cache[T] {
	return &Cache[T]{
		store:     store,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

// Key returns the full store key for key.
func (c *Cache[T]) Key(key string) string {
	return c.namespace + ":" + key
}

// Get returns the cached value and true, or the zero value and false on a
// miss. Store and decode failures are logged and reported as misses.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	raw, err := c.store.Get(ctx, c.Key(key))
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			c.logger.Warn("cache read failed, treating as miss",
				slog.String("key", c.Key(key)),
				slog.String("error", err.Error()),
			)
		}
		return zero, false
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		c.logger.Warn("cache entry undecodable, treating as miss",
			slog.String("key", c.Key(key)),
			slog.String("error", err.Error()),
		)
		return zero, false
	}
	return value, true
}

// Set stores value with the cache's default TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value T) {
	c.SetTTL(ctx, key, value, c.ttl)
}

// SetTTL stores value with an explicit TTL.
func (c *Cache[T]) SetTTL(ctx context.Context, key string, value T, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache encode failed",
			slog.String("key", c.Key(key)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.store.Set(ctx, c.Key(key), raw, ttl); err != nil {
		c.logger.Warn("cache write failed",
			slog.String("key", c.Key(key)),
			slog.String("error", err.Error()),
		)
	}
}

// Delete removes key. Failures are logged.
func (c *Cache[T]) Delete(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, c.Key(key)); err != nil {
		c.logger.Warn("cache delete failed",
			slog.String("key", c.Key(key)),
			slog.String("error", err.Error()),
		)
	}
}
