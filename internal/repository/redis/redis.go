// Package redis implements repository.KVStore on Redis, the shared store
// used when several instances run behind a load balancer.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/repository"
)

// compile-time check that *Store implements repository.KVStore
var _ repository.KVStore = (*Store)(nil)

// compareAndDelete deletes KEYS[1] only while it holds ARGV[1]. Running it as
// a script keeps the read and the delete atomic on the server.
var compareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store wraps a go-redis client.
type Store struct {
	client *goredis.Client
}

// New connects to the Redis server at url (redis://[:password@]host:port/db)
// and verifies the connection with a PING.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parsing url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: pinging %s: %w", opts.Addr, err)
	}

	return &Store{client: client}, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, apperror.NotFound("key", key)
		}
		return nil, fmt.Errorf("redis: getting %s: %w", key, err)
	}
	return value, nil
}

// Set writes value with the given expiry (0 = none) in a single SET.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: setting %s: %w", key, err)
	}
	return nil
}

// SetNX maps to SET key value NX PX ttl.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: deleting %s: %w", key, err)
	}
	return nil
}

// CompareAndDelete removes key only while it holds value.
func (s *Store) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client's connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
