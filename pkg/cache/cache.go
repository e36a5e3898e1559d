// Package cache provides a small generic TTL cache with in-memory and
// Redis backends. The service uses it to keep hot authorization lookups
// off the credential store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("cache: entry not found")

	// ErrClosed is returned when an operation is attempted on a closed cache.
	ErrClosed = errors.New("cache: closed")
)

// Cache is a generic key-value cache with TTL support.
//
// TTL semantics for Set: positive expires after the duration, zero uses
// the backend's default TTL, negative never expires.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns ErrNotFound on a miss.
	Get(ctx context.Context, key string) (V, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

var sfGroup singleflight.Group

type loadResult[V any] struct {
	val V
	ttl time.Duration
}

// GetOrSet returns the cached value for key, or calls load to compute it
// on a miss. Concurrent misses for the same key are collapsed into a
// single load call. Load errors are returned uncached.
func GetOrSet[V any](ctx context.Context, c Cache[V], key string, load func(ctx context.Context) (V, time.Duration, error)) (V, error) {
	if v, err := c.Get(ctx, key); err == nil {
		return v, nil
	}

	v, err, _ := sfGroup.Do(key, func() (any, error) {
		val, ttl, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return loadResult[V]{val: val, ttl: ttl}, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	r := v.(loadResult[V])

	// Best-effort write-back.
	_ = c.Set(ctx, key, r.val, r.ttl)

	return r.val, nil
}

type jsonCodec[V any] struct{}

func (jsonCodec[V]) marshal(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec[V]) unmarshal(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}
