package cache

import "time"

type memoryOptions struct {
	defaultTTL      time.Duration
	cleanupInterval time.Duration
}

func defaultMemoryOptions() *memoryOptions {
	return &memoryOptions{
		defaultTTL:      time.Minute,
		cleanupInterval: time.Minute,
	}
}

// MemoryOption configures the in-memory backend.
type MemoryOption func(*memoryOptions)

// WithDefaultTTL sets the TTL applied when Set is called with a zero TTL.
func WithDefaultTTL(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		if d != 0 {
			o.defaultTTL = d
		}
	}
}

// WithCleanupInterval sets how often expired entries are swept.
// Zero disables the background janitor; expired entries are then only
// dropped lazily on access.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.cleanupInterval = d
	}
}

type redisOptions struct {
	prefix     string
	defaultTTL time.Duration
}

func defaultRedisOptions() *redisOptions {
	return &redisOptions{
		defaultTTL: time.Minute,
	}
}

// RedisOption configures the Redis backend.
type RedisOption func(*redisOptions)

// WithPrefix namespaces all keys under prefix.
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// WithRedisDefaultTTL sets the TTL applied when Set is called with a zero TTL.
func WithRedisDefaultTTL(d time.Duration) RedisOption {
	return func(o *redisOptions) {
		if d != 0 {
			o.defaultTTL = d
		}
	}
}
