package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry[V any] struct {
	expiresAt time.Time // zero value = never expires
	value     V
}

func (e memEntry[V]) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// Memory is an in-memory cache with TTL-based expiration. A background
// janitor removes expired entries when a cleanup interval is configured.
type Memory[V any] struct {
	items  map[string]memEntry[V]
	opts   *memoryOptions
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewMemory creates a new in-memory cache.
func NewMemory[V any](opts ...MemoryOption) *Memory[V] {
	o := defaultMemoryOptions()
	for _, opt := range opts {
		opt(o)
	}

	m := &Memory[V]{
		items: make(map[string]memEntry[V]),
		opts:  o,
		done:  make(chan struct{}),
	}

	if o.cleanupInterval > 0 {
		go m.janitor()
	}

	return m
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok || e.expired() {
		delete(m.items, key)
		var zero V
		return zero, ErrNotFound
	}

	return e.value, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if ttl == 0 {
		ttl = m.opts.defaultTTL
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	m.items[key] = memEntry[V]{value: value, expiresAt: expiresAt}
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.items, key)
	return nil
}

// Close stops the janitor goroutine. Close is idempotent.
func (m *Memory[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.done)
	return nil
}

func (m *Memory[V]) janitor() {
	ticker := time.NewTicker(m.opts.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			for key, e := range m.items {
				if e.expired() {
					delete(m.items, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

var _ Cache[any] = (*Memory[any])(nil)
