package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailroom/pkg/cache"
)

func TestMemory_GetSet(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrNotFound for missing key", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string]()
		defer c.Close()

		_, err := c.Get(context.Background(), "missing")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("returns stored value", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[int]()
		defer c.Close()

		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "key", 42, time.Minute))

		val, err := c.Get(ctx, "key")
		require.NoError(t, err)
		require.Equal(t, 42, val)
	})

	t.Run("returns ErrNotFound for expired key", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string](cache.WithCleanupInterval(0))
		defer c.Close()

		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "key", "value", time.Millisecond))

		time.Sleep(5 * time.Millisecond)

		_, err := c.Get(ctx, "key")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("negative TTL never expires", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string](cache.WithDefaultTTL(time.Millisecond))
		defer c.Close()

		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "key", "value", -1))

		time.Sleep(5 * time.Millisecond)

		val, err := c.Get(ctx, "key")
		require.NoError(t, err)
		require.Equal(t, "value", val)
	})
}

func TestMemory_Delete(t *testing.T) {
	t.Parallel()

	c := cache.NewMemory[string]()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, c.Delete(ctx, "key"))

	_, err := c.Get(ctx, "key")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestMemory_Close(t *testing.T) {
	t.Parallel()

	c := cache.NewMemory[string]()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.Set(context.Background(), "key", "value", time.Minute)
	require.ErrorIs(t, err, cache.ErrClosed)
}

func TestGetOrSet(t *testing.T) {
	t.Parallel()

	t.Run("caches the loaded value", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string]()
		defer c.Close()

		ctx := context.Background()
		var calls atomic.Int32

		load := func(ctx context.Context) (string, time.Duration, error) {
			calls.Add(1)
			return "loaded", time.Minute, nil
		}

		v, err := cache.GetOrSet(ctx, c, "tenant:acme", load)
		require.NoError(t, err)
		require.Equal(t, "loaded", v)

		v, err = cache.GetOrSet(ctx, c, "tenant:acme", load)
		require.NoError(t, err)
		require.Equal(t, "loaded", v)
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("does not cache load errors", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string]()
		defer c.Close()

		ctx := context.Background()
		boom := errors.New("store unavailable")

		_, err := cache.GetOrSet(ctx, c, "bad", func(ctx context.Context) (string, time.Duration, error) {
			return "", 0, boom
		})
		require.ErrorIs(t, err, boom)

		_, err = c.Get(ctx, "bad")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("collapses concurrent loads", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[int]()
		defer c.Close()

		ctx := context.Background()
		var calls atomic.Int32

		load := func(ctx context.Context) (int, time.Duration, error) {
			calls.Add(1)
			time.Sleep(10 * time.Millisecond)
			return 7, time.Minute, nil
		}

		var wg sync.WaitGroup
		for range 10 {
			wg.Go(func() {
				v, err := cache.GetOrSet(ctx, c, "shared", load)
				require.NoError(t, err)
				require.Equal(t, 7, v)
			})
		}
		wg.Wait()

		require.Equal(t, int32(1), calls.Load())
	})
}
