package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(100, "test")

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "key1", []byte("value1"), time.Minute))

		val, err := cache.Get(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, "value1", string(val))
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "to-delete", []byte("v"), time.Minute)
		require.NoError(t, cache.Delete(ctx, "to-delete"))

		val, _ := cache.Get(ctx, "to-delete")
		assert.Nil(t, val)
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		c := NewLRUCache(10, "ttl")
		c.now = func() time.Time { return clock }

		_ = c.Set(ctx, "expiring", []byte("v"), 10*time.Millisecond)
		val, _ := c.Get(ctx, "expiring")
		assert.NotNil(t, val)

		clock = clock.Add(20 * time.Millisecond)
		val, _ = c.Get(ctx, "expiring")
		assert.Nil(t, val)

		size, _ := c.Stats()
		assert.Equal(t, 0, size, "expired entry is evicted on read")
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3, "")

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// touch a so b is the oldest
		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := small.Get(ctx, "b")
		assert.Nil(t, val)
		val, _ = small.Get(ctx, "a")
		assert.NotNil(t, val)
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		a := NewLRUCache(10, "a")
		b := NewLRUCache(10, "b")
		_ = a.Set(ctx, "k", []byte("from-a"), time.Minute)

		assert.Equal(t, "a:k", a.makeKey("k"))
		val, _ := b.Get(ctx, "k")
		assert.Nil(t, val)
	})

	t.Run("Verdicts", func(t *testing.T) {
		v := &domain.Verdict{
			Name:       "acme widgets",
			Legitimate: false,
			Source:     "oracle",
			CheckedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, cache.SetVerdict(ctx, v, time.Minute))

		got, err := cache.GetVerdict(ctx, "acme widgets")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, *v, *got)

		got, err = cache.GetVerdict(ctx, "unknown co")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Stats", func(t *testing.T) {
		c := NewLRUCache(50, "")
		_ = c.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := c.Stats()
		assert.Equal(t, 2, size)
		assert.Equal(t, 50, capacity)
	})

	t.Run("Close", func(t *testing.T) {
		c := NewLRUCache(10, "")
		_ = c.Set(ctx, "k", []byte("v"), time.Minute)

		require.NoError(t, c.Close())
		val, _ := c.Get(ctx, "k")
		assert.Nil(t, val)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, cache.Ping(ctx))
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		require.NoError(t, err)
		defer c.Close()

		_, ok := c.(*LRUCache)
		assert.True(t, ok, "expected LRUCache for memory type")
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		assert.Error(t, err)
	})
}
