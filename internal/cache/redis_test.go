package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	s := miniredis.RunT(t)
	cfg := DefaultRedisCacheConfig()
	cfg.Addr = s.Addr()
	cache, err := NewRedisCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestRedisCache_SetGet(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))

	val, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	require.Equal(t, []byte("value1"), val)
}

func TestRedisCache_GetMiss(t *testing.T) {
	c := newTestRedisCache(t)

	val, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, val)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Misses)
}

func TestRedisCache_Delete(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))
	require.NoError(t, c.Delete(ctx, "key1"))

	val, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestRedisCache_SetPipeline(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	entries := []CacheEntry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}
	require.NoError(t, c.SetPipeline(ctx, entries))

	got, err := c.GetMulti(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got["a"])
	require.Equal(t, []byte("2"), got["b"])
	require.NotContains(t, got, "c")
}

func TestRedisCache_Namespacing(t *testing.T) {
	c := newTestRedisCache(t)
	require.Equal(t, "gaud:key1", c.prefixKey("key1"))

	c.namespace = ""
	require.Equal(t, "key1", c.prefixKey("key1"))
}

func TestRedisCache_Ping(t *testing.T) {
	c := newTestRedisCache(t)
	require.NoError(t, c.Ping(context.Background()))
}

func TestRedisCache_JSONRoundtrip(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}

	require.NoError(t, c.SetJSON(ctx, "obj", payload{Name: "gaud"}, time.Minute))

	var got payload
	require.NoError(t, c.GetJSON(ctx, "obj", &got))
	require.Equal(t, "gaud", got.Name)
}
