package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func decodeString(t *testing.T, value any) string {
	t.Helper()
	data, ok := value.([]byte)
	require.True(t, ok, "expected []byte, got %T", value)
	var s string
	require.NoError(t, msgpack.Unmarshal(data, &s))
	return s
}

func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	b := NewRedis(ctx, client, "")
	defer b.Close()

	entry, err := b.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, entry)

	created := time.Now()
	require.NoError(t, b.Set(ctx, "key", NewEntry("value", created, time.Hour, 2*time.Hour, 3)))

	entry, err = b.Get(ctx, "key")
	assert.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "value", decodeString(t, entry.Value))
	assert.Equal(t, created.UnixNano(), entry.Created.UnixNano())
	assert.Equal(t, time.Hour, entry.Stale)
	assert.Equal(t, 2*time.Hour, entry.Expires)
	assert.EqualValues(t, 3, entry.Size)

	require.NoError(t, b.Delete(ctx, "key"))
	entry, err = b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRedisKeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	b := NewRedis(ctx, client, "svc")
	defer b.Close()

	require.NoError(t, b.Set(ctx, "key", memEntry("value", 1)))
	assert.True(t, mr.Exists("svc:crisp:key"))
}

func TestRedisNativeTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	b := NewRedis(ctx, client, "")
	defer b.Close()

	require.NoError(t, b.Set(ctx, "short", NewEntry("v", time.Now(), Never, time.Minute, 1)))
	require.NoError(t, b.Set(ctx, "forever", NewEntry("v", time.Now(), Never, Never, 1)))

	mr.FastForward(2 * time.Minute)

	entry, err := b.Get(ctx, "short")
	assert.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = b.Get(ctx, "forever")
	assert.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestRedisClear(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	b := NewRedis(ctx, client, "")
	defer b.Close()

	require.NoError(t, b.Set(ctx, "a", memEntry(1, 1)))
	require.NoError(t, b.Set(ctx, "b", memEntry(2, 1)))
	// An unrelated key survives the clear.
	require.NoError(t, mr.Set("other", "left alone"))

	require.NoError(t, b.Clear(ctx))

	entry, err := b.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Nil(t, entry)
	assert.True(t, mr.Exists("other"))
}

func TestRedisLock(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	b := NewRedis(ctx, client, "")
	defer b.Close()

	ok, err := b.Lock(ctx, "key", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Lock(ctx, "key", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	// Lock keys live in their own namespace.
	entry, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, b.Unlock(ctx, "key"))
	ok, err = b.Lock(ctx, "key", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	// The lock lapses on its own.
	mr.FastForward(2 * time.Minute)
	ok, err = b.Lock(ctx, "key", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisNext(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	b := NewRedis(ctx, client, "")
	defer b.Close()

	want := map[string]bool{"a": true, "b": true, "c": true}
	for key := range want {
		require.NoError(t, b.Set(ctx, key, memEntry(key, 1)))
	}

	got := make(map[string]bool)
	cursor := ""
	for {
		key, entry, next, err := b.Next(ctx, cursor)
		require.NoError(t, err)
		if entry == nil {
			break
		}
		got[key] = true
		cursor = next
	}
	assert.Equal(t, want, got)
}

func TestRedisNextEmpty(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	b := NewRedis(ctx, client, "")
	defer b.Close()

	key, entry, _, err := b.Next(ctx, "")
	assert.NoError(t, err)
	assert.Empty(t, key)
	assert.Nil(t, entry)
}

func TestRedisUsageUntracked(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	b := NewRedis(ctx, client, "")
	defer b.Close()

	usage, err := b.Usage(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, -1, usage.Size)
}

func TestCacheWithRedisBackend(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	f := newCountingFetcher()
	c, err := New(ctx, f.fetch, WithBackend(NewRedis(ctx, client, "")))
	require.NoError(t, err)
	defer c.Close()

	// Fetched values round-trip through msgpack and come back typed.
	found, val, err := GetAs[string](ctx, c, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "key-v1", val)

	found, val, err = GetAs[string](ctx, c, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "key-v1", val)
	assert.Equal(t, 1, f.count("key"))
}
