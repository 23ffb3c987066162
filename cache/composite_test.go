package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeRequiresBackend(t *testing.T) {
	assert.Panics(t, func() { NewComposite() })
}

func TestCompositeGetFirstHit(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(0)
	l2 := NewInMemory(0)
	b := NewComposite(l1, l2)
	defer b.Close()

	// Only in the second tier.
	require.NoError(t, l2.Set(ctx, "deep", memEntry("from-l2", 1)))

	entry, err := b.Get(ctx, "deep")
	assert.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "from-l2", entry.Value)

	// The first tier wins when both hold the key.
	require.NoError(t, l1.Set(ctx, "deep", memEntry("from-l1", 1)))
	entry, err = b.Get(ctx, "deep")
	assert.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "from-l1", entry.Value)
}

func TestCompositeWritesFanOut(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(0)
	l2 := NewInMemory(0)
	b := NewComposite(l1, l2)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "key", memEntry("value", 1)))

	entry, err := l1.Get(ctx, "key")
	assert.NoError(t, err)
	assert.NotNil(t, entry)
	entry, err = l2.Get(ctx, "key")
	assert.NoError(t, err)
	assert.NotNil(t, entry)

	require.NoError(t, b.Delete(ctx, "key"))
	entry, err = l1.Get(ctx, "key")
	assert.NoError(t, err)
	assert.Nil(t, entry)
	entry, err = l2.Get(ctx, "key")
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCompositeClear(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(0)
	l2 := NewInMemory(0)
	b := NewComposite(l1, l2)
	defer b.Close()

	require.NoError(t, l1.Set(ctx, "a", memEntry(1, 1)))
	require.NoError(t, l2.Set(ctx, "b", memEntry(2, 1)))
	require.NoError(t, b.Clear(ctx))

	entry, err := l1.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Nil(t, entry)
	entry, err = l2.Get(ctx, "b")
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCompositePrimaryDelegation(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(100)
	l2 := NewInMemory(0)
	b := NewComposite(l1, l2)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "key", memEntry("value", 25)))

	// Usage and iteration reflect the primary tier.
	usage, err := b.Usage(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 25, usage.Size)
	assert.EqualValues(t, 100, usage.MaxSize)

	key, entry, _, err := b.Next(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, "key", key)
	assert.NotNil(t, entry)

	ok, err := b.Lock(ctx, "key", 0)
	assert.NoError(t, err)
	assert.True(t, ok)
	ok, err = l1.Lock(ctx, "key", 0)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, b.Unlock(ctx, "key"))
}
