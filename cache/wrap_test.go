package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapCachesByArgument(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	double := func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n * 2, nil
	}

	w, err := Wrap(ctx, double)
	require.NoError(t, err)
	defer w.Close()

	got, err := w.Call(ctx, 21)
	assert.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = w.Call(ctx, 21)
	assert.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.EqualValues(t, 1, calls.Load())

	// A different argument is a different key.
	got, err = w.Call(ctx, 5)
	assert.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWrapStructArguments(t *testing.T) {
	ctx := context.Background()
	type query struct {
		Name string
		Page int
	}
	var calls atomic.Int64
	search := func(_ context.Context, q query) (string, error) {
		calls.Add(1)
		return q.Name, nil
	}

	w, err := Wrap(ctx, search)
	require.NoError(t, err)
	defer w.Close()

	got, err := w.Call(ctx, query{Name: "widgets", Page: 1})
	assert.NoError(t, err)
	assert.Equal(t, "widgets", got)

	_, err = w.Call(ctx, query{Name: "widgets", Page: 1})
	assert.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = w.Call(ctx, query{Name: "widgets", Page: 2})
	assert.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWrapErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	failing := func(_ context.Context, n int) (int, error) {
		return 0, boom
	}

	w, err := Wrap(ctx, failing)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Call(ctx, 1)
	assert.ErrorIs(t, err, boom)
}

func TestWrapInvalidate(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	fn := func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}

	w, err := Wrap(ctx, fn)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Call(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, w.Invalidate(ctx, 7))

	_, err = w.Call(ctx, 7)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWrapNamespacesAreDisjoint(t *testing.T) {
	ctx := context.Background()
	fn := func(_ context.Context, n int) (int, error) { return n, nil }

	a, err := Wrap(ctx, fn)
	require.NoError(t, err)
	defer a.Close()
	b, err := Wrap(ctx, fn)
	require.NoError(t, err)
	defer b.Close()

	keyA, err := a.encodeKey(1)
	require.NoError(t, err)
	keyB, err := b.encodeKey(1)
	require.NoError(t, err)
	assert.NotEqual(t, keyA, keyB)
}

func TestWrapHonorsCacheOptions(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	fn := func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}

	// Do-not-cache: every call goes through.
	w, err := Wrap(ctx, fn, WithDefaultExpiresTTL(0))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Call(ctx, 1)
	require.NoError(t, err)
	_, err = w.Call(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWrapRejectsBadOptions(t *testing.T) {
	fn := func(_ context.Context, n int) (int, error) { return n, nil }
	_, err := Wrap(context.Background(), fn, WithTTLStrings("bogus", ""))
	assert.Error(t, err)
}

func TestWrapDecodeKeyOutsideNamespace(t *testing.T) {
	w, err := Wrap(context.Background(), func(_ context.Context, n int) (int, error) { return n, nil })
	require.NoError(t, err)
	defer w.Close()

	_, err = w.decodeKey("someone-else:abc")
	assert.Error(t, err)
}

func TestWrapCacheAccess(t *testing.T) {
	ctx := context.Background()
	fn := func(_ context.Context, n int) (int, error) { return n * 10, nil }

	w, err := Wrap(ctx, fn, WithDefaultStaleTTL(time.Hour), WithDefaultExpiresTTL(2*time.Hour))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Call(ctx, 3)
	require.NoError(t, err)

	usage, err := w.Cache().Usage(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, usage.Size)
}
