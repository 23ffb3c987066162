package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerFirstCallerOwns(t *testing.T) {
	l := newLocker(0)
	now := time.Now()

	_, _, owner := l.acquire("key", now)
	assert.True(t, owner)

	_, _, owner = l.acquire("key", now)
	assert.False(t, owner)

	// Different key gets its own attempt.
	_, _, owner = l.acquire("other", now)
	assert.True(t, owner)
}

func TestLockerFanOutValue(t *testing.T) {
	l := newLocker(0)
	now := time.Now()

	ownCh, attempt, owner := l.acquire("key", now)
	require.True(t, owner)

	var waiters []<-chan fetchResult
	for i := 0; i < 5; i++ {
		ch, _, own := l.acquire("key", now)
		require.False(t, own)
		waiters = append(waiters, ch)
	}

	l.finish("key", attempt, fetchResult{value: "result"})

	res := <-ownCh
	assert.Equal(t, "result", res.value)
	for _, ch := range waiters {
		res := <-ch
		assert.Equal(t, "result", res.value)
		assert.NoError(t, res.err)
	}
	assert.False(t, l.pending("key"))
}

func TestLockerFanOutError(t *testing.T) {
	l := newLocker(0)
	now := time.Now()

	_, attempt, owner := l.acquire("key", now)
	require.True(t, owner)
	ch, _, _ := l.acquire("key", now)

	fetchErr := errors.New("fetch failed")
	l.finish("key", attempt, fetchResult{err: fetchErr})

	res := <-ch
	assert.ErrorIs(t, res.err, fetchErr)
	assert.Nil(t, res.value)

	// Errors are not cached: the next caller owns a fresh attempt.
	_, _, owner = l.acquire("key", now)
	assert.True(t, owner)
}

func TestLockerFinishIdempotent(t *testing.T) {
	l := newLocker(0)
	now := time.Now()

	ch, attempt, _ := l.acquire("key", now)
	l.finish("key", attempt, fetchResult{value: "first"})
	l.finish("key", attempt, fetchResult{value: "second"})

	res := <-ch
	assert.Equal(t, "first", res.value)
	select {
	case extra := <-ch:
		t.Fatalf("waiter resolved twice: %v", extra)
	default:
	}
}

func TestLockerResolveWithoutWaitersIsNoOp(t *testing.T) {
	l := newLocker(0)
	l.resolve("missing", "value")
	assert.False(t, l.pending("missing"))
}

func TestLockerTimeoutAllowsNewAttempt(t *testing.T) {
	l := newLocker(100 * time.Millisecond)
	now := time.Now()

	oldCh, oldAttempt, owner := l.acquire("key", now)
	require.True(t, owner)

	// Within the timeout, callers still queue on the first attempt.
	_, sameAttempt, own := l.acquire("key", now.Add(50*time.Millisecond))
	assert.False(t, own)
	assert.Same(t, oldAttempt, sameAttempt)

	// Past the timeout, a new caller owns a fresh attempt.
	newCh, newAttempt, own := l.acquire("key", now.Add(150*time.Millisecond))
	assert.True(t, own)
	assert.NotSame(t, oldAttempt, newAttempt)

	// The original attempt still delivers to the waiters it collected.
	l.finish("key", oldAttempt, fetchResult{value: "old"})
	assert.Equal(t, "old", (<-oldCh).value)

	// Finishing a superseded attempt must not clear the current one.
	assert.True(t, l.pending("key"))
	l.finish("key", newAttempt, fetchResult{value: "new"})
	assert.Equal(t, "new", (<-newCh).value)
	assert.False(t, l.pending("key"))
}

func TestLockerClear(t *testing.T) {
	l := newLocker(0)
	now := time.Now()

	ch1, _, _ := l.acquire("a", now)
	ch2, _, _ := l.acquire("b", now)

	l.clear(fetchResult{err: ErrClosed})

	assert.ErrorIs(t, (<-ch1).err, ErrClosed)
	assert.ErrorIs(t, (<-ch2).err, ErrClosed)
	assert.False(t, l.pending("a"))
	assert.False(t, l.pending("b"))
}
