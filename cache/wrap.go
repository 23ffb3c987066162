package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Wrapped is a function cached behind its own Cache: calls with the same
// argument are served from cache, deduplicated in flight, and refreshed per
// the cache's TTL configuration.
type Wrapped[A any, T any] struct {
	cache  *Cache
	prefix string
}

// Wrap turns fn into a cached function. Keys are derived from the argument
// (msgpack-encoded) under a namespace owned by this wrapper — a fresh uuid
// per Wrap call — so two wrapped functions never share keys. The cache
// options accept everything New does.
func Wrap[A any, T any](ctx context.Context, fn func(ctx context.Context, arg A) (T, error), opts ...Option) (*Wrapped[A, T], error) {
	w := &Wrapped[A, T]{
		prefix: "wrap:" + uuid.NewString(),
	}
	fetcher := func(ctx context.Context, key string) (any, []SetOption, error) {
		arg, err := w.decodeKey(key)
		if err != nil {
			return nil, nil, err
		}
		value, err := fn(ctx, arg)
		if err != nil {
			return nil, nil, err
		}
		return value, nil, nil
	}
	c, err := New(ctx, fetcher, opts...)
	if err != nil {
		return nil, err
	}
	w.cache = c
	return w, nil
}

// Call returns fn's (possibly cached) result for arg.
func (w *Wrapped[A, T]) Call(ctx context.Context, arg A, opts ...GetOption) (T, error) {
	var zero T
	key, err := w.encodeKey(arg)
	if err != nil {
		return zero, err
	}
	found, val, err := w.cache.Get(ctx, key, opts...)
	if err != nil || !found {
		return zero, err
	}
	return decodeAs[T](val)
}

// Invalidate drops the cached result for arg.
func (w *Wrapped[A, T]) Invalidate(ctx context.Context, arg A) error {
	key, err := w.encodeKey(arg)
	if err != nil {
		return err
	}
	return w.cache.Delete(ctx, key)
}

// Cache exposes the wrapper's underlying cache.
func (w *Wrapped[A, T]) Cache() *Cache {
	return w.cache
}

// Close shuts down the wrapper's cache.
func (w *Wrapped[A, T]) Close() error {
	return w.cache.Close()
}

func (w *Wrapped[A, T]) encodeKey(arg A) (string, error) {
	data, err := msgpack.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("cache: wrap key for %T: %w", arg, err)
	}
	return w.prefix + ":" + base64.RawURLEncoding.EncodeToString(data), nil
}

func (w *Wrapped[A, T]) decodeKey(key string) (A, error) {
	var arg A
	encoded, ok := strings.CutPrefix(key, w.prefix+":")
	if !ok {
		return arg, fmt.Errorf("cache: wrap key %q outside namespace %q", key, w.prefix)
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return arg, fmt.Errorf("cache: wrap key %q: %w", key, err)
	}
	if err := msgpack.Unmarshal(data, &arg); err != nil {
		return arg, fmt.Errorf("cache: wrap key %q: %w", key, err)
	}
	return arg, nil
}
