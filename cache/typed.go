package cache

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// GetAs is a typed Get. For the in-memory backend it performs a direct type
// assertion; for serialized backends (Redis, SQLite) it msgpack-decodes the
// stored []byte, so it works transparently regardless of which backend
// produced the value.
func GetAs[T any](ctx context.Context, c *Cache, key string, opts ...GetOption) (bool, T, error) {
	found, val, err := c.Get(ctx, key, opts...)
	var zero T
	if !found || err != nil {
		return false, zero, err
	}
	typed, err := decodeAs[T](val)
	if err != nil {
		return false, zero, err
	}
	return true, typed, nil
}

func decodeAs[T any](val any) (T, error) {
	var zero T
	if typed, ok := val.(T); ok {
		return typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("cache: failed to unmarshal value: %w", err)
		}
		return result, nil
	}
	return zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}
