package cache

import (
	"context"
	"time"
)

type compositeBackend struct {
	backends []Backend
}

var _ Backend = (*compositeBackend)(nil)

// NewComposite returns a Backend that chains multiple backends together.
// Get checks backends in order and returns the first hit; Set, Delete and
// Clear apply to all of them. Lock, Next and Usage delegate to the first
// (primary) backend. This enables tiered topologies such as an in-memory L1
// backed by a Redis L2. At least one backend must be provided; panics if
// empty.
func NewComposite(backends ...Backend) Backend {
	if len(backends) == 0 {
		panic("cache: NewComposite requires at least one backend")
	}
	return &compositeBackend{backends: backends}
}

func (c *compositeBackend) Get(ctx context.Context, key string) (*Entry, error) {
	for _, backend := range c.backends {
		entry, err := backend.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

func (c *compositeBackend) Set(ctx context.Context, key string, entry *Entry) error {
	for _, backend := range c.backends {
		if err := backend.Set(ctx, key, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *compositeBackend) Delete(ctx context.Context, key string) error {
	for _, backend := range c.backends {
		if err := backend.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *compositeBackend) Clear(ctx context.Context) error {
	for _, backend := range c.backends {
		if err := backend.Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *compositeBackend) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.backends[0].Lock(ctx, key, ttl)
}

func (c *compositeBackend) Unlock(ctx context.Context, key string) error {
	return c.backends[0].Unlock(ctx, key)
}

func (c *compositeBackend) Next(ctx context.Context, cursor string) (string, *Entry, string, error) {
	return c.backends[0].Next(ctx, cursor)
}

func (c *compositeBackend) Usage(ctx context.Context) (Usage, error) {
	return c.backends[0].Usage(ctx)
}

func (c *compositeBackend) Close() error {
	var firstErr error
	for _, backend := range c.backends {
		if err := backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
