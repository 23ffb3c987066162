package cache

import "errors"

var (
	// ErrNoFetcher is returned by New when no fetcher is supplied.
	ErrNoFetcher = errors.New("cache: a fetcher is required")

	// ErrMissingSize is returned by Set when the cache is size-bounded and
	// the entry carries no size.
	ErrMissingSize = errors.New("cache: entry saved without a size while maxSize is set")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache: closed")
)
