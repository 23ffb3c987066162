package cache

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Cache is a read-through cache with tiered freshness. Values pass through
// valid, stale and expired states: valid entries are served directly, stale
// entries are served immediately while a background refresh runs, and
// expired entries are discarded and refetched synchronously. Concurrent
// fetches for the same key are collapsed into one fetcher invocation whose
// result is fanned out to every caller.
type Cache struct {
	cfg     config
	backend Backend
	fetcher Fetcher
	locks   *locker
	metrics *metricsCollection

	handlerMutex sync.RWMutex
	handlers     map[Event][]EventHandler

	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	closed    atomic.Bool
}

// New returns a Cache that resolves misses through fetcher. Construction
// fails without one. The default backend is in-memory, LRU-bounded by
// WithMaxSize; the Cache owns the backend and closes it on Close.
func New(parent context.Context, fetcher Fetcher, opts ...Option) (*Cache, error) {
	if fetcher == nil {
		return nil, ErrNoFetcher
	}
	cfg := applyOptions(opts)
	if cfg.err != nil {
		return nil, cfg.err
	}

	backend := cfg.backend
	if backend == nil {
		backend = NewInMemory(cfg.maxSize)
	}

	metrics, err := newMetrics()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Cache{
		cfg:      cfg,
		backend:  backend,
		fetcher:  fetcher,
		locks:    newLocker(cfg.fetchTimeout),
		metrics:  metrics,
		handlers: cfg.handlers,
		ctx:      ctx,
		cancel:   cancel,
	}

	if evictable, ok := backend.(interface{ OnEvict(func(key string)) }); ok {
		evictable.OnEvict(func(key string) {
			c.metrics.evictionCount.Add(c.ctx, 1)
			c.cfg.log.Debug("evicted %q", key)
		})
	}

	if cfg.staleCheck > 0 {
		c.waitGroup.Add(1)
		go c.runSweep(cfg.staleCheck, func(ctx context.Context) {
			if _, err := c.StaleCheck(ctx); err != nil {
				c.cfg.log.Warn("stale check failed: %s", err)
			}
		})
	}
	if cfg.expiresCheck > 0 {
		c.waitGroup.Add(1)
		go c.runSweep(cfg.expiresCheck, func(ctx context.Context) {
			if _, err := c.ExpiresCheck(ctx); err != nil {
				c.cfg.log.Warn("expires check failed: %s", err)
			}
		})
	}

	return c, nil
}

func (c *Cache) now() time.Time {
	return c.cfg.nowFn()
}

// Get returns the value for key. Valid and stale entries are returned
// directly (a stale read also starts a background refresh whose failure is
// logged, never returned). A miss or expired entry fetches synchronously
// through the single-flight coordinator, unless SkipFetch is set, in which
// case found is false. Fetch errors propagate to every waiting caller.
func (c *Cache) Get(ctx context.Context, key string, opts ...GetOption) (bool, any, error) {
	if c.closed.Load() {
		return false, nil, ErrClosed
	}
	gc := applyGetOptions(opts)
	entry, err := c.backend.Get(ctx, key)
	if err != nil {
		return false, nil, fmt.Errorf("cache: get %q: %w", key, err)
	}

	if entry == nil || gc.forceFetch {
		c.emit(EventMiss, EventData{Key: key})
		c.metrics.missCount.Add(ctx, 1)
		if gc.skipFetch {
			return false, nil, nil
		}
		value, err := c.fetch(ctx, key, entry)
		if err != nil {
			return false, nil, err
		}
		// A pending fetch released by Delete or Clear resolves to nil.
		return value != nil, value, nil
	}

	switch entry.State(c.now()) {
	case StateValid:
		c.emit(EventHit, EventData{Key: key, Entry: entry})
		c.metrics.hitCount.Add(ctx, 1)
		return true, entry.Value, nil

	case StateStale:
		// Serve the stale value immediately; refresh behind the caller's
		// back with the entry's own TTL configuration.
		c.emit(EventHit, EventData{Key: key, Entry: entry})
		c.metrics.hitCount.Add(ctx, 1)
		c.refresh(key, entry)
		return true, entry.Value, nil

	default: // StateExpired
		c.emit(EventMiss, EventData{Key: key})
		c.metrics.missCount.Add(ctx, 1)
		if err := c.Delete(ctx, key); err != nil {
			return false, nil, err
		}
		if gc.skipFetch {
			return false, nil, nil
		}
		value, err := c.fetch(ctx, key, entry)
		if err != nil {
			return false, nil, err
		}
		return value != nil, value, nil
	}
}

// Set stores value under key. TTLs resolve from the per-call options,
// falling back to the configured defaults jittered by the configured
// variance. A resolved expires TTL of exactly 0 skips storage entirely.
// Either way, any callers waiting on a fetch of key are released with
// value — a Set doubles as fetch completion.
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	if c.closed.Load() {
		return ErrClosed
	}
	sc := applySetOptions(opts)
	stale := c.resolveTTL(sc.stale, c.cfg.defaultStale, c.cfg.staleVariance)
	expires := c.resolveTTL(sc.expires, c.cfg.defaultExpires, c.cfg.expiresVariance)

	if expires == 0 {
		c.locks.resolve(key, value)
		return nil
	}
	if c.cfg.maxSize > 0 && sc.size <= 0 {
		return ErrMissingSize
	}

	entry := NewEntry(value, c.now(), stale, expires, sc.size)
	if err := c.backend.Set(ctx, key, entry); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	c.locks.resolve(key, value)
	return nil
}

// Delete removes key and releases any callers waiting on a fetch of it with
// a nil value. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	c.locks.resolve(key, nil)
	return nil
}

// Clear removes every entry and releases all pending fetch waiters with a
// nil value.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	c.locks.clear(fetchResult{})
	return nil
}

// Usage reports the backend's size accounting.
func (c *Cache) Usage(ctx context.Context) (Usage, error) {
	return c.backend.Usage(ctx)
}

// StaleCheck sweeps the backend once, refreshing every stale entry in the
// background (bounded by WithRefreshLimit). It returns the stale keys it
// found. Refresh failures are logged, never returned: the stale entries
// remain servable until they expire. Runs periodically when
// WithCheckIntervals enables it, and may be called directly.
func (c *Cache) StaleCheck(ctx context.Context) ([]string, error) {
	c.emit(EventStaleCheck, EventData{})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.refreshLimit)

	var keys []string
	cursor := ""
	for {
		key, entry, next, err := c.backend.Next(ctx, cursor)
		if err != nil {
			return keys, fmt.Errorf("cache: stale check: %w", err)
		}
		if entry == nil {
			break
		}
		cursor = next
		if entry.IsStale(c.now()) {
			keys = append(keys, key)
			g.Go(func() error {
				if _, err := c.fetch(gctx, key, entry); err != nil {
					c.cfg.log.Warn("stale refresh of %q failed: %s", key, err)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	c.emit(EventStaleCheckDone, EventData{Keys: keys})
	return keys, nil
}

// ExpiresCheck sweeps the backend once, deleting every expired entry, and
// returns the keys it deleted. Runs periodically when WithCheckIntervals
// enables it, and may be called directly.
func (c *Cache) ExpiresCheck(ctx context.Context) ([]string, error) {
	c.emit(EventExpiresCheck, EventData{})
	var keys []string
	cursor := ""
	for {
		key, entry, next, err := c.backend.Next(ctx, cursor)
		if err != nil {
			return keys, fmt.Errorf("cache: expires check: %w", err)
		}
		if entry == nil {
			break
		}
		cursor = next
		if entry.IsExpired(c.now()) {
			if err := c.Delete(ctx, key); err != nil {
				c.cfg.log.Warn("expiry delete of %q failed: %s", key, err)
				continue
			}
			keys = append(keys, key)
		}
	}
	c.emit(EventExpiresCheckDone, EventData{Keys: keys})
	return keys, nil
}

// Close stops the sweep goroutines, waits for in-flight background
// refreshes, releases pending fetch waiters with ErrClosed and closes the
// backend. Safe to call more than once.
func (c *Cache) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.waitGroup.Wait()
		c.locks.clear(fetchResult{err: ErrClosed})
		err = c.backend.Close()
	})
	return err
}

// fetch runs the single-flight fetch path. The first caller for a key owns
// the fetcher invocation; everyone else waits for its result. prev, when
// non-nil, supplies the TTL configuration the refetched value is stored
// with (the fetcher's own SetOptions take precedence).
func (c *Cache) fetch(ctx context.Context, key string, prev *Entry) (any, error) {
	ch, attempt, owner := c.locks.acquire(key, c.now())
	if !owner {
		select {
		case res := <-ch:
			return res.value, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.emit(EventFetch, EventData{Key: key})
	c.metrics.fetchCount.Add(ctx, 1)

	// Best-effort backend-level lock for shared stores; the in-process
	// coordinator already serializes callers within this process.
	locked, lockErr := c.backend.Lock(ctx, key, c.cfg.fetchTimeout)
	if lockErr != nil {
		c.cfg.log.Debug("backend lock for %q failed: %s", key, lockErr)
	}
	if locked {
		defer func() {
			if err := c.backend.Unlock(ctx, key); err != nil {
				c.cfg.log.Debug("backend unlock for %q failed: %s", key, err)
			}
		}()
	}

	value, fetchOpts, err := c.fetcher(ctx, key)
	if err != nil {
		res := fetchResult{err: fmt.Errorf("cache: fetch %q: %w", key, err)}
		c.locks.finish(key, attempt, res)
		return nil, res.err
	}

	setOpts := make([]SetOption, 0, 3+len(fetchOpts))
	if prev != nil {
		setOpts = append(setOpts,
			WithStaleTTL(prev.Stale),
			WithExpiresTTL(prev.Expires),
			WithSize(prev.Size),
		)
	}
	setOpts = append(setOpts, fetchOpts...)

	if err := c.Set(ctx, key, value, setOpts...); err != nil {
		c.locks.finish(key, attempt, fetchResult{err: err})
		return nil, err
	}

	// Set released the current attempt's waiters; settle ours directly too
	// in case a lock timeout superseded it mid-fetch.
	c.locks.finish(key, attempt, fetchResult{value: value})

	c.emit(EventFetchDone, EventData{Key: key, Value: value})
	return value, nil
}

// refresh starts a background fetch for a stale entry. The caller that
// observed the staleness is never blocked on, or failed by, the refresh.
func (c *Cache) refresh(key string, prev *Entry) {
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		if _, err := c.fetch(c.ctx, key, prev); err != nil {
			c.cfg.log.Warn("background refresh of %q failed: %s", key, err)
		}
	}()
}

// resolveTTL picks the explicit TTL when given, otherwise the default
// jittered by ±variance/2. Negative always normalizes to Never. A jitter
// that lands on exactly 0 is bumped to 1ns so variance can never turn a
// cacheable default into a do-not-cache sentinel.
func (c *Cache) resolveTTL(explicit *time.Duration, def, variance time.Duration) time.Duration {
	if explicit != nil {
		if *explicit < 0 {
			return Never
		}
		return *explicit
	}
	if def < 0 {
		return Never
	}
	d := def
	if variance > 0 {
		d += time.Duration(rand.Int63n(int64(variance))) - variance/2
		if d <= 0 {
			d = 1
		}
	}
	return d
}

func (c *Cache) runSweep(interval time.Duration, sweep func(ctx context.Context)) {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			sweep(c.ctx)
		}
	}
}
