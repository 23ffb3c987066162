package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/four43/crisp-cache/logger"
	"github.com/xhit/go-str2duration/v2"
)

// Fetcher produces the value for a missing or refreshing key. It may return
// SetOptions to override the TTLs or size the value is stored with. Errors
// are fanned out to every caller waiting on the key and are never cached.
type Fetcher func(ctx context.Context, key string) (any, []SetOption, error)

// Defaults carried over from the original crisp-cache.
const (
	DefaultStaleTTL   = 300 * time.Second
	DefaultExpiresTTL = 500 * time.Second
)

// config holds the resolved configuration for a Cache.
type config struct {
	defaultStale    time.Duration
	defaultExpires  time.Duration
	staleVariance   time.Duration
	expiresVariance time.Duration
	staleCheck      time.Duration
	expiresCheck    time.Duration
	maxSize         int64
	fetchTimeout    time.Duration
	refreshLimit    int
	emitEvents      bool
	handlers        map[Event][]EventHandler
	backend         Backend
	log             logger.Logger
	nowFn           func() time.Time
	err             error
}

// Option configures a Cache.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultStale:   DefaultStaleTTL,
		defaultExpires: DefaultExpiresTTL,
		refreshLimit:   4,
		emitEvents:     true,
		handlers:       make(map[Event][]EventHandler),
		log:            logger.NewConsoleLogger(),
		nowFn:          time.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDefaultStaleTTL sets the stale TTL used when Set is called without an
// explicit one. Pass Never to make entries never go stale by default.
func WithDefaultStaleTTL(d time.Duration) Option {
	return func(c *config) { c.defaultStale = d }
}

// WithDefaultExpiresTTL sets the expires TTL used when Set is called without
// an explicit one. Pass Never to make entries never expire by default.
func WithDefaultExpiresTTL(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithTTLVariance staggers resolved default TTLs by a uniform jitter of
// ±variance/2, so many keys written together don't all expire together and
// slam the fetcher.
func WithTTLVariance(stale, expires time.Duration) Option {
	return func(c *config) {
		c.staleVariance = stale
		c.expiresVariance = expires
	}
}

// WithTTLStrings sets the default TTLs from duration strings, accepting the
// extended units str2duration understands ("1d12h", "2w"). An empty string
// leaves that default unchanged; parse failures surface from New.
func WithTTLStrings(stale, expires string) Option {
	return func(c *config) {
		if stale != "" {
			d, err := str2duration.ParseDuration(stale)
			if err != nil {
				c.err = fmt.Errorf("cache: invalid stale ttl %q: %w", stale, err)
				return
			}
			c.defaultStale = d
		}
		if expires != "" {
			d, err := str2duration.ParseDuration(expires)
			if err != nil {
				c.err = fmt.Errorf("cache: invalid expires ttl %q: %w", expires, err)
				return
			}
			c.defaultExpires = d
		}
	}
}

// WithCheckIntervals enables the periodic sweeps: stale entries are
// refreshed in the background every stale interval and expired entries are
// deleted every expires interval. An interval <= 0 disables that sweep.
func WithCheckIntervals(stale, expires time.Duration) Option {
	return func(c *config) {
		c.staleCheck = stale
		c.expiresCheck = expires
	}
}

// WithMaxSize bounds the default in-memory backend's aggregate entry size.
// When set, every Set must carry a size (see WithSize) or it fails with
// ErrMissingSize. Ignored when WithBackend supplies a backend.
func WithMaxSize(n int64) Option {
	return func(c *config) { c.maxSize = n }
}

// WithFetchTimeout bounds how long a fetch holds the per-key single-flight
// lock. Past the timeout a subsequent caller may dispatch a fresh fetch for
// the key; the original attempt still delivers its result to the waiters
// that attached to it. A timeout <= 0 (the default) never re-dispatches.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) { c.fetchTimeout = d }
}

// WithRefreshLimit caps how many background refreshes a stale sweep runs
// concurrently. Defaults to 4.
func WithRefreshLimit(n int) Option {
	return func(c *config) { c.refreshLimit = n }
}

// WithoutEvents disables event dispatch entirely.
func WithoutEvents() Option {
	return func(c *config) { c.emitEvents = false }
}

// WithEventHandler registers a handler for an event at construction.
func WithEventHandler(event Event, handler EventHandler) Option {
	return func(c *config) {
		c.handlers[event] = append(c.handlers[event], handler)
	}
}

// WithBackend supplies the storage backend. The default is an in-memory
// backend bounded by WithMaxSize. The Cache owns the backend and closes it
// on Close.
func WithBackend(b Backend) Option {
	return func(c *config) { c.backend = b }
}

// WithLogger sets the logger used for background-path failures (stale
// refreshes, sweeps). Defaults to a console logger at the level from
// CRISP_LOG_LEVEL.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.log = l }
}

// withNow overrides the clock. Tests use this to step through freshness
// states without sleeping.
func withNow(fn func() time.Time) Option {
	return func(c *config) { c.nowFn = fn }
}

// setConfig holds per-write settings.
type setConfig struct {
	stale   *time.Duration
	expires *time.Duration
	size    int64
}

// SetOption configures a single Set call (or a fetched value, when returned
// by a Fetcher).
type SetOption func(*setConfig)

func applySetOptions(opts []SetOption) setConfig {
	var sc setConfig
	for _, opt := range opts {
		opt(&sc)
	}
	return sc
}

// WithStaleTTL sets this entry's stale TTL. Pass Never for never-stale.
func WithStaleTTL(d time.Duration) SetOption {
	return func(c *setConfig) { c.stale = &d }
}

// WithExpiresTTL sets this entry's expires TTL. Pass Never for
// never-expires. A TTL of exactly 0 means "do not cache": the value skips
// storage entirely and the next Get fetches again.
func WithExpiresTTL(d time.Duration) SetOption {
	return func(c *setConfig) { c.expires = &d }
}

// WithSize sets this entry's size in the arbitrary units the cache bound is
// expressed in. Required on every write when WithMaxSize is configured.
func WithSize(n int64) SetOption {
	return func(c *setConfig) { c.size = n }
}

// getConfig holds per-read settings.
type getConfig struct {
	skipFetch  bool
	forceFetch bool
}

// GetOption configures a single Get call.
type GetOption func(*getConfig)

func applyGetOptions(opts []GetOption) getConfig {
	var gc getConfig
	for _, opt := range opts {
		opt(&gc)
	}
	return gc
}

// SkipFetch makes Get return found=false on a miss or expired entry instead
// of invoking the fetcher.
func SkipFetch() GetOption {
	return func(c *getConfig) { c.skipFetch = true }
}

// ForceFetch makes Get bypass any cached entry and fetch fresh.
func ForceFetch() GetOption {
	return func(c *getConfig) { c.forceFetch = true }
}
