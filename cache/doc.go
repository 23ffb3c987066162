// Package cache provides a read-through cache with tiered freshness,
// single-flight fetch coordination and size-bounded LRU eviction.
//
// # Freshness
//
// Every entry carries two TTLs measured from its creation time. Inside the
// stale TTL the entry is VALID and served directly. Between the stale and
// expires TTLs it is STALE: still served immediately, but the read starts a
// background refresh so a future read sees fresh data without anyone paying
// the fetch latency. Past the expires TTL it is EXPIRED: discarded and
// refetched synchronously.
//
// A negative TTL ([Never]) disables that boundary — never stale, or never
// expires. An expires TTL of exactly 0 means "do not cache": the value is
// never written and every read fetches. When the expires TTL is shorter
// than the stale TTL, entries jump straight from VALID to EXPIRED.
//
// # Fetching
//
// A Cache is constructed around a [Fetcher], which resolves misses:
//
//	c, err := cache.New(ctx, func(ctx context.Context, key string) (any, []cache.SetOption, error) {
//	    user, err := loadUser(ctx, key)
//	    return user, nil, err
//	}, cache.WithDefaultStaleTTL(time.Minute), cache.WithDefaultExpiresTTL(5*time.Minute))
//
// Concurrent Gets for the same absent key invoke the fetcher exactly once;
// every caller receives the result of that one invocation, value or error.
// Errors are never cached — the next Get fetches again. With
// [WithFetchTimeout], a fetch that overstays its welcome loses its exclusive
// claim and a later caller may dispatch a fresh attempt; the original still
// delivers to the waiters that attached to it.
//
// [Cache.Set] doubles as fetch completion: writing a key releases everyone
// waiting on a fetch of it with the written value.
//
// # Eviction
//
// The default in-memory backend bounds aggregate entry size with an LRU
// strategy ([github.com/four43/crisp-cache/lru]). Sizes are caller-supplied
// arbitrary units ([WithSize]); when [WithMaxSize] is configured every
// write must carry one. Both reads and writes promote recency.
//
// # Backends
//
// Storage is pluggable via [Backend]:
//
//   - [NewInMemory] — map plus LRU strategy, zero serialization. The default.
//   - [NewRedis] — go-redis/v9, msgpack envelopes, native Redis TTL on the
//     expires axis, SetNX fetch locks.
//   - [NewSQLite] — modernc.org/sqlite (pure Go), WAL mode, msgpack BLOBs,
//     background expired-row cleanup.
//   - [NewComposite] — tiered chain, e.g. in-memory L1 over Redis L2.
//
// Serialized backends surface values as []byte; [GetAs] decodes them, and
// works unchanged against the in-memory backend via type assertion.
//
// # Sweeps
//
// [WithCheckIntervals] starts two independent tickers: a stale sweep that
// background-refreshes stale entries (so they are fresh before anyone asks)
// and an expiry sweep that deletes expired ones. Both are also exposed
// directly as [Cache.StaleCheck] and [Cache.ExpiresCheck] for testing and
// manual control. Sweeps race benignly with concurrent reads: deletes and
// fetches are idempotent and the last write wins.
//
// # Events
//
// Lifecycle notifications (hit, miss, fetch, fetch_done, and the four sweep
// events) dispatch synchronously to handlers registered with
// [WithEventHandler] or [Cache.OnEvent]. [WithoutEvents] disables dispatch.
//
// # Error handling
//
// Fetch errors on the synchronous path (miss, expired) propagate to every
// waiting caller. Errors on background paths — stale refreshes and sweeps —
// are logged and contained: a caller who was served a stale value is never
// failed retroactively, and the stale entry remains until it expires. A
// failed fetch never leaves a partial entry behind.
//
// # Cache slam
//
// [WithTTLVariance] jitters resolved default TTLs by ±variance/2 so many
// keys written together do not all expire together and stampede the
// fetcher.
package cache
