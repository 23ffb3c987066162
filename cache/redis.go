package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultQueryTimeout is the per-operation timeout for backends that perform
// I/O (Redis, SQLite). Prevents indefinite hangs on slow or unresponsive
// storage.
const DefaultQueryTimeout = 5 * time.Second

// redisEnvelope is the wire form of an Entry. The value is msgpack-encoded
// separately so reads can surface it as []byte for GetAs to decode.
type redisEnvelope struct {
	Value   []byte `msgpack:"v"`
	Created int64  `msgpack:"c"`
	Stale   int64  `msgpack:"s"`
	Expires int64  `msgpack:"e"`
	Size    int64  `msgpack:"z"`
}

type redisBackend struct {
	client *redis.Client
	ctx    context.Context
	prefix string
}

var _ Backend = (*redisBackend)(nil)

// NewRedis returns a Backend backed by Redis. Entries are msgpack-encoded;
// the expires axis maps onto native Redis TTLs so Redis drops expired
// entries on its own. An optional prefix namespaces keys. The caller owns
// the redis.Client lifecycle — Close is a no-op on the client.
func NewRedis(ctx context.Context, client *redis.Client, prefix string) Backend {
	return &redisBackend{
		client: client,
		ctx:    ctx,
		prefix: prefix,
	}
}

func (b *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

func (b *redisBackend) key(key string) string {
	if b.prefix == "" {
		return "crisp:" + key
	}
	return b.prefix + ":crisp:" + key
}

func (b *redisBackend) lockKey(key string) string {
	if b.prefix == "" {
		return "crisp-lock:" + key
	}
	return b.prefix + ":crisp-lock:" + key
}

func (b *redisBackend) Get(ctx context.Context, key string) (*Entry, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	payload, err := b.client.Get(qctx, b.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	var env redisEnvelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("cache: redis decode: %w", err)
	}
	return &Entry{
		Value:   env.Value,
		Created: time.Unix(0, env.Created),
		Stale:   time.Duration(env.Stale),
		Expires: time.Duration(env.Expires),
		Size:    env.Size,
	}, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, entry *Entry) error {
	value, err := msgpack.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("cache: redis encode value: %w", err)
	}
	payload, err := msgpack.Marshal(redisEnvelope{
		Value:   value,
		Created: entry.Created.UnixNano(),
		Stale:   int64(entry.Stale),
		Expires: int64(entry.Expires),
		Size:    entry.Size,
	})
	if err != nil {
		return fmt.Errorf("cache: redis encode: %w", err)
	}
	var redisTTL time.Duration
	if entry.Expires >= 0 {
		redisTTL = entry.Expires
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if err := b.client.Set(qctx, b.key(key), payload, redisTTL).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if err := b.client.Del(qctx, b.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete: %w", err)
	}
	return nil
}

func (b *redisBackend) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		qctx, cancel := b.queryCtx(ctx)
		keys, next, err := b.client.Scan(qctx, cursor, b.key("*"), 256).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("cache: redis clear: %w", err)
		}
		if len(keys) > 0 {
			qctx, cancel = b.queryCtx(ctx)
			err = b.client.Del(qctx, keys...).Err()
			cancel()
			if err != nil {
				return fmt.Errorf("cache: redis clear: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *redisBackend) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if ttl <= 0 {
		ttl = DefaultQueryTimeout
	}
	ok, err := b.client.SetNX(qctx, b.lockKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: redis lock: %w", err)
	}
	return ok, nil
}

func (b *redisBackend) Unlock(ctx context.Context, key string) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if err := b.client.Del(qctx, b.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis unlock: %w", err)
	}
	return nil
}

// redisCursorEnd marks an exhausted iteration; SCAN reuses cursor 0 for both
// "start" and "done", so the distinction has to live in our cursor encoding.
const redisCursorEnd = "end"

// Next iterates via SCAN. The cursor encodes the Redis SCAN cursor plus any
// keys from the current batch not yet surfaced.
func (b *redisBackend) Next(ctx context.Context, cursor string) (string, *Entry, string, error) {
	if cursor == redisCursorEnd {
		return "", nil, "", nil
	}
	var scanCursor uint64
	var pending []string
	if cursor != "" {
		parts := strings.SplitN(cursor, "|", 2)
		n, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return "", nil, "", fmt.Errorf("cache: redis cursor %q: %w", cursor, err)
		}
		scanCursor = n
		if len(parts) == 2 && parts[1] != "" {
			pending = strings.Split(parts[1], "\n")
		}
	}

	for {
		for len(pending) > 0 {
			full := pending[0]
			pending = pending[1:]
			key := strings.TrimPrefix(full, b.key(""))
			entry, err := b.Get(ctx, key)
			if err != nil {
				return "", nil, "", err
			}
			if entry == nil {
				// Vanished between SCAN and Get; skip it.
				continue
			}
			next := strconv.FormatUint(scanCursor, 10) + "|" + strings.Join(pending, "\n")
			if scanCursor == 0 && len(pending) == 0 {
				next = redisCursorEnd
			}
			return key, entry, next, nil
		}
		if cursor != "" && scanCursor == 0 {
			return "", nil, "", nil
		}
		qctx, cancel := b.queryCtx(ctx)
		keys, next, err := b.client.Scan(qctx, scanCursor, b.key("*"), 64).Result()
		cancel()
		if err != nil {
			return "", nil, "", fmt.Errorf("cache: redis scan: %w", err)
		}
		pending = keys
		scanCursor = next
		cursor = "0" // any non-empty marker: the initial SCAN has happened
		if next == 0 && len(pending) == 0 {
			return "", nil, "", nil
		}
	}
}

func (b *redisBackend) Usage(ctx context.Context) (Usage, error) {
	// Redis enforces its own memory policy; aggregate entry size is not
	// tracked here.
	return Usage{Size: -1, MaxSize: 0}, nil
}

func (b *redisBackend) Close() error {
	return nil
}
