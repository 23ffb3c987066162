package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type sqliteBackend struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cleanup   time.Duration

	lockMutex sync.Mutex
	locks     map[string]time.Time
}

var _ Backend = (*sqliteBackend)(nil)

// NewSQLite returns a Backend backed by SQLite. If dbPath is empty or
// ":memory:", an in-memory database is used. Values are msgpack-encoded
// BLOBs, so reads surface them as []byte for GetAs. A background goroutine
// removes expired rows every cleanup interval (<= 0 defaults to a minute);
// expired entries are otherwise filtered by the owning Cache.
//
// The fetch lock table is held in process memory: the database file is a
// single-node store and the in-process fetch coordinator already serializes
// callers.
func NewSQLite(ctx context.Context, dbPath string, cleanup time.Duration) (Backend, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite open: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: sqlite journal mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		created INTEGER NOT NULL,
		stale INTEGER NOT NULL,
		expires INTEGER NOT NULL,
		size INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: sqlite create table: %w", err)
	}

	childCtx, cancel := context.WithCancel(ctx)
	b := &sqliteBackend{
		db:      db,
		ctx:     childCtx,
		cancel:  cancel,
		cleanup: cleanup,
		locks:   make(map[string]time.Time),
	}
	if b.cleanup <= 0 {
		b.cleanup = time.Minute
	}

	b.waitGroup.Add(1)
	go b.run()

	return b, nil
}

func (b *sqliteBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

func (b *sqliteBackend) Get(ctx context.Context, key string) (*Entry, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var value []byte
	var created, stale, expires, size int64
	err := b.db.QueryRowContext(qctx,
		`SELECT value, created, stale, expires, size FROM cache WHERE key = ?`, key,
	).Scan(&value, &created, &stale, &expires, &size)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite get: %w", err)
	}
	return &Entry{
		Value:   value,
		Created: time.Unix(0, created),
		Stale:   time.Duration(stale),
		Expires: time.Duration(expires),
		Size:    size,
	}, nil
}

func (b *sqliteBackend) Set(ctx context.Context, key string, entry *Entry) error {
	value, err := msgpack.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("cache: sqlite encode: %w", err)
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	_, err = b.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, created, stale, expires, size) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created = excluded.created,
			stale = excluded.stale, expires = excluded.expires, size = excluded.size`,
		key, value, entry.Created.UnixNano(), int64(entry.Stale), int64(entry.Expires), entry.Size,
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite set: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if _, err := b.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: sqlite delete: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Clear(ctx context.Context) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if _, err := b.db.ExecContext(qctx, `DELETE FROM cache`); err != nil {
		return fmt.Errorf("cache: sqlite clear: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Lock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	b.lockMutex.Lock()
	defer b.lockMutex.Unlock()
	if until, ok := b.locks[key]; ok && (until.IsZero() || now.Before(until)) {
		return false, nil
	}
	if ttl > 0 {
		b.locks[key] = now.Add(ttl)
	} else {
		b.locks[key] = time.Time{}
	}
	return true, nil
}

func (b *sqliteBackend) Unlock(_ context.Context, key string) error {
	b.lockMutex.Lock()
	delete(b.locks, key)
	b.lockMutex.Unlock()
	return nil
}

// Next walks rows in key order, one per call; the cursor is the last key
// returned.
func (b *sqliteBackend) Next(ctx context.Context, cursor string) (string, *Entry, string, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var key string
	var value []byte
	var created, stale, expires, size int64
	err := b.db.QueryRowContext(qctx,
		`SELECT key, value, created, stale, expires, size FROM cache WHERE key > ? ORDER BY key LIMIT 1`,
		cursor,
	).Scan(&key, &value, &created, &stale, &expires, &size)
	if err == sql.ErrNoRows {
		return "", nil, "", nil
	}
	if err != nil {
		return "", nil, "", fmt.Errorf("cache: sqlite next: %w", err)
	}
	entry := &Entry{
		Value:   value,
		Created: time.Unix(0, created),
		Stale:   time.Duration(stale),
		Expires: time.Duration(expires),
		Size:    size,
	}
	return key, entry, key, nil
}

func (b *sqliteBackend) Usage(ctx context.Context) (Usage, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var size int64
	err := b.db.QueryRowContext(qctx, `SELECT COALESCE(SUM(size), 0) FROM cache`).Scan(&size)
	if err != nil {
		return Usage{}, fmt.Errorf("cache: sqlite usage: %w", err)
	}
	return Usage{Size: size, MaxSize: 0}, nil
}

func (b *sqliteBackend) Close() error {
	var dbErr error
	b.once.Do(func() {
		b.cancel()
		b.waitGroup.Wait()
		dbErr = b.db.Close()
	})
	return dbErr
}

func (b *sqliteBackend) run() {
	defer b.waitGroup.Done()
	ticker := time.NewTicker(b.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = b.db.Exec(`DELETE FROM cache WHERE expires >= 0 AND created + expires < ?`, now)
		}
	}
}
