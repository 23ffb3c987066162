package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/four43/crisp-cache/lru"
)

type memoryBackend struct {
	mutex    sync.Mutex
	items    map[string]*Entry
	strategy *lru.Strategy
	locks    map[string]time.Time
	onEvict  func(key string)
}

var _ Backend = (*memoryBackend)(nil)

// NewInMemory returns a Backend holding entries in process memory, bounded
// by an LRU eviction strategy. A maxSize <= 0 disables eviction. Reads
// promote recency.
func NewInMemory(maxSize int64) Backend {
	b := &memoryBackend{
		items:    make(map[string]*Entry),
		strategy: lru.New(maxSize),
		locks:    make(map[string]time.Time),
	}
	// Capacity ejections remove the backing entry here; the suppress flag is
	// unnecessary since the strategy already dropped its own node.
	b.strategy.OnEvict(func(key string) {
		b.mutex.Lock()
		delete(b.items, key)
		fn := b.onEvict
		b.mutex.Unlock()
		if fn != nil {
			fn(key)
		}
	})
	return b
}

// OnEvict registers a callback invoked with each key ejected by the LRU
// bound. Used by Cache for eviction metrics and logging.
func (b *memoryBackend) OnEvict(fn func(key string)) {
	b.mutex.Lock()
	b.onEvict = fn
	b.mutex.Unlock()
}

func (b *memoryBackend) Get(_ context.Context, key string) (*Entry, error) {
	b.mutex.Lock()
	entry, ok := b.items[key]
	b.mutex.Unlock()
	if !ok {
		return nil, nil
	}
	b.strategy.Touch(key)
	return entry, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, entry *Entry) error {
	b.mutex.Lock()
	b.items[key] = entry
	b.mutex.Unlock()
	// Put may eject tail keys, which re-enters the map through OnEvict.
	b.strategy.Put(key, entry.Size)
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.mutex.Lock()
	delete(b.items, key)
	b.mutex.Unlock()
	b.strategy.Delete(key, true)
	return nil
}

func (b *memoryBackend) Clear(_ context.Context) error {
	b.mutex.Lock()
	b.items = make(map[string]*Entry)
	b.mutex.Unlock()
	b.strategy.Clear()
	return nil
}

func (b *memoryBackend) Lock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	b.mutex.Lock()
	defer b.mutex.Unlock()
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

func (b *memoryBackend) Unlock(_ context.Context, key string) error {
	b.mutex.Lock()
	delete(b.locks, key)
	b.mutex.Unlock()
	return nil
}

// Next walks keys in sorted order, one per call. The cursor is the last key
// returned, which keeps iteration restartable and tolerant of concurrent
// inserts and deletes.
func (b *memoryBackend) Next(_ context.Context, cursor string) (string, *Entry, string, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	keys := make([]string, 0, len(b.items))
	for k := range b.items {
		if cursor == "" || k > cursor {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", nil, "", nil
	}
	sort.Strings(keys)
	key := keys[0]
	return key, b.items[key], key, nil
}

func (b *memoryBackend) Usage(_ context.Context) (Usage, error) {
	return Usage{
		Size:    b.strategy.Size(),
		MaxSize: b.strategy.MaxSize(),
	}, nil
}

func (b *memoryBackend) Close() error {
	return b.Clear(context.Background())
}
