// Package lru provides a size-bounded least-recently-used eviction strategy.
//
// The strategy tracks recency with a doubly-linked node list (head = most
// recently touched, tail = least recently touched) and aggregate size with a
// running sum. It stores keys and sizes only — the owning store holds the
// values and removes them when the strategy reports an eviction through the
// OnEvict callback.
//
// A max size of Unbounded (or any value <= 0) keeps the recency ordering but
// disables eviction entirely.
package lru

import "sync"

// Unbounded disables capacity-based eviction.
const Unbounded int64 = 0

type node struct {
	key   string
	size  int64
	newer *node
	older *node
}

// Strategy is a least-recently-used eviction strategy with aggregate size
// accounting. It is safe for concurrent use.
type Strategy struct {
	mu      sync.Mutex
	max     int64
	size    int64
	head    *node
	tail    *node
	nodes   map[string]*node
	onEvict func(key string)
}

// New returns a Strategy bounded by maxSize. A maxSize <= 0 means unbounded.
func New(maxSize int64) *Strategy {
	return &Strategy{
		max:   maxSize,
		nodes: make(map[string]*node),
	}
}

// OnEvict registers the callback invoked with each key the strategy ejects,
// either from a capacity overflow in Put or an explicit Shift. The callback
// runs outside the strategy's lock and must not call Delete for the evicted
// key without the suppress flag — the node is already gone.
func (s *Strategy) OnEvict(fn func(key string)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}

// Put inserts key at the head of the recency order with the given size. If
// the key is already present its old position and size contribution are
// removed first. After insertion, tail entries are ejected until the
// aggregate size fits under the bound.
func (s *Strategy) Put(key string, size int64) {
	s.mu.Lock()
	if n, ok := s.nodes[key]; ok {
		s.remove(n)
	}
	n := &node{key: key, size: size}
	s.nodes[key] = n
	s.pushHead(n)
	s.size += size
	evicted := s.evictOverflow()
	fn := s.onEvict
	s.mu.Unlock()

	if fn != nil {
		for _, k := range evicted {
			fn(k)
		}
	}
}

// Touch promotes key to the head of the recency order without changing its
// size. It reports whether the key was present.
func (s *Strategy) Touch(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[key]
	if !ok {
		return false
	}
	s.unlink(n)
	s.pushHead(n)
	s.nodes[key] = n
	return true
}

// Delete removes key from the strategy. Unknown keys are a no-op. Unless
// suppress is set, the eviction callback fires for the removed key; owners
// that initiated the delete themselves pass suppress to avoid a re-entrant
// double delete.
func (s *Strategy) Delete(key string, suppress bool) {
	s.mu.Lock()
	n, ok := s.nodes[key]
	if ok {
		s.unlink(n)
		s.size -= n.size
		delete(s.nodes, key)
	}
	fn := s.onEvict
	s.mu.Unlock()

	if ok && !suppress && fn != nil {
		fn(key)
	}
}

// Shift ejects the least recently touched key, firing the eviction callback.
// It reports the ejected key, or false when the strategy is empty.
func (s *Strategy) Shift() (string, bool) {
	s.mu.Lock()
	n := s.tail
	if n == nil {
		s.mu.Unlock()
		return "", false
	}
	s.remove(n)
	fn := s.onEvict
	s.mu.Unlock()

	if fn != nil {
		fn(n.key)
	}
	return n.key, true
}

// Clear removes every key without firing eviction callbacks.
func (s *Strategy) Clear() {
	s.mu.Lock()
	s.head = nil
	s.tail = nil
	s.size = 0
	s.nodes = make(map[string]*node)
	s.mu.Unlock()
}

// Len returns the number of tracked keys.
func (s *Strategy) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Size returns the aggregate size of all tracked keys.
func (s *Strategy) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// MaxSize returns the configured bound, or Unbounded.
func (s *Strategy) MaxSize() int64 {
	return s.max
}

// Keys returns all keys ordered most to least recently touched.
func (s *Strategy) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.nodes))
	for n := s.head; n != nil; n = n.older {
		keys = append(keys, n.key)
	}
	return keys
}

// evictOverflow ejects tail nodes until size fits. Caller holds the lock.
func (s *Strategy) evictOverflow() []string {
	if s.max <= 0 {
		return nil
	}
	var evicted []string
	for s.size > s.max && s.tail != nil {
		n := s.tail
		s.remove(n)
		evicted = append(evicted, n.key)
	}
	return evicted
}

// remove unlinks n and drops its size contribution. Caller holds the lock.
func (s *Strategy) remove(n *node) {
	s.unlink(n)
	s.size -= n.size
	delete(s.nodes, n.key)
}

// unlink detaches n from the list, handling head, tail, middle and
// single-node cases. Caller holds the lock.
func (s *Strategy) unlink(n *node) {
	if n.newer != nil {
		n.newer.older = n.older
	} else if s.head == n {
		s.head = n.older
	}
	if n.older != nil {
		n.older.newer = n.newer
	} else if s.tail == n {
		s.tail = n.newer
	}
	n.newer = nil
	n.older = nil
}

// pushHead makes n the most recently touched node. Caller holds the lock.
func (s *Strategy) pushHead(n *node) {
	n.older = s.head
	if s.head != nil {
		s.head.newer = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}
