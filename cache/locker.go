package cache

import (
	"sync"
	"time"
)

// fetchResult is the outcome fanned out to every waiter of a fetch attempt.
// Exactly one of value or err is meaningful.
type fetchResult struct {
	value any
	err   error
}

// fetchAttempt is one in-flight fetch for a key. The attempt owns its waiter
// list; a timed-out attempt that has been superseded in the table still
// resolves its own waiters when its fetch eventually finishes.
type fetchAttempt struct {
	started time.Time
	waiters []chan fetchResult
}

// locker is the single-flight fetch coordinator. The presence of a key in
// the table means a fetch is in flight for that key; later callers attach to
// the current attempt instead of fetching. A non-zero timeout lets a new
// attempt be dispatched when the current one has been in flight too long.
type locker struct {
	mutex    sync.Mutex
	timeout  time.Duration
	attempts map[string]*fetchAttempt
}

func newLocker(timeout time.Duration) *locker {
	return &locker{
		timeout:  timeout,
		attempts: make(map[string]*fetchAttempt),
	}
}

// acquire registers a waiter for key and reports whether the caller owns the
// fetch. The first caller for a key (or the first after the current attempt
// exceeded the lock timeout) becomes the owner and must eventually settle
// the attempt through finish.
func (l *locker) acquire(key string, now time.Time) (<-chan fetchResult, *fetchAttempt, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	ch := make(chan fetchResult, 1)
	if a, ok := l.attempts[key]; ok && (l.timeout <= 0 || now.Sub(a.started) < l.timeout) {
		a.waiters = append(a.waiters, ch)
		return ch, a, false
	}
	a := &fetchAttempt{started: now, waiters: []chan fetchResult{ch}}
	l.attempts[key] = a
	return ch, a, true
}

// pending reports whether a fetch is currently in flight for key.
func (l *locker) pending(key string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	_, ok := l.attempts[key]
	return ok
}

// resolve settles the current attempt for key with a value, releasing every
// waiter. Safe to call when no fetch is in flight. Set calls this so that a
// plain Set doubles as fetch completion for anyone waiting on the key.
func (l *locker) resolve(key string, value any) {
	l.mutex.Lock()
	a := l.attempts[key]
	l.mutex.Unlock()
	if a != nil {
		l.finish(key, a, fetchResult{value: value})
	}
}

// finish settles a specific attempt, fanning its result out to all waiters
// and clearing the table entry if this attempt is still the current one.
// Idempotent per attempt.
func (l *locker) finish(key string, a *fetchAttempt, res fetchResult) {
	l.mutex.Lock()
	waiters := a.waiters
	a.waiters = nil
	if l.attempts[key] == a {
		delete(l.attempts, key)
	}
	l.mutex.Unlock()
	for _, ch := range waiters {
		// Buffered; never blocks, and a waiter is only ever sent one result
		// since the list is drained under the lock.
		ch <- res
	}
}

// clear settles every in-flight attempt with the given result.
func (l *locker) clear(res fetchResult) {
	l.mutex.Lock()
	attempts := l.attempts
	l.attempts = make(map[string]*fetchAttempt)
	var waiters []chan fetchResult
	for _, a := range attempts {
		waiters = append(waiters, a.waiters...)
		a.waiters = nil
	}
	l.mutex.Unlock()
	for _, ch := range waiters {
		ch <- res
	}
}
