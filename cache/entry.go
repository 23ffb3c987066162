package cache

import "time"

// Never disables a TTL boundary: an entry with a negative stale TTL never
// goes stale, and an entry with a negative expires TTL never expires.
const Never = time.Duration(-1)

// EntryState is the freshness state of an entry at a point in time.
type EntryState int

const (
	// StateValid entries are inside their freshness window.
	StateValid EntryState = iota
	// StateStale entries are past freshness but still servable; a read
	// triggers a background refresh.
	StateStale
	// StateExpired entries are unusable and must be discarded and refetched.
	StateExpired
)

func (s EntryState) String() string {
	switch s {
	case StateValid:
		return "VALID"
	case StateStale:
		return "STALE"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Entry is a cached value with its freshness configuration. Entries are
// immutable after creation; a new Set replaces the entry rather than
// mutating it. Freshness is derived from (Created, Stale, Expires, now) on
// every State call, never stored.
type Entry struct {
	Value   any           `msgpack:"value"`
	Created time.Time     `msgpack:"created"`
	Stale   time.Duration `msgpack:"stale"`
	Expires time.Duration `msgpack:"expires"`
	Size    int64         `msgpack:"size"`
}

// NewEntry builds an entry created at the given time. A size <= 0 defaults
// to 1 so unsized entries still count against a bounded backend. Exported for
// custom Backend implementations and tooling; Cache.Set builds entries itself.
func NewEntry(value any, created time.Time, stale, expires time.Duration, size int64) *Entry {
	if size <= 0 {
		size = 1
	}
	return &Entry{
		Value:   value,
		Created: created,
		Stale:   stale,
		Expires: expires,
		Size:    size,
	}
}

// State computes the freshness state at now. The expired check runs first,
// so an expires TTL shorter than the stale TTL skips the stale state
// entirely.
func (e *Entry) State(now time.Time) EntryState {
	if e.Expires >= 0 && now.After(e.Created.Add(e.Expires)) {
		return StateExpired
	}
	if e.Stale >= 0 && now.After(e.Created.Add(e.Stale)) {
		return StateStale
	}
	return StateValid
}

// IsValid reports whether the entry is inside its freshness window at now.
func (e *Entry) IsValid(now time.Time) bool {
	return e.State(now) == StateValid
}

// IsStale reports whether the entry is past freshness but still servable at now.
func (e *Entry) IsStale(now time.Time) bool {
	return e.State(now) == StateStale
}

// IsExpired reports whether the entry is past its validity window at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.State(now) == StateExpired
}
