package cache

// Event identifies a cache lifecycle notification. Events are dispatched by
// direct callback invocation to handlers registered with WithEventHandler or
// OnEvent; there is no emitter hierarchy.
type Event string

const (
	// EventHit fires when Get finds a valid or stale entry. Data carries
	// Key and Entry.
	EventHit Event = "hit"
	// EventMiss fires when Get finds nothing servable. Data carries Key.
	EventMiss Event = "miss"
	// EventFetch fires when a fetcher invocation starts. Data carries Key.
	EventFetch Event = "fetch"
	// EventFetchDone fires when a fetcher invocation succeeds. Data carries
	// Key and Value.
	EventFetchDone Event = "fetch_done"
	// EventStaleCheck fires when a stale sweep starts.
	EventStaleCheck Event = "stale_check"
	// EventStaleCheckDone fires when a stale sweep finishes. Data carries
	// Keys, the keys that were refreshed.
	EventStaleCheckDone Event = "stale_check_done"
	// EventExpiresCheck fires when an expiry sweep starts.
	EventExpiresCheck Event = "expires_check"
	// EventExpiresCheckDone fires when an expiry sweep finishes. Data
	// carries Keys, the keys that were deleted.
	EventExpiresCheckDone Event = "expires_check_done"
)

// EventData is the payload delivered with an Event. Fields are populated
// per event; see the Event constants.
type EventData struct {
	Key   string
	Entry *Entry
	Value any
	Keys  []string
}

// EventHandler receives dispatched events. Handlers run synchronously on
// the calling goroutine and should return quickly.
type EventHandler func(event Event, data EventData)

// OnEvent registers a handler for an event after construction.
func (c *Cache) OnEvent(event Event, handler EventHandler) {
	c.handlerMutex.Lock()
	c.handlers[event] = append(c.handlers[event], handler)
	c.handlerMutex.Unlock()
}

func (c *Cache) emit(event Event, data EventData) {
	if !c.cfg.emitEvents {
		return
	}
	c.handlerMutex.RLock()
	handlers := c.handlers[event]
	c.handlerMutex.RUnlock()
	for _, handler := range handlers {
		handler(event, data)
	}
}
