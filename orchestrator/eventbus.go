package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const eventRingCapacity = 500

// EventBus is the dual-exposure event stream: a bounded in-memory ring
// for polling clients, and a fan-out to live
// subscribers (the api package's websocket broadcaster). Grounded on the
// teacher's preference for in-memory maps/caches (fundingRateMap,
// peakPnLCache) over an external queue for small, transient state.
type EventBus struct {
	mu          sync.Mutex
	ring        []Event
	subscribers map[chan Event]struct{}
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[chan Event]struct{})}
}

// Publish appends an event to the ring (evicting the oldest once full)
// and fans it out to every live subscriber without blocking on any of
// them.
func (b *EventBus) Publish(level EventLevel, kind EventKind, ticker, message string) Event {
	ev := Event{
		ID:      uuid.NewString(),
		TS:      time.Now(),
		Level:   level,
		Kind:    kind,
		Ticker:  ticker,
		Message: message,
	}
	b.mu.Lock()
	b.ring = append(b.ring, ev)
	if len(b.ring) > eventRingCapacity {
		b.ring = b.ring[len(b.ring)-eventRingCapacity:]
	}
	subs := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block publish.
		}
	}
	return ev
}

// Recent returns up to n most recent events, newest last.
func (b *EventBus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.ring) {
		n = len(b.ring)
	}
	out := make([]Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

// Subscribe registers a channel for live event fan-out; callers must call
// the returned unsubscribe func when done (e.g. when a websocket closes).
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}
}
