package events

import (
	"sync"
)

const subscriberBuffer = 256

// Hub fans events out to live subscribers. Each subscriber owns a
// buffered channel; delivery to a saturated subscriber drops the event
// for that subscriber rather than stalling the bridge loop.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	onDrop func()
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// OnDrop installs a callback invoked once per dropped event per
// subscriber, typically a metrics counter.
func (h *Hub) OnDrop(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Subscribe registers a new subscriber. The returned cancel func must
// be called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Deliver broadcasts the event. Always succeeds from the bridge's point
// of view; per-subscriber overflow is handled by dropping.
func (h *Hub) Deliver(ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return nil
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
