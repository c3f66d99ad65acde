package notify

import (
	"context"
	"log/slog"
	"sync"
)

const subscriberBuffer = 32

// Hub fans events out to in-process subscribers. A subscriber that falls
// behind loses events rather than blocking the sync loop.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of active subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify delivers the event to every subscriber without blocking
func (h *Hub) Notify(_ context.Context, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			slog.Debug("dropping event for slow subscriber", "subscriber", id, "event_type", event.Type)
		}
	}
	return nil
}

// Close ends every subscription
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.closed = true
	return nil
}

var _ Notifier = (*Hub)(nil)
