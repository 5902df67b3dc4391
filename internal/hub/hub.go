package hub

import (
	"log"
	"sync"
	"time"
)

const defaultSendBuffer = 64

// Observer is a single subscribed event sink. Events arrive on its channel
// in publish order; the channel is closed when the observer is unregistered.
type Observer struct {
	events chan Event
}

// Events returns the observer's delivery channel. It is closed on
// unregistration, so ranging over it terminates cleanly.
func (o *Observer) Events() <-chan Event {
	return o.events
}

// Hub fans events out to all registered observers. Delivery is
// fire-and-forget from the publisher's perspective: sends never block, and
// an observer that cannot keep up is unregistered rather than allowed to
// stall the others.
//
// Sends happen only under the read lock and close only under the write
// lock, so a publish can never race a channel close.
type Hub struct {
	mu        sync.RWMutex
	observers map[*Observer]bool
	buffer    int
}

func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Hub{
		observers: make(map[*Observer]bool),
		buffer:    buffer,
	}
}

// Register adds a new observer and greets it (and only it) with a synthetic
// connection event confirming establishment.
func (h *Hub) Register() *Observer {
	o := &Observer{events: make(chan Event, h.buffer)}

	h.mu.Lock()
	h.observers[o] = true
	o.events <- Event{
		Type:      EventConnection,
		Status:    "established",
		Timestamp: time.Now(),
		Message:   "Connected to real-time updates",
	}
	h.mu.Unlock()

	return o
}

// Unregister removes an observer and closes its channel. Idempotent: safe
// to call multiple times or for an observer already dropped by Publish.
func (h *Hub) Unregister(o *Observer) {
	h.mu.Lock()
	if h.observers[o] {
		delete(h.observers, o)
		close(o.events)
	}
	h.mu.Unlock()
}

// Publish delivers ev to every registered observer. An observer whose
// buffer is full is dropped; failure to deliver to a departed observer is
// housekeeping, not an error of the publication.
func (h *Hub) Publish(ev Event) {
	var dropped []*Observer

	h.mu.RLock()
	for o := range h.observers {
		select {
		case o.events <- ev:
		default:
			dropped = append(dropped, o)
		}
	}
	h.mu.RUnlock()

	for _, o := range dropped {
		log.Printf("observer cannot keep up, unregistering")
		h.Unregister(o)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
