package bridge

import (
	"sync"
	"time"
)

// EventType classifies bridge events published on the hub.
type EventType string

const (
	// EventState marks a shutdown-coordinator state transition.
	EventState EventType = "state"
	// EventMessage marks a message framed or delivered on a stream.
	EventMessage EventType = "message"
	// EventChildExit marks a child process exit.
	EventChildExit EventType = "child_exit"
)

// Event is one observable bridge occurrence, serializable as-is for the
// admin event feed.
type Event struct {
	Time    time.Time `json:"time"`
	Type    EventType `json:"type"`
	State   string    `json:"state,omitempty"`
	Trigger string    `json:"trigger,omitempty"`
	Stream  string    `json:"stream,omitempty"`
	Bytes   int       `json:"bytes,omitempty"`
	Child   string    `json:"child,omitempty"`
	Code    int       `json:"code,omitempty"`
}

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event. The feed is diagnostic, not a
// delivery guarantee.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewHub creates an empty event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned cancel func removes the subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish sends ev to every subscriber, stamping the time if unset.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
