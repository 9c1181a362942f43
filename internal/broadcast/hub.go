package broadcast

import (
	"context"
	"sync"

	"classattend/internal/metrics"
)

// Subscriber receives events for every room it has joined.
type Subscriber struct {
	ch     chan Event
	closed bool
}

// Events returns the subscriber's delivery channel. It is closed when the
// subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Hub is an in-process room registry. Publishing walks the room's current
// members; a member whose buffer is full has that event dropped rather than
// stalling the publisher.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]struct{})}
}

// NewSubscriber creates a subscriber with the given delivery buffer.
func (h *Hub) NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 16
	}
	return &Subscriber{ch: make(chan Event, buffer)}
}

// Join adds the subscriber to a session's room. A subscriber may be in any
// number of rooms at once.
func (h *Hub) Join(sub *Subscriber, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[sessionID] = room
	}
	room[sub] = struct{}{}
}

// Leave removes the subscriber from one room.
func (h *Hub) Leave(sub *Subscriber, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub, sessionID)
}

func (h *Hub) leaveLocked(sub *Subscriber, sessionID string) {
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// Remove takes the subscriber out of every room and closes its channel.
// Used on observer disconnect.
func (h *Hub) Remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	for sessionID := range h.rooms {
		h.leaveLocked(sub, sessionID)
	}
	sub.closed = true
	close(sub.ch)
}

// Publish delivers the event to every current member of the session's room.
// Calls for the same session delivered in sequence arrive in sequence; a full
// subscriber buffer drops the event for that subscriber only.
func (h *Hub) Publish(_ context.Context, sessionID string, evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[sessionID] {
		select {
		case sub.ch <- evt:
		default:
			metrics.BroadcastDropped.Inc()
		}
	}
}

// RoomSize reports the current number of subscribers in a room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[sessionID])
}
