package server

import (
	"net"
	"sync"
	"sync/atomic"

	"chatrelay/internal/protocol"
)

// DefaultHubCapacity is the per-subscriber buffer size.
const DefaultHubCapacity = 64

// Broadcast is a published chat message and the address of the connection
// that produced it.
type Broadcast struct {
	Message protocol.ChatMessage
	Origin  net.Addr
}

// Hub fans every published message out to all subscriptions.
//
// Concurrency model
// -----------------
//   - Publish holds the hub mutex for the whole fan-out, so every subscriber
//     sees messages in one total order.
//   - Each Subscription owns a buffered channel of fixed capacity. Publish never
//     blocks: when a subscriber's buffer is full, its oldest pending message is
//     discarded to make room (drop-oldest). Other subscribers are unaffected.
//   - The hub knows nothing about usernames. Telling "mine" from "theirs" is
//     left to the receiving connection.
type Hub struct {
	capacity int

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	closed    bool
	published uint64
	dropped   uint64
}

// HubStats is a point-in-time view of hub activity.
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Capacity    int    `json:"capacity"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// NewHub creates a Hub whose subscriptions buffer capacity messages.
// A non-positive capacity selects DefaultHubCapacity.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultHubCapacity
	}
	return &Hub{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new receiver. Every message published after
// Subscribe returns is delivered to it, subject to the overflow policy.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		hub: h,
		ch:  make(chan Broadcast, h.capacity),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish delivers msg to every current subscription without blocking.
func (h *Hub) Publish(msg protocol.ChatMessage, origin net.Addr) {
	b := Broadcast{Message: msg, Origin: origin}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.published++
	for s := range h.subs {
		if !s.offer(b) {
			h.dropped++
		}
	}
}

// Stats returns current counters.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{
		Subscribers: len(h.subs),
		Capacity:    h.capacity,
		Published:   h.published,
		Dropped:     h.dropped,
	}
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Subscription is one receiver attached to a Hub.
type Subscription struct {
	hub     *Hub
	ch      chan Broadcast
	dropped atomic.Uint64
}

// C returns the channel messages arrive on. It is closed when the
// subscription or the hub is closed.
func (s *Subscription) C() <-chan Broadcast {
	return s.ch
}

// Dropped returns how many messages were discarded because this subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from its hub. It is safe to call more than
// once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// offer queues b, evicting the oldest pending message when the buffer is
// full. It reports false when a message was lost. Callers hold hub.mu.
func (s *Subscription) offer(b Broadcast) bool {
	select {
	case s.ch <- b:
		return true
	default:
	}

	lost := false
	select {
	case <-s.ch:
		lost = true
	default:
	}
	select {
	case s.ch <- b:
	default:
		lost = true
	}
	if lost {
		s.dropped.Add(1)
	}
	return !lost
}
