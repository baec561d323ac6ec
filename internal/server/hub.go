package server

import (
	"sync"

	"genie/internal/pipeline"
)

// subscriptionBuffer bounds queued events per websocket client. Slow
// consumers lose events rather than stalling the pipeline.
const subscriptionBuffer = 64

// EventHub fans pipeline progress events out to websocket subscribers.
// Its Broadcast method is the pipeline's Listener.
type EventHub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription is one client's event feed. An empty user id receives
// events for every user.
type Subscription struct {
	userID string
	ch     chan pipeline.Event
}

// Events returns the receive side of the feed.
func (s *Subscription) Events() <-chan pipeline.Event {
	return s.ch
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: map[*Subscription]struct{}{}}
}

// Broadcast delivers the event to every matching subscriber without
// blocking.
func (h *EventHub) Broadcast(ev pipeline.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.userID != "" && sub.userID != ev.UserID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new feed filtered to the given user.
func (h *EventHub) Subscribe(userID string) *Subscription {
	sub := &Subscription{userID: userID, ch: make(chan pipeline.Event, subscriptionBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the feed.
func (h *EventHub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}
