package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// DefaultBuffer is the per-subscriber event buffer used when none is given.
const DefaultBuffer = 32

// Subscriber is one connected session of a member.
type Subscriber struct {
	memberID string
	events   chan Event
}

// MemberID returns the member the session belongs to.
func (s *Subscriber) MemberID() string { return s.memberID }

// Events yields events until the subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Hub is the in-process registry of subscribers keyed by member id. Sends
// never block: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	buffer int
	log    *zap.Logger
}

// NewHub creates a Hub with buffer slots per subscriber.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
		log:    log.Named("hub"),
	}
}

// Subscribe registers a new session for memberID.
func (h *Hub) Subscribe(memberID string) *Subscriber {
	sub := &Subscriber{memberID: memberID, events: make(chan Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[memberID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[memberID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its event stream. Calling it twice is
// harmless.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.memberID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.memberID)
	}
	close(sub.events)
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// BroadcastAll sends ev to every session.
func (h *Hub) BroadcastAll(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.subs {
		for sub := range set {
			h.offer(sub, ev)
		}
	}
	return nil
}

// BroadcastTo sends ev to every session of memberID.
func (h *Hub) BroadcastTo(_ context.Context, memberID string, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[memberID] {
		h.offer(sub, ev)
	}
	return nil
}

// offer must be called with h.mu held.
func (h *Hub) offer(sub *Subscriber, ev Event) {
	select {
	case sub.events <- ev:
	default:
		h.log.Warn("subscriber buffer full, dropping event",
			zap.String("member_id", sub.memberID),
			zap.String("event", ev.Name),
		)
	}
}

// Serve streams memberID's events to conn as JSON frames until the client
// goes away. It owns conn.
func (h *Hub) Serve(conn *websocket.Conn, memberID string) {
	defer func() {
		_ = conn.Close()
	}()

	sub := h.Subscribe(memberID)
	defer h.Unsubscribe(sub)

	// Clients only listen; reading detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, conn)
	}()

	h.log.Debug("subscriber connected", zap.String("member_id", memberID))
	encoder := json.NewEncoder(conn)
	for {
		select {
		case <-gone:
			h.log.Debug("subscriber disconnected", zap.String("member_id", memberID))
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := encoder.Encode(ev); err != nil {
				h.log.Warn("websocket write failed", zap.String("member_id", memberID), zap.Error(err))
				return
			}
		}
	}
}
