package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event types pushed to users.
const (
	EventUserDeleted        = "USER_DELETED"
	EventSessionsRevoked    = "SESSIONS_REVOKED"
	EventPermissionsChanged = "PERMISSIONS_CHANGED"
)

// Event is one notification addressed to a single user.
type Event struct {
	Type      string          `json:"type"`
	UserID    string          `json:"userId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notifier delivers events without blocking the caller on slow consumers.
type Notifier interface {
	Notify(ctx context.Context, userID string, evt Event) error
}

// Hub fan-outs events to the subscribers of each user (SSE clients).
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event
	next int
}

var _ Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a subscriber for userID and returns a channel which will
// receive that user's events. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]chan Event)
	}
	h.subs[userID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[userID], id)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to the subscribers of evt.UserID.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[evt.UserID] {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Notify stamps evt for userID and publishes it locally.
func (h *Hub) Notify(_ context.Context, userID string, evt Event) error {
	h.Publish(Stamp(userID, evt))
	return nil
}

// Subscribers reports how many streams userID has open.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Stamp fills the recipient and timestamp of evt.
func Stamp(userID string, evt Event) Event {
	evt.UserID = strings.TrimSpace(userID)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt
}

// Payload encodes v as event data, dropping values that cannot be encoded.
func Payload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
