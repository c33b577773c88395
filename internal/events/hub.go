// Package events fans grant and keybinding lifecycle events out to the
// admin API's SSE stream, keeping a short history for late subscribers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/keybindings"
	"github.com/mattjoyce/wayguard/internal/protocol"
)

const (
	defaultCapacity  = 100
	subscriberBuffer = 128
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// GrantData is the payload of grant.* events.
type GrantData struct {
	Grant  authz.Info `json:"grant"`
	Reason string     `json:"reason,omitempty"`
}

// KeybindingData is the payload of keybindings.* events.
type KeybindingData struct {
	ClientID   uint32 `json:"client_id,omitempty"`
	Key        uint32 `json:"key,omitempty"`
	Mods       uint32 `json:"mods,omitempty"`
	State      string `json:"state,omitempty"`
	Time       uint32 `json:"time,omitempty"`
	Recipients int    `json:"recipients,omitempty"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
	closed    bool
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event and offers it to every subscriber. Slow
// subscribers miss events rather than block the publisher, which is the
// display loop.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	if h.closed {
		return ev
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// PublishGrant publishes an authorization lifecycle event.
func (h *Hub) PublishGrant(ev authz.Event) {
	h.Publish(string(ev.Type), GrantData{Grant: ev.Grant, Reason: string(ev.Reason)})
}

// PublishKeybinding publishes a keybinding registry event.
func (h *Hub) PublishKeybinding(ev keybindings.Event) {
	data := KeybindingData{
		ClientID:   ev.ClientID,
		Key:        ev.Key,
		Mods:       ev.Mods,
		Time:       ev.Time,
		Recipients: ev.Recipients,
	}
	if ev.Type == keybindings.EventKey {
		data.State = ev.State.String()
	}
	h.Publish(string(ev.Type), data)
}

// Subscribe returns a channel of new events and a cancel func. The channel
// is closed by cancel or Close.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

// KeyState parses KeybindingData.State.
func KeyState(s string) protocol.KeyState {
	if s == protocol.KeyStatePressed.String() {
		return protocol.KeyStatePressed
	}
	return protocol.KeyStateReleased
}
