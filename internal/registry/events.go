package registry

import "sync"

// EventType tags outbound registry events.
type EventType string

const (
	EventSessionUpdate  EventType = "session_update"
	EventSessionRemoved EventType = "session_removed"
)

// Event mirrors a session record on update; removal events carry only the id.
type Event struct {
	Type      EventType `json:"type"`
	Session   *Session  `json:"session,omitempty"`
	SessionID string    `json:"sessionId"`
}

// hub fans events out to subscribers. Slow subscribers drop events rather
// than block the writers.
type hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan Event) {
	if ch == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}
