package events

import "sync"

// History subscribes to the hub and retains the most recent events per
// server so the API can answer "what happened lately" without a database
// round trip. Oldest events are evicted first.
type History struct {
	mu     sync.RWMutex
	limit  int
	byID   map[string][]Event
	global []Event

	hub  *Hub
	ch   <-chan Event
	done chan struct{}
}

// NewHistory creates a history buffer keeping up to limit events per
// server (and limit global events) and starts consuming from hub.
func NewHistory(hub *Hub, limit int) *History {
	if limit <= 0 {
		limit = 256
	}
	h := &History{
		limit: limit,
		byID:  make(map[string][]Event),
		hub:   hub,
		ch:    hub.Subscribe(1024),
		done:  make(chan struct{}),
	}
	go h.consume()
	return h
}

func (h *History) consume() {
	for {
		select {
		case <-h.done:
			return
		case e := <-h.ch:
			h.add(e)
		}
	}
}

func (h *History) add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = appendBounded(h.global, e, h.limit)
	if e.ServerID != "" {
		h.byID[e.ServerID] = appendBounded(h.byID[e.ServerID], e, h.limit)
	}
}

func appendBounded(s []Event, e Event, limit int) []Event {
	s = append(s, e)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

// ForServer returns a copy of the retained events for one server,
// oldest first.
func (h *History) ForServer(serverID string) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.byID[serverID]))
	copy(out, h.byID[serverID])
	return out
}

// Recent returns a copy of the retained events across all servers,
// oldest first.
func (h *History) Recent() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.global))
	copy(out, h.global)
	return out
}

// Close stops consuming and detaches from the hub.
func (h *History) Close() {
	close(h.done)
	h.hub.Unsubscribe(h.ch)
}
