package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Hub fans events out to subscribers. Delivery is best-effort: a
// subscriber whose channel is full loses the event rather than blocking
// the publisher, so supervisors never stall on a slow websocket.
type Hub struct {
	mu     sync.RWMutex
	typed  map[EventType][]chan Event
	global []chan Event

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{typed: make(map[EventType][]chan Event)}
}

// Publish delivers e to every matching subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	h.deliver(h.typed[e.Type], e)
	h.deliver(h.global, e)
}

// deliver is called with h.mu read-held.
func (h *Hub) deliver(chans []chan Event, e Event) {
	for _, ch := range chans {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber for the given event types, or
// for every event when no types are given. The returned channel must be
// drained; see Publish for the overflow behavior.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(types) == 0 {
		h.global = append(h.global, ch)
		return ch
	}
	for _, t := range types {
		h.typed[t] = append(h.typed[t], ch)
	}
	return ch
}

// Unsubscribe detaches ch from every subscription list. It does not
// close the channel; events already buffered remain readable.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	drop := func(c chan Event) bool { return c == ch }

	h.mu.Lock()
	defer h.mu.Unlock()
	h.global = slices.DeleteFunc(h.global, drop)
	for t, subs := range h.typed {
		h.typed[t] = slices.DeleteFunc(subs, drop)
	}
}

// Stats reports how many events were published and how many deliveries
// were dropped on full channels.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// EmitServerState publishes a connection state transition.
func (h *Hub) EmitServerState(serverID, state, previous, reason string, attempt int) {
	h.Publish(Event{
		Type:     EventServerState,
		ServerID: serverID,
		Source:   "supervisor",
		Data: ServerStateData{
			State:    state,
			Previous: previous,
			Reason:   reason,
			Attempt:  attempt,
		},
	})
}

// EmitPlayerCount publishes a successful player poll sample.
func (h *Hub) EmitPlayerCount(serverID string, online, max int, names []string) {
	h.Publish(Event{
		Type:     EventPlayerCount,
		ServerID: serverID,
		Source:   "supervisor",
		Data: PlayerCountData{
			Online:     online,
			MaxPlayers: max,
			Names:      names,
		},
	})
}

// EmitPlayerUnavailable marks the player count as unknown rather than zero.
func (h *Hub) EmitPlayerUnavailable(serverID, reason string) {
	h.Publish(Event{
		Type:     EventPlayerUnavailable,
		ServerID: serverID,
		Source:   "supervisor",
		Data:     ServerStateData{Reason: reason},
	})
}

// EmitCommand publishes a command audit record.
func (h *Hub) EmitCommand(serverID, command, output, errMsg string, took time.Duration) {
	h.Publish(Event{
		Type:     EventCommandExecuted,
		ServerID: serverID,
		Source:   "rcon",
		Data: CommandData{
			Command:  command,
			Output:   output,
			Error:    errMsg,
			Duration: took / time.Millisecond,
		},
	})
}
