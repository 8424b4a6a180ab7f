package metrics

import (
	"time"

	"grimm.is/zedctl/internal/events"
)

// Bridge subscribes to the event hub and reflects supervision events
// into the Prometheus registry, so components publish once and both the
// websocket stream and /metrics stay consistent.
type Bridge struct {
	reg  *Registry
	hub  *events.Hub
	ch   <-chan events.Event
	done chan struct{}
}

// NewBridge starts consuming from hub into reg.
func NewBridge(reg *Registry, hub *events.Hub) *Bridge {
	b := &Bridge{
		reg:  reg,
		hub:  hub,
		ch:   hub.Subscribe(1024),
		done: make(chan struct{}),
	}
	go b.consume()
	return b
}

func (b *Bridge) consume() {
	for {
		select {
		case <-b.done:
			return
		case e := <-b.ch:
			b.handle(e)
		}
	}
}

func (b *Bridge) handle(e events.Event) {
	switch e.Type {
	case events.EventServerState:
		data, ok := e.Data.(events.ServerStateData)
		if !ok {
			return
		}
		b.reg.SetConnectionState(e.ServerID, data.State)
		b.reg.ConsecutiveFailures.WithLabelValues(e.ServerID).Set(float64(data.Attempt))
		if data.State == "connecting" && data.Previous == "reconnecting" {
			b.reg.ReconnectsTotal.WithLabelValues(e.ServerID).Inc()
		}

	case events.EventPlayerCount:
		data, ok := e.Data.(events.PlayerCountData)
		if !ok {
			return
		}
		b.reg.PlayersOnline.WithLabelValues(e.ServerID).Set(float64(data.Online))
		if data.MaxPlayers > 0 {
			b.reg.PlayersMax.WithLabelValues(e.ServerID).Set(float64(data.MaxPlayers))
		}
		b.reg.PollsTotal.WithLabelValues(e.ServerID, "ok").Inc()

	case events.EventPlayerUnavailable:
		b.reg.PollsTotal.WithLabelValues(e.ServerID, "error").Inc()

	case events.EventCommandExecuted:
		data, ok := e.Data.(events.CommandData)
		if !ok {
			return
		}
		seconds := (time.Duration(data.Duration) * time.Millisecond).Seconds()
		b.reg.RecordCommand(e.ServerID, seconds, data.Error != "")
	}
}

// Close stops the bridge.
func (b *Bridge) Close() {
	close(b.done)
	b.hub.Unsubscribe(b.ch)
}
