// Package events provides a unified pub/sub event bus for Zedctl.
// Connection state changes, player samples, sync progress, and command
// audit records all flow through this hub.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Server connection lifecycle
	EventServerState EventType = "server.state"

	// Health polling
	EventPlayerCount       EventType = "server.players"
	EventPlayerUnavailable EventType = "server.players_unavailable"

	// Mod sync
	EventSyncProgress EventType = "sync.progress"
	EventSyncComplete EventType = "sync.complete"
	EventModResolved  EventType = "mod.resolved"

	// Command execution
	EventCommandExecuted EventType = "command.executed"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	ServerID  string      `json:"server_id,omitempty"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
}

// ServerStateData is the payload for EventServerState.
type ServerStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// PlayerCountData is the payload for EventPlayerCount.
type PlayerCountData struct {
	Online     int      `json:"online"`
	MaxPlayers int      `json:"max_players,omitempty"`
	Names      []string `json:"names,omitempty"`
}

// SyncProgressData is the payload for EventSyncProgress/EventSyncComplete.
type SyncProgressData struct {
	Phase     string `json:"phase"` // "resolve", "merge", "apply"
	Workshop  string `json:"workshop_id,omitempty"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

// ModResolvedData is the payload for EventModResolved.
type ModResolvedData struct {
	WorkshopID string   `json:"workshop_id"`
	Name       string   `json:"name,omitempty"`
	ModIDs     []string `json:"mod_ids"`
}

// CommandData is the payload for EventCommandExecuted.
type CommandData struct {
	Command  string        `json:"command"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}
