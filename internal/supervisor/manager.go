package supervisor

import (
	"context"
	"sync"

	"grimm.is/zedctl/internal/clock"
	"grimm.is/zedctl/internal/events"
)

// Manager holds the supervisors for all configured servers, keyed by
// server id. Supervisors share one event hub so downstream consumers
// (websocket bridge, recorder, metrics) subscribe once.
type Manager struct {
	mu   sync.Mutex
	sups map[string]*Supervisor

	hub *events.Hub
	clk clock.Clock
}

// NewManager creates an empty registry publishing to hub.
func NewManager(hub *events.Hub, clk clock.Clock) *Manager {
	if hub == nil {
		hub = events.NewHub()
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Manager{
		sups: make(map[string]*Supervisor),
		hub:  hub,
		clk:  clk,
	}
}

// Hub returns the shared event hub.
func (m *Manager) Hub() *events.Hub { return m.hub }

// Connect creates (or reuses) the supervisor for cfg.ServerID and
// starts it. The shared hub and clock override whatever cfg carries.
func (m *Manager) Connect(ctx context.Context, cfg Config) (*Supervisor, error) {
	cfg.Hub = m.hub
	cfg.Clock = m.clk

	m.mu.Lock()
	sup, ok := m.sups[cfg.ServerID]
	if !ok {
		sup = New(cfg)
		m.sups[cfg.ServerID] = sup
	}
	m.mu.Unlock()

	return sup, sup.Connect(ctx)
}

// Get returns the supervisor for a server id.
func (m *Manager) Get(serverID string) (*Supervisor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sup, ok := m.sups[serverID]
	return sup, ok
}

// IsConnected reports whether a server currently has a live session.
func (m *Manager) IsConnected(serverID string) bool {
	sup, ok := m.Get(serverID)
	return ok && sup.Status().State == StateConnected
}

// Disconnect stops and removes the supervisor for a server id.
func (m *Manager) Disconnect(serverID string) {
	m.mu.Lock()
	sup, ok := m.sups[serverID]
	delete(m.sups, serverID)
	m.mu.Unlock()
	if ok {
		sup.Disconnect()
	}
}

// DisconnectAll stops every supervisor. Used on shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	sups := make([]*Supervisor, 0, len(m.sups))
	for _, s := range m.sups {
		sups = append(sups, s)
	}
	m.sups = make(map[string]*Supervisor)
	m.mu.Unlock()

	for _, s := range sups {
		s.Disconnect()
	}
}

// Snapshots returns the status of every supervised server.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	sups := make([]*Supervisor, 0, len(m.sups))
	for _, s := range m.sups {
		sups = append(sups, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(sups))
	for _, s := range sups {
		out = append(out, s.Status())
	}
	return out
}
