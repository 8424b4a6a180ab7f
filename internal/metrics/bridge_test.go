package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/zedctl/internal/events"
)

func TestBridgeRecordsPlayerCounts(t *testing.T) {
	reg := Get()
	hub := events.NewHub()
	b := NewBridge(reg, hub)
	defer b.Close()

	hub.EmitPlayerCount("bridge-players", 7, 32, nil)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.PlayersOnline.WithLabelValues("bridge-players")) == 7
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 32.0, testutil.ToFloat64(reg.PlayersMax.WithLabelValues("bridge-players")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.PollsTotal.WithLabelValues("bridge-players", "ok")))
}

func TestBridgeReflectsConnectionState(t *testing.T) {
	reg := Get()
	hub := events.NewHub()
	b := NewBridge(reg, hub)
	defer b.Close()

	hub.EmitServerState("bridge-state", "connected", "connecting", "", 0)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.ConnectionState.WithLabelValues("bridge-state", "connected")) == 1
	}, time.Second, 10*time.Millisecond)

	// Exactly one state gauge reads 1.
	for _, st := range []string{"disconnected", "connecting", "reconnecting"} {
		assert.Zero(t, testutil.ToFloat64(reg.ConnectionState.WithLabelValues("bridge-state", st)), st)
	}
}

func TestBridgeCountsCommands(t *testing.T) {
	reg := Get()
	hub := events.NewHub()
	b := NewBridge(reg, hub)
	defer b.Close()

	hub.EmitCommand("bridge-cmd", "players", "ok", "", 40*time.Millisecond)
	hub.EmitCommand("bridge-cmd", "save", "", "timeout", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.CommandsTotal.WithLabelValues("bridge-cmd")) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CommandErrors.WithLabelValues("bridge-cmd")))
}
