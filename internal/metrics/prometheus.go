// Package metrics exposes Prometheus instrumentation for the admin
// engine: connection state, polling, command throughput, and resolver
// health.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all zedctl metrics.
type Registry struct {
	// Connection supervision
	ConnectionState     *prometheus.GaugeVec
	ConsecutiveFailures *prometheus.GaugeVec
	ReconnectsTotal     *prometheus.CounterVec
	AuthFailuresTotal   *prometheus.CounterVec

	// Health polling
	PlayersOnline *prometheus.GaugeVec
	PlayersMax    *prometheus.GaugeVec
	PollsTotal    *prometheus.CounterVec

	// RCON commands
	CommandsTotal   *prometheus.CounterVec
	CommandErrors   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Workshop resolver
	ResolverErrors *prometheus.CounterVec

	// Mod sync
	SyncRunsTotal *prometheus.CounterVec

	// System
	Uptime      prometheus.Gauge
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zedctl_connection_state",
		Help: "Connection state per server (1 for the active state, 0 otherwise)",
	}, []string{"server", "state"})

	r.ConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zedctl_consecutive_failures",
		Help: "Consecutive connection failures per server",
	}, []string{"server"})

	r.ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zedctl_reconnects_total",
		Help: "Reconnection attempts per server",
	}, []string{"server"})

	r.AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zedctl_auth_failures_total",
		Help: "Terminal authentication failures per server",
	}, []string{"server"})

	r.PlayersOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zedctl_players_online",
		Help: "Players currently connected per server",
	}, []string{"server"})

	r.PlayersMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zedctl_players_max",
		Help: "Configured player slots per server",
	}, []string{"server"})

	r.PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zedctl_health_polls_total",
		Help: "Health poll round trips per server and outcome",
	}, []string{"server", "outcome"})

	r.CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zedctl_rcon_commands_total",
		Help: "RCON commands executed per server",
	}, []string{"server"})

	r.CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zedctl_rcon_command_errors_total",
		Help: "RCON command failures per server",
	}, []string{"server"})

	r.CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zedctl_rcon_command_duration_seconds",
		Help:    "RCON command round trip latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"server"})

	r.ResolverErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zedctl_workshop_resolver_errors_total",
		Help: "Workshop page resolution failures by kind",
	}, []string{"kind"})

	r.SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zedctl_mod_sync_runs_total",
		Help: "Mod sync runs by outcome",
	}, []string{"server", "outcome"})

	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zedctl_uptime_seconds",
		Help: "Process uptime in seconds",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zedctl_api_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zedctl_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, statusString(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

// SetConnectionState flips the per-state gauges so exactly one state
// reads 1 for the server.
func (r *Registry) SetConnectionState(server, state string) {
	for _, s := range []string{"disconnected", "connecting", "connected", "reconnecting"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.ConnectionState.WithLabelValues(server, s).Set(v)
	}
}

// RecordCommand records one RCON command execution.
func (r *Registry) RecordCommand(server string, seconds float64, failed bool) {
	r.CommandsTotal.WithLabelValues(server).Inc()
	r.CommandDuration.WithLabelValues(server).Observe(seconds)
	if failed {
		r.CommandErrors.WithLabelValues(server).Inc()
	}
}

func statusString(status int) string {
	return fmt.Sprintf("%d", status)
}
