// Package api exposes the HTTP and WebSocket surface of the daemon:
// admin auth, server CRUD, connection control, RCON command execution,
// and the mod reconciliation endpoints.
package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/zedctl/internal/auth"
	"grimm.is/zedctl/internal/brand"
	"grimm.is/zedctl/internal/clock"
	"grimm.is/zedctl/internal/config"
	"grimm.is/zedctl/internal/events"
	"grimm.is/zedctl/internal/logging"
	"grimm.is/zedctl/internal/metrics"
	"grimm.is/zedctl/internal/ratelimit"
	"grimm.is/zedctl/internal/secrets"
	"grimm.is/zedctl/internal/store"
	"grimm.is/zedctl/internal/supervisor"
	"grimm.is/zedctl/internal/workshop"
)

// Server handles API requests.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	box      *secrets.Box
	sessions *auth.Store
	authMw   *auth.Middleware
	manager  *supervisor.Manager
	hub      *events.Hub
	history  *events.History
	recorder *events.Recorder
	resolver workshop.Resolver
	metrics  *metrics.Registry
	limiter  *ratelimit.Limiter
	clk      clock.Clock
	log      *logging.Logger

	startTime time.Time
	mux       *http.ServeMux
}

// Options holds the dependencies for the API server.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Box      *secrets.Box
	Sessions *auth.Store
	Manager  *supervisor.Manager
	History  *events.History
	Recorder *events.Recorder // optional, disables player history endpoints when nil
	Resolver workshop.Resolver
	Clock    clock.Clock
}

// NewServer creates the API server and registers its routes.
func NewServer(opts Options) *Server {
	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	s := &Server{
		cfg:       opts.Config,
		store:     opts.Store,
		box:       opts.Box,
		sessions:  opts.Sessions,
		authMw:    auth.NewMiddleware(opts.Sessions),
		manager:   opts.Manager,
		hub:       opts.Manager.Hub(),
		history:   opts.History,
		recorder:  opts.Recorder,
		resolver:  opts.Resolver,
		metrics:   metrics.Get(),
		limiter:   ratelimit.NewLimiter(clk),
		clk:       clk,
		log:       logging.WithComponent("api"),
		startTime: clk.Now(),
	}
	s.limiter.StartCleanup(10*time.Minute, time.Hour)
	s.initRoutes()
	return s
}

// Close stops background helpers. The supervisors and event consumers
// are owned by the caller.
func (s *Server) Close() {
	s.limiter.Stop()
}

// Handler returns the root handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) initRoutes() {
	mux := http.NewServeMux()
	s.mux = mux

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	// Session management
	mux.Handle("GET /api/auth/verify", s.require(http.HandlerFunc(s.handleVerify)))
	mux.Handle("POST /api/auth/logout", s.require(http.HandlerFunc(s.handleLogout)))

	// Server registry
	mux.Handle("GET /api/servers", s.require(http.HandlerFunc(s.handleListServers)))
	mux.Handle("POST /api/servers", s.require(http.HandlerFunc(s.handleCreateServer)))
	mux.Handle("GET /api/servers/{id}", s.require(http.HandlerFunc(s.handleGetServer)))
	mux.Handle("PUT /api/servers/{id}", s.require(http.HandlerFunc(s.handleUpdateServer)))
	mux.Handle("DELETE /api/servers/{id}", s.require(http.HandlerFunc(s.handleDeleteServer)))

	// Connection control
	mux.Handle("POST /api/servers/{id}/connect", s.require(http.HandlerFunc(s.handleConnect)))
	mux.Handle("POST /api/servers/{id}/disconnect", s.require(http.HandlerFunc(s.handleDisconnect)))
	mux.Handle("POST /api/servers/{id}/reconnect", s.require(http.HandlerFunc(s.handleReconnect)))
	mux.Handle("GET /api/servers/{id}/status", s.require(http.HandlerFunc(s.handleServerStatus)))
	mux.Handle("GET /api/status", s.require(http.HandlerFunc(s.handleStatus)))

	// Command execution and inspection
	mux.Handle("POST /api/servers/{id}/execute", s.require(http.HandlerFunc(s.handleExecute)))
	mux.Handle("GET /api/servers/{id}/options", s.require(http.HandlerFunc(s.handleOptions)))
	mux.Handle("GET /api/servers/{id}/history", s.require(http.HandlerFunc(s.handleCommandHistory)))
	mux.Handle("GET /api/servers/{id}/players", s.require(http.HandlerFunc(s.handlePlayers)))
	mux.Handle("GET /api/servers/{id}/players/history", s.require(http.HandlerFunc(s.handlePlayerHistory)))
	mux.Handle("GET /api/servers/{id}/events", s.require(http.HandlerFunc(s.handleServerEvents)))

	// Mod configuration
	mux.Handle("GET /api/servers/{id}/mods", s.require(http.HandlerFunc(s.handleListMods)))
	mux.Handle("POST /api/servers/{id}/mods", s.require(http.HandlerFunc(s.handleAddMod)))
	mux.Handle("PUT /api/servers/{id}/mods/{workshop}", s.require(http.HandlerFunc(s.handleUpdateMod)))
	mux.Handle("DELETE /api/servers/{id}/mods/{workshop}", s.require(http.HandlerFunc(s.handleDeleteMod)))
	mux.Handle("POST /api/servers/{id}/mods/sync", s.require(http.HandlerFunc(s.handleModSync)))
	mux.Handle("POST /api/servers/{id}/mods/apply", s.require(http.HandlerFunc(s.handleModApply)))
	mux.Handle("GET /api/servers/{id}/mods/export", s.require(http.HandlerFunc(s.handleModExport)))
	mux.Handle("POST /api/servers/{id}/mods/import", s.require(http.HandlerFunc(s.handleModImport)))
	mux.Handle("POST /api/mods/parse", s.require(http.HandlerFunc(s.handleModParse)))

	// Operations
	mux.Handle("GET /api/logs", s.require(http.HandlerFunc(s.handleLogs)))
	mux.Handle("GET /api/ws/servers/{id}", s.require(http.HandlerFunc(s.handleServerWS)))

	mux.Handle("GET /metrics", promhttp.Handler())
}

// require wraps a handler with bearer-token auth.
func (s *Server) require(next http.Handler) http.Handler {
	return s.authMw.RequireAuth(next)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so websocket upgrades work
// through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hj.Hijack()
}

// logRequests logs each request and records API metrics keyed by route
// pattern rather than raw path to keep label cardinality bounded.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clk.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := s.clk.Since(start)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.RecordAPIRequest(r.Method, pattern, rec.status, elapsed.Seconds())
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.Uptime.Set(s.clk.Since(s.startTime).Seconds())
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        brand.Version,
		"uptime_seconds": int(s.clk.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"name":       brand.Name,
		"version":    brand.Version,
		"build_time": brand.BuildTime,
		"git_commit": brand.GitCommit,
	})
}

// handleStatus reports the connection snapshot of every supervisor.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"servers": s.manager.Snapshots(),
	})
}

// handleLogs returns recent application log entries from the in-memory
// ring buffer.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	entries := logging.GetAppLogBuffer().GetLast(limit)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
