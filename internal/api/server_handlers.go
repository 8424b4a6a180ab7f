package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grimm.is/zedctl/internal/reconcile"
	"grimm.is/zedctl/internal/rcon"
	"grimm.is/zedctl/internal/store"
	"grimm.is/zedctl/internal/supervisor"
)

type serverRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Active   *bool  `json:"is_active"`
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list servers", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"servers": servers})
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Host == "" {
		WriteError(w, http.StatusBadRequest, "name and host are required")
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		WriteError(w, http.StatusBadRequest, "port must be between 1 and 65535")
		return
	}

	username, password, err := s.sealCredentials(req.Username, req.Password)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to encrypt credentials")
		return
	}

	srv := &store.Server{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: username,
		Password: password,
		Active:   req.Active == nil || *req.Active,
	}
	if err := s.store.CreateServer(srv); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			WriteError(w, http.StatusConflict, "a server with that name already exists")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to create server", err.Error())
		return
	}

	s.log.Audit("create", "server", map[string]any{"id": srv.ID, "name": srv.Name})
	WriteJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, srv)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}

	var req serverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Name != "" {
		srv.Name = req.Name
	}
	if req.Host != "" {
		srv.Host = req.Host
	}
	if req.Port != 0 {
		if req.Port < 1 || req.Port > 65535 {
			WriteError(w, http.StatusBadRequest, "port must be between 1 and 65535")
			return
		}
		srv.Port = req.Port
	}
	if req.Active != nil {
		srv.Active = *req.Active
	}
	// Empty credential fields keep the stored values.
	if req.Username != "" || req.Password != "" {
		username, password, err := s.sealCredentials(req.Username, req.Password)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to encrypt credentials")
			return
		}
		if req.Username != "" {
			srv.Username = username
		}
		if req.Password != "" {
			srv.Password = password
		}
	}

	if err := s.store.UpdateServer(srv); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to update server", err.Error())
		return
	}

	s.log.Audit("update", "server", map[string]any{"id": srv.ID})
	WriteJSON(w, http.StatusOK, srv)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}

	s.manager.Disconnect(srv.ID)
	if err := s.store.DeleteServer(srv.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to delete server", err.Error())
		return
	}

	s.log.Audit("delete", "server", map[string]any{"id": srv.ID, "name": srv.Name})
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}

	cfg, err := s.supervisorConfig(srv)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to decrypt credentials", err.Error())
		return
	}

	sup, err := s.manager.Connect(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, rcon.ErrAuth) {
			s.metrics.AuthFailuresTotal.WithLabelValues(srv.ID).Inc()
			WriteError(w, http.StatusUnauthorized, "rcon authentication failed")
			return
		}
		// The supervisor keeps retrying in the background; report the
		// first attempt's outcome but include the current state.
		WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": sup.Status(),
			"error":  err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": sup.Status()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	s.manager.Disconnect(srv.ID)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.lookupSupervisor(w, r)
	if !ok {
		return
	}
	sup.ReconnectNow()
	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": sup.Status()})
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	sup, exists := s.manager.Get(srv.ID)
	if !exists {
		WriteJSON(w, http.StatusOK, supervisor.Snapshot{
			ServerID: srv.ID,
			State:    supervisor.StateDisconnected,
		})
		return
	}
	WriteJSON(w, http.StatusOK, sup.Status())
}

type executeRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.lookupSupervisor(w, r)
	if !ok {
		return
	}

	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		WriteError(w, http.StatusBadRequest, "command is required")
		return
	}

	out, err := sup.Execute(r.Context(), req.Command, time.Duration(req.Timeout)*time.Second)

	entry := &store.CommandEntry{
		ServerID: sup.Status().ServerID,
		Command:  req.Command,
		Response: out,
		Success:  err == nil,
	}
	if err != nil {
		entry.ErrorMsg = err.Error()
	}
	if logErr := s.store.LogCommand(entry); logErr != nil {
		s.log.Warn("failed to record command", "error", logErr)
	}

	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, supervisor.ErrNotConnected) {
			code = http.StatusConflict
		}
		WriteError(w, code, "command failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"response": out})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.lookupSupervisor(w, r)
	if !ok {
		return
	}

	out, err := sup.Execute(r.Context(), "showoptions", 0)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, supervisor.ErrNotConnected) {
			code = http.StatusConflict
		}
		WriteError(w, code, "failed to read server options", err.Error())
		return
	}

	opts := reconcile.ParseServerOptions(out)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"options":        opts.Values,
		"order":          opts.Order,
		"mods":           opts.Mods(),
		"workshop_items": opts.WorkshopItems(),
	})
}

func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	entries, err := s.store.CommandHistory(srv.ID, intQuery(r, "limit", 50))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read command history", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.lookupSupervisor(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, sup.Players())
}

func (s *Server) handlePlayerHistory(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	if s.recorder == nil {
		WriteError(w, http.StatusServiceUnavailable, "player history is not enabled")
		return
	}

	hours := intQuery(r, "hours", 24)
	var (
		points interface{}
		err    error
	)
	if hours <= 48 {
		points, err = s.recorder.RecentSamples(srv.ID, time.Duration(hours)*time.Hour)
	} else {
		points, err = s.recorder.HourlyPeaks(srv.ID, (hours+23)/24)
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read player history", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"points": points, "hours": hours})
}

func (s *Server) handleServerEvents(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.history.ForServer(srv.ID),
	})
}

// lookupServer resolves the {id} path value, writing the error response
// on failure.
func (s *Server) lookupServer(w http.ResponseWriter, r *http.Request) (*store.Server, bool) {
	srv, err := s.store.GetServer(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "server not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "failed to load server", err.Error())
		}
		return nil, false
	}
	return srv, true
}

// lookupSupervisor resolves the {id} path value to a live supervisor.
func (s *Server) lookupSupervisor(w http.ResponseWriter, r *http.Request) (*supervisor.Supervisor, bool) {
	_, sup, ok := s.lookupConnected(w, r)
	return sup, ok
}

// supervisorConfig builds the supervision config for a stored server,
// decrypting its credentials.
func (s *Server) supervisorConfig(srv *store.Server) (supervisor.Config, error) {
	username, err := s.box.Decrypt(srv.Username)
	if err != nil {
		return supervisor.Config{}, err
	}
	password, err := s.box.Decrypt(srv.Password)
	if err != nil {
		return supervisor.Config{}, err
	}
	return supervisor.Config{
		ServerID:       srv.ID,
		Host:           srv.Host,
		Port:           srv.Port,
		Username:       username,
		Password:       password,
		PollInterval:   s.cfg.PollInterval(),
		CommandTimeout: s.cfg.CommandTimeout(),
		DialTimeout:    s.cfg.DialTimeout(),
		QuietPeriod:    s.cfg.QuietPeriod(),
	}, nil
}

func (s *Server) sealCredentials(username, password string) (string, string, error) {
	u, err := s.box.Encrypt(username)
	if err != nil {
		return "", "", err
	}
	p, err := s.box.Encrypt(password)
	if err != nil {
		return "", "", err
	}
	return u, p, nil
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
