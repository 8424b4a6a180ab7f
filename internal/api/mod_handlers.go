package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"grimm.is/zedctl/internal/brand"
	"grimm.is/zedctl/internal/modlist"
	"grimm.is/zedctl/internal/reconcile"
	"grimm.is/zedctl/internal/store"
	"grimm.is/zedctl/internal/supervisor"
	"grimm.is/zedctl/internal/workshop"
)

func (s *Server) handleListMods(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	mods, err := s.store.GetMods(srv.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load mods", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"mods": mods})
}

type addModRequest struct {
	WorkshopID string   `json:"workshop_id"`
	URL        string   `json:"workshop_url,omitempty"`
	ModIDs     []string `json:"mod_ids,omitempty"`
	Name       string   `json:"name,omitempty"`
	Enabled    bool     `json:"enabled"`
}

func (s *Server) handleAddMod(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}

	var req addModRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := req.WorkshopID
	if input == "" {
		input = req.URL
	}
	wid, err := workshop.ExtractID(input)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid workshop id or url")
		return
	}

	entry := &modlist.Entry{
		WorkshopID: wid,
		ModIDs:     modlist.SplitIDs(strings.Join(req.ModIDs, ";")),
		Name:       req.Name,
	}

	// Fill in metadata from the Workshop page when the caller did not
	// provide mod ids.
	if len(entry.ModIDs) == 0 && s.resolver != nil {
		mod, err := s.resolver.Resolve(r.Context(), wid)
		if err != nil {
			s.metrics.ResolverErrors.WithLabelValues(resolverErrorKind(err)).Inc()
			WriteError(w, http.StatusBadGateway, "failed to resolve workshop item", err.Error())
			return
		}
		entry.ModIDs = mod.ModIDs
		if entry.Name == "" {
			entry.Name = mod.Name
		}
	}

	if req.Enabled {
		entry.SetEnabled(entry.ModIDs)
	}
	if err := entry.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpsertMod(srv.ID, entry, req.URL); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to save mod", err.Error())
		return
	}

	s.log.Audit("add", "mod", map[string]any{"server": srv.ID, "workshop": wid})
	WriteJSON(w, http.StatusCreated, entry)
}

type updateModRequest struct {
	Name          *string  `json:"name,omitempty"`
	Enabled       *bool    `json:"enabled,omitempty"`
	EnabledModIDs []string `json:"enabled_mod_ids,omitempty"`
}

func (s *Server) handleUpdateMod(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	wid := r.PathValue("workshop")

	mods, err := s.store.GetMods(srv.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load mods", err.Error())
		return
	}
	entry := modlist.FindEntry(mods, wid)
	if entry == nil {
		WriteError(w, http.StatusNotFound, "mod not found")
		return
	}

	var req updateModRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Name != nil {
		entry.Name = *req.Name
	}
	switch {
	case req.EnabledModIDs != nil:
		entry.SetEnabled(req.EnabledModIDs)
	case req.Enabled != nil && *req.Enabled:
		entry.SetEnabled(entry.ModIDs)
	case req.Enabled != nil:
		entry.SetEnabled(nil)
	}

	if err := s.store.UpsertMod(srv.ID, entry, ""); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to save mod", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteMod(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	wid := r.PathValue("workshop")

	if err := s.store.DeleteMod(srv.ID, wid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "mod not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to delete mod", err.Error())
		return
	}

	s.log.Audit("delete", "mod", map[string]any{"server": srv.ID, "workshop": wid})
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type parseModRequest struct {
	Input string `json:"input"`
}

// handleModParse resolves a workshop id or page URL to mod metadata
// without touching any server.
func (s *Server) handleModParse(w http.ResponseWriter, r *http.Request) {
	var req parseModRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	mod, err := s.resolver.Resolve(r.Context(), req.Input)
	if err != nil {
		s.metrics.ResolverErrors.WithLabelValues(resolverErrorKind(err)).Inc()
		switch {
		case errors.Is(err, workshop.ErrParse):
			WriteError(w, http.StatusBadRequest, "invalid workshop id or url")
		case errors.Is(err, workshop.ErrNotFound):
			WriteError(w, http.StatusNotFound, "workshop item not found")
		case errors.Is(err, workshop.ErrRateLimited):
			WriteError(w, http.StatusTooManyRequests, "workshop rate limited, retry later")
		default:
			WriteError(w, http.StatusBadGateway, "failed to resolve workshop item", err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, mod)
}

type syncRequest struct {
	DisableMissing bool `json:"disable_missing"`
}

// handleModSync reads the live server's mod configuration and folds it
// into the stored set, resolving unknown workshop items.
func (s *Server) handleModSync(w http.ResponseWriter, r *http.Request) {
	srv, sup, ok := s.lookupConnected(w, r)
	if !ok {
		return
	}

	var req syncRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	local, err := s.store.GetMods(srv.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load mods", err.Error())
		return
	}

	merged, result, err := reconcile.Sync(r.Context(), sup, local, reconcile.Options{
		Resolver:        s.resolver,
		DisableMissing:  req.DisableMissing,
		PolitenessDelay: s.cfg.PolitenessDelay(),
		Clock:           s.clk,
		Hub:             s.hub,
		ServerID:        srv.ID,
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.SyncRunsTotal.WithLabelValues(srv.ID, outcome).Inc()

	if err != nil {
		WriteError(w, http.StatusBadGateway, "sync failed", err.Error())
		return
	}

	if err := s.store.SaveMods(srv.ID, merged); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to persist synced mods", err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"result": result,
		"mods":   merged,
	})
}

// handleModApply writes the stored mod configuration to the live server
// via changeoption commands.
func (s *Server) handleModApply(w http.ResponseWriter, r *http.Request) {
	srv, sup, ok := s.lookupConnected(w, r)
	if !ok {
		return
	}

	local, err := s.store.GetMods(srv.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load mods", err.Error())
		return
	}

	result, err := reconcile.Apply(r.Context(), sup, local, reconcile.Options{
		Clock:    s.clk,
		Hub:      s.hub,
		ServerID: srv.ID,
	})
	sup.InvalidateOptionsCache()

	if err != nil {
		WriteJSON(w, http.StatusBadGateway, map[string]interface{}{
			"result": result,
			"error":  err.Error(),
		})
		return
	}

	s.log.Audit("apply", "mods", map[string]any{"server": srv.ID, "mods": result.ModCount})
	WriteJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// modExport is the portable mod list document shape.
type modExport struct {
	Application string           `json:"application"`
	ServerName  string           `json:"server_name"`
	ExportedAt  time.Time        `json:"exported_at"`
	Mods        []*modlist.Entry `json:"mods"`
}

func (s *Server) handleModExport(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	mods, err := s.store.GetMods(srv.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load mods", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, modExport{
		Application: brand.LowerName,
		ServerName:  srv.Name,
		ExportedAt:  s.clk.Now().UTC(),
		Mods:        mods,
	})
}

// importRequest accepts the modExport document shape directly, so an
// exported file can be posted back unchanged.
type importRequest struct {
	Application string           `json:"application,omitempty"`
	ServerName  string           `json:"server_name,omitempty"`
	ExportedAt  time.Time        `json:"exported_at,omitempty"`
	Mods        []*modlist.Entry `json:"mods"`
	Replace     bool             `json:"replace,omitempty"`
}

// handleModImport merges an exported mod document into the stored set.
// Imported entries overwrite stored ones with the same workshop id;
// with replace set, entries absent from the document are removed.
func (s *Server) handleModImport(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return
	}

	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Mods) == 0 && !req.Replace {
		WriteError(w, http.StatusBadRequest, "no mods in import document")
		return
	}
	for _, entry := range req.Mods {
		if err := entry.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if req.Replace {
		if err := s.store.SaveMods(srv.ID, req.Mods); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to import mods", err.Error())
			return
		}
	} else {
		for _, entry := range req.Mods {
			if err := s.store.UpsertMod(srv.ID, entry, ""); err != nil {
				WriteError(w, http.StatusInternalServerError, "failed to import mods", err.Error())
				return
			}
		}
	}

	mods, err := s.store.GetMods(srv.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load mods", err.Error())
		return
	}

	s.log.Audit("import", "mods", map[string]any{"server": srv.ID, "count": len(req.Mods)})
	WriteJSON(w, http.StatusOK, map[string]interface{}{"mods": mods, "imported": len(req.Mods)})
}

func resolverErrorKind(err error) string {
	switch {
	case errors.Is(err, workshop.ErrNotFound):
		return "not_found"
	case errors.Is(err, workshop.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, workshop.ErrParse):
		return "parse"
	default:
		return "other"
	}
}

// lookupConnected resolves both the stored server and its live
// supervisor.
func (s *Server) lookupConnected(w http.ResponseWriter, r *http.Request) (*store.Server, *supervisor.Supervisor, bool) {
	srv, ok := s.lookupServer(w, r)
	if !ok {
		return nil, nil, false
	}
	sup, exists := s.manager.Get(srv.ID)
	if !exists {
		WriteError(w, http.StatusConflict, "server is not connected")
		return nil, nil, false
	}
	return srv, sup, true
}
