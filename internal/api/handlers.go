package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/compositor"
	"github.com/mattjoyce/wayguard/internal/display"
	"github.com/mattjoyce/wayguard/internal/keybindings"
	"github.com/mattjoyce/wayguard/internal/keymask"
	"github.com/mattjoyce/wayguard/internal/protocol"
	"github.com/mattjoyce/wayguard/internal/spawn"
)

const maxLogEntries = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	grants, err := s.core.Grants(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "compositor unavailable")
		return
	}
	// Disabled keybindings count as zero.
	regs, _ := s.core.Keybindings(r.Context())

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Grants:        len(grants),
		Keybindings:   len(regs),
	})
}

// handleListGrants handles GET /grants.
func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := s.core.Grants(r.Context())
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	if grants == nil {
		grants = []authz.Info{}
	}
	respondJSON(w, http.StatusOK, GrantsResponse{Grants: grants})
}

// handleCreateGrant handles POST /grants. The command runs immediately
// under the new grant.
func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	perms, err := authz.ParsePermissions(req.Permissions)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.core.Grant(r.Context(), req.Name, perms, req.Command)
	if err != nil {
		s.logger.Warn("grant failed", "name", req.Name, "error", err)
		s.writeCoreError(w, err)
		return
	}
	s.logger.Info("grant created via API", "grant_id", info.ID, "name", info.Name)
	respondJSON(w, http.StatusCreated, info)
}

// handleRevokeGrant handles DELETE /grants/{id}.
func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.core.Revoke(r.Context(), id); err != nil {
		s.writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGrantLog handles GET /grants/{id}/log. The grant need not be live.
func (s *Server) handleGrantLog(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxLogEntries)
	}

	id := chi.URLParam(r, "id")
	entries, err := s.audit.List(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to read grant log", "grant_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read grant log")
		return
	}
	if len(entries) == 0 {
		s.writeError(w, http.StatusNotFound, "no log entries for grant")
		return
	}
	respondJSON(w, http.StatusOK, GrantLogResponse{GrantID: id, Entries: entries})
}

// handleListKeybindings handles GET /keybindings.
func (s *Server) handleListKeybindings(w http.ResponseWriter, r *http.Request) {
	regs, err := s.core.Keybindings(r.Context())
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	if regs == nil {
		regs = []keybindings.Info{}
	}
	respondJSON(w, http.StatusOK, KeybindingsResponse{Registrations: regs})
}

// handleInjectKey handles POST /keys, feeding a synthetic key through the
// same path as physical input.
func (s *Server) handleInjectKey(w http.ResponseWriter, r *http.Request) {
	var req InjectKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Key >= keymask.KeyDomain {
		s.writeError(w, http.StatusBadRequest, "key out of range")
		return
	}
	mods, err := keymask.ParseMods(req.Mods)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mods |= req.Mask

	var pressed bool
	switch req.State {
	case "", protocol.KeyStatePressed.String():
		pressed = true
	case protocol.KeyStateReleased.String():
	default:
		s.writeError(w, http.StatusBadRequest, "state must be pressed or released")
		return
	}
	ts := req.Time
	if ts == 0 {
		ts = uint32(time.Now().UnixMilli())
	}

	claimed, err := s.core.InjectKey(r.Context(), req.Key, mods, pressed, ts)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, InjectKeyResponse{
		Claimed: claimed,
		Key:     req.Key,
		Mods:    mods,
		State:   protocol.KeyStateFor(pressed).String(),
	})
}

// writeCoreError maps compositor errors to HTTP statuses.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "grant not found")
	case errors.Is(err, compositor.ErrKeybindingsDisabled):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, authz.ErrResourceExhausted):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, authz.ErrAlreadyExecuted):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, spawn.ErrSpawn):
		s.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, display.ErrClosed), errors.Is(err, authz.ErrRegistryClosed):
		s.writeError(w, http.StatusServiceUnavailable, "compositor shutting down")
	default:
		s.logger.Error("compositor request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
