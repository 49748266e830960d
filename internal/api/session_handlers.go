package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

// ========== Session handlers ==========

// HandleListSessions lists sessions with optional filters
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := parsePagination(r)

	var filters storage.SessionFilters
	if v := r.URL.Query().Get("status"); v != "" {
		status := models.SessionStatus(v)
		filters.Status = &status
	}
	if v := r.URL.Query().Get("router_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid router_id filter")
			return
		}
		filters.RouterID = &id
	}
	if v := r.URL.Query().Get("device_mac"); v != "" {
		filters.DeviceMAC = &v
	}

	sessions, total, err := s.store.ListSessions(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    total,
	})
}

// HandleGetSession gets a session
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, session)
}

// HandleTerminateSession ends a session
func (s *RESTServer) HandleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional
	json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "terminated by administrator"
	}

	if err := s.sessions.TerminateSession(r.Context(), id, req.Reason); err != nil {
		s.respondSessionError(w, err)
		return
	}

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, session)
}

// HandleSuspendSession pauses a session
func (s *RESTServer) HandleSuspendSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := s.sessions.SuspendSession(r.Context(), id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, session)
}

// HandleResumeSession resumes a suspended session
func (s *RESTServer) HandleResumeSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := s.sessions.ResumeSession(r.Context(), id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, session)
}

// HandleExtendSession grants additional minutes without payment
func (s *RESTServer) HandleExtendSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req struct {
		Minutes int `json:"minutes" validate:"required,min=1"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.sessions.ExtendSession(r.Context(), id, req.Minutes)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, session)
}
