package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

// HandleListEvents lists event log entries with optional filters
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	var filters storage.EventLogFilters
	if v := r.URL.Query().Get("session_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid session_id filter")
			return
		}
		filters.SessionID = &id
	}
	if v := r.URL.Query().Get("router_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid router_id filter")
			return
		}
		filters.RouterID = &id
	}
	if v := r.URL.Query().Get("type"); v != "" {
		eventType := models.EventType(v)
		filters.Type = &eventType
	}
	if v := r.URL.Query().Get("level"); v != "" {
		level := models.EventLevel(v)
		filters.Level = &level
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start_time filter")
			return
		}
		filters.StartTime = &t
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end_time filter")
			return
		}
		filters.EndTime = &t
	}

	events, total, err := s.store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}
