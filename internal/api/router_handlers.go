package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

// ========== Router handlers ==========

// HandleListRouters lists routers
func (s *RESTServer) HandleListRouters(w http.ResponseWriter, r *http.Request) {
	routers, err := s.store.ListRouters(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"routers": routers,
		"total":   len(routers),
	})
}

// HandleCreateRouter creates a router
func (s *RESTServer) HandleCreateRouter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name" validate:"required,min=2,max=100"`
		IPAddress  string `json:"ipAddress" validate:"required"`
		MACAddress string `json:"macAddress" validate:"omitempty,mac"`
		Location   string `json:"location"`
		Username   string `json:"username" validate:"required"`
		Password   string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	router := &models.Router{
		Name:       req.Name,
		IPAddress:  req.IPAddress,
		MACAddress: req.MACAddress,
		Location:   req.Location,
		Status:     models.RouterOffline,
		Username:   req.Username,
		Password:   req.Password,
	}

	if err := s.store.CreateRouter(r.Context(), router); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "router already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// First probe decides the initial status.
	s.probeRouter(r.Context(), router)

	s.respondJSON(w, http.StatusCreated, router)
}

// HandleGetRouter gets a router
func (s *RESTServer) HandleGetRouter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid router id")
		return
	}

	router, err := s.store.GetRouter(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "router not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, router)
}

// HandleUpdateRouter updates a router
func (s *RESTServer) HandleUpdateRouter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid router id")
		return
	}

	var req struct {
		Name      string  `json:"name" validate:"required,min=2,max=100"`
		IPAddress string  `json:"ipAddress" validate:"required"`
		Location  string  `json:"location"`
		Username  *string `json:"username"`
		Password  *string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	router, err := s.store.GetRouter(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "router not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	router.Name = req.Name
	router.IPAddress = req.IPAddress
	router.Location = req.Location
	if req.Username != nil {
		router.Username = *req.Username
	}
	if req.Password != nil {
		router.Password = *req.Password
	}

	if err := s.store.UpdateRouter(r.Context(), router); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Credentials or address may have changed.
	s.routers.Forget(router.ID)

	s.respondJSON(w, http.StatusOK, router)
}

// HandleDeleteRouter deletes a router
func (s *RESTServer) HandleDeleteRouter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid router id")
		return
	}

	if err := s.store.DeleteRouter(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "router not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.routers.Forget(id)

	w.WriteHeader(http.StatusNoContent)
}

// HandleProbeRouter checks reachability and refreshes router status
func (s *RESTServer) HandleProbeRouter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid router id")
		return
	}

	router, err := s.store.GetRouter(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "router not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	info := s.probeRouter(r.Context(), router)

	resp := map[string]interface{}{
		"router": router,
	}
	if info != nil {
		resp["info"] = info
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// HandleRouterActiveUsers lists the hotspot active table as the router
// reports it
func (s *RESTServer) HandleRouterActiveUsers(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid router id")
		return
	}

	router, err := s.store.GetRouter(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "router not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	users, err := s.routers.Controller(router).ActiveUsers(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": len(users),
	})
}

// probeRouter pings the router, persists the status change and logs a
// transition event. Returns router info when reachable.
func (s *RESTServer) probeRouter(ctx context.Context, router *models.Router) interface{} {
	ctrl := s.routers.Controller(router)

	previous := router.Status
	info, err := ctrl.Info(ctx)
	if err != nil {
		router.Status = models.RouterOffline
	} else {
		router.Status = models.RouterOnline
		now := time.Now().UTC()
		router.LastSeenAt = &now
	}

	if err := s.store.UpdateRouter(ctx, router); err != nil {
		log.Warn().Err(err).Str("router", router.Name).Msg("Failed to persist router status")
	}

	if previous != router.Status {
		eventType := models.EventTypeRouterUp
		level := models.EventLevelInfo
		description := "Router " + router.Name + " is online"
		if router.Status == models.RouterOffline {
			eventType = models.EventTypeRouterDown
			level = models.EventLevelWarning
			description = "Router " + router.Name + " is offline"
		}
		event := &models.EventLog{
			RouterID:    &router.ID,
			Type:        eventType,
			Level:       level,
			Description: description,
		}
		if err := s.store.CreateEventLog(ctx, event); err != nil {
			log.Warn().Err(err).Str("router", router.Name).Msg("Failed to write router event")
		}
	}

	if info == nil {
		return nil
	}
	return info
}
