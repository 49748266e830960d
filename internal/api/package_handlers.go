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

// ========== Package handlers ==========

// HandleListPackages lists all packages, including inactive ones
func (s *RESTServer) HandleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.store.ListPackages(r.Context(), false)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"packages": packages,
		"total":    len(packages),
	})
}

// HandleCreatePackage creates a package
func (s *RESTServer) HandleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name" validate:"required,min=2,max=100"`
		Description     string `json:"description"`
		DurationMinutes int    `json:"durationMinutes" validate:"required,min=1"`
		Price           int64  `json:"price"`
		IsActive        *bool  `json:"isActive"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Price < 0 {
		s.respondError(w, http.StatusBadRequest, "price must not be negative")
		return
	}

	pkg := &models.Package{
		Name:            req.Name,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Price:           req.Price,
		IsActive:        true,
	}
	if req.IsActive != nil {
		pkg.IsActive = *req.IsActive
	}

	if err := s.store.CreatePackage(r.Context(), pkg); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "package already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, pkg)
}

// HandleGetPackage gets a package
func (s *RESTServer) HandleGetPackage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}

	pkg, err := s.store.GetPackage(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "package not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, pkg)
}

// HandleUpdatePackage updates a package
func (s *RESTServer) HandleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}

	var req struct {
		Name            string `json:"name" validate:"required,min=2,max=100"`
		Description     string `json:"description"`
		DurationMinutes int    `json:"durationMinutes" validate:"required,min=1"`
		Price           int64  `json:"price"`
		IsActive        *bool  `json:"isActive"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Price < 0 {
		s.respondError(w, http.StatusBadRequest, "price must not be negative")
		return
	}

	pkg, err := s.store.GetPackage(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "package not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pkg.Name = req.Name
	pkg.Description = req.Description
	pkg.DurationMinutes = req.DurationMinutes
	pkg.Price = req.Price
	if req.IsActive != nil {
		pkg.IsActive = *req.IsActive
	}

	if err := s.store.UpdatePackage(r.Context(), pkg); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, pkg)
}

// HandleDeletePackage deletes a package
func (s *RESTServer) HandleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}

	if err := s.store.DeletePackage(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "package not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
