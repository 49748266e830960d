package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

// ========== Payment handlers ==========

// HandleListPayments lists payments
func (s *RESTServer) HandleListPayments(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	payments, total, err := s.store.ListPayments(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"total":    total,
	})
}

// HandleGetPayment gets a payment
func (s *RESTServer) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	payment, err := s.store.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "payment not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, payment)
}

// ========== Voucher handlers ==========

// HandleListVouchers lists vouchers
func (s *RESTServer) HandleListVouchers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	vouchers, total, err := s.store.ListVouchers(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"vouchers": vouchers,
		"total":    total,
	})
}

// HandleCreateVoucher issues one or more vouchers for a package
func (s *RESTServer) HandleCreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PackageID string `json:"packageId" validate:"required"`
		Count     int    `json:"count" validate:"omitempty,min=1,max=100"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	packageID, err := uuid.Parse(req.PackageID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}

	count := req.Count
	if count == 0 {
		count = 1
	}

	vouchers := make([]interface{}, 0, count)
	for i := 0; i < count; i++ {
		v, err := s.vouchers.Create(r.Context(), packageID, nil)
		if err != nil {
			s.respondVoucherError(w, err)
			return
		}
		vouchers = append(vouchers, v)
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"vouchers": vouchers,
		"total":    len(vouchers),
	})
}
