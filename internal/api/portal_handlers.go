package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/session"
	"github.com/netflow-hotspot/netflow-server/internal/validation"
	"github.com/netflow-hotspot/netflow-server/internal/voucher"
)

// ========== Captive portal handlers ==========

// HandlePortalPackages lists packages available for purchase
func (s *RESTServer) HandlePortalPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.store.ListPackages(r.Context(), true)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type portalPackage struct {
		*models.Package
		Duration string `json:"duration"`
	}

	out := make([]portalPackage, 0, len(packages))
	for _, pkg := range packages {
		out = append(out, portalPackage{Package: pkg, Duration: pkg.DurationText()})
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"packages": out,
	})
}

// HandlePortalStatus reports the device's current grant, if any
func (s *RESTServer) HandlePortalStatus(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	if !validation.ValidMAC(mac) {
		s.respondError(w, http.StatusBadRequest, "invalid MAC address")
		return
	}
	mac = validation.NormalizeMAC(mac)

	sess, err := s.sessions.GetActiveSession(r.Context(), mac)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.respondJSON(w, http.StatusOK, map[string]interface{}{
				"connected": false,
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"connected": sess.Status == models.SessionActive,
		"session":   sess,
	}
	if sess.Status == models.SessionActive {
		resp["remainingSeconds"] = int(sess.TimeRemaining(time.Now().UTC()).Seconds())
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// HandlePortalPurchase opens a session and pushes a mobile-money
// charge to the customer's phone
func (s *RESTServer) HandlePortalPurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceMAC   string  `json:"deviceMac" validate:"required,mac"`
		DeviceName  string  `json:"deviceName"`
		IPAddress   *string `json:"ipAddress"`
		RouterID    string  `json:"routerId" validate:"required"`
		PackageID   string  `json:"packageId" validate:"required"`
		PhoneNumber string  `json:"phoneNumber" validate:"required,phone"`
		Method      string  `json:"method" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	routerID, err := uuid.Parse(req.RouterID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid router id")
		return
	}
	packageID, err := uuid.Parse(req.PackageID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}

	method := models.PaymentMethod(req.Method)
	if !models.ValidPaymentMethod(method) {
		s.respondError(w, http.StatusBadRequest, "unsupported payment method")
		return
	}

	pkg, err := s.store.GetPackage(r.Context(), packageID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "package not found")
		return
	}

	sess, err := s.sessions.CreateSession(r.Context(), session.CreateSessionInput{
		DeviceMAC:  validation.NormalizeMAC(req.DeviceMAC),
		DeviceName: req.DeviceName,
		IPAddress:  req.IPAddress,
		RouterID:   routerID,
		PackageID:  packageID,
	})
	if err != nil {
		s.respondSessionError(w, err)
		return
	}

	pmt, err := s.reconciler.Initiate(r.Context(), sess, pkg, req.PhoneNumber, method)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, "payment initiation failed")
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session": sess,
		"payment": pmt,
	})
}

// HandlePortalExtend buys additional time for an active session
func (s *RESTServer) HandlePortalExtend(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req struct {
		PackageID   string `json:"packageId" validate:"required"`
		PhoneNumber string `json:"phoneNumber" validate:"required,phone"`
		Method      string `json:"method" validate:"required"`
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

	method := models.PaymentMethod(req.Method)
	if !models.ValidPaymentMethod(method) {
		s.respondError(w, http.StatusBadRequest, "unsupported payment method")
		return
	}

	sess, pmt, err := s.reconciler.InitiateExtension(r.Context(), sessionID, packageID, req.PhoneNumber, method)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session": sess,
		"payment": pmt,
	})
}

// HandleVoucherDetails shows a voucher's package without redeeming it
func (s *RESTServer) HandleVoucherDetails(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	v, pkg, err := s.vouchers.Details(r.Context(), code)
	if err != nil {
		s.respondVoucherError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"code":      v.Code,
		"package":   pkg,
		"duration":  pkg.DurationText(),
		"expiresAt": v.ExpiresAt,
		"redeemed":  v.Redeemed(),
	})
}

// HandleVoucherRedeem exchanges a voucher for immediate access
func (s *RESTServer) HandleVoucherRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code       string  `json:"code" validate:"required,voucher"`
		DeviceMAC  string  `json:"deviceMac" validate:"required,mac"`
		DeviceName string  `json:"deviceName"`
		IPAddress  *string `json:"ipAddress"`
		RouterID   string  `json:"routerId" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	routerID, err := uuid.Parse(req.RouterID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid router id")
		return
	}

	sess, err := s.vouchers.Redeem(r.Context(), voucher.RedeemInput{
		Code:       req.Code,
		DeviceMAC:  validation.NormalizeMAC(req.DeviceMAC),
		DeviceName: req.DeviceName,
		IPAddress:  req.IPAddress,
		RouterID:   routerID,
	})
	if err != nil {
		s.respondVoucherError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session":          sess,
		"remainingSeconds": int(sess.TimeRemaining(time.Now().UTC()).Seconds()),
	})
}

// respondSessionError maps lifecycle errors onto HTTP statuses.
func (s *RESTServer) respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrPackageNotFound),
		errors.Is(err, session.ErrRouterNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrDuplicateActiveSession):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrPackageInactive),
		errors.Is(err, session.ErrSessionNotActive),
		errors.Is(err, session.ErrSessionNotSuspended),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrInvalidStateTransition):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrRouterOffline),
		errors.Is(err, session.ErrDeviceNotPresent):
		s.respondError(w, http.StatusPreconditionFailed, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondVoucherError maps voucher errors onto HTTP statuses.
func (s *RESTServer) respondVoucherError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voucher.ErrVoucherNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, voucher.ErrVoucherRedeemed),
		errors.Is(err, voucher.ErrVoucherExpired):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.respondSessionError(w, err)
	}
}
