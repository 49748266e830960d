package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/payment"
)

// webhookPayload is what gateways post back. Field names differ per
// provider, so several aliases map onto reference and status.
type webhookPayload struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`

	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	State         string `json:"state"`

	Signature string `json:"signature"`
}

func (p *webhookPayload) reference() string {
	switch {
	case p.Reference != "":
		return p.Reference
	case p.TransactionID != "":
		return p.TransactionID
	default:
		return p.OrderID
	}
}

func (p *webhookPayload) status() string {
	switch {
	case p.Status != "":
		return p.Status
	case p.PaymentStatus != "":
		return p.PaymentStatus
	default:
		return p.State
	}
}

// HandlePaymentWebhook receives gateway settlement callbacks. The
// signature is computed over the raw body, so the body is read before
// any JSON decoding.
func (s *RESTServer) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		signature = payload.Signature
	}
	if !s.gateway.VerifySignature(body, signature) {
		log.Warn().
			Str("reference", payload.reference()).
			Msg("Webhook rejected: bad signature")
		s.respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	reference := payload.reference()
	if reference == "" {
		s.respondError(w, http.StatusBadRequest, "missing payment reference")
		return
	}

	pmt, err := s.reconciler.Reconcile(r.Context(), reference, payload.status())
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			s.respondError(w, http.StatusNotFound, "unknown payment reference")
			return
		}
		log.Error().
			Err(err).
			Str("reference", reference).
			Msg("Webhook reconciliation failed")
		s.respondError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"reference": pmt.Reference,
		"status":    pmt.Status,
	})
}
