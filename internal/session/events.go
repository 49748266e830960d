package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// Publisher emits lifecycle events on NATS. A nil connection disables
// publishing, which keeps single-node deployments working without a
// broker.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher creates an event publisher. nc may be nil.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// SessionEvent is the payload published on session subjects.
type SessionEvent struct {
	SessionID string               `json:"sessionId"`
	DeviceMAC string               `json:"deviceMac"`
	RouterID  string               `json:"routerId"`
	Status    models.SessionStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// PublishSession emits session.<id>.<event>, e.g. session.<id>.activated.
func (p *Publisher) PublishSession(event string, s *models.Session, reason string) {
	if p == nil || p.nc == nil {
		return
	}

	payload := SessionEvent{
		SessionID: s.ID.String(),
		DeviceMAC: s.DeviceMAC,
		RouterID:  s.RouterID.String(),
		Status:    s.Status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}

	data, _ := json.Marshal(payload)
	subject := fmt.Sprintf("session.%s.%s", s.ID, event)

	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Msg("Failed to publish session event")
	}
}

// PaymentEvent is the payload published on payment subjects.
type PaymentEvent struct {
	PaymentID string               `json:"paymentId"`
	Reference string               `json:"reference,omitempty"`
	Status    models.PaymentStatus `json:"status"`
	Amount    int64                `json:"amount"`
	Timestamp time.Time            `json:"timestamp"`
}

// PublishPayment emits payment.<id>.<event>.
func (p *Publisher) PublishPayment(event string, payment *models.Payment) {
	if p == nil || p.nc == nil {
		return
	}

	payload := PaymentEvent{
		PaymentID: payment.ID.String(),
		Reference: payment.Reference,
		Status:    payment.Status,
		Amount:    payment.Amount,
		Timestamp: time.Now().UTC(),
	}

	data, _ := json.Marshal(payload)
	subject := fmt.Sprintf("payment.%s.%s", payment.ID, event)

	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Msg("Failed to publish payment event")
	}
}
