package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/session"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
	"github.com/netflow-hotspot/netflow-server/pkg/crypto"
)

var ErrPaymentNotFound = errors.New("payment not found")

// Reconciler converges local payment records with gateway outcomes.
// Webhooks are the fast path; the poller covers references whose
// webhook never arrived. Both paths funnel through Reconcile, which is
// idempotent on terminal payments.
type Reconciler struct {
	store    storage.Store
	gateway  *Gateway
	sessions *session.Manager
	pub      *session.Publisher

	pollInterval time.Duration
	pollGrace    time.Duration
}

// NewReconciler creates a reconciler.
func NewReconciler(store storage.Store, gateway *Gateway, sessions *session.Manager, pub *session.Publisher, pollInterval, pollGrace time.Duration) *Reconciler {
	if pollInterval == 0 {
		pollInterval = 2 * time.Minute
	}
	if pollGrace == 0 {
		pollGrace = time.Minute
	}
	return &Reconciler{
		store:        store,
		gateway:      gateway,
		sessions:     sessions,
		pub:          pub,
		pollInterval: pollInterval,
		pollGrace:    pollGrace,
	}
}

// Initiate records a PENDING payment for the session and pushes the
// charge to the gateway. The amount is captured from the package now,
// so later price changes never affect this payment. If the gateway is
// unreachable the payment is failed and the session terminated.
func (r *Reconciler) Initiate(ctx context.Context, sess *models.Session, pkg *models.Package, phoneNumber string, method models.PaymentMethod) (*models.Payment, error) {
	if !models.ValidPaymentMethod(method) {
		return nil, fmt.Errorf("%w: unsupported payment method %q", storage.ErrInvalidData, method)
	}
	return r.initiateForSession(ctx, sess, pkg, phoneNumber, method)
}

// InitiateExtension charges for extra time on an already ACTIVE
// session. The session keeps running while the charge settles; on
// completion the package's duration is added to the expiry.
func (r *Reconciler) InitiateExtension(ctx context.Context, sessionID, packageID uuid.UUID, phoneNumber string, method models.PaymentMethod) (*models.Session, *models.Payment, error) {
	if !models.ValidPaymentMethod(method) {
		return nil, nil, fmt.Errorf("%w: unsupported payment method %q", storage.ErrInvalidData, method)
	}

	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, session.ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("get session: %w", err)
	}
	if sess.Status != models.SessionActive {
		return nil, nil, session.ErrSessionNotActive
	}

	pkg, err := r.store.GetPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, session.ErrPackageNotFound
		}
		return nil, nil, fmt.Errorf("get package: %w", err)
	}
	if !pkg.IsActive {
		return nil, nil, session.ErrPackageInactive
	}

	pmt, err := r.initiateForSession(ctx, sess, pkg, phoneNumber, method)
	if err != nil {
		return nil, nil, err
	}
	return sess, pmt, nil
}

func (r *Reconciler) initiateForSession(ctx context.Context, sess *models.Session, pkg *models.Package, phoneNumber string, method models.PaymentMethod) (*models.Payment, error) {
	reference, err := newReference()
	if err != nil {
		return nil, fmt.Errorf("generate reference: %w", err)
	}

	pmt := &models.Payment{
		SessionID:   &sess.ID,
		PackageID:   pkg.ID,
		Amount:      pkg.Price,
		Method:      method,
		PhoneNumber: FormatPhoneNumber(phoneNumber),
		Reference:   reference,
		Status:      models.PaymentPending,
	}
	if err := r.store.CreatePayment(ctx, pmt); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	r.logEvent(ctx, pmt, models.EventTypePaymentInitiated, models.EventLevelInfo,
		fmt.Sprintf("Payment of %d initiated via %s", pmt.Amount, pmt.Method))
	r.pub.PublishPayment("initiated", pmt)

	resp, err := r.gateway.Initiate(ctx, InitiateRequest{
		Amount:      pmt.Amount,
		PhoneNumber: pmt.PhoneNumber,
		Method:      method,
		Reference:   reference,
		Description: fmt.Sprintf("WiFi access: %s", pkg.Name),
	})
	if err != nil {
		r.fail(ctx, pmt, fmt.Sprintf("gateway initiation failed: %v", err))
		return nil, err
	}

	// Some gateways assign their own transaction ID; that becomes the
	// reference webhooks will carry.
	if resp.TransactionID != "" && resp.TransactionID != pmt.Reference {
		pmt.Reference = resp.TransactionID
		if err := r.store.UpdatePayment(ctx, pmt); err != nil {
			return nil, fmt.Errorf("update payment reference: %w", err)
		}
	}

	if !resp.Success {
		r.fail(ctx, pmt, fmt.Sprintf("gateway rejected payment: %s", resp.Message))
		return pmt, nil
	}

	return pmt, nil
}

// Reconcile applies a gateway status to the payment with the given
// reference. Terminal payments are never changed again: the store's
// conditional settle keeps the transition single-shot even when a
// webhook and a poll race for the same reference, so replays are
// harmless.
func (r *Reconciler) Reconcile(ctx context.Context, reference, rawStatus string) (*models.Payment, error) {
	pmt, err := r.store.GetPaymentByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	if pmt.Status.IsTerminal() {
		log.Debug().
			Str("reference", reference).
			Str("status", string(pmt.Status)).
			Msg("Payment already settled, ignoring update")
		return pmt, nil
	}

	switch ClassifyStatus(rawStatus) {
	case models.PaymentCompleted:
		return r.complete(ctx, pmt)

	case models.PaymentFailed:
		r.fail(ctx, pmt, fmt.Sprintf("gateway reported %q", rawStatus))
		return pmt, nil

	default:
		// Still pending on the gateway side.
		return pmt, nil
	}
}

// Start runs the poll loop for payments whose webhook went missing.
func (r *Reconciler) Start(ctx context.Context) {
	log.Info().
		Dur("interval", r.pollInterval).
		Dur("grace", r.pollGrace).
		Msg("Payment poller started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Payment poller stopped")
			return
		case <-ticker.C:
			r.PollPending(ctx)
		}
	}
}

// PollPending asks the gateway about every PENDING payment older than
// the grace window. Gateway errors leave payments pending for the next
// sweep.
func (r *Reconciler) PollPending(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.pollGrace)
	pending, err := r.store.ListPendingPayments(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pending payments")
		return
	}

	for _, pmt := range pending {
		status, err := r.gateway.CheckStatus(ctx, pmt.Reference)
		if err != nil {
			log.Warn().
				Err(err).
				Str("reference", pmt.Reference).
				Msg("Payment status check failed")
			continue
		}
		if !status.IsTerminal() {
			continue
		}
		if _, err := r.Reconcile(ctx, pmt.Reference, string(status)); err != nil {
			log.Error().
				Err(err).
				Str("reference", pmt.Reference).
				Msg("Failed to reconcile polled payment")
		}
	}
}

func (r *Reconciler) complete(ctx context.Context, pmt *models.Payment) (*models.Payment, error) {
	now := time.Now().UTC()
	settled, err := r.store.SettlePayment(ctx, pmt.ID, models.PaymentCompleted, &now)
	if err != nil {
		return nil, fmt.Errorf("settle payment: %w", err)
	}
	if !settled {
		// A concurrent reconcile settled this payment first. The side
		// effects belong to the winner.
		return r.store.GetPayment(ctx, pmt.ID)
	}
	pmt.Status = models.PaymentCompleted
	pmt.PaidAt = &now

	r.logEvent(ctx, pmt, models.EventTypePaymentCompleted, models.EventLevelInfo,
		fmt.Sprintf("Payment %s completed", pmt.Reference))
	r.pub.PublishPayment("completed", pmt)

	if pmt.SessionID != nil {
		if err := r.applyToSession(ctx, pmt); err != nil {
			log.Error().
				Err(err).
				Str("sessionID", pmt.SessionID.String()).
				Str("reference", pmt.Reference).
				Msg("Failed to apply settled payment to session")
			return pmt, err
		}
	}

	log.Info().
		Str("reference", pmt.Reference).
		Int64("amount", pmt.Amount).
		Msg("Payment completed")

	return pmt, nil
}

// applyToSession routes a settled payment: a PENDING session is
// activated, an ACTIVE one gets the package's duration added.
func (r *Reconciler) applyToSession(ctx context.Context, pmt *models.Payment) error {
	sess, err := r.store.GetSession(ctx, *pmt.SessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	switch sess.Status {
	case models.SessionPending:
		if _, err := r.sessions.ActivateSession(ctx, sess.ID); err != nil {
			if errors.Is(err, session.ErrSessionAlreadyActivated) {
				return nil
			}
			return fmt.Errorf("activate session: %w", err)
		}
		return nil

	case models.SessionActive:
		pkg, err := r.store.GetPackage(ctx, pmt.PackageID)
		if err != nil {
			return fmt.Errorf("get package: %w", err)
		}
		if _, err := r.sessions.ExtendSession(ctx, sess.ID, pkg.DurationMinutes); err != nil {
			return fmt.Errorf("extend session: %w", err)
		}
		return nil

	default:
		// The session ended before the charge settled. Leave the
		// payment settled for the audit trail; refunds are a manual
		// operation.
		log.Warn().
			Str("sessionID", sess.ID.String()).
			Str("status", string(sess.Status)).
			Str("reference", pmt.Reference).
			Msg("Payment settled for a session that already ended")
		return nil
	}
}

func (r *Reconciler) fail(ctx context.Context, pmt *models.Payment, reason string) {
	settled, err := r.store.SettlePayment(ctx, pmt.ID, models.PaymentFailed, nil)
	if err != nil {
		log.Error().Err(err).Str("reference", pmt.Reference).Msg("Failed to mark payment failed")
		return
	}
	if !settled {
		// A concurrent reconcile already settled this payment. A late
		// failure report must not pull a COMPLETED payment back.
		return
	}
	pmt.Status = models.PaymentFailed

	r.logEvent(ctx, pmt, models.EventTypePaymentFailed, models.EventLevelWarning, reason)
	r.pub.PublishPayment("failed", pmt)

	// Only a session still waiting on this payment is torn down; a
	// failed extension charge leaves the running session alone.
	if pmt.SessionID != nil {
		sess, err := r.store.GetSession(ctx, *pmt.SessionID)
		if err == nil && sess.Status == models.SessionPending {
			if err := r.sessions.TerminateSession(ctx, sess.ID, "payment failed"); err != nil {
				log.Error().
					Err(err).
					Str("sessionID", sess.ID.String()).
					Msg("Failed to terminate session after payment failure")
			}
		}
	}

	log.Warn().
		Str("reference", pmt.Reference).
		Str("reason", reason).
		Msg("Payment failed")
}

func (r *Reconciler) logEvent(ctx context.Context, pmt *models.Payment, eventType models.EventType, level models.EventLevel, description string) {
	event := &models.EventLog{
		SessionID:   pmt.SessionID,
		PaymentID:   &pmt.ID,
		Type:        eventType,
		Level:       level,
		Description: description,
	}
	if err := r.store.CreateEventLog(ctx, event); err != nil {
		log.Warn().Err(err).Str("type", string(eventType)).Msg("Failed to write event log")
	}
}

// newReference builds a locally unique payment reference.
func newReference() (string, error) {
	suffix, err := crypto.GenerateVoucherCode(10)
	if err != nil {
		return "", err
	}
	return "NF-" + suffix, nil
}
