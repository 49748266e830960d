package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netflow-hotspot/netflow-server/internal/config"
	"github.com/netflow-hotspot/netflow-server/internal/mikrotik"
	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/session"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

const testMAC = "AA:BB:CC:DD:EE:10"

type reconcilerEnv struct {
	store    *storage.MemoryStore
	fake     *mikrotik.FakeController
	sessions *session.Manager
	gateway  *Gateway
	rec      *Reconciler
	router   *models.Router
	pkg      *models.Package

	mu           sync.Mutex
	initiateResp InitiateResponse
	initiateCode int
	statuses     map[string]string
}

func newReconcilerEnv(t *testing.T) *reconcilerEnv {
	t.Helper()

	env := &reconcilerEnv{
		store:        storage.NewMemoryStore(),
		fake:         mikrotik.NewFakeController(),
		initiateResp: InitiateResponse{Success: true, Status: "PENDING"},
		statuses:     make(map[string]string),
	}

	srv := httptest.NewServer(http.HandlerFunc(env.handle))
	t.Cleanup(srv.Close)

	routers := mikrotik.NewManager(func(r *models.Router) mikrotik.Controller {
		return env.fake
	})
	env.sessions = session.NewManager(env.store, routers, session.NewPublisher(nil), time.Second)

	env.gateway = NewGateway(config.PaymentConfig{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		Currency: "TZS",
	})
	env.rec = NewReconciler(env.store, env.gateway, env.sessions, session.NewPublisher(nil), time.Hour, time.Nanosecond)

	env.router = &models.Router{
		Name:      "lobby",
		IPAddress: "192.168.88.1",
		Status:    models.RouterOnline,
		Username:  "admin",
		Password:  "secret",
	}
	require.NoError(t, env.store.CreateRouter(context.Background(), env.router))

	env.pkg = &models.Package{
		Name:            "1 Hour",
		DurationMinutes: 60,
		Price:           1000,
		IsActive:        true,
	}
	require.NoError(t, env.store.CreatePackage(context.Background(), env.pkg))

	return env
}

func (e *reconcilerEnv) handle(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/payments/initiate":
		if e.initiateCode >= 400 {
			w.WriteHeader(e.initiateCode)
			return
		}
		json.NewEncoder(w).Encode(e.initiateResp)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/payments/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/payments/")
		status, ok := e.statuses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": status})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (e *reconcilerEnv) pendingSession(t *testing.T, mac string) *models.Session {
	t.Helper()
	e.fake.Attach(mac)
	sess, err := e.sessions.CreateSession(context.Background(), session.CreateSessionInput{
		DeviceMAC: mac,
		RouterID:  e.router.ID,
		PackageID: e.pkg.ID,
	})
	require.NoError(t, err)
	return sess
}

func (e *reconcilerEnv) activeSession(t *testing.T, mac string) *models.Session {
	t.Helper()
	sess := e.pendingSession(t, mac)
	sess, err := e.sessions.ActivateSession(context.Background(), sess.ID)
	require.NoError(t, err)
	return sess
}

func TestInitiateCreatesPendingPayment(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, pmt.Status)
	assert.Equal(t, env.pkg.Price, pmt.Amount)
	assert.Equal(t, "255712345678", pmt.PhoneNumber)
	require.NotNil(t, pmt.SessionID)
	assert.Equal(t, sess.ID, *pmt.SessionID)
	assert.True(t, strings.HasPrefix(pmt.Reference, "NF-"))
}

func TestInitiateAdoptsGatewayTransactionID(t *testing.T) {
	env := newReconcilerEnv(t)
	env.initiateResp = InitiateResponse{Success: true, TransactionID: "ZP-100200", Status: "PENDING"}
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(context.Background(), sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	assert.Equal(t, "ZP-100200", pmt.Reference)

	stored, err := env.store.GetPaymentByReference(context.Background(), "ZP-100200")
	require.NoError(t, err)
	assert.Equal(t, pmt.ID, stored.ID)
}

func TestInitiateRejectsUnknownMethod(t *testing.T) {
	env := newReconcilerEnv(t)
	sess := env.pendingSession(t, testMAC)

	_, err := env.rec.Initiate(context.Background(), sess, env.pkg, "0712345678", models.PaymentMethod("CASH"))
	assert.ErrorIs(t, err, storage.ErrInvalidData)
}

func TestInitiateGatewayRejection(t *testing.T) {
	env := newReconcilerEnv(t)
	env.initiateResp = InitiateResponse{Success: false, Message: "insufficient funds"}
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, pmt.Status)

	sess, err = env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, sess.Status)
}

func TestInitiateGatewayUnavailable(t *testing.T) {
	env := newReconcilerEnv(t)
	env.initiateCode = http.StatusBadGateway
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	_, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	sess, err = env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, sess.Status)
}

func TestReconcileCompletedActivatesSession(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	pmt, err = env.rec.Reconcile(ctx, pmt.Reference, "COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, pmt.Status)
	require.NotNil(t, pmt.PaidAt)

	sess, err = env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.Status)
	// Paid time is anchored at activation, not at purchase.
	assert.WithinDuration(t, time.Now().Add(60*time.Minute), sess.ExpiresAt, 5*time.Second)
	assert.Equal(t, 60, env.fake.GrantedMinutes(testMAC))
}

func TestReconcileReplayedWebhookIsIdempotent(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	first, err := env.rec.Reconcile(ctx, pmt.Reference, "success")
	require.NoError(t, err)

	activated, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	replayed, err := env.rec.Reconcile(ctx, pmt.Reference, "success")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentCompleted, replayed.Status)
	assert.Equal(t, first.PaidAt.Unix(), replayed.PaidAt.Unix())

	// The replay must not re-activate or extend the session.
	after, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, activated.ExpiresAt, after.ExpiresAt)
}

func TestReconcileFailedTerminatesPendingSession(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	pmt, err = env.rec.Reconcile(ctx, pmt.Reference, "FAILED")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, pmt.Status)

	sess, err = env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, sess.Status)
}

func TestReconcilePendingStatusLeavesPayment(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	pmt, err = env.rec.Reconcile(ctx, pmt.Reference, "processing")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, pmt.Status)

	sess, err = env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, sess.Status)
}

func TestReconcileUnknownReference(t *testing.T) {
	env := newReconcilerEnv(t)

	_, err := env.rec.Reconcile(context.Background(), "NF-UNKNOWN123", "COMPLETED")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestExtensionPaymentExtendsActiveSession(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.activeSession(t, testMAC)
	originalExpiry := sess.ExpiresAt

	sess, pmt, err := env.rec.InitiateExtension(ctx, sess.ID, env.pkg.ID, "0712345678", models.MethodTigoPesa)
	require.NoError(t, err)

	_, err = env.rec.Reconcile(ctx, pmt.Reference, "COMPLETED")
	require.NoError(t, err)

	extended, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, extended.Status)
	assert.WithinDuration(t, originalExpiry.Add(60*time.Minute), extended.ExpiresAt, time.Second)
}

func TestFailedExtensionLeavesSessionRunning(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.activeSession(t, testMAC)
	originalExpiry := sess.ExpiresAt

	_, pmt, err := env.rec.InitiateExtension(ctx, sess.ID, env.pkg.ID, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	_, err = env.rec.Reconcile(ctx, pmt.Reference, "FAILED")
	require.NoError(t, err)

	after, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, after.Status)
	assert.Equal(t, originalExpiry, after.ExpiresAt)
}

func TestInitiateExtensionRequiresActiveSession(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	_, _, err := env.rec.InitiateExtension(ctx, sess.ID, env.pkg.ID, "0712345678", models.MethodMPesa)
	assert.ErrorIs(t, err, session.ErrSessionNotActive)
}

// staleReferenceStore replays a fixed payment snapshot for reference
// lookups, standing in for a concurrent reconcile that read the row
// while it was still pending.
type staleReferenceStore struct {
	storage.Store
	snapshot *models.Payment
}

func (s *staleReferenceStore) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	if s.snapshot != nil && reference == s.snapshot.Reference {
		cp := *s.snapshot
		return &cp, nil
	}
	return s.Store.GetPaymentByReference(ctx, reference)
}

func TestReconcileRacingFailureCannotRegressCompleted(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)
	snapshot, err := env.store.GetPayment(ctx, pmt.ID)
	require.NoError(t, err)

	_, err = env.rec.Reconcile(ctx, pmt.Reference, "success")
	require.NoError(t, err)

	// A reconcile that read the payment before the success landed now
	// reports a failure. It must lose the settle and change nothing.
	stale := &staleReferenceStore{Store: env.store, snapshot: snapshot}
	laggard := NewReconciler(stale, env.gateway, env.sessions, session.NewPublisher(nil), time.Hour, time.Nanosecond)
	_, err = laggard.Reconcile(ctx, pmt.Reference, "cancelled")
	require.NoError(t, err)

	final, err := env.store.GetPayment(ctx, pmt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, final.Status)
	require.NotNil(t, final.PaidAt)

	after, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, after.Status)
}

func TestReconcileRacingSuccessDoesNotDoubleExtend(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.activeSession(t, testMAC)

	_, pmt, err := env.rec.InitiateExtension(ctx, sess.ID, env.pkg.ID, "0712345678", models.MethodMPesa)
	require.NoError(t, err)
	snapshot, err := env.store.GetPayment(ctx, pmt.ID)
	require.NoError(t, err)

	_, err = env.rec.Reconcile(ctx, pmt.Reference, "COMPLETED")
	require.NoError(t, err)

	once, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	// A second success for the same reference, read pre-settle, must
	// not apply the extension again.
	stale := &staleReferenceStore{Store: env.store, snapshot: snapshot}
	laggard := NewReconciler(stale, env.gateway, env.sessions, session.NewPublisher(nil), time.Hour, time.Nanosecond)
	_, err = laggard.Reconcile(ctx, pmt.Reference, "COMPLETED")
	require.NoError(t, err)

	after, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, once.ExpiresAt, after.ExpiresAt)
}

func TestPollPendingReconcilesMissedWebhook(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	env.mu.Lock()
	env.statuses[pmt.Reference] = "COMPLETED"
	env.mu.Unlock()

	env.rec.PollPending(ctx)

	settled, err := env.store.GetPayment(ctx, pmt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, settled.Status)

	sess, err = env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.Status)
}

func TestPollPendingSurvivesGatewayFailure(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	sess := env.pendingSession(t, testMAC)

	pmt, err := env.rec.Initiate(ctx, sess, env.pkg, "0712345678", models.MethodMPesa)
	require.NoError(t, err)

	// No status registered for the reference: the gateway answers 404
	// and the payment stays pending for the next sweep.
	env.rec.PollPending(ctx)

	still, err := env.store.GetPayment(ctx, pmt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, still.Status)
}
