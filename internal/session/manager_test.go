package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netflow-hotspot/netflow-server/internal/mikrotik"
	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

const testMAC = "AA:BB:CC:DD:EE:01"

type testEnv struct {
	store   *storage.MemoryStore
	fake    *mikrotik.FakeController
	manager *Manager
	router  *models.Router
	pkg     *models.Package
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	fake := mikrotik.NewFakeController()
	routers := mikrotik.NewManager(func(r *models.Router) mikrotik.Controller {
		return fake
	})
	manager := NewManager(store, routers, NewPublisher(nil), time.Second)

	router := &models.Router{
		Name:      "lobby",
		IPAddress: "192.168.88.1",
		Status:    models.RouterOnline,
		Username:  "admin",
		Password:  "secret",
	}
	require.NoError(t, store.CreateRouter(context.Background(), router))

	pkg := &models.Package{
		Name:            "1 Hour",
		DurationMinutes: 60,
		Price:           1000,
		IsActive:        true,
	}
	require.NoError(t, store.CreatePackage(context.Background(), pkg))

	return &testEnv{
		store:   store,
		fake:    fake,
		manager: manager,
		router:  router,
		pkg:     pkg,
	}
}

func (e *testEnv) createSession(t *testing.T, mac string) *models.Session {
	t.Helper()
	e.fake.Attach(mac)
	sess, err := e.manager.CreateSession(context.Background(), CreateSessionInput{
		DeviceMAC: mac,
		RouterID:  e.router.ID,
		PackageID: e.pkg.ID,
	})
	require.NoError(t, err)
	return sess
}

func (e *testEnv) activeSession(t *testing.T, mac string) *models.Session {
	t.Helper()
	sess := e.createSession(t, mac)
	sess, err := e.manager.ActivateSession(context.Background(), sess.ID)
	require.NoError(t, err)
	return sess
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)

	sess := env.createSession(t, testMAC)

	assert.Equal(t, models.SessionPending, sess.Status)
	assert.Equal(t, testMAC, sess.DeviceMAC)
	assert.Nil(t, sess.EndTime)
}

func TestCreateSessionDeviceNotPresent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.CreateSession(ctx, CreateSessionInput{
		DeviceMAC: testMAC,
		RouterID:  env.router.ID,
		PackageID: env.pkg.ID,
	})
	assert.ErrorIs(t, err, ErrDeviceNotPresent)
}

func TestCreateSessionRouterOffline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.Status = models.RouterOffline
	require.NoError(t, env.store.UpdateRouter(ctx, env.router))

	env.fake.Attach(testMAC)
	_, err := env.manager.CreateSession(ctx, CreateSessionInput{
		DeviceMAC: testMAC,
		RouterID:  env.router.ID,
		PackageID: env.pkg.ID,
	})
	assert.ErrorIs(t, err, ErrRouterOffline)
}

func TestCreateSessionRouterUnreachable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The controller erroring must read as "not present", never as a
	// successful presence check.
	env.fake.Attach(testMAC)
	env.fake.Reachable = false

	_, err := env.manager.CreateSession(ctx, CreateSessionInput{
		DeviceMAC: testMAC,
		RouterID:  env.router.ID,
		PackageID: env.pkg.ID,
	})
	assert.ErrorIs(t, err, ErrRouterOffline)
}

func TestCreateSessionDuplicateDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createSession(t, testMAC)

	_, err := env.manager.CreateSession(ctx, CreateSessionInput{
		DeviceMAC: testMAC,
		RouterID:  env.router.ID,
		PackageID: env.pkg.ID,
	})
	assert.ErrorIs(t, err, ErrDuplicateActiveSession)
}

func TestCreateSessionInactivePackage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.pkg.IsActive = false
	require.NoError(t, env.store.UpdatePackage(ctx, env.pkg))

	env.fake.Attach(testMAC)
	_, err := env.manager.CreateSession(ctx, CreateSessionInput{
		DeviceMAC: testMAC,
		RouterID:  env.router.ID,
		PackageID: env.pkg.ID,
	})
	assert.ErrorIs(t, err, ErrPackageInactive)
}

func TestActivateSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.createSession(t, testMAC)

	before := time.Now().UTC()
	sess, err := env.manager.ActivateSession(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionActive, sess.Status)
	// Expiry is anchored at activation, not at creation.
	expected := before.Add(60 * time.Minute)
	assert.WithinDuration(t, expected, sess.ExpiresAt, 5*time.Second)

	assert.True(t, env.fake.Granted(testMAC))
	assert.Equal(t, 60, env.fake.GrantedMinutes(testMAC))

	router, err := env.store.GetRouter(ctx, env.router.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, router.ActiveUsers)
}

func TestActivateSessionTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)

	_, err := env.manager.ActivateSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionAlreadyActivated)
}

func TestActivateSessionSurvivesGrantFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.createSession(t, testMAC)
	env.fake.Reachable = false

	sess, err := env.manager.ActivateSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.False(t, env.fake.Granted(testMAC))
}

func TestGetActiveSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created := env.activeSession(t, testMAC)

	sess, err := env.manager.GetActiveSession(ctx, testMAC)
	require.NoError(t, err)
	assert.Equal(t, created.ID, sess.ID)
	assert.Equal(t, models.SessionActive, sess.Status)
}

func TestGetActiveSessionReturnsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created := env.createSession(t, testMAC)

	sess, err := env.manager.GetActiveSession(ctx, testMAC)
	require.NoError(t, err)
	assert.Equal(t, created.ID, sess.ID)
	assert.Equal(t, models.SessionPending, sess.Status)
}

func TestGetActiveSessionTerminatesExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)

	sess.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.store.UpdateSession(ctx, sess))

	_, err := env.manager.GetActiveSession(ctx, testMAC)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, stored.Status)
	assert.NotNil(t, stored.EndTime)
	assert.False(t, env.fake.Granted(testMAC))
}

func TestGetActiveSessionTerminatesExpiredSuspension(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)
	suspended, err := env.manager.SuspendSession(ctx, sess.ID)
	require.NoError(t, err)

	// The clock kept running while suspended and ran out.
	suspended.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.store.UpdateSession(ctx, suspended))

	_, err = env.manager.GetActiveSession(ctx, testMAC)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, stored.Status)
	assert.NotNil(t, stored.EndTime)

	// The stale grant no longer blocks a new purchase for the device.
	fresh := env.createSession(t, testMAC)
	assert.NotEqual(t, sess.ID, fresh.ID)
}

func TestGetActiveSessionReturnsHealthySuspension(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)
	_, err := env.manager.SuspendSession(ctx, sess.ID)
	require.NoError(t, err)

	got, err := env.manager.GetActiveSession(ctx, testMAC)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSuspended, got.Status)
}

func TestGetActiveSessionTerminatesAbsentDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)
	env.fake.Detach(testMAC)

	_, err := env.manager.GetActiveSession(ctx, testMAC)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, stored.Status)
}

func TestGetActiveSessionSyncsUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)
	env.fake.SetStats(testMAC, 1024, 4096)

	got, err := env.manager.GetActiveSession(ctx, testMAC)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), got.BytesUp)
	assert.Equal(t, uint64(4096), got.BytesDown)

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), stored.BytesDown)
}

func TestExtendSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)
	originalExpiry := sess.ExpiresAt

	extended, err := env.manager.ExtendSession(ctx, sess.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, originalExpiry.Add(30*time.Minute), extended.ExpiresAt)

	// The router's uptime limit is pushed as the time left on the
	// grant, not the extension amount or the package duration.
	assert.InDelta(t, 90, env.fake.GrantedMinutes(testMAC), 1)
}

func TestExtendSessionNotActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.createSession(t, testMAC)

	_, err := env.manager.ExtendSession(ctx, sess.ID, 30)
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestSuspendAndResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)

	suspended, err := env.manager.SuspendSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSuspended, suspended.Status)
	assert.True(t, env.fake.Blocked(testMAC))

	resumed, err := env.manager.ResumeSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, resumed.Status)
	assert.False(t, env.fake.Blocked(testMAC))
}

func TestSuspendRequiresActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.createSession(t, testMAC)

	_, err := env.manager.SuspendSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestResumeExpiredSuspension(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)

	suspended, err := env.manager.SuspendSession(ctx, sess.ID)
	require.NoError(t, err)

	// The clock kept running while suspended and ran out.
	suspended.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.store.UpdateSession(ctx, suspended))

	_, err = env.manager.ResumeSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, stored.Status)
}

func TestTerminateSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)

	require.NoError(t, env.manager.TerminateSession(ctx, sess.ID, "admin request"))

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, stored.Status)
	assert.NotNil(t, stored.EndTime)
	assert.False(t, env.fake.Granted(testMAC))

	router, err := env.store.GetRouter(ctx, env.router.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, router.ActiveUsers)
}

func TestTerminateSessionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)

	require.NoError(t, env.manager.TerminateSession(ctx, sess.ID, "expired"))
	first, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	// Second call is a no-op, the status and end time stay put.
	require.NoError(t, env.manager.TerminateSession(ctx, sess.ID, "admin request"))
	second, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.EndTime, second.EndTime)
}

func TestTerminateExpiredLandsInExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)
	require.NoError(t, env.manager.TerminateSession(ctx, sess.ID, "expired"))

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, stored.Status)
}

func TestNewDeviceCanConnectAfterTermination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, testMAC)
	require.NoError(t, env.manager.TerminateSession(ctx, sess.ID, "expired"))

	// The same device can buy again once its grant is terminal.
	fresh := env.createSession(t, testMAC)
	assert.NotEqual(t, sess.ID, fresh.ID)
}
