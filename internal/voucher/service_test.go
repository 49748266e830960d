package voucher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netflow-hotspot/netflow-server/internal/mikrotik"
	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/session"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

const testMAC = "AA:BB:CC:DD:EE:20"

type serviceEnv struct {
	store    *storage.MemoryStore
	fake     *mikrotik.FakeController
	sessions *session.Manager
	service  *Service
	router   *models.Router
	pkg      *models.Package
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	fake := mikrotik.NewFakeController()
	routers := mikrotik.NewManager(func(r *models.Router) mikrotik.Controller {
		return fake
	})
	sessions := session.NewManager(store, routers, session.NewPublisher(nil), time.Second)
	service := NewService(store, sessions, 0)

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

	return &serviceEnv{
		store:    store,
		fake:     fake,
		sessions: sessions,
		service:  service,
		router:   router,
		pkg:      pkg,
	}
}

func (e *serviceEnv) redeem(t *testing.T, code, mac string) (*models.Session, error) {
	t.Helper()
	e.fake.Attach(mac)
	return e.service.Redeem(context.Background(), RedeemInput{
		Code:      code,
		DeviceMAC: mac,
		RouterID:  e.router.ID,
	})
}

func TestCreateVoucher(t *testing.T) {
	env := newServiceEnv(t)

	voucher, err := env.service.Create(context.Background(), env.pkg.ID, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(voucher.Code, "WIFI-"))
	assert.Len(t, voucher.Code, len("WIFI-")+8)
	assert.Equal(t, env.pkg.ID, voucher.PackageID)
	assert.Nil(t, voucher.RedeemedAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), voucher.ExpiresAt, time.Minute)
}

func TestCreateVoucherUnknownPackage(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.service.Create(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, session.ErrPackageNotFound)
}

func TestRedeemVoucher(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	voucher, err := env.service.Create(ctx, env.pkg.ID, nil)
	require.NoError(t, err)

	sess, err := env.redeem(t, voucher.Code, testMAC)
	require.NoError(t, err)

	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Equal(t, testMAC, sess.DeviceMAC)
	assert.WithinDuration(t, time.Now().Add(60*time.Minute), sess.ExpiresAt, 5*time.Second)
	assert.True(t, env.fake.Granted(testMAC))

	stored, err := env.store.GetVoucherByCode(ctx, voucher.Code)
	require.NoError(t, err)
	require.NotNil(t, stored.RedeemedAt)
	require.NotNil(t, stored.RedeemedBySessionID)
	assert.Equal(t, sess.ID, *stored.RedeemedBySessionID)
}

func TestRedeemVoucherCaseInsensitiveWithoutPrefix(t *testing.T) {
	env := newServiceEnv(t)

	voucher, err := env.service.Create(context.Background(), env.pkg.ID, nil)
	require.NoError(t, err)

	bare := strings.ToLower(strings.TrimPrefix(voucher.Code, "WIFI-"))
	sess, err := env.redeem(t, "  "+bare+" ", testMAC)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.Status)
}

func TestRedeemVoucherTwice(t *testing.T) {
	env := newServiceEnv(t)

	voucher, err := env.service.Create(context.Background(), env.pkg.ID, nil)
	require.NoError(t, err)

	_, err = env.redeem(t, voucher.Code, testMAC)
	require.NoError(t, err)

	_, err = env.redeem(t, voucher.Code, "AA:BB:CC:DD:EE:21")
	assert.ErrorIs(t, err, ErrVoucherRedeemed)
}

// staleVoucherStore hands out a pre-claim snapshot of one voucher,
// standing in for a concurrent redemption that looked it up before the
// winner claimed it.
type staleVoucherStore struct {
	storage.Store
	snapshot *models.Voucher
}

func (s *staleVoucherStore) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	cp := *s.snapshot
	return &cp, nil
}

func TestRedeemRaceGrantsSingleSession(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	voucher, err := env.service.Create(ctx, env.pkg.ID, nil)
	require.NoError(t, err)
	snapshot, err := env.store.GetVoucherByCode(ctx, voucher.Code)
	require.NoError(t, err)

	_, err = env.redeem(t, voucher.Code, testMAC)
	require.NoError(t, err)

	// A second device whose lookup raced the first redemption still
	// sees the voucher unredeemed. The claim must stop it anyway.
	laggard := NewService(&staleVoucherStore{Store: env.store, snapshot: snapshot}, env.sessions, 0)
	other := "AA:BB:CC:DD:EE:21"
	env.fake.Attach(other)
	_, err = laggard.Redeem(ctx, RedeemInput{
		Code:      voucher.Code,
		DeviceMAC: other,
		RouterID:  env.router.ID,
	})
	assert.ErrorIs(t, err, ErrVoucherRedeemed)

	active := models.SessionActive
	granted, total, err := env.store.ListSessions(ctx, storage.SessionFilters{Status: &active}, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, testMAC, granted[0].DeviceMAC)
}

func TestRedeemExpiredVoucher(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	voucher, err := env.service.Create(ctx, env.pkg.ID, nil)
	require.NoError(t, err)

	voucher.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, env.store.UpdateVoucher(ctx, voucher))

	_, err = env.redeem(t, voucher.Code, testMAC)
	assert.ErrorIs(t, err, ErrVoucherExpired)
}

func TestRedeemUnknownVoucher(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.redeem(t, "WIFI-NOPE1234", testMAC)
	assert.ErrorIs(t, err, ErrVoucherNotFound)
}

func TestRedeemRequiresDevicePresence(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	voucher, err := env.service.Create(ctx, env.pkg.ID, nil)
	require.NoError(t, err)

	// Device never attached to the router.
	_, err = env.service.Redeem(ctx, RedeemInput{
		Code:      voucher.Code,
		DeviceMAC: testMAC,
		RouterID:  env.router.ID,
	})
	assert.ErrorIs(t, err, session.ErrDeviceNotPresent)

	// The voucher survives the failed attempt.
	stored, err := env.store.GetVoucherByCode(ctx, voucher.Code)
	require.NoError(t, err)
	assert.Nil(t, stored.RedeemedAt)

	// A later attempt with the device attached succeeds.
	sess, err := env.redeem(t, voucher.Code, testMAC)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.Status)
}

func TestVoucherDetails(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	voucher, err := env.service.Create(ctx, env.pkg.ID, nil)
	require.NoError(t, err)

	found, pkg, err := env.service.Details(ctx, voucher.Code)
	require.NoError(t, err)
	assert.Equal(t, voucher.Code, found.Code)
	assert.Equal(t, env.pkg.Name, pkg.Name)
}
