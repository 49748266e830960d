package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

func TestReaperSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expired1 := env.activeSession(t, "AA:BB:CC:DD:EE:10")
	expired2 := env.activeSession(t, "AA:BB:CC:DD:EE:11")
	healthy := env.activeSession(t, "AA:BB:CC:DD:EE:12")

	past := time.Now().UTC().Add(-time.Minute)
	for _, sess := range []*models.Session{expired1, expired2} {
		sess.ExpiresAt = past
		require.NoError(t, env.store.UpdateSession(ctx, sess))
	}

	reaper := NewReaper(env.store, env.manager, time.Minute)
	reaper.Sweep(ctx)

	for _, sess := range []*models.Session{expired1, expired2} {
		stored, err := env.store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, stored.Status)
		assert.NotNil(t, stored.EndTime)
	}

	stored, err := env.store.GetSession(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, stored.Status)
}

func TestReaperSweepReapsExpiredSuspension(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.activeSession(t, "AA:BB:CC:DD:EE:15")
	suspended, err := env.manager.SuspendSession(ctx, sess.ID)
	require.NoError(t, err)

	suspended.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.store.UpdateSession(ctx, suspended))

	reaper := NewReaper(env.store, env.manager, time.Minute)
	reaper.Sweep(ctx)

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, stored.Status)
	assert.NotNil(t, stored.EndTime)
}

func TestReaperSweepEmptyStore(t *testing.T) {
	env := newTestEnv(t)

	reaper := NewReaper(env.store, env.manager, time.Minute)
	reaper.Sweep(context.Background())
}

func TestReaperSweepSurvivesRouterFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expired := env.activeSession(t, "AA:BB:CC:DD:EE:20")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.store.UpdateSession(ctx, expired))

	// Revoke on the router fails, the local state still converges.
	env.fake.Reachable = false

	reaper := NewReaper(env.store, env.manager, time.Minute)
	reaper.Sweep(ctx)

	stored, err := env.store.GetSession(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, stored.Status)
}
