package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

// Reaper sweeps ACTIVE and SUSPENDED sessions whose expiry has passed
// and terminates them. It is the safety net behind the router-side
// uptime limits.
type Reaper struct {
	store    storage.Store
	manager  *Manager
	interval time.Duration
}

// NewReaper creates a reaper sweeping at the given interval.
func NewReaper(store storage.Store, manager *Manager, interval time.Duration) *Reaper {
	if interval == 0 {
		interval = time.Minute
	}
	return &Reaper{
		store:    store,
		manager:  manager,
		interval: interval,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Msg("Session reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep terminates every expired session. A failure on one session
// never stops the rest of the sweep.
func (r *Reaper) Sweep(ctx context.Context) {
	expired, err := r.store.ListExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired sessions")
		return
	}
	if len(expired) == 0 {
		return
	}

	reaped := 0
	for _, session := range expired {
		if err := r.manager.TerminateSession(ctx, session.ID, "expired"); err != nil {
			log.Error().
				Err(err).
				Str("sessionID", session.ID.String()).
				Str("mac", session.DeviceMAC).
				Msg("Failed to reap expired session")
			continue
		}
		reaped++
	}

	log.Info().
		Int("expired", len(expired)).
		Int("reaped", reaped).
		Msg("Expired session sweep complete")
}
