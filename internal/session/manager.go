package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/mikrotik"
	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
)

// Manager drives the session lifecycle: creation, activation on
// payment, extension, suspension and termination. It is the only
// component that changes session status.
type Manager struct {
	store    storage.Store
	routers  *mikrotik.Manager
	pub      *Publisher
	presence time.Duration

	// macLocks serializes status transitions per device. The lock
	// covers only the local read-check-write, never router calls.
	macLocks sync.Map
}

// NewManager creates a session manager. presenceTimeout bounds every
// access-controller call made on behalf of a session operation.
func NewManager(store storage.Store, routers *mikrotik.Manager, pub *Publisher, presenceTimeout time.Duration) *Manager {
	if presenceTimeout == 0 {
		presenceTimeout = 10 * time.Second
	}
	return &Manager{
		store:    store,
		routers:  routers,
		pub:      pub,
		presence: presenceTimeout,
	}
}

func (m *Manager) lockMAC(mac string) *sync.Mutex {
	mu, _ := m.macLocks.LoadOrStore(mac, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateSessionInput holds the fields needed to open a grant.
type CreateSessionInput struct {
	DeviceMAC  string
	DeviceName string
	IPAddress  *string
	RouterID   uuid.UUID
	PackageID  uuid.UUID
}

// CreateSession opens a PENDING session for the device. The device
// must be attached to an online router; presence failures are treated
// as absence.
func (m *Manager) CreateSession(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
	pkg, err := m.store.GetPackage(ctx, input.PackageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	if !pkg.IsActive {
		return nil, ErrPackageInactive
	}

	router, err := m.store.GetRouter(ctx, input.RouterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRouterNotFound
		}
		return nil, fmt.Errorf("get router: %w", err)
	}

	if err := m.verifyPresence(ctx, router, input.DeviceMAC); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &models.Session{
		DeviceMAC:  input.DeviceMAC,
		DeviceName: input.DeviceName,
		IPAddress:  input.IPAddress,
		RouterID:   router.ID,
		PackageID:  pkg.ID,
		Status:     models.SessionPending,
		StartTime:  now,
		// Provisional until activation; the real expiry is computed
		// when payment completes.
		ExpiresAt: now.Add(time.Duration(pkg.DurationMinutes) * time.Minute),
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrDuplicateActiveSession
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.logEvent(ctx, session, models.EventTypeSessionCreated, models.EventLevelInfo,
		fmt.Sprintf("Session created for %s (%s)", session.DeviceMAC, pkg.Name), nil)
	m.pub.PublishSession("created", session, "")

	log.Info().
		Str("sessionID", session.ID.String()).
		Str("mac", session.DeviceMAC).
		Str("package", pkg.Name).
		Msg("Session created")

	return session, nil
}

// ActivateSession moves a PENDING session to ACTIVE and grants network
// access. The expiry clock starts now, not at creation, so payment
// settlement delays never eat into paid time.
func (m *Manager) ActivateSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	pkg, err := m.store.GetPackage(ctx, session.PackageID)
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}

	mu := m.lockMAC(session.DeviceMAC)
	mu.Lock()
	session, err = m.store.GetSession(ctx, sessionID)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Status == models.SessionActive {
		mu.Unlock()
		return session, ErrSessionAlreadyActivated
	}
	if !models.CanTransition(session.Status, models.SessionActive) {
		mu.Unlock()
		return nil, ErrInvalidStateTransition
	}

	now := time.Now().UTC()
	session.Status = models.SessionActive
	session.StartTime = now
	session.ExpiresAt = now.Add(time.Duration(pkg.DurationMinutes) * time.Minute)

	if err := m.store.UpdateSession(ctx, session); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("update session: %w", err)
	}
	mu.Unlock()

	// Grant access outside the lock. The session stays ACTIVE even if
	// the router call fails: payment has settled, and the reaper or a
	// status check will reconcile the router side later.
	if err := m.grant(ctx, session, pkg.DurationMinutes); err != nil {
		log.Warn().
			Err(err).
			Str("sessionID", session.ID.String()).
			Str("mac", session.DeviceMAC).
			Msg("Access grant failed after activation")
		m.logEvent(ctx, session, models.EventTypeSessionActivated, models.EventLevelWarning,
			"Session activated but access grant failed", models.Variables{"error": err.Error()})
	} else {
		m.logEvent(ctx, session, models.EventTypeSessionActivated, models.EventLevelInfo,
			fmt.Sprintf("Session activated until %s", session.ExpiresAt.Format(time.RFC3339)), nil)
	}

	m.refreshRouterActiveUsers(ctx, session.RouterID)
	m.pub.PublishSession("activated", session, "")

	log.Info().
		Str("sessionID", session.ID.String()).
		Str("mac", session.DeviceMAC).
		Time("expiresAt", session.ExpiresAt).
		Msg("Session activated")

	return session, nil
}

// GetActiveSession returns the device's current grant. Expired grants
// and grants whose device or router has gone away are proactively
// terminated and reported as absent.
func (m *Manager) GetActiveSession(ctx context.Context, deviceMAC string) (*models.Session, error) {
	session, err := m.store.GetNonTerminalSessionByMAC(ctx, deviceMAC)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if session.Status == models.SessionPending {
		return session, nil
	}

	// The expiry check covers SUSPENDED grants too; suspension never
	// pauses the clock, and a stale grant must not block new purchases.
	now := time.Now().UTC()
	if !session.ExpiresAt.After(now) {
		if err := m.TerminateSession(ctx, session.ID, "expired"); err != nil {
			log.Error().Err(err).Str("sessionID", session.ID.String()).Msg("Failed to terminate expired session")
		}
		return nil, ErrSessionNotFound
	}

	if session.Status == models.SessionSuspended {
		return session, nil
	}

	router, err := m.store.GetRouter(ctx, session.RouterID)
	if err != nil {
		return nil, fmt.Errorf("get router: %w", err)
	}

	if err := m.verifyPresence(ctx, router, session.DeviceMAC); err != nil {
		reason := "router offline"
		if errors.Is(err, ErrDeviceNotPresent) {
			reason = "device not present"
		}
		m.logEvent(ctx, session, models.EventTypeDeviceNotPresent, models.EventLevelWarning,
			fmt.Sprintf("Device %s no longer verifiable: %s", session.DeviceMAC, reason), nil)
		if err := m.TerminateSession(ctx, session.ID, reason); err != nil {
			log.Error().Err(err).Str("sessionID", session.ID.String()).Msg("Failed to terminate unverifiable session")
		}
		return nil, ErrSessionNotFound
	}

	m.syncUsage(ctx, router, session)

	return session, nil
}

// ExtendSession adds minutes to an ACTIVE session's expiry and pushes
// the new limit to the router.
func (m *Manager) ExtendSession(ctx context.Context, sessionID uuid.UUID, additionalMinutes int) (*models.Session, error) {
	if additionalMinutes <= 0 {
		return nil, fmt.Errorf("%w: extension must be positive", storage.ErrInvalidData)
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	mu := m.lockMAC(session.DeviceMAC)
	mu.Lock()
	session, err = m.store.GetSession(ctx, sessionID)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Status != models.SessionActive {
		mu.Unlock()
		return nil, ErrSessionNotActive
	}

	session.ExpiresAt = session.ExpiresAt.Add(time.Duration(additionalMinutes) * time.Minute)
	if err := m.store.UpdateSession(ctx, session); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("update session: %w", err)
	}
	mu.Unlock()

	remaining := int(session.TimeRemaining(time.Now().UTC()).Minutes())
	if remaining < 1 {
		remaining = 1
	}
	if router, err := m.store.GetRouter(ctx, session.RouterID); err == nil {
		cctx, cancel := context.WithTimeout(ctx, m.presence)
		if err := m.routers.Controller(router).SetTimeLimit(cctx, session.DeviceMAC, remaining); err != nil {
			log.Warn().Err(err).Str("mac", session.DeviceMAC).Msg("Failed to push new time limit to router")
		}
		cancel()
	}

	m.logEvent(ctx, session, models.EventTypeSessionExtended, models.EventLevelInfo,
		fmt.Sprintf("Session extended by %d minutes", additionalMinutes), nil)
	m.pub.PublishSession("extended", session, "")

	log.Info().
		Str("sessionID", session.ID.String()).
		Int("minutes", additionalMinutes).
		Time("expiresAt", session.ExpiresAt).
		Msg("Session extended")

	return session, nil
}

// SuspendSession pauses an ACTIVE session and blocks the device. The
// expiry clock keeps running while suspended.
func (m *Manager) SuspendSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	session, err := m.transition(ctx, sessionID, models.SessionSuspended, func(s *models.Session) error {
		if s.Status != models.SessionActive {
			return ErrSessionNotActive
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if router, err := m.store.GetRouter(ctx, session.RouterID); err == nil {
		cctx, cancel := context.WithTimeout(ctx, m.presence)
		if err := m.routers.Controller(router).Block(cctx, session.DeviceMAC); err != nil {
			log.Warn().Err(err).Str("mac", session.DeviceMAC).Msg("Failed to block device on router")
		}
		cancel()
	}

	m.refreshRouterActiveUsers(ctx, session.RouterID)
	m.logEvent(ctx, session, models.EventTypeSessionSuspended, models.EventLevelInfo,
		fmt.Sprintf("Session suspended for %s", session.DeviceMAC), nil)
	m.pub.PublishSession("suspended", session, "")

	return session, nil
}

// ResumeSession returns a SUSPENDED session to ACTIVE. A session whose
// expiry passed while suspended is terminated instead.
func (m *Manager) ResumeSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if session.Status == models.SessionSuspended && !session.ExpiresAt.After(time.Now().UTC()) {
		if err := m.TerminateSession(ctx, session.ID, "expired while suspended"); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	session, err = m.transition(ctx, sessionID, models.SessionActive, func(s *models.Session) error {
		if s.Status != models.SessionSuspended {
			return ErrSessionNotSuspended
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if router, err := m.store.GetRouter(ctx, session.RouterID); err == nil {
		cctx, cancel := context.WithTimeout(ctx, m.presence)
		if err := m.routers.Controller(router).Unblock(cctx, session.DeviceMAC); err != nil {
			log.Warn().Err(err).Str("mac", session.DeviceMAC).Msg("Failed to unblock device on router")
		}
		cancel()
	}

	m.refreshRouterActiveUsers(ctx, session.RouterID)
	m.logEvent(ctx, session, models.EventTypeSessionResumed, models.EventLevelInfo,
		fmt.Sprintf("Session resumed for %s", session.DeviceMAC), nil)
	m.pub.PublishSession("resumed", session, "")

	return session, nil
}

// TerminateSession ends a session. Reason "expired" lands in EXPIRED
// when the state machine allows it, everything else in TERMINATED.
// Terminating an already-terminal session is a no-op.
func (m *Manager) TerminateSession(ctx context.Context, sessionID uuid.UUID, reason string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}

	mu := m.lockMAC(session.DeviceMAC)
	mu.Lock()
	session, err = m.store.GetSession(ctx, sessionID)
	if err != nil {
		mu.Unlock()
		return fmt.Errorf("get session: %w", err)
	}
	if session.Status.IsTerminal() {
		mu.Unlock()
		return nil
	}

	target := models.SessionTerminated
	if reason == "expired" && models.CanTransition(session.Status, models.SessionExpired) {
		target = models.SessionExpired
	}
	if !models.CanTransition(session.Status, target) {
		mu.Unlock()
		return ErrInvalidStateTransition
	}

	now := time.Now().UTC()
	session.Status = target
	session.EndTime = &now
	if err := m.store.UpdateSession(ctx, session); err != nil {
		mu.Unlock()
		return fmt.Errorf("update session: %w", err)
	}
	mu.Unlock()

	// Best-effort revoke; the grant on the router ages out on its own
	// uptime limit if this fails.
	if router, err := m.store.GetRouter(ctx, session.RouterID); err == nil {
		cctx, cancel := context.WithTimeout(ctx, m.presence)
		if err := m.routers.Controller(router).Revoke(cctx, session.DeviceMAC); err != nil {
			log.Warn().
				Err(err).
				Str("mac", session.DeviceMAC).
				Msg("Failed to revoke access on router")
		}
		cancel()
	}

	m.refreshRouterActiveUsers(ctx, session.RouterID)
	m.logEvent(ctx, session, models.EventTypeSessionTerminated, models.EventLevelInfo,
		fmt.Sprintf("Session ended: %s", reason), models.Variables{"reason": reason})
	m.pub.PublishSession("terminated", session, reason)

	log.Info().
		Str("sessionID", session.ID.String()).
		Str("mac", session.DeviceMAC).
		Str("reason", reason).
		Str("status", string(session.Status)).
		Msg("Session terminated")

	return nil
}

// transition applies a guarded local status change under the MAC lock.
func (m *Manager) transition(ctx context.Context, sessionID uuid.UUID, to models.SessionStatus, guard func(*models.Session) error) (*models.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	mu := m.lockMAC(session.DeviceMAC)
	mu.Lock()
	defer mu.Unlock()

	session, err = m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := guard(session); err != nil {
		return nil, err
	}
	if !models.CanTransition(session.Status, to) {
		return nil, ErrInvalidStateTransition
	}

	session.Status = to
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	return session, nil
}

// verifyPresence fails closed: any router error means the device
// cannot be proven present.
func (m *Manager) verifyPresence(ctx context.Context, router *models.Router, mac string) error {
	if !router.IsOnline() {
		return ErrRouterOffline
	}

	cctx, cancel := context.WithTimeout(ctx, m.presence)
	defer cancel()

	present, err := m.routers.Controller(router).VerifyPresence(cctx, mac)
	if err != nil {
		log.Warn().
			Err(err).
			Str("mac", mac).
			Str("router", router.Name).
			Msg("Presence check failed")
		return ErrRouterOffline
	}
	if !present {
		return ErrDeviceNotPresent
	}

	return nil
}

func (m *Manager) grant(ctx context.Context, session *models.Session, minutes int) error {
	router, err := m.store.GetRouter(ctx, session.RouterID)
	if err != nil {
		return fmt.Errorf("get router: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, m.presence)
	defer cancel()

	return m.routers.Controller(router).Grant(cctx, session.DeviceMAC, minutes, "")
}

// syncUsage pulls traffic counters for the session, best effort.
func (m *Manager) syncUsage(ctx context.Context, router *models.Router, session *models.Session) {
	cctx, cancel := context.WithTimeout(ctx, m.presence)
	defer cancel()

	stats, err := m.routers.Controller(router).Stats(cctx, session.DeviceMAC)
	if err != nil {
		return
	}

	if stats.BytesUp == session.BytesUp && stats.BytesDown == session.BytesDown {
		return
	}

	session.BytesUp = stats.BytesUp
	session.BytesDown = stats.BytesDown
	if err := m.store.UpdateSession(ctx, session); err != nil {
		log.Warn().Err(err).Str("sessionID", session.ID.String()).Msg("Failed to persist usage counters")
	}
}

// refreshRouterActiveUsers recomputes the router's active session count.
func (m *Manager) refreshRouterActiveUsers(ctx context.Context, routerID uuid.UUID) {
	count, err := m.store.CountActiveSessionsByRouter(ctx, routerID)
	if err != nil {
		log.Warn().Err(err).Str("routerID", routerID.String()).Msg("Failed to count active sessions")
		return
	}
	if err := m.store.SetRouterActiveUsers(ctx, routerID, count); err != nil {
		log.Warn().Err(err).Str("routerID", routerID.String()).Msg("Failed to update router active users")
	}
}

func (m *Manager) logEvent(ctx context.Context, session *models.Session, eventType models.EventType, level models.EventLevel, description string, details models.Variables) {
	event := &models.EventLog{
		SessionID:   &session.ID,
		RouterID:    &session.RouterID,
		Type:        eventType,
		Level:       level,
		Description: description,
		Details:     details,
	}
	if err := m.store.CreateEventLog(ctx, event); err != nil {
		log.Warn().Err(err).Str("type", string(eventType)).Msg("Failed to write event log")
	}
}
