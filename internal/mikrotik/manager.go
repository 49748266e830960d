package mikrotik

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// Factory builds a Controller for one router.
type Factory func(router *models.Router) Controller

// Manager hands out one Controller per router and caches them.
type Manager struct {
	factory Factory

	mu          sync.RWMutex
	controllers map[uuid.UUID]Controller
}

// NewManager creates a manager using the given factory, or the REST
// client factory when nil.
func NewManager(factory Factory) *Manager {
	if factory == nil {
		factory = func(router *models.Router) Controller {
			return NewClient(ClientConfig{
				Address:  router.IPAddress,
				Username: router.Username,
				Password: router.Password,
				Timeout:  10 * time.Second,
			})
		}
	}
	return &Manager{
		factory:     factory,
		controllers: make(map[uuid.UUID]Controller),
	}
}

// Controller returns the cached controller for the router, creating
// one on first use.
func (m *Manager) Controller(router *models.Router) Controller {
	m.mu.RLock()
	ctrl, ok := m.controllers[router.ID]
	m.mu.RUnlock()
	if ok {
		return ctrl
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ctrl, ok := m.controllers[router.ID]; ok {
		return ctrl
	}
	ctrl = m.factory(router)
	m.controllers[router.ID] = ctrl
	return ctrl
}

// Forget drops the cached controller, forcing a rebuild on next use.
// Call after router credentials or address change.
func (m *Manager) Forget(routerID uuid.UUID) {
	m.mu.Lock()
	delete(m.controllers, routerID)
	m.mu.Unlock()
}
