package mikrotik

import (
	"context"
	"sync"
)

// FakeController is an in-memory Controller for tests and for running
// the portal without real hardware.
type FakeController struct {
	mu sync.Mutex

	// Reachable toggles whether calls succeed at all.
	Reachable bool

	// Present holds MACs the fake reports as attached.
	Present map[string]bool

	granted map[string]int // mac -> minutes
	blocked map[string]bool
	stats   map[string]DeviceStats

	// Calls records method names in invocation order.
	Calls []string
}

// NewFakeController creates a reachable fake with no devices attached.
func NewFakeController() *FakeController {
	return &FakeController{
		Reachable: true,
		Present:   make(map[string]bool),
		granted:   make(map[string]int),
		blocked:   make(map[string]bool),
		stats:     make(map[string]DeviceStats),
	}
}

func (f *FakeController) record(call string) error {
	f.Calls = append(f.Calls, call)
	if !f.Reachable {
		return ErrRouterUnreachable
	}
	return nil
}

// Attach marks a MAC as present on the fake router.
func (f *FakeController) Attach(mac string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Present[normalizeMAC(mac)] = true
}

// Detach removes a MAC from the fake router.
func (f *FakeController) Detach(mac string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Present, normalizeMAC(mac))
}

// SetStats sets traffic counters reported for a MAC.
func (f *FakeController) SetStats(mac string, up, down uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[normalizeMAC(mac)] = DeviceStats{BytesUp: up, BytesDown: down}
}

// Granted reports whether the MAC currently has a grant.
func (f *FakeController) Granted(mac string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.granted[normalizeMAC(mac)]
	return ok
}

// GrantedMinutes returns the uptime limit last set for the MAC.
func (f *FakeController) GrantedMinutes(mac string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted[normalizeMAC(mac)]
}

// Blocked reports whether the MAC is blocked.
func (f *FakeController) Blocked(mac string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[normalizeMAC(mac)]
}

func (f *FakeController) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("Ping")
}

func (f *FakeController) Info(ctx context.Context) (*RouterInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Info"); err != nil {
		return nil, err
	}
	return &RouterInfo{Identity: "fake-router", Version: "7.6"}, nil
}

func (f *FakeController) VerifyPresence(ctx context.Context, mac string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("VerifyPresence"); err != nil {
		return false, err
	}
	return f.Present[normalizeMAC(mac)], nil
}

func (f *FakeController) Grant(ctx context.Context, mac string, minutes int, profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Grant"); err != nil {
		return err
	}
	f.granted[normalizeMAC(mac)] = minutes
	return nil
}

func (f *FakeController) Revoke(ctx context.Context, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Revoke"); err != nil {
		return err
	}
	delete(f.granted, normalizeMAC(mac))
	return nil
}

func (f *FakeController) SetTimeLimit(ctx context.Context, mac string, minutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetTimeLimit"); err != nil {
		return err
	}
	if _, ok := f.granted[normalizeMAC(mac)]; !ok {
		return ErrDeviceNotFound
	}
	f.granted[normalizeMAC(mac)] = minutes
	return nil
}

func (f *FakeController) Disconnect(ctx context.Context, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Disconnect"); err != nil {
		return err
	}
	if !f.Present[normalizeMAC(mac)] {
		return ErrDeviceNotFound
	}
	return nil
}

func (f *FakeController) Block(ctx context.Context, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Block"); err != nil {
		return err
	}
	f.blocked[normalizeMAC(mac)] = true
	return nil
}

func (f *FakeController) Unblock(ctx context.Context, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Unblock"); err != nil {
		return err
	}
	delete(f.blocked, normalizeMAC(mac))
	return nil
}

func (f *FakeController) Stats(ctx context.Context, mac string) (*DeviceStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Stats"); err != nil {
		return nil, err
	}
	stats, ok := f.stats[normalizeMAC(mac)]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return &stats, nil
}

func (f *FakeController) ActiveUsers(ctx context.Context) ([]ActiveUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ActiveUsers"); err != nil {
		return nil, err
	}
	users := make([]ActiveUser, 0, len(f.Present))
	for mac := range f.Present {
		users = append(users, ActiveUser{
			User:       hotspotUsername(mac),
			MACAddress: mac,
		})
	}
	return users, nil
}
