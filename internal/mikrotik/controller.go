// Package mikrotik provides hotspot access control against RouterOS devices.
package mikrotik

import (
	"context"
	"errors"
)

var (
	ErrRouterUnreachable = errors.New("router unreachable")
	ErrDeviceNotFound    = errors.New("device not found on router")
)

// RouterInfo describes a router's system state.
type RouterInfo struct {
	Identity    string `json:"identity"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	CPULoad     int    `json:"cpuLoad"`
	FreeMemory  uint64 `json:"freeMemory"`
	TotalMemory uint64 `json:"totalMemory"`
}

// ActiveUser is an entry from the hotspot active table.
type ActiveUser struct {
	ID         string `json:"id"`
	User       string `json:"user"`
	Address    string `json:"address"`
	MACAddress string `json:"macAddress"`
	Uptime     string `json:"uptime"`
	BytesIn    uint64 `json:"bytesIn"`
	BytesOut   uint64 `json:"bytesOut"`
}

// DeviceStats holds per-device traffic counters.
type DeviceStats struct {
	BytesUp   uint64 `json:"bytesUp"`
	BytesDown uint64 `json:"bytesDown"`
}

// Controller is the access-control surface of a single router.
//
// Every method takes a context and can fail; callers must treat any
// error as "access not granted" rather than assuming success.
type Controller interface {
	// Ping verifies the router is reachable and the API responds.
	Ping(ctx context.Context) error

	// Info returns the router's identity and resource usage.
	Info(ctx context.Context) (*RouterInfo, error)

	// VerifyPresence reports whether the device is currently attached
	// to the router. An unreachable router yields an error, never a
	// presence claim.
	VerifyPresence(ctx context.Context, mac string) (bool, error)

	// Grant creates a hotspot user bound to the MAC with an uptime
	// limit of the given minutes.
	Grant(ctx context.Context, mac string, minutes int, profile string) error

	// Revoke removes the hotspot user and kicks any active login.
	Revoke(ctx context.Context, mac string) error

	// SetTimeLimit replaces the remaining uptime limit for the device.
	SetTimeLimit(ctx context.Context, mac string, minutes int) error

	// Disconnect drops the device from the active table without
	// removing its hotspot user.
	Disconnect(ctx context.Context, mac string) error

	// Block disables the hotspot user so the device cannot log in.
	Block(ctx context.Context, mac string) error

	// Unblock re-enables a previously blocked hotspot user.
	Unblock(ctx context.Context, mac string) error

	// Stats returns traffic counters for the device, or
	// ErrDeviceNotFound if it has no active entry.
	Stats(ctx context.Context, mac string) (*DeviceStats, error)

	// ActiveUsers lists the hotspot active table.
	ActiveUsers(ctx context.Context) ([]ActiveUser, error)
}
