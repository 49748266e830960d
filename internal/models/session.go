package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of an access grant
type SessionStatus string

const (
	SessionPending    SessionStatus = "PENDING"
	SessionActive     SessionStatus = "ACTIVE"
	SessionSuspended  SessionStatus = "SUSPENDED"
	SessionExpired    SessionStatus = "EXPIRED"
	SessionTerminated SessionStatus = "TERMINATED"
)

// IsTerminal reports whether the status admits no further transitions
func (s SessionStatus) IsTerminal() bool {
	return s == SessionExpired || s == SessionTerminated
}

// Session represents a device's time-bounded access grant on a router
type Session struct {
	BaseModel

	DeviceMAC  string  `json:"deviceMac" db:"device_mac"`
	DeviceName string  `json:"deviceName" db:"device_name"`
	IPAddress  *string `json:"ipAddress,omitempty" db:"ip_address"`

	RouterID  uuid.UUID `json:"routerId" db:"router_id"`
	PackageID uuid.UUID `json:"packageId" db:"package_id"`

	Status    SessionStatus `json:"status" db:"status"`
	StartTime time.Time     `json:"startTime" db:"start_time"`
	ExpiresAt time.Time     `json:"expiresAt" db:"expires_at"`
	EndTime   *time.Time    `json:"endTime,omitempty" db:"end_time"`

	// Cumulative traffic counters reported by the access controller
	BytesUp   uint64 `json:"bytesUp,string" db:"bytes_up"`
	BytesDown uint64 `json:"bytesDown,string" db:"bytes_down"`
}

// TimeRemaining returns the remaining grant time, never negative
func (s *Session) TimeRemaining(now time.Time) time.Duration {
	if !s.ExpiresAt.After(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// validTransitions enumerates the allowed status edges
var validTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:   {SessionActive, SessionTerminated},
	SessionActive:    {SessionSuspended, SessionExpired, SessionTerminated},
	SessionSuspended: {SessionActive, SessionTerminated},
}

// CanTransition reports whether from -> to is a valid status edge
func CanTransition(from, to SessionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
