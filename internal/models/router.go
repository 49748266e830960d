package models

import "time"

// RouterStatus represents router reachability
type RouterStatus string

const (
	RouterOnline  RouterStatus = "ONLINE"
	RouterOffline RouterStatus = "OFFLINE"
)

// Router represents a managed hotspot access point
type Router struct {
	BaseModel

	Name       string `json:"name" db:"name"`
	IPAddress  string `json:"ipAddress" db:"ip_address"`
	MACAddress string `json:"macAddress" db:"mac_address"`
	Location   string `json:"location" db:"location"`

	Status RouterStatus `json:"status" db:"status"`

	// ActiveUsers is derived from the count of ACTIVE sessions on this
	// router and is recomputed by the lifecycle manager, never hand-edited.
	ActiveUsers int `json:"activeUsers" db:"active_users"`

	LastSeenAt *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`

	// Controller credentials
	Username string `json:"-" db:"username"`
	Password string `json:"-" db:"password"`

	Metadata Variables `json:"metadata,omitempty" db:"metadata"`
}

// IsOnline reports whether the router is reachable
func (r *Router) IsOnline() bool {
	return r.Status == RouterOnline
}
