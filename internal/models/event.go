package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	SessionID *uuid.UUID `json:"sessionId,omitempty" db:"session_id"`
	RouterID  *uuid.UUID `json:"routerId,omitempty" db:"router_id"`
	PaymentID *uuid.UUID `json:"paymentId,omitempty" db:"payment_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Session events
	EventTypeSessionCreated    EventType = "SESSION_CREATED"
	EventTypeSessionActivated  EventType = "SESSION_ACTIVATED"
	EventTypeSessionExtended   EventType = "SESSION_EXTENDED"
	EventTypeSessionSuspended  EventType = "SESSION_SUSPENDED"
	EventTypeSessionResumed    EventType = "SESSION_RESUMED"
	EventTypeSessionTerminated EventType = "SESSION_TERMINATED"

	// Payment events
	EventTypePaymentInitiated EventType = "PAYMENT_INITIATED"
	EventTypePaymentCompleted EventType = "PAYMENT_COMPLETED"
	EventTypePaymentFailed    EventType = "PAYMENT_FAILED"

	// Security events
	EventTypeDeviceNotPresent EventType = "DEVICE_NOT_PRESENT"

	// Router events
	EventTypeRouterUp   EventType = "ROUTER_UP"
	EventTypeRouterDown EventType = "ROUTER_DOWN"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
