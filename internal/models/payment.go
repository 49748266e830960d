package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the settlement state of a payment
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// IsTerminal reports whether the payment status can no longer change.
// COMPLETED never regresses and FAILED is final.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// PaymentMethod represents a mobile-money provider
type PaymentMethod string

const (
	MethodMPesa       PaymentMethod = "MPESA"
	MethodTigoPesa    PaymentMethod = "TIGO_PESA"
	MethodAirtelMoney PaymentMethod = "AIRTEL_MONEY"
)

// ValidPaymentMethod reports whether m is a supported provider
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodMPesa, MethodTigoPesa, MethodAirtelMoney:
		return true
	}
	return false
}

// Payment represents a mobile-money charge for a session
type Payment struct {
	BaseModel

	// SessionID may be nil while the session is still being provisioned
	SessionID *uuid.UUID `json:"sessionId,omitempty" db:"session_id"`
	PackageID uuid.UUID  `json:"packageId" db:"package_id"`

	// Amount captured at purchase time, in minor currency units
	Amount      int64         `json:"amount" db:"amount"`
	Method      PaymentMethod `json:"method" db:"method"`
	PhoneNumber string        `json:"phoneNumber" db:"phone_number"`

	// Reference is the gateway's external transaction reference and
	// the idempotency key for reconciliation
	Reference string `json:"reference" db:"reference"`

	Status PaymentStatus `json:"status" db:"status"`
	PaidAt *time.Time    `json:"paidAt,omitempty" db:"paid_at"`
}
