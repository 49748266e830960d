package models

import (
	"time"

	"github.com/google/uuid"
)

// Voucher represents a pre-paid, offline-redeemable access code
type Voucher struct {
	BaseModel

	// Code is unique, stored uppercase, matched case-insensitively
	Code      string    `json:"code" db:"code"`
	PackageID uuid.UUID `json:"packageId" db:"package_id"`

	// PaymentID links the voucher to the payment that bought it, if any
	PaymentID *uuid.UUID `json:"paymentId,omitempty" db:"payment_id"`

	// ExpiresAt bounds the redemption window
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`

	RedeemedAt          *time.Time `json:"redeemedAt,omitempty" db:"redeemed_at"`
	RedeemedBySessionID *uuid.UUID `json:"redeemedBySessionId,omitempty" db:"redeemed_by_session_id"`
}

// Redeemed reports whether the voucher has already been used
func (v *Voucher) Redeemed() bool {
	return v.RedeemedAt != nil
}

// Expired reports whether the redemption window has passed
func (v *Voucher) Expired(now time.Time) bool {
	return !v.ExpiresAt.After(now)
}
