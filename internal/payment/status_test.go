package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want models.PaymentStatus
	}{
		{"COMPLETED", models.PaymentCompleted},
		{"success", models.PaymentCompleted},
		{"Successful", models.PaymentCompleted},
		{"PAID", models.PaymentCompleted},
		{"settlement_complete", models.PaymentCompleted},
		{"FAILED", models.PaymentFailed},
		{"failure", models.PaymentFailed},
		{"ERROR", models.PaymentFailed},
		{"CANCELLED", models.PaymentFailed},
		{"user_cancelled", models.PaymentFailed},
		{"REJECTED", models.PaymentFailed},
		{"PENDING", models.PaymentPending},
		{"processing", models.PaymentPending},
		{"awaiting_confirmation", models.PaymentPending},
		{"", models.PaymentPending},
		{"some unknown status", models.PaymentPending},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.raw))
		})
	}
}
