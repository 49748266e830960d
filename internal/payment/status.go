package payment

import (
	"strings"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// ClassifyStatus maps a gateway status string onto a payment status.
// Gateways disagree on vocabulary ("success", "COMPLETED", "PAID",
// "settlement_complete"), so matching is by substring, case folded.
// Anything unrecognized stays PENDING rather than guessing terminal.
func ClassifyStatus(raw string) models.PaymentStatus {
	s := strings.ToLower(raw)

	switch {
	case strings.Contains(s, "success"),
		strings.Contains(s, "complete"),
		strings.Contains(s, "paid"):
		return models.PaymentCompleted

	case strings.Contains(s, "fail"),
		strings.Contains(s, "error"),
		strings.Contains(s, "cancel"),
		strings.Contains(s, "reject"):
		return models.PaymentFailed

	default:
		return models.PaymentPending
	}
}
