package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// ========== Payment Methods ==========

const paymentColumns = `id, created_at, updated_at, session_id, package_id, amount,
               method, phone_number, reference, status, paid_at`

// CreatePayment creates a new payment
func (s *PostgresStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}

	now := time.Now()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	query := `
        INSERT INTO payments (
            id, created_at, updated_at, session_id, package_id, amount,
            method, phone_number, reference, status, paid_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.getDB().ExecContext(ctx, query,
		payment.ID, payment.CreatedAt, payment.UpdatedAt, payment.SessionID,
		payment.PackageID, payment.Amount, payment.Method, payment.PhoneNumber,
		payment.Reference, payment.Status, payment.PaidAt,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func scanPayment(row interface{ Scan(...interface{}) error }) (*models.Payment, error) {
	payment := &models.Payment{}
	err := row.Scan(
		&payment.ID, &payment.CreatedAt, &payment.UpdatedAt, &payment.SessionID,
		&payment.PackageID, &payment.Amount, &payment.Method, &payment.PhoneNumber,
		&payment.Reference, &payment.Status, &payment.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// GetPayment gets a payment by ID
func (s *PostgresStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	payment, err := scanPayment(s.getDB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// GetPaymentByReference gets a payment by its gateway reference
func (s *PostgresStore) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1`

	payment, err := scanPayment(s.getDB().QueryRowContext(ctx, query, reference))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// UpdatePayment updates a payment
func (s *PostgresStore) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	payment.UpdatedAt = time.Now()

	query := `
        UPDATE payments SET
            updated_at = $2, session_id = $3, reference = $4, status = $5, paid_at = $6
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		payment.ID, payment.UpdatedAt, payment.SessionID, payment.Reference,
		payment.Status, payment.PaidAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SettlePayment moves a PENDING payment to a terminal status. The
// status guard in the WHERE clause makes the transition single-shot
// when a webhook and a poll race for the same reference; the return
// value tells the caller whether it won. A COMPLETED or FAILED payment
// never changes again.
func (s *PostgresStore) SettlePayment(ctx context.Context, id uuid.UUID, status models.PaymentStatus, paidAt *time.Time) (bool, error) {
	query := `
        UPDATE payments SET updated_at = $2, status = $3, paid_at = $4
        WHERE id = $1 AND status = 'PENDING'`

	result, err := s.getDB().ExecContext(ctx, query, id, time.Now(), status, paidAt)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ListPayments lists payments
func (s *PostgresStore) ListPayments(ctx context.Context, limit, offset int) ([]*models.Payment, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM payments`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + paymentColumns + ` FROM payments
        ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, payment)
	}

	return payments, total, rows.Err()
}

// ListPendingPayments lists PENDING payments created before olderThan,
// used by the poll fallback for missed webhooks
func (s *PostgresStore) ListPendingPayments(ctx context.Context, olderThan time.Time) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
        WHERE status = 'PENDING' AND created_at <= $1 AND reference <> ''
        ORDER BY created_at`

	rows, err := s.getDB().QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}
