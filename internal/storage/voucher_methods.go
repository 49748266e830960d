package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// ========== Voucher Methods ==========

const voucherColumns = `id, created_at, updated_at, code, package_id, payment_id,
               expires_at, redeemed_at, redeemed_by_session_id`

// CreateVoucher creates a new voucher. The unique constraint on code
// surfaces as ErrDuplicateKey so callers can regenerate and retry.
func (s *PostgresStore) CreateVoucher(ctx context.Context, voucher *models.Voucher) error {
	if voucher.ID == uuid.Nil {
		voucher.ID = uuid.New()
	}

	now := time.Now()
	voucher.CreatedAt = now
	voucher.UpdatedAt = now

	query := `
        INSERT INTO vouchers (
            id, created_at, updated_at, code, package_id, payment_id,
            expires_at, redeemed_at, redeemed_by_session_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		voucher.ID, voucher.CreatedAt, voucher.UpdatedAt, voucher.Code,
		voucher.PackageID, voucher.PaymentID, voucher.ExpiresAt,
		voucher.RedeemedAt, voucher.RedeemedBySessionID,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func scanVoucher(row interface{ Scan(...interface{}) error }) (*models.Voucher, error) {
	voucher := &models.Voucher{}
	err := row.Scan(
		&voucher.ID, &voucher.CreatedAt, &voucher.UpdatedAt, &voucher.Code,
		&voucher.PackageID, &voucher.PaymentID, &voucher.ExpiresAt,
		&voucher.RedeemedAt, &voucher.RedeemedBySessionID,
	)
	if err != nil {
		return nil, err
	}
	return voucher, nil
}

// GetVoucherByCode gets a voucher by code, case-insensitively
func (s *PostgresStore) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = upper($1)`

	voucher, err := scanVoucher(s.getDB().QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return voucher, nil
}

// UpdateVoucher updates a voucher
func (s *PostgresStore) UpdateVoucher(ctx context.Context, voucher *models.Voucher) error {
	voucher.UpdatedAt = time.Now()

	query := `
        UPDATE vouchers SET
            updated_at = $2, payment_id = $3, expires_at = $4,
            redeemed_at = $5, redeemed_by_session_id = $6
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		voucher.ID, voucher.UpdatedAt, voucher.PaymentID, voucher.ExpiresAt,
		voucher.RedeemedAt, voucher.RedeemedBySessionID,
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

// ClaimVoucher marks an unredeemed voucher as redeemed. The NULL guard
// makes the claim single-shot when two redemptions race for the same
// code; the return value tells the caller whether it got the claim.
func (s *PostgresStore) ClaimVoucher(ctx context.Context, id uuid.UUID, redeemedAt time.Time) (bool, error) {
	query := `
        UPDATE vouchers SET updated_at = $2, redeemed_at = $3
        WHERE id = $1 AND redeemed_at IS NULL`

	result, err := s.getDB().ExecContext(ctx, query, id, time.Now(), redeemedAt)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ReleaseVoucher clears a claim whose redemption did not go through,
// making the voucher usable again
func (s *PostgresStore) ReleaseVoucher(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE vouchers SET updated_at = $2, redeemed_at = NULL, redeemed_by_session_id = NULL
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query, id, time.Now())
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

// ListVouchers lists vouchers
func (s *PostgresStore) ListVouchers(ctx context.Context, limit, offset int) ([]*models.Voucher, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM vouchers`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + voucherColumns + ` FROM vouchers
        ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var vouchers []*models.Voucher
	for rows.Next() {
		voucher, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		vouchers = append(vouchers, voucher)
	}

	return vouchers, total, rows.Err()
}
