package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// ========== Session Methods ==========

const sessionColumns = `id, created_at, updated_at, device_mac, device_name, ip_address,
               router_id, package_id, status, start_time, expires_at, end_time,
               bytes_up, bytes_down`

// CreateSession inserts a new session. The partial unique index on
// device_mac over non-terminal statuses enforces the one-grant-per-device
// invariant; a violation surfaces as ErrDuplicateKey.
func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.StartTime.IsZero() {
		session.StartTime = now
	}

	query := `
        INSERT INTO sessions (
            id, created_at, updated_at, device_mac, device_name, ip_address,
            router_id, package_id, status, start_time, expires_at, end_time,
            bytes_up, bytes_down
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
        )`

	_, err := s.getDB().ExecContext(ctx, query,
		session.ID, session.CreatedAt, session.UpdatedAt, session.DeviceMAC,
		session.DeviceName, session.IPAddress, session.RouterID, session.PackageID,
		session.Status, session.StartTime, session.ExpiresAt, session.EndTime,
		int64(session.BytesUp), int64(session.BytesDown),
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	session := &models.Session{}
	var bytesUp, bytesDown int64

	err := row.Scan(
		&session.ID, &session.CreatedAt, &session.UpdatedAt, &session.DeviceMAC,
		&session.DeviceName, &session.IPAddress, &session.RouterID, &session.PackageID,
		&session.Status, &session.StartTime, &session.ExpiresAt, &session.EndTime,
		&bytesUp, &bytesDown,
	)
	if err != nil {
		return nil, err
	}

	session.BytesUp = uint64(bytesUp)
	session.BytesDown = uint64(bytesDown)
	return session, nil
}

// GetSession gets a session by ID
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(s.getDB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// GetNonTerminalSessionByMAC gets the PENDING, ACTIVE or SUSPENDED session
// for a device, if one exists. At most one such row can exist per MAC.
func (s *PostgresStore) GetNonTerminalSessionByMAC(ctx context.Context, deviceMAC string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
        FROM sessions
        WHERE device_mac = $1 AND status IN ('PENDING', 'ACTIVE', 'SUSPENDED')`

	session, err := scanSession(s.getDB().QueryRowContext(ctx, query, deviceMAC))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// UpdateSession updates a session
func (s *PostgresStore) UpdateSession(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now()

	query := `
        UPDATE sessions SET
            updated_at = $2, device_name = $3, ip_address = $4, status = $5,
            expires_at = $6, end_time = $7, bytes_up = $8, bytes_down = $9
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		session.ID, session.UpdatedAt, session.DeviceName, session.IPAddress,
		session.Status, session.ExpiresAt, session.EndTime,
		int64(session.BytesUp), int64(session.BytesDown),
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

// ListSessions lists sessions with optional filters
func (s *PostgresStore) ListSessions(ctx context.Context, filters SessionFilters, limit, offset int) ([]*models.Session, int64, error) {
	// Build query with filters
	query := "SELECT COUNT(*) FROM sessions WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.Status != nil {
		argCount++
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *filters.Status)
	}

	if filters.RouterID != nil {
		argCount++
		query += fmt.Sprintf(" AND router_id = $%d", argCount)
		args = append(args, *filters.RouterID)
	}

	if filters.DeviceMAC != nil {
		argCount++
		query += fmt.Sprintf(" AND device_mac = $%d", argCount)
		args = append(args, *filters.DeviceMAC)
	}

	var total int64
	if err := s.getDB().QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	selectQuery := strings.Replace(query, "SELECT COUNT(*)", "SELECT "+sessionColumns, 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.getDB().QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}

	return sessions, total, rows.Err()
}

// ListExpiredSessions lists ACTIVE and SUSPENDED sessions whose
// deadline has passed. Suspension never pauses the expiry clock.
func (s *PostgresStore) ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
        FROM sessions
        WHERE status IN ('ACTIVE', 'SUSPENDED') AND expires_at <= $1
        ORDER BY expires_at`

	rows, err := s.getDB().QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// CountActiveSessionsByRouter counts ACTIVE sessions on a router
func (s *PostgresStore) CountActiveSessionsByRouter(ctx context.Context, routerID uuid.UUID) (int, error) {
	var count int
	err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE router_id = $1 AND status = 'ACTIVE'`,
		routerID,
	).Scan(&count)
	return count, err
}
