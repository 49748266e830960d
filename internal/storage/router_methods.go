package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// ========== Router Methods ==========

const routerColumns = `id, created_at, updated_at, name, ip_address, mac_address,
               location, status, active_users, last_seen_at, username, password, metadata`

// CreateRouter creates a new router
func (s *PostgresStore) CreateRouter(ctx context.Context, router *models.Router) error {
	if router.ID == uuid.Nil {
		router.ID = uuid.New()
	}

	now := time.Now()
	router.CreatedAt = now
	router.UpdatedAt = now

	query := `
        INSERT INTO routers (
            id, created_at, updated_at, name, ip_address, mac_address,
            location, status, active_users, last_seen_at, username, password, metadata
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.getDB().ExecContext(ctx, query,
		router.ID, router.CreatedAt, router.UpdatedAt, router.Name,
		router.IPAddress, router.MACAddress, router.Location, router.Status,
		router.ActiveUsers, router.LastSeenAt, router.Username, router.Password,
		router.Metadata,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func scanRouter(row interface{ Scan(...interface{}) error }) (*models.Router, error) {
	router := &models.Router{}
	err := row.Scan(
		&router.ID, &router.CreatedAt, &router.UpdatedAt, &router.Name,
		&router.IPAddress, &router.MACAddress, &router.Location, &router.Status,
		&router.ActiveUsers, &router.LastSeenAt, &router.Username, &router.Password,
		&router.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return router, nil
}

// GetRouter gets a router by ID
func (s *PostgresStore) GetRouter(ctx context.Context, id uuid.UUID) (*models.Router, error) {
	query := `SELECT ` + routerColumns + ` FROM routers WHERE id = $1`

	router, err := scanRouter(s.getDB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return router, nil
}

// UpdateRouter updates a router
func (s *PostgresStore) UpdateRouter(ctx context.Context, router *models.Router) error {
	router.UpdatedAt = time.Now()

	query := `
        UPDATE routers SET
            updated_at = $2, name = $3, ip_address = $4, mac_address = $5,
            location = $6, status = $7, active_users = $8, last_seen_at = $9,
            username = $10, password = $11, metadata = $12
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		router.ID, router.UpdatedAt, router.Name, router.IPAddress,
		router.MACAddress, router.Location, router.Status, router.ActiveUsers,
		router.LastSeenAt, router.Username, router.Password, router.Metadata,
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

// DeleteRouter deletes a router
func (s *PostgresStore) DeleteRouter(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM routers WHERE id = $1`, id)
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

// ListRouters lists all routers
func (s *PostgresStore) ListRouters(ctx context.Context) ([]*models.Router, error) {
	query := `SELECT ` + routerColumns + ` FROM routers ORDER BY name`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routers []*models.Router
	for rows.Next() {
		router, err := scanRouter(rows)
		if err != nil {
			return nil, err
		}
		routers = append(routers, router)
	}

	return routers, rows.Err()
}

// SetRouterActiveUsers writes the derived active session count
func (s *PostgresStore) SetRouterActiveUsers(ctx context.Context, id uuid.UUID, count int) error {
	_, err := s.getDB().ExecContext(ctx,
		`UPDATE routers SET active_users = $2, updated_at = $3 WHERE id = $1`,
		id, count, time.Now(),
	)
	return err
}
