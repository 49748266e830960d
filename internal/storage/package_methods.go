package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// ========== Package Methods ==========

// CreatePackage creates a new package
func (s *PostgresStore) CreatePackage(ctx context.Context, pkg *models.Package) error {
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}

	now := time.Now()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now

	query := `
        INSERT INTO packages (
            id, created_at, updated_at, name, description,
            duration_minutes, price, is_active
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		pkg.ID, pkg.CreatedAt, pkg.UpdatedAt, pkg.Name, pkg.Description,
		pkg.DurationMinutes, pkg.Price, pkg.IsActive,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetPackage gets a package by ID
func (s *PostgresStore) GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	query := `
        SELECT id, created_at, updated_at, name, description,
               duration_minutes, price, is_active
        FROM packages
        WHERE id = $1`

	pkg := &models.Package{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&pkg.ID, &pkg.CreatedAt, &pkg.UpdatedAt, &pkg.Name, &pkg.Description,
		&pkg.DurationMinutes, &pkg.Price, &pkg.IsActive,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return pkg, nil
}

// UpdatePackage updates a package
func (s *PostgresStore) UpdatePackage(ctx context.Context, pkg *models.Package) error {
	pkg.UpdatedAt = time.Now()

	query := `
        UPDATE packages SET
            updated_at = $2, name = $3, description = $4,
            duration_minutes = $5, price = $6, is_active = $7
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		pkg.ID, pkg.UpdatedAt, pkg.Name, pkg.Description,
		pkg.DurationMinutes, pkg.Price, pkg.IsActive,
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

// DeletePackage deletes a package
func (s *PostgresStore) DeletePackage(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM packages WHERE id = $1`, id)
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

// ListPackages lists packages ordered by price
func (s *PostgresStore) ListPackages(ctx context.Context, onlyActive bool) ([]*models.Package, error) {
	query := `
        SELECT id, created_at, updated_at, name, description,
               duration_minutes, price, is_active
        FROM packages`
	if onlyActive {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY price`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []*models.Package
	for rows.Next() {
		pkg := &models.Package{}
		err := rows.Scan(
			&pkg.ID, &pkg.CreatedAt, &pkg.UpdatedAt, &pkg.Name, &pkg.Description,
			&pkg.DurationMinutes, &pkg.Price, &pkg.IsActive,
		)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}

	return packages, rows.Err()
}
