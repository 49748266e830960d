package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Session methods
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetNonTerminalSessionByMAC(ctx context.Context, deviceMAC string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context, filters SessionFilters, limit, offset int) ([]*models.Session, int64, error)
	ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.Session, error)
	CountActiveSessionsByRouter(ctx context.Context, routerID uuid.UUID) (int, error)

	// Package methods
	CreatePackage(ctx context.Context, pkg *models.Package) error
	GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error)
	UpdatePackage(ctx context.Context, pkg *models.Package) error
	DeletePackage(ctx context.Context, id uuid.UUID) error
	ListPackages(ctx context.Context, onlyActive bool) ([]*models.Package, error)

	// Router methods
	CreateRouter(ctx context.Context, router *models.Router) error
	GetRouter(ctx context.Context, id uuid.UUID) (*models.Router, error)
	UpdateRouter(ctx context.Context, router *models.Router) error
	DeleteRouter(ctx context.Context, id uuid.UUID) error
	ListRouters(ctx context.Context) ([]*models.Router, error)
	SetRouterActiveUsers(ctx context.Context, id uuid.UUID, count int) error

	// Payment methods
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	SettlePayment(ctx context.Context, id uuid.UUID, status models.PaymentStatus, paidAt *time.Time) (bool, error)
	ListPayments(ctx context.Context, limit, offset int) ([]*models.Payment, int64, error)
	ListPendingPayments(ctx context.Context, olderThan time.Time) ([]*models.Payment, error)

	// Voucher methods
	CreateVoucher(ctx context.Context, voucher *models.Voucher) error
	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)
	UpdateVoucher(ctx context.Context, voucher *models.Voucher) error
	ClaimVoucher(ctx context.Context, id uuid.UUID, redeemedAt time.Time) (bool, error)
	ReleaseVoucher(ctx context.Context, id uuid.UUID) error
	ListVouchers(ctx context.Context, limit, offset int) ([]*models.Voucher, int64, error)

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// SessionFilters represents filters for session listings
type SessionFilters struct {
	Status    *models.SessionStatus
	RouterID  *uuid.UUID
	DeviceMAC *string
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	SessionID *uuid.UUID
	RouterID  *uuid.UUID
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
