package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netflow-hotspot/netflow-server/internal/models"
)

// MemoryStore implements Store in memory. It backs development mode and
// tests. BeginTx returns the store itself: individual operations are
// atomic under the mutex but there is no multi-statement rollback.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[uuid.UUID]*models.Session
	packages map[uuid.UUID]*models.Package
	routers  map[uuid.UUID]*models.Router
	payments map[uuid.UUID]*models.Payment
	vouchers map[uuid.UUID]*models.Voucher
	users    map[uuid.UUID]*models.User
	events   []*models.EventLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*models.Session),
		packages: make(map[uuid.UUID]*models.Package),
		routers:  make(map[uuid.UUID]*models.Router),
		payments: make(map[uuid.UUID]*models.Payment),
		vouchers: make(map[uuid.UUID]*models.Voucher),
		users:    make(map[uuid.UUID]*models.User),
	}
}

// BeginTx returns the store itself; see type comment
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) { return s, nil }

// Commit is a no-op
func (s *MemoryStore) Commit() error { return nil }

// Rollback is a no-op
func (s *MemoryStore) Rollback() error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// ========== Session Methods ==========

// CreateSession inserts a session, enforcing a single non-terminal
// session per device MAC like the Postgres partial unique index does
func (s *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.DeviceMAC == session.DeviceMAC && !existing.Status.IsTerminal() {
			return ErrDuplicateKey
		}
	}

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.StartTime.IsZero() {
		session.StartTime = now
	}

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// GetSession gets a session by ID
func (s *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	return &cp, nil
}

// GetNonTerminalSessionByMAC gets the live session for a device, if any
func (s *MemoryStore) GetNonTerminalSessionByMAC(ctx context.Context, deviceMAC string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.DeviceMAC == deviceMAC && !session.Status.IsTerminal() {
			cp := *session
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateSession updates a session
func (s *MemoryStore) UpdateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// ListSessions lists sessions with optional filters
func (s *MemoryStore) ListSessions(ctx context.Context, filters SessionFilters, limit, offset int) ([]*models.Session, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Session
	for _, session := range s.sessions {
		if filters.Status != nil && session.Status != *filters.Status {
			continue
		}
		if filters.RouterID != nil && session.RouterID != *filters.RouterID {
			continue
		}
		if filters.DeviceMAC != nil && session.DeviceMAC != *filters.DeviceMAC {
			continue
		}
		cp := *session
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	return paginate(matched, limit, offset), total, nil
}

// ListExpiredSessions lists ACTIVE and SUSPENDED sessions past their
// deadline. Suspension never pauses the expiry clock.
func (s *MemoryStore) ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*models.Session
	for _, session := range s.sessions {
		reapable := session.Status == models.SessionActive || session.Status == models.SessionSuspended
		if reapable && !session.ExpiresAt.After(now) {
			cp := *session
			expired = append(expired, &cp)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	return expired, nil
}

// CountActiveSessionsByRouter counts ACTIVE sessions on a router
func (s *MemoryStore) CountActiveSessionsByRouter(ctx context.Context, routerID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, session := range s.sessions {
		if session.RouterID == routerID && session.Status == models.SessionActive {
			count++
		}
	}
	return count, nil
}

// ========== Package Methods ==========

// CreatePackage creates a package
func (s *MemoryStore) CreatePackage(ctx context.Context, pkg *models.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	now := time.Now()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now

	cp := *pkg
	s.packages[pkg.ID] = &cp
	return nil
}

// GetPackage gets a package by ID
func (s *MemoryStore) GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pkg
	return &cp, nil
}

// UpdatePackage updates a package
func (s *MemoryStore) UpdatePackage(ctx context.Context, pkg *models.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packages[pkg.ID]; !ok {
		return ErrNotFound
	}
	pkg.UpdatedAt = time.Now()
	cp := *pkg
	s.packages[pkg.ID] = &cp
	return nil
}

// DeletePackage deletes a package
func (s *MemoryStore) DeletePackage(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packages[id]; !ok {
		return ErrNotFound
	}
	delete(s.packages, id)
	return nil
}

// ListPackages lists packages ordered by price
func (s *MemoryStore) ListPackages(ctx context.Context, onlyActive bool) ([]*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var packages []*models.Package
	for _, pkg := range s.packages {
		if onlyActive && !pkg.IsActive {
			continue
		}
		cp := *pkg
		packages = append(packages, &cp)
	}

	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Price < packages[j].Price
	})
	return packages, nil
}

// ========== Router Methods ==========

// CreateRouter creates a router
func (s *MemoryStore) CreateRouter(ctx context.Context, router *models.Router) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.routers {
		if existing.IPAddress == router.IPAddress {
			return ErrDuplicateKey
		}
	}

	if router.ID == uuid.Nil {
		router.ID = uuid.New()
	}
	now := time.Now()
	router.CreatedAt = now
	router.UpdatedAt = now

	cp := *router
	s.routers[router.ID] = &cp
	return nil
}

// GetRouter gets a router by ID
func (s *MemoryStore) GetRouter(ctx context.Context, id uuid.UUID) (*models.Router, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	router, ok := s.routers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *router
	return &cp, nil
}

// UpdateRouter updates a router
func (s *MemoryStore) UpdateRouter(ctx context.Context, router *models.Router) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routers[router.ID]; !ok {
		return ErrNotFound
	}
	router.UpdatedAt = time.Now()
	cp := *router
	s.routers[router.ID] = &cp
	return nil
}

// DeleteRouter deletes a router
func (s *MemoryStore) DeleteRouter(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routers[id]; !ok {
		return ErrNotFound
	}
	delete(s.routers, id)
	return nil
}

// ListRouters lists all routers ordered by name
func (s *MemoryStore) ListRouters(ctx context.Context) ([]*models.Router, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var routers []*models.Router
	for _, router := range s.routers {
		cp := *router
		routers = append(routers, &cp)
	}

	sort.Slice(routers, func(i, j int) bool {
		return routers[i].Name < routers[j].Name
	})
	return routers, nil
}

// SetRouterActiveUsers writes the derived active session count
func (s *MemoryStore) SetRouterActiveUsers(ctx context.Context, id uuid.UUID, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	router, ok := s.routers[id]
	if !ok {
		return ErrNotFound
	}
	router.ActiveUsers = count
	router.UpdatedAt = time.Now()
	return nil
}

// ========== Payment Methods ==========

// CreatePayment creates a payment
func (s *MemoryStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.Reference != "" {
		for _, existing := range s.payments {
			if existing.Reference == payment.Reference {
				return ErrDuplicateKey
			}
		}
	}

	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	now := time.Now()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	cp := *payment
	s.payments[payment.ID] = &cp
	return nil
}

// GetPayment gets a payment by ID
func (s *MemoryStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *payment
	return &cp, nil
}

// GetPaymentByReference gets a payment by gateway reference
func (s *MemoryStore) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, payment := range s.payments {
		if payment.Reference == reference {
			cp := *payment
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdatePayment updates a payment
func (s *MemoryStore) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[payment.ID]; !ok {
		return ErrNotFound
	}
	payment.UpdatedAt = time.Now()
	cp := *payment
	s.payments[payment.ID] = &cp
	return nil
}

// SettlePayment moves a PENDING payment to a terminal status, single
// shot under the mutex like the conditional UPDATE in Postgres
func (s *MemoryStore) SettlePayment(ctx context.Context, id uuid.UUID, status models.PaymentStatus, paidAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[id]
	if !ok || payment.Status != models.PaymentPending {
		return false, nil
	}

	payment.Status = status
	payment.PaidAt = paidAt
	payment.UpdatedAt = time.Now()
	return true, nil
}

// ListPayments lists payments newest first
func (s *MemoryStore) ListPayments(ctx context.Context, limit, offset int) ([]*models.Payment, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payments []*models.Payment
	for _, payment := range s.payments {
		cp := *payment
		payments = append(payments, &cp)
	}

	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})

	total := int64(len(payments))
	return paginate(payments, limit, offset), total, nil
}

// ListPendingPayments lists PENDING payments created before olderThan
func (s *MemoryStore) ListPendingPayments(ctx context.Context, olderThan time.Time) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*models.Payment
	for _, payment := range s.payments {
		if payment.Status == models.PaymentPending && payment.Reference != "" &&
			!payment.CreatedAt.After(olderThan) {
			cp := *payment
			pending = append(pending, &cp)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// ========== Voucher Methods ==========

// CreateVoucher creates a voucher, enforcing code uniqueness
func (s *MemoryStore) CreateVoucher(ctx context.Context, voucher *models.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.vouchers {
		if strings.EqualFold(existing.Code, voucher.Code) {
			return ErrDuplicateKey
		}
	}

	if voucher.ID == uuid.Nil {
		voucher.ID = uuid.New()
	}
	now := time.Now()
	voucher.CreatedAt = now
	voucher.UpdatedAt = now

	cp := *voucher
	s.vouchers[voucher.ID] = &cp
	return nil
}

// GetVoucherByCode gets a voucher by code, case-insensitively
func (s *MemoryStore) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, voucher := range s.vouchers {
		if strings.EqualFold(voucher.Code, code) {
			cp := *voucher
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateVoucher updates a voucher
func (s *MemoryStore) UpdateVoucher(ctx context.Context, voucher *models.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vouchers[voucher.ID]; !ok {
		return ErrNotFound
	}
	voucher.UpdatedAt = time.Now()
	cp := *voucher
	s.vouchers[voucher.ID] = &cp
	return nil
}

// ClaimVoucher marks an unredeemed voucher as redeemed, single shot
// under the mutex like the conditional UPDATE in Postgres
func (s *MemoryStore) ClaimVoucher(ctx context.Context, id uuid.UUID, redeemedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	voucher, ok := s.vouchers[id]
	if !ok || voucher.RedeemedAt != nil {
		return false, nil
	}

	at := redeemedAt
	voucher.RedeemedAt = &at
	voucher.UpdatedAt = time.Now()
	return true, nil
}

// ReleaseVoucher clears a claim whose redemption did not go through
func (s *MemoryStore) ReleaseVoucher(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	voucher, ok := s.vouchers[id]
	if !ok {
		return ErrNotFound
	}

	voucher.RedeemedAt = nil
	voucher.RedeemedBySessionID = nil
	voucher.UpdatedAt = time.Now()
	return nil
}

// ListVouchers lists vouchers newest first
func (s *MemoryStore) ListVouchers(ctx context.Context, limit, offset int) ([]*models.Voucher, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vouchers []*models.Voucher
	for _, voucher := range s.vouchers {
		cp := *voucher
		vouchers = append(vouchers, &cp)
	}

	sort.Slice(vouchers, func(i, j int) bool {
		return vouchers[i].CreatedAt.After(vouchers[j].CreatedAt)
	})

	total := int64(len(vouchers))
	return paginate(vouchers, limit, offset), total, nil
}

// ========== User Methods ==========

// CreateUser creates a user
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return ErrDuplicateKey
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// GetUser gets a user by ID
func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

// GetUserByEmail gets a user by email
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateUser updates a user
func (s *MemoryStore) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return ErrNotFound
	}
	user.UpdatedAt = time.Now()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// ========== Event Log Methods ==========

// CreateEventLog creates an event log entry
func (s *MemoryStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// ListEventLogs lists event logs with filters, newest first
func (s *MemoryStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.EventLog
	for _, event := range s.events {
		if filters.SessionID != nil && (event.SessionID == nil || *event.SessionID != *filters.SessionID) {
			continue
		}
		if filters.RouterID != nil && (event.RouterID == nil || *event.RouterID != *filters.RouterID) {
			continue
		}
		if filters.Type != nil && event.Type != *filters.Type {
			continue
		}
		if filters.Level != nil && event.Level != *filters.Level {
			continue
		}
		if filters.StartTime != nil && event.CreatedAt.Before(*filters.StartTime) {
			continue
		}
		if filters.EndTime != nil && event.CreatedAt.After(*filters.EndTime) {
			continue
		}
		cp := *event
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	return paginate(matched, limit, offset), total, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
