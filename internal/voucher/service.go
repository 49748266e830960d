// Package voucher implements pre-paid access codes redeemable at the
// portal without an online payment.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/internal/session"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
	"github.com/netflow-hotspot/netflow-server/pkg/crypto"
)

var (
	ErrVoucherNotFound = errors.New("voucher not found")
	ErrVoucherRedeemed = errors.New("voucher has already been redeemed")
	ErrVoucherExpired  = errors.New("voucher has expired")
)

const (
	codePrefix = "WIFI-"
	codeLength = 8

	// createRetries bounds retry on code collisions
	createRetries = 3
)

// Service creates and redeems vouchers.
type Service struct {
	store    storage.Store
	sessions *session.Manager
	ttl      time.Duration
}

// NewService creates a voucher service. ttl is the redemption window
// for newly issued vouchers.
func NewService(store storage.Store, sessions *session.Manager, ttl time.Duration) *Service {
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{
		store:    store,
		sessions: sessions,
		ttl:      ttl,
	}
}

// Create issues a voucher for the package. paymentID links it to the
// purchase that bought it, if any.
func (s *Service) Create(ctx context.Context, packageID uuid.UUID, paymentID *uuid.UUID) (*models.Voucher, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, session.ErrPackageNotFound
		}
		return nil, fmt.Errorf("get package: %w", err)
	}

	var voucher *models.Voucher
	for attempt := 0; attempt < createRetries; attempt++ {
		code, err := crypto.GenerateVoucherCode(codeLength)
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		voucher = &models.Voucher{
			Code:      codePrefix + code,
			PackageID: pkg.ID,
			PaymentID: paymentID,
			ExpiresAt: time.Now().UTC().Add(s.ttl),
		}
		err = s.store.CreateVoucher(ctx, voucher)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("create voucher: %w", err)
		}
		voucher = nil
	}
	if voucher == nil {
		return nil, fmt.Errorf("create voucher: exhausted code retries")
	}

	log.Info().
		Str("code", voucher.Code).
		Str("package", pkg.Name).
		Time("expiresAt", voucher.ExpiresAt).
		Msg("Voucher created")

	return voucher, nil
}

// RedeemInput identifies the device redeeming a voucher.
type RedeemInput struct {
	Code       string
	DeviceMAC  string
	DeviceName string
	IPAddress  *string
	RouterID   uuid.UUID
}

// Redeem exchanges an unused voucher for an immediately ACTIVE
// session. Codes match case-insensitively. The device must be present
// on the router, same as a paid purchase.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) (*models.Session, error) {
	voucher, err := s.lookup(ctx, input.Code)
	if err != nil {
		return nil, err
	}

	if voucher.Redeemed() {
		return nil, ErrVoucherRedeemed
	}
	now := time.Now().UTC()
	if voucher.Expired(now) {
		return nil, ErrVoucherExpired
	}

	// Claim before granting anything. The conditional update keeps the
	// voucher single-use when two devices redeem the same code at once;
	// the loser sees it as already redeemed.
	claimed, err := s.store.ClaimVoucher(ctx, voucher.ID, now)
	if err != nil {
		return nil, fmt.Errorf("claim voucher: %w", err)
	}
	if !claimed {
		return nil, ErrVoucherRedeemed
	}

	sess, err := s.sessions.CreateSession(ctx, session.CreateSessionInput{
		DeviceMAC:  input.DeviceMAC,
		DeviceName: input.DeviceName,
		IPAddress:  input.IPAddress,
		RouterID:   input.RouterID,
		PackageID:  voucher.PackageID,
	})
	if err != nil {
		s.releaseClaim(ctx, voucher.ID)
		return nil, err
	}

	// Vouchers are pre-paid; activation happens right away.
	active, err := s.sessions.ActivateSession(ctx, sess.ID)
	if err != nil {
		if terr := s.sessions.TerminateSession(ctx, sess.ID, "voucher redemption failed"); terr != nil {
			log.Warn().Err(terr).Str("sessionID", sess.ID.String()).Msg("Failed to terminate session after redemption failure")
		}
		s.releaseClaim(ctx, voucher.ID)
		return nil, err
	}
	sess = active

	voucher.RedeemedAt = &now
	voucher.RedeemedBySessionID = &sess.ID
	if err := s.store.UpdateVoucher(ctx, voucher); err != nil {
		return nil, fmt.Errorf("mark voucher redeemed: %w", err)
	}

	log.Info().
		Str("code", voucher.Code).
		Str("sessionID", sess.ID.String()).
		Str("mac", sess.DeviceMAC).
		Msg("Voucher redeemed")

	return sess, nil
}

// Details returns the voucher and its package without redeeming.
func (s *Service) Details(ctx context.Context, code string) (*models.Voucher, *models.Package, error) {
	voucher, err := s.lookup(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	pkg, err := s.store.GetPackage(ctx, voucher.PackageID)
	if err != nil {
		return nil, nil, fmt.Errorf("get package: %w", err)
	}

	return voucher, pkg, nil
}

func (s *Service) releaseClaim(ctx context.Context, id uuid.UUID) {
	if err := s.store.ReleaseVoucher(ctx, id); err != nil {
		log.Warn().Err(err).Str("voucherID", id.String()).Msg("Failed to release voucher claim")
	}
}

func (s *Service) lookup(ctx context.Context, code string) (*models.Voucher, error) {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(strings.ToUpper(code), codePrefix) {
		code = codePrefix + code
	}

	voucher, err := s.store.GetVoucherByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}

	return voucher, nil
}
