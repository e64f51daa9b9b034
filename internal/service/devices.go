package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/audit"
	pkgcrypto "github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

// DeviceService onboards and disables field devices.
type DeviceService interface {
	// CreateLink issues a single-use registration link for the admin's tenant.
	CreateLink(ctx context.Context, tenantID, adminID, correlationID string) (IssuedToken, error)
	// Confirm claims a registration link and registers publicKey under it.
	Confirm(ctx context.Context, token, publicKey, correlationID string) (*model.Device, error)
	// Disable turns a device off; later proofs fail.
	Disable(ctx context.Context, tenantID, deviceID, correlationID string) error
}

type DeviceServiceImpl struct {
	ledger  repository.TokenLedger
	devices repository.DeviceRepository
	ttl     time.Duration
	deps
}

// NewDeviceService constructs DeviceService.
func NewDeviceService(ledger repository.TokenLedger, devices repository.DeviceRepository, ttl time.Duration, rec audit.Recorder, opts ...Option) *DeviceServiceImpl {
	if ttl <= 0 {
		ttl = DefaultDeviceLinkTTL
	}
	return &DeviceServiceImpl{ledger: ledger, devices: devices, ttl: ttl, deps: newDeps(rec, opts)}
}

// CreateLink implements DeviceService.
func (s *DeviceServiceImpl) CreateLink(ctx context.Context, tenantID, adminID, correlationID string) (IssuedToken, error) {
	if tenantID == "" || adminID == "" {
		return IssuedToken{}, errs.ErrUnauthorized
	}
	tok, err := issue(ctx, s.ledger, s.now(), s.ttl, model.RedeemableToken{
		Kind:     model.TokenDeviceLink,
		TenantID: tenantID,
		AdminID:  adminID,
	})
	if err != nil {
		return IssuedToken{}, err
	}
	s.record(ctx, model.AuditEntry{TenantID: tenantID, Action: ActionLinkCreated, JTI: tok.JTI, CorrelationID: correlationID})
	return tok, nil
}

// Confirm implements DeviceService.
func (s *DeviceServiceImpl) Confirm(ctx context.Context, token, publicKey, correlationID string) (*model.Device, error) {
	if token == "" {
		return nil, fmt.Errorf("token required: %w", errs.ErrInvalidInput)
	}
	pub, err := pkgcrypto.ParseDevicePublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("public key: %v: %w", err, errs.ErrInvalidInput)
	}
	d, err := s.ledger.ClaimDeviceLink(ctx, pkgcrypto.HashToken(token), pub, s.now())
	if err != nil {
		return nil, unknownAsExpired(err)
	}
	s.record(ctx, model.AuditEntry{TenantID: d.TenantID, Action: ActionDeviceRegistered, DeviceID: d.ID, JTI: d.ID, CorrelationID: correlationID})
	return d, nil
}

// Disable implements DeviceService.
func (s *DeviceServiceImpl) Disable(ctx context.Context, tenantID, deviceID, correlationID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("device id required: %w", errs.ErrInvalidInput)
	}
	if err := s.devices.Disable(ctx, tenantID, deviceID); err != nil {
		return err
	}
	s.record(ctx, model.AuditEntry{TenantID: tenantID, Action: ActionDeviceDisabled, DeviceID: deviceID, CorrelationID: correlationID})
	return nil
}
