package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/Globator25/Lokaltreu-sub000/internal/audit"
	pkgcrypto "github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

// Defaults for token lifetimes and the card threshold.
const (
	DefaultStampTokenTTL  = 60 * time.Second
	DefaultRewardTokenTTL = 5 * time.Minute
	DefaultDeviceLinkTTL  = 15 * time.Minute
	DefaultStampsRequired = 5
)

// IssuedToken is a freshly created single-use token. Token is the only copy
// of the raw value.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// StampService issues and claims stamp tokens.
type StampService interface {
	IssueToken(ctx context.Context, device *model.Device, correlationID string) (IssuedToken, error)
	Claim(ctx context.Context, qrToken, cardID, correlationID string) (model.CardState, error)
}

type StampServiceImpl struct {
	ledger         repository.TokenLedger
	ttl            time.Duration
	stampsRequired int
	deps
}

// NewStampService constructs StampService.
func NewStampService(ledger repository.TokenLedger, ttl time.Duration, stampsRequired int, rec audit.Recorder, opts ...Option) *StampServiceImpl {
	if ttl <= 0 {
		ttl = DefaultStampTokenTTL
	}
	if stampsRequired <= 0 {
		stampsRequired = DefaultStampsRequired
	}
	return &StampServiceImpl{ledger: ledger, ttl: ttl, stampsRequired: stampsRequired, deps: newDeps(rec, opts)}
}

// issue stores a new token of kind and returns its raw value.
func issue(ctx context.Context, ledger repository.TokenLedger, now time.Time, ttl time.Duration, t model.RedeemableToken) (IssuedToken, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return IssuedToken{}, err
	}
	raw, hash, err := pkgcrypto.NewOpaqueToken()
	if err != nil {
		return IssuedToken{}, err
	}
	t.ID = id.String()
	t.TokenHash = hash
	t.CreatedAt = now
	t.ExpiresAt = now.Add(ttl)
	if err := ledger.Create(ctx, &t); err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: raw, JTI: t.ID, ExpiresAt: t.ExpiresAt}, nil
}

// IssueToken creates a stamp token for the device's tenant.
func (s *StampServiceImpl) IssueToken(ctx context.Context, device *model.Device, correlationID string) (IssuedToken, error) {
	if device == nil {
		return IssuedToken{}, errs.ErrUnauthorized
	}
	tok, err := issue(ctx, s.ledger, s.now(), s.ttl, model.RedeemableToken{
		Kind:     model.TokenStamp,
		TenantID: device.TenantID,
		DeviceID: device.ID,
	})
	if err != nil {
		return IssuedToken{}, err
	}
	s.record(ctx, model.AuditEntry{
		TenantID: device.TenantID, Action: ActionStampTokenCreated,
		DeviceID: device.ID, JTI: tok.JTI, CorrelationID: correlationID,
	})
	return tok, nil
}

// Claim consumes qrToken and adds one stamp to cardID.
func (s *StampServiceImpl) Claim(ctx context.Context, qrToken, cardID, correlationID string) (model.CardState, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return model.CardState{}, fmt.Errorf("card id required: %w", errs.ErrInvalidInput)
	}
	if qrToken == "" {
		return model.CardState{}, fmt.Errorf("qr token required: %w", errs.ErrInvalidInput)
	}
	t, st, err := s.ledger.ClaimStamp(ctx, pkgcrypto.HashToken(qrToken), cardID, s.stampsRequired, s.now())
	if err != nil {
		return model.CardState{}, unknownAsExpired(err)
	}
	s.record(ctx, model.AuditEntry{
		TenantID: t.TenantID, Action: ActionStampClaimed,
		DeviceID: t.DeviceID, CardID: cardID, JTI: t.ID, CorrelationID: correlationID,
	})
	return st, nil
}
