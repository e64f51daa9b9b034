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

// RewardService issues and redeems reward tokens.
type RewardService interface {
	IssueToken(ctx context.Context, tenantID, cardID, correlationID string) (IssuedToken, error)
	Redeem(ctx context.Context, device *model.Device, redeemToken, correlationID string) (model.CardState, error)
}

type RewardServiceImpl struct {
	ledger         repository.TokenLedger
	ttl            time.Duration
	stampsRequired int
	deps
}

// NewRewardService constructs RewardService.
func NewRewardService(ledger repository.TokenLedger, ttl time.Duration, stampsRequired int, rec audit.Recorder, opts ...Option) *RewardServiceImpl {
	if ttl <= 0 {
		ttl = DefaultRewardTokenTTL
	}
	if stampsRequired <= 0 {
		stampsRequired = DefaultStampsRequired
	}
	return &RewardServiceImpl{ledger: ledger, ttl: ttl, stampsRequired: stampsRequired, deps: newDeps(rec, opts)}
}

// IssueToken creates a redeem token for a card holding at least one reward.
// The balance is checked again on redemption.
func (s *RewardServiceImpl) IssueToken(ctx context.Context, tenantID, cardID, correlationID string) (IssuedToken, error) {
	tenantID, cardID = strings.TrimSpace(tenantID), strings.TrimSpace(cardID)
	if tenantID == "" || cardID == "" {
		return IssuedToken{}, fmt.Errorf("tenant and card id required: %w", errs.ErrInvalidInput)
	}
	st, err := s.ledger.Card(ctx, tenantID, cardID, s.stampsRequired)
	if err != nil {
		return IssuedToken{}, err
	}
	if st.RewardsAvailable <= 0 {
		return IssuedToken{}, fmt.Errorf("card %s: %w", cardID, errs.ErrNoReward)
	}
	tok, err := issue(ctx, s.ledger, s.now(), s.ttl, model.RedeemableToken{
		Kind:     model.TokenReward,
		TenantID: tenantID,
		CardID:   cardID,
	})
	if err != nil {
		return IssuedToken{}, err
	}
	s.record(ctx, model.AuditEntry{
		TenantID: tenantID, Action: ActionRewardTokenIssued,
		CardID: cardID, JTI: tok.JTI, CorrelationID: correlationID,
	})
	return tok, nil
}

// Redeem consumes redeemToken inside the device's tenant and takes one reward
// off the card.
func (s *RewardServiceImpl) Redeem(ctx context.Context, device *model.Device, redeemToken, correlationID string) (model.CardState, error) {
	if device == nil {
		return model.CardState{}, errs.ErrUnauthorized
	}
	if redeemToken == "" {
		return model.CardState{}, fmt.Errorf("redeem token required: %w", errs.ErrInvalidInput)
	}
	t, st, err := s.ledger.ClaimReward(ctx, pkgcrypto.HashToken(redeemToken), device.TenantID, s.now())
	if err != nil {
		return model.CardState{}, unknownAsExpired(err)
	}
	s.record(ctx, model.AuditEntry{
		TenantID: device.TenantID, Action: ActionRewardRedeemed,
		DeviceID: device.ID, CardID: t.CardID, JTI: t.ID, CorrelationID: correlationID,
	})
	return st, nil
}
