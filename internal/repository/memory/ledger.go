package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// Devices implements repository.DeviceRepository.
type Devices struct {
	mu   sync.RWMutex
	byID map[string]model.Device
}

// NewDevices constructs an empty device store.
func NewDevices() *Devices { return &Devices{byID: make(map[string]model.Device)} }

// Put stores d, replacing any device with the same id.
func (s *Devices) Put(d model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[d.ID] = d
}

func (s *Devices) insert(d model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[d.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.byID[d.ID] = d
	return nil
}

// Get implements repository.DeviceRepository.
func (s *Devices) Get(_ context.Context, deviceID string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[deviceID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &d, nil
}

// Disable implements repository.DeviceRepository.
func (s *Devices) Disable(_ context.Context, tenantID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[deviceID]
	if !ok || d.TenantID != tenantID {
		return errs.ErrNotFound
	}
	d.Enabled = false
	s.byID[deviceID] = d
	return nil
}

type cardKey struct{ tenant, card string }

// Ledger implements repository.TokenLedger.
type Ledger struct {
	mu      sync.Mutex
	byHash  map[string]*model.RedeemableToken
	cards   map[cardKey]model.CardState
	devices *Devices
}

// NewLedger constructs an empty ledger. Confirmed device links are inserted
// into devices.
func NewLedger(devices *Devices) *Ledger {
	return &Ledger{
		byHash:  make(map[string]*model.RedeemableToken),
		cards:   make(map[cardKey]model.CardState),
		devices: devices,
	}
}

// Create implements repository.TokenLedger.
func (l *Ledger) Create(_ context.Context, t *model.RedeemableToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byHash[t.TokenHash]; ok {
		return errs.ErrAlreadyExists
	}
	c := *t
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	l.byHash[t.TokenHash] = &c
	return nil
}

// claimLocked mirrors the SQL claim. Callers hold l.mu.
func (l *Ledger) claimLocked(kind model.TokenKind, tokenHash string, now time.Time, check func(*model.RedeemableToken) error) (*model.RedeemableToken, error) {
	t, ok := l.byHash[tokenHash]
	if !ok || t.Kind != kind {
		return nil, errs.ErrNotFound
	}
	if check != nil {
		if err := check(t); err != nil {
			return nil, err
		}
	}
	if t.Expired(now) {
		return nil, fmt.Errorf("token %s: %w", t.ID, errs.ErrTokenExpired)
	}
	if t.ClaimedAt != nil {
		return nil, fmt.Errorf("token %s: %w", t.ID, errs.ErrTokenReuse)
	}
	return t, nil
}

func (l *Ledger) card(tenant, card string, stampsRequired int) model.CardState {
	st, ok := l.cards[cardKey{tenant, card}]
	if !ok {
		st = model.CardState{StampsRequired: stampsRequired}
	}
	return st
}

// ClaimStamp implements repository.TokenLedger.
func (l *Ledger) ClaimStamp(_ context.Context, tokenHash, cardID string, stampsRequired int, now time.Time) (*model.RedeemableToken, model.CardState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.claimLocked(model.TokenStamp, tokenHash, now, nil)
	if err != nil {
		return nil, model.CardState{}, err
	}
	next := l.card(t.TenantID, cardID, stampsRequired).AddStamp()
	l.cards[cardKey{t.TenantID, cardID}] = next

	claimedAt := now
	t.ClaimedAt = &claimedAt
	if t.CardID == "" {
		t.CardID = cardID
	}
	c := *t
	return &c, next, nil
}

// ClaimReward implements repository.TokenLedger.
func (l *Ledger) ClaimReward(_ context.Context, tokenHash, tenantID string, now time.Time) (*model.RedeemableToken, model.CardState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.claimLocked(model.TokenReward, tokenHash, now, func(t *model.RedeemableToken) error {
		if t.TenantID != tenantID {
			return errs.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, model.CardState{}, err
	}
	k := cardKey{t.TenantID, t.CardID}
	st, ok := l.cards[k]
	if !ok || st.RewardsAvailable <= 0 {
		return nil, model.CardState{}, fmt.Errorf("card %s: %w", t.CardID, errs.ErrNoReward)
	}
	st.RewardsAvailable--
	l.cards[k] = st

	claimedAt := now
	t.ClaimedAt = &claimedAt
	c := *t
	return &c, st, nil
}

// ClaimDeviceLink implements repository.TokenLedger.
func (l *Ledger) ClaimDeviceLink(_ context.Context, tokenHash string, publicKey []byte, now time.Time) (*model.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.claimLocked(model.TokenDeviceLink, tokenHash, now, nil)
	if err != nil {
		return nil, err
	}
	d := model.Device{ID: t.ID, TenantID: t.TenantID, PublicKey: publicKey, Algorithm: "ed25519", Enabled: true, CreatedAt: now}
	if err := l.devices.insert(d); err != nil {
		return nil, err
	}
	claimedAt := now
	t.ClaimedAt = &claimedAt
	return &d, nil
}

// Card implements repository.TokenLedger.
func (l *Ledger) Card(_ context.Context, tenantID, cardID string, stampsRequired int) (model.CardState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.card(tenantID, cardID, stampsRequired), nil
}

// SetCard overwrites a card balance.
func (l *Ledger) SetCard(tenantID, cardID string, st model.CardState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cards[cardKey{tenantID, cardID}] = st
}
