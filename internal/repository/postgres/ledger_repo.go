package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// LedgerRepo implements TokenLedger using PostgreSQL. Claims lock the token
// row with FOR UPDATE and apply their effect in the same transaction.
type LedgerRepo struct{ db *DB }

// NewLedgerRepo constructs a token ledger.
func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

// Create inserts a token row.
func (r *LedgerRepo) Create(ctx context.Context, t *model.RedeemableToken) error {
	const q = `
INSERT INTO redeemable_tokens (id, kind, tenant_id, device_id, card_id, admin_id, token_hash, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, q, t.ID, string(t.Kind), t.TenantID,
		nullable(t.DeviceID), nullable(t.CardID), nullable(t.AdminID), t.TokenHash, t.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// claim locks the token, checks expiry before reuse and sets claimed_at.
// check runs on the locked row before the claim is written.
func claim(
	ctx context.Context, tx pgx.Tx, kind model.TokenKind, tokenHash string, cardID string,
	now time.Time, check func(*model.RedeemableToken) error,
) (*model.RedeemableToken, error) {
	const sel = `
SELECT id, kind, tenant_id, COALESCE(device_id,''), COALESCE(card_id,''), COALESCE(admin_id,''),
       token_hash, expires_at, claimed_at, created_at
FROM redeemable_tokens WHERE token_hash=$1 AND kind=$2 FOR UPDATE`
	const upd = `
UPDATE redeemable_tokens SET claimed_at=$2, card_id=COALESCE(card_id, $3)
WHERE id=$1 AND claimed_at IS NULL`

	var (
		t    model.RedeemableToken
		kstr string
	)
	err := tx.QueryRow(ctx, sel, tokenHash, string(kind)).Scan(
		&t.ID, &kstr, &t.TenantID, &t.DeviceID, &t.CardID, &t.AdminID,
		&t.TokenHash, &t.ExpiresAt, &t.ClaimedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	t.Kind = model.TokenKind(kstr)
	if check != nil {
		if err := check(&t); err != nil {
			return nil, err
		}
	}
	if t.Expired(now) {
		return nil, fmt.Errorf("token %s: %w", t.ID, errs.ErrTokenExpired)
	}
	if t.ClaimedAt != nil {
		return nil, fmt.Errorf("token %s: %w", t.ID, errs.ErrTokenReuse)
	}
	tag, err := tx.Exec(ctx, upd, t.ID, now, nullable(cardID))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("token %s: %w", t.ID, errs.ErrTokenReuse)
	}
	claimedAt := now
	t.ClaimedAt = &claimedAt
	if t.CardID == "" {
		t.CardID = cardID
	}
	return &t, nil
}

// ClaimStamp claims a stamp token and adds one stamp to the card.
func (r *LedgerRepo) ClaimStamp(
	ctx context.Context, tokenHash, cardID string, stampsRequired int, now time.Time,
) (tok *model.RedeemableToken, st model.CardState, err error) {
	const seed = `
INSERT INTO cards (tenant_id, card_id, current_stamps, stamps_required, rewards_available)
VALUES ($1, $2, 0, $3, 0) ON CONFLICT (tenant_id, card_id) DO NOTHING`
	const sel = `
SELECT current_stamps, stamps_required, rewards_available
FROM cards WHERE tenant_id=$1 AND card_id=$2 FOR UPDATE`
	const upd = `
UPDATE cards SET current_stamps=$3, rewards_available=$4, updated_at=now()
WHERE tenant_id=$1 AND card_id=$2`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		t, err := claim(ctx, tx, model.TokenStamp, tokenHash, cardID, now, nil)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, seed, t.TenantID, cardID, stampsRequired); err != nil {
			return err
		}
		var cur model.CardState
		if err := tx.QueryRow(ctx, sel, t.TenantID, cardID).Scan(
			&cur.CurrentStamps, &cur.StampsRequired, &cur.RewardsAvailable); err != nil {
			return err
		}
		next := cur.AddStamp()
		if _, err := tx.Exec(ctx, upd, t.TenantID, cardID, next.CurrentStamps, next.RewardsAvailable); err != nil {
			return err
		}
		tok, st = t, next
		return nil
	})
	if err != nil {
		return nil, model.CardState{}, err
	}
	return tok, st, nil
}

// ClaimReward claims a reward token of tenantID and takes one reward off its card.
func (r *LedgerRepo) ClaimReward(
	ctx context.Context, tokenHash, tenantID string, now time.Time,
) (tok *model.RedeemableToken, st model.CardState, err error) {
	const take = `
UPDATE cards SET rewards_available=rewards_available-1, updated_at=now()
WHERE tenant_id=$1 AND card_id=$2 AND rewards_available>0
RETURNING current_stamps, stamps_required, rewards_available`

	sameTenant := func(t *model.RedeemableToken) error {
		if t.TenantID != tenantID {
			return errs.ErrNotFound
		}
		return nil
	}
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		t, err := claim(ctx, tx, model.TokenReward, tokenHash, "", now, sameTenant)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, take, t.TenantID, t.CardID).Scan(
			&st.CurrentStamps, &st.StampsRequired, &st.RewardsAvailable)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("card %s: %w", t.CardID, errs.ErrNoReward)
		}
		if err != nil {
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, model.CardState{}, err
	}
	return tok, st, nil
}

// ClaimDeviceLink claims a registration link and inserts the device.
func (r *LedgerRepo) ClaimDeviceLink(
	ctx context.Context, tokenHash string, publicKey []byte, now time.Time,
) (dev *model.Device, err error) {
	const ins = `
INSERT INTO devices (id, tenant_id, public_key, algorithm, enabled)
VALUES ($1, $2, $3, 'ed25519', true)
RETURNING created_at`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		t, err := claim(ctx, tx, model.TokenDeviceLink, tokenHash, "", now, nil)
		if err != nil {
			return err
		}
		d := &model.Device{ID: t.ID, TenantID: t.TenantID, PublicKey: publicKey, Algorithm: "ed25519", Enabled: true}
		if err := tx.QueryRow(ctx, ins, d.ID, d.TenantID, d.PublicKey).Scan(&d.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return errs.ErrAlreadyExists
			}
			return err
		}
		dev = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Card selects the balance of a card.
func (r *LedgerRepo) Card(ctx context.Context, tenantID, cardID string, stampsRequired int) (model.CardState, error) {
	const q = `
SELECT current_stamps, stamps_required, rewards_available
FROM cards WHERE tenant_id=$1 AND card_id=$2`
	var st model.CardState
	err := r.db.Pool.QueryRow(ctx, q, tenantID, cardID).Scan(&st.CurrentStamps, &st.StampsRequired, &st.RewardsAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CardState{StampsRequired: stampsRequired}, nil
	}
	if err != nil {
		return model.CardState{}, err
	}
	return st, nil
}
