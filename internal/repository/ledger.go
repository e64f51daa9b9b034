package repository

import (
	"context"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// DeviceRepository provides access to registered devices.
type DeviceRepository interface {
	// Get loads a device by id.
	Get(ctx context.Context, deviceID string) (*model.Device, error)
	// Disable clears the enabled flag of a tenant's device.
	Disable(ctx context.Context, tenantID, deviceID string) error
}

// TokenLedger stores single-use tokens and applies their effects.
//
// Every Claim* call looks the token up by hash, rejects it with
// errs.ErrTokenExpired when now >= expires_at (whatever its claim state),
// then sets claimed_at only if it is still unset, failing with
// errs.ErrTokenReuse otherwise. The claim and its effect commit together.
type TokenLedger interface {
	// Create stores a new token. Only the hash of the raw token is kept.
	Create(ctx context.Context, t *model.RedeemableToken) error

	// ClaimStamp claims a stamp token for cardID and adds one stamp to the
	// card in the token's tenant. stampsRequired seeds cards seen for the
	// first time.
	ClaimStamp(ctx context.Context, tokenHash, cardID string, stampsRequired int, now time.Time) (*model.RedeemableToken, model.CardState, error)

	// ClaimReward claims a reward token inside tenantID and takes one reward
	// off its card. A card without rewards yields errs.ErrNoReward and the
	// claim is rolled back.
	ClaimReward(ctx context.Context, tokenHash, tenantID string, now time.Time) (*model.RedeemableToken, model.CardState, error)

	// ClaimDeviceLink claims a registration link and inserts the device it
	// registers. The device id is the link id.
	ClaimDeviceLink(ctx context.Context, tokenHash string, publicKey []byte, now time.Time) (*model.Device, error)

	// Card returns the balance of a card; unknown cards have a zero balance.
	Card(ctx context.Context, tenantID, cardID string, stampsRequired int) (model.CardState, error)
}
