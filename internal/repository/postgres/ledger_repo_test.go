package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

const (
	claimSelect = `SELECT .+ FROM redeemable_tokens WHERE token_hash=\$1 AND kind=\$2 FOR UPDATE`
	claimUpdate = `UPDATE redeemable_tokens SET claimed_at=\$2, card_id=COALESCE\(card_id, \$3\) WHERE id=\$1 AND claimed_at IS NULL`
)

var tokenCols = []string{"id", "kind", "tenant_id", "device_id", "card_id", "admin_id", "token_hash", "expires_at", "claimed_at", "created_at"}

func tokenRow(kind model.TokenKind, tenant, card string, exp time.Time, claimed *time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(tokenCols).
		AddRow("jti-1", string(kind), tenant, "d-1", card, "", "h", exp, claimed, exp.Add(-time.Minute))
}

func TestLedgerRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	exp := time.Now().Add(time.Minute)
	tok := &model.RedeemableToken{ID: "jti-1", Kind: model.TokenStamp, TenantID: "t-1", DeviceID: "d-1", TokenHash: "h", ExpiresAt: exp}

	mock.ExpectExec(`INSERT INTO redeemable_tokens`).
		WithArgs("jti-1", "stamp", "t-1", "d-1", nil, nil, "h", exp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(context.Background(), tok))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ClaimStamp_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).
		WithArgs("h", "stamp").
		WillReturnRows(tokenRow(model.TokenStamp, "t-1", "", now.Add(time.Minute), nil))
	mock.ExpectExec(claimUpdate).
		WithArgs("jti-1", now, "card-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO cards .+ ON CONFLICT \(tenant_id, card_id\) DO NOTHING`).
		WithArgs("t-1", "card-1", 5).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT current_stamps, stamps_required, rewards_available FROM cards WHERE tenant_id=\$1 AND card_id=\$2 FOR UPDATE`).
		WithArgs("t-1", "card-1").
		WillReturnRows(pgxmock.NewRows([]string{"current_stamps", "stamps_required", "rewards_available"}).AddRow(4, 5, 0))
	mock.ExpectExec(`UPDATE cards SET current_stamps=\$3, rewards_available=\$4`).
		WithArgs("t-1", "card-1", 0, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tok, st, err := r.ClaimStamp(context.Background(), "h", "card-1", 5, now)
	require.NoError(t, err)
	require.Equal(t, "card-1", tok.CardID)
	require.NotNil(t, tok.ClaimedAt)
	require.Equal(t, model.CardState{CurrentStamps: 0, StampsRequired: 5, RewardsAvailable: 1}, st)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ClaimStamp_ExpiredBeforeReuse(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	now := time.Now()
	claimed := now.Add(-2 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).
		WithArgs("h", "stamp").
		WillReturnRows(tokenRow(model.TokenStamp, "t-1", "card-1", now.Add(-time.Second), &claimed))
	mock.ExpectRollback()

	_, _, err := r.ClaimStamp(context.Background(), "h", "card-1", 5, now)
	require.ErrorIs(t, err, errs.ErrTokenExpired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ClaimStamp_Reuse(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	now := time.Now()
	claimed := now.Add(-time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).
		WithArgs("h", "stamp").
		WillReturnRows(tokenRow(model.TokenStamp, "t-1", "card-1", now.Add(time.Minute), &claimed))
	mock.ExpectRollback()

	_, _, err := r.ClaimStamp(context.Background(), "h", "card-1", 5, now)
	require.ErrorIs(t, err, errs.ErrTokenReuse)

	// lost the conditional update
	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).
		WithArgs("h", "stamp").
		WillReturnRows(tokenRow(model.TokenStamp, "t-1", "", now.Add(time.Minute), nil))
	mock.ExpectExec(claimUpdate).
		WithArgs("jti-1", now, "card-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, _, err = r.ClaimStamp(context.Background(), "h", "card-1", 5, now)
	require.ErrorIs(t, err, errs.ErrTokenReuse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ClaimStamp_Unknown(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).WithArgs("nope", "stamp").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := r.ClaimStamp(context.Background(), "nope", "card-1", 5, time.Now())
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLedgerRepo_ClaimReward_NoRewardRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).
		WithArgs("h", "reward").
		WillReturnRows(tokenRow(model.TokenReward, "t-1", "card-1", now.Add(time.Minute), nil))
	mock.ExpectExec(claimUpdate).
		WithArgs("jti-1", now, nil).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`UPDATE cards SET rewards_available=rewards_available-1`).
		WithArgs("t-1", "card-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := r.ClaimReward(context.Background(), "h", "t-1", now)
	require.ErrorIs(t, err, errs.ErrNoReward)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ClaimReward_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).
		WithArgs("h", "reward").
		WillReturnRows(tokenRow(model.TokenReward, "t-1", "card-1", now.Add(time.Minute), nil))
	mock.ExpectExec(claimUpdate).
		WithArgs("jti-1", now, nil).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`UPDATE cards SET rewards_available=rewards_available-1`).
		WithArgs("t-1", "card-1").
		WillReturnRows(pgxmock.NewRows([]string{"current_stamps", "stamps_required", "rewards_available"}).AddRow(2, 5, 0))
	mock.ExpectCommit()

	tok, st, err := r.ClaimReward(context.Background(), "h", "t-1", now)
	require.NoError(t, err)
	require.Equal(t, "card-1", tok.CardID)
	require.Equal(t, 0, st.RewardsAvailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ClaimReward_OtherTenantIsUnknown(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).
		WithArgs("h", "reward").
		WillReturnRows(tokenRow(model.TokenReward, "t-1", "card-1", now.Add(time.Minute), nil))
	mock.ExpectRollback()

	_, _, err := r.ClaimReward(context.Background(), "h", "t-2", now)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ClaimDeviceLink(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	now := time.Now()
	pk := []byte("0123456789abcdef0123456789abcdef")

	mock.ExpectBegin()
	mock.ExpectQuery(claimSelect).
		WithArgs("h", "device_link").
		WillReturnRows(tokenRow(model.TokenDeviceLink, "t-1", "", now.Add(time.Minute), nil))
	mock.ExpectExec(claimUpdate).
		WithArgs("jti-1", now, nil).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO devices \(id, tenant_id, public_key, algorithm, enabled\)`).
		WithArgs("jti-1", "t-1", pk).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	d, err := r.ClaimDeviceLink(context.Background(), "h", pk, now)
	require.NoError(t, err)
	require.Equal(t, "jti-1", d.ID)
	require.Equal(t, "t-1", d.TenantID)
	require.True(t, d.Enabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Card_UnknownIsEmpty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	mock.ExpectQuery(`FROM cards WHERE tenant_id=\$1 AND card_id=\$2`).
		WithArgs("t-1", "card-9").
		WillReturnError(pgx.ErrNoRows)
	st, err := r.Card(context.Background(), "t-1", "card-9", 5)
	require.NoError(t, err)
	require.Equal(t, model.CardState{StampsRequired: 5}, st)
}
