package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
)

func TestDeviceRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeviceRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id, tenant_id, public_key, algorithm, enabled, created_at FROM devices WHERE id=\$1`).
		WithArgs("d-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "public_key", "algorithm", "enabled", "created_at"}).
			AddRow("d-1", "t-1", []byte("pk"), "ed25519", true, time.Now()))
	d, err := r.Get(ctx, "d-1")
	require.NoError(t, err)
	require.True(t, d.Enabled)
	require.Equal(t, "t-1", d.TenantID)

	mock.ExpectQuery(`FROM devices WHERE id=\$1`).
		WithArgs("d-2").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, "d-2")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeviceRepo_Disable(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeviceRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE devices SET enabled=false WHERE tenant_id=\$1 AND id=\$2`).
		WithArgs("t-1", "d-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Disable(ctx, "t-1", "d-1"))

	// other tenant's device is invisible
	mock.ExpectExec(`UPDATE devices SET enabled=false`).
		WithArgs("t-2", "d-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.Disable(ctx, "t-2", "d-1"), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
