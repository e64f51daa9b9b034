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

func TestAuditRepo_Append_AdvancesHead(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_chain_state .+ ON CONFLICT \(tenant_id\) DO NOTHING`).
		WithArgs("t-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT last_seq, last_hash FROM audit_chain_state WHERE tenant_id=\$1 FOR UPDATE`).
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_seq", "last_hash"}).AddRow(int64(7), "h7"))
	mock.ExpectExec(`INSERT INTO audit_log_worm`).
		WithArgs("t-1", int64(8), ts, "stamps.claimed", "ok", nil, "card-1", "jti-1", "corr-1", "h7", "h8").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE audit_chain_state SET last_seq=\$2, last_hash=\$3 WHERE tenant_id=\$1`).
		WithArgs("t-1", int64(8), "h8").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	ev, err := r.Append(context.Background(), "t-1", func(seq int64, prev string) (model.WormEvent, error) {
		require.Equal(t, int64(8), seq)
		require.Equal(t, "h7", prev)
		return model.WormEvent{TenantID: "t-1", Seq: seq, TS: ts, Action: "stamps.claimed", Result: "ok",
			CardID: "card-1", JTI: "jti-1", CorrelationID: "corr-1", PrevHash: prev, Hash: "h8"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(8), ev.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_RangeAndMaxSeq(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM audit_log_worm WHERE tenant_id=\$1 AND seq>\$2 ORDER BY seq ASC LIMIT \$3`).
		WithArgs("t-1", int64(0), 2).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "seq", "ts", "action", "result", "device_id", "card_id", "jti", "correlation_id", "prev_hash", "hash"}).
			AddRow("t-1", int64(1), ts, "a", "ok", "", "", "", "", "", "h1").
			AddRow("t-1", int64(2), ts, "b", "ok", "d-1", "", "", "", "h1", "h2"))
	evs, err := r.Range(context.Background(), "t-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, evs[0].Hash, evs[1].PrevHash)

	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(2)))
	n, err := r.MaxSeq(context.Background(), "t-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestAuditRepo_PruneBefore(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)
	cutoff := time.Now()

	mock.ExpectExec(`DELETE FROM audit_log_worm WHERE ts < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := r.PruneBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestExportRunRepo_StartAndFinish(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewExportRunRepo(db)
	ctx := context.Background()
	now := time.Now()
	run := &model.ExportRun{ID: "run-1", TenantID: "t-1", FromSeq: 1, ToSeq: 10, StartedAt: now}

	mock.ExpectQuery(`INSERT INTO audit_export_runs .+ ON CONFLICT \(tenant_id, from_seq, to_seq\) DO UPDATE .+ RETURNING id`).
		WithArgs("run-1", "t-1", int64(1), int64(10), now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("run-0"))
	require.NoError(t, r.Start(ctx, run))
	require.Equal(t, "run-0", run.ID)
	require.Equal(t, model.ExportStarted, run.Status)

	mock.ExpectQuery(`INSERT INTO audit_export_runs`).
		WithArgs("run-0", "t-1", int64(1), int64(10), now).
		WillReturnError(pgx.ErrNoRows)
	require.ErrorIs(t, r.Start(ctx, run), errs.ErrAlreadyExists)

	mock.ExpectExec(`UPDATE audit_export_runs SET status='SUCCESS'`).
		WithArgs("run-0", "audit/tenant=t-1/x/", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.MarkSuccess(ctx, "run-0", "audit/tenant=t-1/x/", now))

	mock.ExpectExec(`UPDATE audit_export_runs SET status='FAILED'`).
		WithArgs("run-0", "EXPORT_FAILED", "disk full", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.MarkFailed(ctx, "run-0", "EXPORT_FAILED", "disk full", now), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportRunRepo_LastSuccess(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewExportRunRepo(db)
	now := time.Now()

	mock.ExpectQuery(`FROM audit_export_runs WHERE tenant_id=\$1 AND status='SUCCESS'`).
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "from_seq", "to_seq", "status", "object_key", "started_at", "finished_at"}).
			AddRow("run-1", "t-1", int64(1), int64(10), "SUCCESS", "k", now, &now))
	run, err := r.LastSuccess(context.Background(), "t-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), run.ToSeq)
	require.Equal(t, model.ExportSuccess, run.Status)

	mock.ExpectQuery(`FROM audit_export_runs`).WithArgs("t-2").WillReturnError(pgx.ErrNoRows)
	_, err = r.LastSuccess(context.Background(), "t-2")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
