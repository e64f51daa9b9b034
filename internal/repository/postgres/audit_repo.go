package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

// AuditRepo implements AuditChain using PostgreSQL. The per-tenant row in
// audit_chain_state is the chain head; locking it serializes appends.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit chain repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Append stores the next event of tenantID.
func (r *AuditRepo) Append(ctx context.Context, tenantID string, next repository.NextEvent) (ev model.WormEvent, err error) {
	const seed = `
INSERT INTO audit_chain_state (tenant_id, last_seq, last_hash)
VALUES ($1, 0, '') ON CONFLICT (tenant_id) DO NOTHING`
	const head = `SELECT last_seq, last_hash FROM audit_chain_state WHERE tenant_id=$1 FOR UPDATE`
	const ins = `
INSERT INTO audit_log_worm (tenant_id, seq, ts, action, result, device_id, card_id, jti, correlation_id, prev_hash, hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	const adv = `UPDATE audit_chain_state SET last_seq=$2, last_hash=$3 WHERE tenant_id=$1`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, seed, tenantID); err != nil {
			return err
		}
		var (
			lastSeq  int64
			lastHash string
		)
		if err := tx.QueryRow(ctx, head, tenantID).Scan(&lastSeq, &lastHash); err != nil {
			return err
		}
		e, err := next(lastSeq+1, lastHash)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, ins, e.TenantID, e.Seq, e.TS, e.Action, e.Result,
			nullable(e.DeviceID), nullable(e.CardID), nullable(e.JTI), nullable(e.CorrelationID),
			e.PrevHash, e.Hash); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, adv, tenantID, e.Seq, e.Hash); err != nil {
			return err
		}
		ev = e
		return nil
	})
	if err != nil {
		return model.WormEvent{}, err
	}
	return ev, nil
}

// Range selects events with seq > afterSeq in order.
func (r *AuditRepo) Range(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]model.WormEvent, error) {
	const q = `
SELECT tenant_id, seq, ts, action, result,
       COALESCE(device_id,''), COALESCE(card_id,''), COALESCE(jti,''), COALESCE(correlation_id,''),
       prev_hash, hash
FROM audit_log_worm
WHERE tenant_id=$1 AND seq>$2
ORDER BY seq ASC
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, tenantID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WormEvent
	for rows.Next() {
		var e model.WormEvent
		if err := rows.Scan(&e.TenantID, &e.Seq, &e.TS, &e.Action, &e.Result,
			&e.DeviceID, &e.CardID, &e.JTI, &e.CorrelationID, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.TS = e.TS.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaxSeq returns the chain head sequence.
func (r *AuditRepo) MaxSeq(ctx context.Context, tenantID string) (int64, error) {
	const q = `SELECT COALESCE((SELECT last_seq FROM audit_chain_state WHERE tenant_id=$1), 0)`
	var v int64
	if err := r.db.Pool.QueryRow(ctx, q, tenantID).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// Tenants lists tenants with a chain.
func (r *AuditRepo) Tenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT tenant_id FROM audit_chain_state ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PruneBefore deletes events older than cutoff.
func (r *AuditRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM audit_log_worm WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExportRunRepo implements ExportRuns using PostgreSQL.
type ExportRunRepo struct{ db *DB }

// NewExportRunRepo constructs an export run repository.
func NewExportRunRepo(db *DB) *ExportRunRepo { return &ExportRunRepo{db: db} }

// LastSuccess selects the latest successful run.
func (r *ExportRunRepo) LastSuccess(ctx context.Context, tenantID string) (*model.ExportRun, error) {
	const q = `
SELECT id, tenant_id, from_seq, to_seq, status, COALESCE(object_key,''), started_at, finished_at
FROM audit_export_runs
WHERE tenant_id=$1 AND status='SUCCESS'
ORDER BY to_seq DESC
LIMIT 1`
	var (
		run    model.ExportRun
		status string
	)
	err := r.db.Pool.QueryRow(ctx, q, tenantID).Scan(&run.ID, &run.TenantID, &run.FromSeq, &run.ToSeq,
		&status, &run.ObjectKey, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	run.Status = model.ExportStatus(status)
	return &run, nil
}

// Start inserts a STARTED run or takes over a failed one for the same range.
func (r *ExportRunRepo) Start(ctx context.Context, run *model.ExportRun) error {
	const q = `
INSERT INTO audit_export_runs (id, tenant_id, from_seq, to_seq, status, started_at)
VALUES ($1, $2, $3, $4, 'STARTED', $5)
ON CONFLICT (tenant_id, from_seq, to_seq) DO UPDATE
SET status='STARTED', started_at=EXCLUDED.started_at, finished_at=NULL,
    object_key=NULL, error_code=NULL, error_message=NULL
WHERE audit_export_runs.status='FAILED'
RETURNING id`
	var id string
	err := r.db.Pool.QueryRow(ctx, q, run.ID, run.TenantID, run.FromSeq, run.ToSeq, run.StartedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	run.ID = id
	run.Status = model.ExportStarted
	return nil
}

// MarkSuccess finishes a started run.
func (r *ExportRunRepo) MarkSuccess(ctx context.Context, id, objectKey string, at time.Time) error {
	const q = `
UPDATE audit_export_runs SET status='SUCCESS', object_key=$2, finished_at=$3
WHERE id=$1 AND status='STARTED'`
	return r.finish(ctx, q, id, objectKey, at)
}

// MarkFailed finishes a started run with an error.
func (r *ExportRunRepo) MarkFailed(ctx context.Context, id, code, message string, at time.Time) error {
	const q = `
UPDATE audit_export_runs SET status='FAILED', error_code=$2, error_message=$3, finished_at=$4
WHERE id=$1 AND status='STARTED'`
	return r.finish(ctx, q, id, code, message, at)
}

func (r *ExportRunRepo) finish(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
