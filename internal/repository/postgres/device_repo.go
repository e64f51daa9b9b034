package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// DeviceRepo implements DeviceRepository using PostgreSQL.
type DeviceRepo struct{ db *DB }

// NewDeviceRepo constructs a device repository.
func NewDeviceRepo(db *DB) *DeviceRepo { return &DeviceRepo{db: db} }

// Get selects a device by id.
func (r *DeviceRepo) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	const q = `
SELECT id, tenant_id, public_key, algorithm, enabled, created_at
FROM devices WHERE id=$1`
	var d model.Device
	err := r.db.Pool.QueryRow(ctx, q, deviceID).Scan(&d.ID, &d.TenantID, &d.PublicKey, &d.Algorithm, &d.Enabled, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Disable clears the enabled flag.
func (r *DeviceRepo) Disable(ctx context.Context, tenantID, deviceID string) error {
	const q = `UPDATE devices SET enabled=false WHERE tenant_id=$1 AND id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, tenantID, deviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
