package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// AdminRepo implements AdminRepository using PostgreSQL.
type AdminRepo struct{ db *DB }

// NewAdminRepo constructs an admin repository.
func NewAdminRepo(db *DB) *AdminRepo { return &AdminRepo{db: db} }

// Create inserts a new admin row.
func (r *AdminRepo) Create(ctx context.Context, a *model.Admin) error {
	const q = `
INSERT INTO admins (id, tenant_id, email, pwd_hash, salt)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.TenantID, a.Email, a.PwdHash, a.Salt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByEmail selects an admin by email.
func (r *AdminRepo) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	const q = `
SELECT id, tenant_id, email, pwd_hash, salt, created_at
FROM admins WHERE email=$1`
	var a model.Admin
	err := r.db.Pool.QueryRow(ctx, q, email).Scan(&a.ID, &a.TenantID, &a.Email, &a.PwdHash, &a.Salt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a refresh session.
func (r *SessionRepo) Create(ctx context.Context, s *model.AdminSession) error {
	const q = `
INSERT INTO admin_sessions (id, tenant_id, admin_id, refresh_token_hash, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.TenantID, s.AdminID, s.RefreshTokenHash, s.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByHash selects a session by refresh token hash.
func (r *SessionRepo) GetByHash(ctx context.Context, tokenHash string) (*model.AdminSession, error) {
	const q = `
SELECT id, tenant_id, admin_id, refresh_token_hash, expires_at, revoked_at
FROM admin_sessions WHERE refresh_token_hash=$1`
	var s model.AdminSession
	err := r.db.Pool.QueryRow(ctx, q, tokenHash).Scan(&s.ID, &s.TenantID, &s.AdminID, &s.RefreshTokenHash, &s.ExpiresAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Revoke sets revoked_at on a live session.
func (r *SessionRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE admin_sessions SET revoked_at=$2 WHERE id=$1 AND revoked_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
