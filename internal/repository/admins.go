// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// AdminRepository provides access to tenant administrators.
type AdminRepository interface {
	// Create inserts a new admin. A taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, a *model.Admin) error
	// GetByEmail loads an admin by login email.
	GetByEmail(ctx context.Context, email string) (*model.Admin, error)
}

// SessionRepository stores refresh-token sessions by token hash.
type SessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, s *model.AdminSession) error
	// GetByHash loads a session by refresh token hash.
	GetByHash(ctx context.Context, tokenHash string) (*model.AdminSession, error)
	// Revoke marks a live session revoked. Revoking an already revoked or
	// unknown session yields errs.ErrNotFound.
	Revoke(ctx context.Context, id string, at time.Time) error
}
