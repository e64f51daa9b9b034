package repository

import (
	"context"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// NextEvent builds the event that follows (seq-1, prevHash) in a chain.
type NextEvent func(seq int64, prevHash string) (model.WormEvent, error)

// AuditChain is the append-only per-tenant event log.
type AuditChain interface {
	// Append advances the tenant's chain state under an exclusive lock, builds
	// the next event with next and stores it. Writers of one tenant are
	// totally ordered; different tenants do not contend.
	Append(ctx context.Context, tenantID string, next NextEvent) (model.WormEvent, error)
	// Range returns up to limit events with seq > afterSeq in seq order.
	Range(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]model.WormEvent, error)
	// MaxSeq returns the last assigned sequence number, 0 for a new tenant.
	MaxSeq(ctx context.Context, tenantID string) (int64, error)
	// Tenants lists tenants that have a chain.
	Tenants(ctx context.Context) ([]string, error)
	// PruneBefore deletes events older than cutoff. Chain state is kept.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExportRuns tracks exported sequence ranges.
type ExportRuns interface {
	// LastSuccess returns the successful run with the highest to_seq, or
	// errs.ErrNotFound when the tenant has none.
	LastSuccess(ctx context.Context, tenantID string) (*model.ExportRun, error)
	// Start records a STARTED run. A range that already has a successful or a
	// live run yields errs.ErrAlreadyExists; a failed range is taken over.
	Start(ctx context.Context, run *model.ExportRun) error
	// MarkSuccess finishes a run.
	MarkSuccess(ctx context.Context, id, objectKey string, at time.Time) error
	// MarkFailed finishes a run with a sanitized error.
	MarkFailed(ctx context.Context, id, code, message string, at time.Time) error
}
