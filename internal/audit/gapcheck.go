package audit

import (
	"context"
	"errors"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

// DefaultMaxExportLag is how long events may wait for export before a tenant
// is flagged.
const DefaultMaxExportLag = 15 * time.Minute

// Gap describes the export backlog of one tenant.
type Gap struct {
	TenantID      string     `json:"tenant_id"`
	MaxSeq        int64      `json:"max_seq"`
	ExportedTo    int64      `json:"exported_to"`
	Unexported    int64      `json:"unexported"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	Stale         bool       `json:"stale"`
}

// GapCheck compares every tenant's chain head with its last successful
// export. A tenant is stale when events are pending and neither a recent
// export nor a recent first pending event explains the backlog.
func GapCheck(ctx context.Context, chain repository.AuditChain, runs repository.ExportRuns, now time.Time, maxLag time.Duration) ([]Gap, error) {
	tenants, err := chain.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Gap, 0, len(tenants))
	for _, t := range tenants {
		g := Gap{TenantID: t}
		if g.MaxSeq, err = chain.MaxSeq(ctx, t); err != nil {
			return nil, err
		}
		last, err := runs.LastSuccess(ctx, t)
		switch {
		case err == nil:
			g.ExportedTo = last.ToSeq
			g.LastSuccessAt = last.FinishedAt
		case errors.Is(err, errs.ErrNotFound):
		default:
			return nil, err
		}
		g.Unexported = g.MaxSeq - g.ExportedTo
		if g.Unexported > 0 {
			g.Stale, err = stale(ctx, chain, g, now, maxLag)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, g)
	}
	return out, nil
}

func stale(ctx context.Context, chain repository.AuditChain, g Gap, now time.Time, maxLag time.Duration) (bool, error) {
	if g.LastSuccessAt != nil && now.Sub(*g.LastSuccessAt) <= maxLag {
		return false, nil
	}
	pending, err := chain.Range(ctx, g.TenantID, g.ExportedTo, 1)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}
	return now.Sub(pending[0].TS) > maxLag, nil
}

// AnyStale reports whether a gap check flagged at least one tenant.
func AnyStale(gaps []Gap) bool {
	for _, g := range gaps {
		if g.Stale {
			return true
		}
	}
	return false
}
