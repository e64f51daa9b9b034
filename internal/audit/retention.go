package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

// DefaultRetention keeps WORM events for 180 days.
const DefaultRetention = 180 * 24 * time.Hour

// Prune deletes events older than now-olderThan. The chain heads stay, so
// sequence numbers continue where they were.
func Prune(ctx context.Context, chain repository.AuditChain, olderThan time.Duration, now time.Time, log *zap.Logger) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention must be positive: %w", errs.ErrInvalidInput)
	}
	cutoff := now.Add(-olderThan)
	n, err := chain.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Info("audit retention", zap.Time("cutoff", cutoff), zap.Int64("deleted", n))
	return n, nil
}
