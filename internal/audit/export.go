package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

// ExportFailedCode is stored on failed runs.
const ExportFailedCode = "EXPORT_FAILED"

const maxErrorMessage = 256

// Report is the outcome of one tenant export.
type Report struct {
	TenantID  string `json:"tenant_id"`
	RunID     string `json:"run_id,omitempty"`
	FromSeq   int64  `json:"from_seq,omitempty"`
	ToSeq     int64  `json:"to_seq,omitempty"`
	Count     int    `json:"count"`
	ObjectKey string `json:"object_key,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Report statuses besides the run statuses.
const (
	StatusNothing = "NOTHING_TO_EXPORT"
	StatusSkipped = "SKIPPED"
)

// Exporter ships signed batches of the audit chain to an ObjectStore.
type Exporter struct {
	chain  repository.AuditChain
	runs   repository.ExportRuns
	store  ObjectStore
	key    SigningKey
	prefix string
	batch  int
	now    func() time.Time
	log    *zap.Logger
}

// ExporterConfig wires an Exporter.
type ExporterConfig struct {
	Chain  repository.AuditChain
	Runs   repository.ExportRuns
	Store  ObjectStore
	Key    SigningKey
	Prefix string
	Batch  int
	Log    *zap.Logger
}

// NewExporter constructs an Exporter.
func NewExporter(c ExporterConfig) *Exporter {
	if c.Batch <= 0 {
		c.Batch = 500
	}
	if c.Prefix == "" {
		c.Prefix = "audit"
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	return &Exporter{
		chain: c.Chain, runs: c.Runs, store: c.Store, key: c.Key,
		prefix: c.Prefix, batch: c.Batch, now: time.Now, log: c.Log,
	}
}

// Run exports one batch for every tenant. Tenants are independent: a failure
// is reported and the remaining tenants still run. The joined errors are
// returned for operational retry.
func (x *Exporter) Run(ctx context.Context) ([]Report, error) {
	tenants, err := x.chain.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	var (
		out  []Report
		errl []error
	)
	for _, t := range tenants {
		rep, err := x.ExportTenant(ctx, t)
		out = append(out, rep)
		if err != nil {
			errl = append(errl, fmt.Errorf("tenant %s: %w", t, err))
		}
	}
	return out, errors.Join(errl...)
}

// ExportTenant exports the next batch after the last successful run.
func (x *Exporter) ExportTenant(ctx context.Context, tenantID string) (Report, error) {
	rep := Report{TenantID: tenantID}

	var after int64
	last, err := x.runs.LastSuccess(ctx, tenantID)
	switch {
	case err == nil:
		after = last.ToSeq
	case errors.Is(err, errs.ErrNotFound):
	default:
		return rep, err
	}

	events, err := x.chain.Range(ctx, tenantID, after, x.batch)
	if err != nil {
		return rep, err
	}
	if len(events) == 0 {
		rep.Status = StatusNothing
		return rep, nil
	}
	rep.FromSeq, rep.ToSeq, rep.Count = events[0].Seq, events[len(events)-1].Seq, len(events)

	id, err := uuid.NewV4()
	if err != nil {
		return rep, err
	}
	now := x.now().UTC()
	run := &model.ExportRun{ID: id.String(), TenantID: tenantID, FromSeq: rep.FromSeq, ToSeq: rep.ToSeq, StartedAt: now}
	if err := x.runs.Start(ctx, run); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			x.log.Info("export range already taken",
				zap.String("tenant_id", tenantID), zap.Int64("from_seq", rep.FromSeq), zap.Int64("to_seq", rep.ToSeq))
			rep.Status = StatusSkipped
			return rep, nil
		}
		return rep, err
	}
	rep.RunID = run.ID

	key, err := x.ship(ctx, events)
	if err != nil {
		msg := SanitizeError(err)
		if merr := x.runs.MarkFailed(context.WithoutCancel(ctx), run.ID, ExportFailedCode, msg, x.now().UTC()); merr != nil {
			x.log.Error("mark export failed", zap.String("run_id", run.ID), zap.Error(merr))
		}
		x.log.Error("audit export failed",
			zap.String("tenant_id", tenantID), zap.String("run_id", run.ID), zap.String("error", msg))
		rep.Status, rep.Error = string(model.ExportFailed), msg
		return rep, err
	}
	if err := x.runs.MarkSuccess(ctx, run.ID, key, x.now().UTC()); err != nil {
		return rep, err
	}
	x.log.Info("audit export done",
		zap.String("tenant_id", tenantID), zap.String("run_id", run.ID),
		zap.Int64("from_seq", rep.FromSeq), zap.Int64("to_seq", rep.ToSeq), zap.String("object_key", key))
	rep.Status, rep.ObjectKey = string(model.ExportSuccess), key
	return rep, nil
}

// ship uploads the bundle of events. The bundle is stamped with the last
// event's time, so a retry of the same range rebuilds identical objects and
// completes a partially uploaded prefix.
func (x *Exporter) ship(ctx context.Context, events []model.WormEvent) (string, error) {
	stamp := events[len(events)-1].TS
	b, meta, err := BuildBundle(events, x.key, stamp)
	if err != nil {
		return "", fmt.Errorf("build bundle: %w", err)
	}
	prefix := Prefix(x.prefix, meta.TenantID, stamp, meta.FromSeq, meta.ToSeq)
	for _, a := range []struct {
		name string
		data []byte
	}{{EventsFile, b.Events}, {MetaFile, b.Meta}, {SigFile, b.Sig}} {
		if err := x.store.Put(ctx, prefix+a.name, a.data); err != nil {
			return "", fmt.Errorf("upload %s: %w", a.name, err)
		}
	}
	return prefix, nil
}

// SanitizeError collapses whitespace and bounds the length of an error text
// before it is stored.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	s := strings.Join(strings.Fields(err.Error()), " ")
	if utf8.RuneCountInString(s) <= maxErrorMessage {
		return s
	}
	r := []rune(s)
	return string(r[:maxErrorMessage])
}
