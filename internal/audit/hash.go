// Package audit writes the per-tenant hash-chained WORM log, exports signed
// batches of it and verifies exported bundles offline.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

// TSLayout is the event timestamp format: RFC 3339, UTC, milliseconds.
const TSLayout = "2006-01-02T15:04:05.000Z"

// FormatTS renders t in TSLayout.
func FormatTS(t time.Time) string { return t.UTC().Format(TSLayout) }

func parseTS(s string) (time.Time, error) { return time.Parse(TSLayout, s) }

// hashFields is the hashed view of an event. Empty ids are omitted.
func hashFields(e model.WormEvent) map[string]any {
	m := map[string]any{
		"tenant_id": e.TenantID,
		"seq":       e.Seq,
		"ts":        FormatTS(e.TS),
		"action":    e.Action,
		"result":    e.Result,
		"prev_hash": e.PrevHash,
	}
	for k, v := range map[string]string{
		"device_id":      e.DeviceID,
		"card_id":        e.CardID,
		"jti":            e.JTI,
		"correlation_id": e.CorrelationID,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// HashEvent returns the chain hash of e. e.Hash is not part of the input.
func HashEvent(e model.WormEvent) (string, error) {
	return crypto.CanonicalSHA256(hashFields(e))
}

// EventLine returns the canonical JSON line of e as written to an export.
func EventLine(e model.WormEvent) ([]byte, error) {
	m := hashFields(e)
	m["hash"] = e.Hash
	return crypto.CanonicalJSON(m)
}

// Recorder appends privileged actions to the audit log.
type Recorder interface {
	Record(ctx context.Context, e model.AuditEntry) (model.WormEvent, error)
}

// Writer is the Recorder backed by an AuditChain.
type Writer struct {
	chain repository.AuditChain
	now   func() time.Time
}

// NewWriter constructs a chain writer.
func NewWriter(chain repository.AuditChain) *Writer {
	return &Writer{chain: chain, now: time.Now}
}

// Record appends e as the next event of its tenant.
func (w *Writer) Record(ctx context.Context, e model.AuditEntry) (model.WormEvent, error) {
	if e.TenantID == "" || e.Action == "" {
		return model.WormEvent{}, fmt.Errorf("audit entry: tenant and action required: %w", errs.ErrInvalidInput)
	}
	ts := e.At
	if ts.IsZero() {
		ts = w.now()
	}
	ts = ts.UTC().Truncate(time.Millisecond)
	result := e.Result
	if result == "" {
		result = "success"
	}
	return w.chain.Append(ctx, e.TenantID, func(seq int64, prevHash string) (model.WormEvent, error) {
		ev := model.WormEvent{
			TenantID:      e.TenantID,
			Seq:           seq,
			TS:            ts,
			Action:        e.Action,
			Result:        result,
			DeviceID:      e.DeviceID,
			CardID:        e.CardID,
			JTI:           e.JTI,
			CorrelationID: e.CorrelationID,
			PrevHash:      prevHash,
		}
		h, err := HashEvent(ev)
		if err != nil {
			return model.WormEvent{}, err
		}
		ev.Hash = h
		return ev, nil
	})
}
