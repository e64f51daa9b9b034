package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

type chainHead struct {
	mu       sync.Mutex
	lastSeq  int64
	lastHash string
	events   []model.WormEvent
}

// AuditChain implements repository.AuditChain with one lock per tenant.
type AuditChain struct {
	mu     sync.Mutex
	chains map[string]*chainHead
}

// NewAuditChain constructs an empty chain store.
func NewAuditChain() *AuditChain { return &AuditChain{chains: make(map[string]*chainHead)} }

func (a *AuditChain) head(tenantID string, create bool) *chainHead {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.chains[tenantID]
	if !ok && create {
		h = &chainHead{}
		a.chains[tenantID] = h
	}
	return h
}

// Append implements repository.AuditChain.
func (a *AuditChain) Append(_ context.Context, tenantID string, next repository.NextEvent) (model.WormEvent, error) {
	h := a.head(tenantID, true)
	h.mu.Lock()
	defer h.mu.Unlock()
	ev, err := next(h.lastSeq+1, h.lastHash)
	if err != nil {
		return model.WormEvent{}, err
	}
	h.events = append(h.events, ev)
	h.lastSeq, h.lastHash = ev.Seq, ev.Hash
	return ev, nil
}

// Range implements repository.AuditChain.
func (a *AuditChain) Range(_ context.Context, tenantID string, afterSeq int64, limit int) ([]model.WormEvent, error) {
	h := a.head(tenantID, false)
	if h == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.WormEvent
	for _, e := range h.events {
		if e.Seq <= afterSeq {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// MaxSeq implements repository.AuditChain.
func (a *AuditChain) MaxSeq(_ context.Context, tenantID string) (int64, error) {
	h := a.head(tenantID, false)
	if h == nil {
		return 0, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeq, nil
}

// Tenants implements repository.AuditChain.
func (a *AuditChain) Tenants(_ context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.chains))
	for id := range a.chains {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// PruneBefore implements repository.AuditChain.
func (a *AuditChain) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	a.mu.Lock()
	heads := make([]*chainHead, 0, len(a.chains))
	for _, h := range a.chains {
		heads = append(heads, h)
	}
	a.mu.Unlock()

	var n int64
	for _, h := range heads {
		h.mu.Lock()
		kept := h.events[:0]
		for _, e := range h.events {
			if e.TS.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		h.events = kept
		h.mu.Unlock()
	}
	return n, nil
}

// Tamper replaces a stored event. It exists for integrity tests only.
func (a *AuditChain) Tamper(tenantID string, seq int64, fn func(*model.WormEvent)) {
	h := a.head(tenantID, false)
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.events {
		if h.events[i].Seq == seq {
			fn(&h.events[i])
		}
	}
}

type runKey struct {
	tenant   string
	from, to int64
}

// ExportRuns implements repository.ExportRuns.
type ExportRuns struct {
	mu      sync.Mutex
	byID    map[string]*model.ExportRun
	byRange map[runKey]string
}

// NewExportRuns constructs an empty run store.
func NewExportRuns() *ExportRuns {
	return &ExportRuns{byID: make(map[string]*model.ExportRun), byRange: make(map[runKey]string)}
}

// LastSuccess implements repository.ExportRuns.
func (s *ExportRuns) LastSuccess(_ context.Context, tenantID string) (*model.ExportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.ExportRun
	for _, r := range s.byID {
		if r.TenantID == tenantID && r.Status == model.ExportSuccess && (best == nil || r.ToSeq > best.ToSeq) {
			best = r
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	c := *best
	return &c, nil
}

// Start implements repository.ExportRuns.
func (s *ExportRuns) Start(_ context.Context, run *model.ExportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := runKey{run.TenantID, run.FromSeq, run.ToSeq}
	if id, ok := s.byRange[k]; ok {
		prev := s.byID[id]
		if prev.Status != model.ExportFailed {
			return errs.ErrAlreadyExists
		}
		prev.Status = model.ExportStarted
		prev.StartedAt = run.StartedAt
		prev.FinishedAt = nil
		prev.ObjectKey, prev.ErrorCode, prev.ErrorMessage = "", "", ""
		run.ID = prev.ID
		run.Status = model.ExportStarted
		return nil
	}
	c := *run
	c.Status = model.ExportStarted
	s.byID[c.ID] = &c
	s.byRange[k] = c.ID
	run.Status = model.ExportStarted
	return nil
}

// MarkSuccess implements repository.ExportRuns.
func (s *ExportRuns) MarkSuccess(_ context.Context, id, objectKey string, at time.Time) error {
	return s.finish(id, func(r *model.ExportRun) {
		r.Status, r.ObjectKey = model.ExportSuccess, objectKey
		r.FinishedAt = &at
	})
}

// MarkFailed implements repository.ExportRuns.
func (s *ExportRuns) MarkFailed(_ context.Context, id, code, message string, at time.Time) error {
	return s.finish(id, func(r *model.ExportRun) {
		r.Status, r.ErrorCode, r.ErrorMessage = model.ExportFailed, code, message
		r.FinishedAt = &at
	})
}

func (s *ExportRuns) finish(id string, fn func(*model.ExportRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok || r.Status != model.ExportStarted {
		return errs.ErrNotFound
	}
	fn(r)
	return nil
}

// Runs returns a copy of every run, for inspection in tests and tooling.
func (s *ExportRuns) Runs() []model.ExportRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ExportRun, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].FromSeq < out[j].FromSeq
	})
	return out
}
