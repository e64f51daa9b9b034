package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/audit"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

type fakeRecorder struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error
}

var _ audit.Recorder = (*fakeRecorder)(nil)

func (r *fakeRecorder) Record(_ context.Context, e model.AuditEntry) (model.WormEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return model.WormEvent{}, r.err
	}
	r.entries = append(r.entries, e)
	return model.WormEvent{TenantID: e.TenantID, Seq: int64(len(r.entries)), Action: e.Action}, nil
}

func (r *fakeRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errBoom = errors.New("boom")
