// Package service contains application services for admin sessions, device
// onboarding, stamps and rewards.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/audit"
	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// Audit actions.
const (
	ActionAdminLogin        = "admin.login"
	ActionAdminRefresh      = "admin.token_refresh"
	ActionAdminLogout       = "admin.logout"
	ActionLinkCreated       = "device.registration_link.created"
	ActionDeviceRegistered  = "device.registered"
	ActionDeviceDisabled    = "device.disabled"
	ActionStampTokenCreated = "stamps.token.created"
	ActionStampClaimed      = "stamps.claimed"
	ActionRewardTokenIssued = "reward.token.created"
	ActionRewardRedeemed    = "reward.redeemed"
)

// deps are shared by every service.
type deps struct {
	audit audit.Recorder
	now   func() time.Time
	log   *zap.Logger
}

// Option customizes a service.
type Option func(*deps)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(d *deps) { d.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(d *deps) { d.log = l } }

func newDeps(rec audit.Recorder, opts []Option) deps {
	d := deps{audit: rec, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(&d)
	}
	return d
}

// record appends an audit event. The action has already happened, so a
// failing audit write is logged and does not fail the request.
func (d deps) record(ctx context.Context, e model.AuditEntry) {
	if e.At.IsZero() {
		e.At = d.now()
	}
	if _, err := d.audit.Record(context.WithoutCancel(ctx), e); err != nil {
		d.log.Error("audit append failed",
			zap.String("tenant_id", e.TenantID),
			zap.String("action", e.Action),
			zap.String("correlation_id", e.CorrelationID),
			zap.Error(err))
	}
}

// unknownAsExpired reports unknown tokens the same way as expired ones so
// callers cannot probe which tokens exist.
func unknownAsExpired(err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("unknown token: %w", errs.ErrTokenExpired)
	}
	return err
}
