package httpserver

import (
	"context"

	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/session"
)

type ctxKey string

const (
	correlationIDKey ctxKey = "lt.correlationID"
	adminKey         ctxKey = "lt.admin"
	deviceKey        ctxKey = "lt.device"
)

// WithCorrelationID stores the request correlation id in context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID fetches the correlation id, "" when absent.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithAdmin stores verified admin claims in context.
func WithAdmin(ctx context.Context, c *session.Claims) context.Context {
	return context.WithValue(ctx, adminKey, c)
}

// AdminFromCtx fetches admin claims.
func AdminFromCtx(ctx context.Context) (*session.Claims, bool) {
	c, ok := ctx.Value(adminKey).(*session.Claims)
	return c, ok && c != nil
}

// WithDevice stores the proof-authenticated device in context.
func WithDevice(ctx context.Context, d *model.Device) context.Context {
	return context.WithValue(ctx, deviceKey, d)
}

// DeviceFromCtx fetches the authenticated device.
func DeviceFromCtx(ctx context.Context) (*model.Device, bool) {
	d, ok := ctx.Value(deviceKey).(*model.Device)
	return d, ok && d != nil
}

// tenantOf returns the tenant of the authenticated caller, "" for anonymous.
func tenantOf(ctx context.Context) string {
	if c, ok := AdminFromCtx(ctx); ok {
		return c.TenantID
	}
	if d, ok := DeviceFromCtx(ctx); ok {
		return d.TenantID
	}
	return ""
}
