package httpserver

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/limiter"
)

// HeaderCardID and HeaderTenantID identify anonymous card holders.
const (
	HeaderCardID   = "X-Card-Id"
	HeaderTenantID = "X-Tenant-Id"
)

// rateLimiter applies the request budget policy. Store errors fail open.
type rateLimiter struct {
	window limiter.Window
	policy limiter.Policy
	hasher *crypto.KeyedHasher
	pw     problemWriter
	log    *zap.Logger
}

// forRoute limits one route. It must run after authentication so the caller
// tenant and device are known.
func (rl *rateLimiter) forRoute(method, route string) func(http.Handler) http.Handler {
	rule, hasRule := rl.policy.RouteRule(method, route)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.window == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			tenant := tenantOf(ctx)

			key, limit := "tenant:"+tenant, rl.policy.TenantRPM
			if tenant == "" {
				key, limit = "ip:"+rl.hasher.Hash("", clientIP(r)), rl.policy.AnonymousIPRPM
			}
			if !rl.hit(w, r, key, limit) {
				return
			}

			if hasRule {
				if subject := rl.subject(r, rule.Per, tenant); subject != "" {
					key := "route:" + strings.ToLower(rule.Method) + ":" + route + ":" + rule.Per + ":" + subject
					if !rl.hit(w, r, key, rule.Limit) {
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hit counts one request against key and writes a 429 when over budget.
func (rl *rateLimiter) hit(w http.ResponseWriter, r *http.Request, key string, limit int) bool {
	d, err := rl.window.Hit(r.Context(), key, limit, rl.policy.Window())
	if err != nil {
		rl.log.Warn("rate limiter unavailable, allowing request", zap.String("path", r.URL.Path), zap.Error(err))
		return true
	}
	if !d.Allowed {
		rl.pw.write(w, r, &errs.RateLimitError{RetryAfter: d.RetryAfter})
		return false
	}
	return true
}

// subject resolves the rule subject, hashing identifiers that could be PII.
func (rl *rateLimiter) subject(r *http.Request, per, tenant string) string {
	switch per {
	case limiter.PerCard:
		if card := strings.TrimSpace(r.Header.Get(HeaderCardID)); card != "" {
			return rl.hasher.Hash(tenant, card)
		}
	case limiter.PerDevice:
		if d, ok := DeviceFromCtx(r.Context()); ok {
			return d.ID
		}
	case limiter.PerTenant:
		return tenant
	case limiter.PerIP:
		return rl.hasher.Hash("", clientIP(r))
	}
	return ""
}
