// Package httpserver exposes the Lokaltreu HTTP API.
package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/deviceproof"
	"github.com/Globator25/Lokaltreu-sub000/internal/idempotency"
	"github.com/Globator25/Lokaltreu-sub000/internal/keys"
	"github.com/Globator25/Lokaltreu-sub000/internal/limiter"
	"github.com/Globator25/Lokaltreu-sub000/internal/service"
)

// Route patterns.
const (
	RouteJWKS           = "/.well-known/jwks.json"
	RouteHealth         = "/healthz"
	RouteLogin          = "/admins/login"
	RouteRefresh        = "/admins/refresh"
	RouteLogout         = "/admins/logout"
	RouteDeviceLinks    = "/devices/registration-links"
	RouteDeviceConfirm  = "/devices/register/confirm"
	RouteDeviceDisable  = "/devices/{deviceId}/disable"
	RouteStampTokens    = "/stamps/tokens"
	RouteStampClaim     = "/stamps/claim"
	RouteRewardTokens   = "/rewards/tokens"
	RouteRewardRedeem   = "/rewards/redeem"
	refreshCookieName   = "AdminRefreshToken"
	refreshCookiePath   = "/admins"
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 15 * time.Second
)

// JWKSource publishes the admin verification keys.
type JWKSource interface {
	PublicJWKS() (keys.JWKS, error)
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Auth    service.AdminAuthService
	Stamps  service.StampService
	Rewards service.RewardService
	Devices service.DeviceService

	Tokens TokenVerifier
	JWKS   JWKSource
	Proofs *deviceproof.Verifier

	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration

	// Window is optional; without it requests are not rate limited.
	Window limiter.Window
	Policy limiter.Policy
	Hasher *crypto.KeyedHasher

	TrustProxy    bool
	SecureCookies bool
	Log           *zap.Logger
}

// Server wires services into HTTP handlers.
type Server struct {
	d   Deps
	pw  problemWriter
	rl  *rateLimiter
	log *zap.Logger
}

// New constructs the API server.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Hasher == nil {
		d.Hasher = crypto.NewKeyedHasher(nil)
	}
	if d.Policy.WindowSeconds == 0 {
		d.Policy = limiter.DefaultPolicy()
	}
	pw := problemWriter{log: d.Log}
	return &Server{
		d:   d,
		pw:  pw,
		rl:  &rateLimiter{window: d.Window, policy: d.Policy, hasher: d.Hasher, pw: pw, log: d.Log},
		log: d.Log,
	}
}

// idem makes a route idempotent. Anonymous reward requests are scoped by
// the tenant header, card routes additionally by the hashed card id.
func (s *Server) idem(route string) func(http.Handler) http.Handler {
	return idempotency.Middleware(idempotency.Config{
		Store: s.d.Idempotency,
		TTL:   s.d.IdempotencyTTL,
		Tenant: func(r *http.Request) string {
			if t := tenantOf(r.Context()); t != "" {
				return t
			}
			return r.Header.Get(HeaderTenantID)
		},
		Route: func(*http.Request) string { return route },
		Subject: func(r *http.Request) string {
			card := strings.TrimSpace(r.Header.Get(HeaderCardID))
			if card == "" {
				return ""
			}
			return "card:" + s.d.Hasher.Hash(r.Header.Get(HeaderTenantID), card)
		},
		Problem: s.pw.write,
		Log:     s.log,
	})
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.d.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(Correlation)
	r.Use(Logging(s.log))
	r.Use(Recover(s.log))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) { s.pw.write(w, r, errNoRoute) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { s.pw.write(w, r, errNoRoute) })

	r.Get(RouteHealth, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get(RouteJWKS, s.handleJWKS)

	admin := AdminAuth(s.d.Tokens, s.pw)
	device := DeviceAuth(s.d.Proofs, s.d.TrustProxy, s.pw)
	post := func(route string) func(http.Handler) http.Handler { return s.rl.forRoute(http.MethodPost, route) }

	r.With(post(RouteLogin)).Post(RouteLogin, s.handleLogin)
	r.With(admin, post(RouteRefresh)).Post(RouteRefresh, s.handleRefresh)
	r.With(admin, post(RouteLogout)).Post(RouteLogout, s.handleLogout)

	r.With(admin, post(RouteDeviceLinks), s.idem(RouteDeviceLinks)).Post(RouteDeviceLinks, s.handleCreateLink)
	r.With(post(RouteDeviceConfirm), s.idem(RouteDeviceConfirm)).Post(RouteDeviceConfirm, s.handleConfirmDevice)
	r.With(admin, post(RouteDeviceDisable), s.idem(RouteDeviceDisable)).Post(RouteDeviceDisable, s.handleDisableDevice)

	r.With(device, post(RouteStampTokens), s.idem(RouteStampTokens)).Post(RouteStampTokens, s.handleStampToken)
	r.With(post(RouteStampClaim), s.idem(RouteStampClaim)).Post(RouteStampClaim, s.handleStampClaim)

	r.With(post(RouteRewardTokens), s.idem(RouteRewardTokens)).Post(RouteRewardTokens, s.handleRewardToken)
	r.With(device, post(RouteRewardRedeem), s.idem(RouteRewardRedeem)).Post(RouteRewardRedeem, s.handleRewardRedeem)
	return r
}

// Run serves addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
