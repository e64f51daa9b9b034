// Package session issues and verifies short-lived admin access tokens.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/keys"
)

const (
	DefaultIssuer   = "lokaltreu-admin"
	DefaultAudience = "lokaltreu-api"
	DefaultTTL      = 15 * time.Minute

	typeAccess = "access"
)

// Claims is the access token payload.
type Claims struct {
	TenantID   string `json:"tenant_id"`
	SessionJTI string `json:"session_jti,omitempty"`
	Type       string `json:"type"`
	jwt.RegisteredClaims
}

// AdminID is the token subject.
func (c *Claims) AdminID() string { return c.Subject }

// Authenticator signs with the registry's active key and verifies against its
// full public set.
type Authenticator struct {
	reg      *keys.Registry
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	now      func() time.Time
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithTTL overrides the access token lifetime.
func WithTTL(d time.Duration) Option { return func(a *Authenticator) { a.ttl = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(a *Authenticator) { a.now = now } }

// WithLeeway tolerates clock drift on exp/iat checks.
func WithLeeway(d time.Duration) Option { return func(a *Authenticator) { a.leeway = d } }

// New constructs an Authenticator.
func New(reg *keys.Registry, opts ...Option) *Authenticator {
	a := &Authenticator{
		reg:      reg,
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// TTL reports the configured access token lifetime.
func (a *Authenticator) TTL() time.Duration { return a.ttl }

// Issue mints an access token for (tenant, admin) bound to a refresh session.
func (a *Authenticator) Issue(tenantID, adminID, sessionJTI string) (string, time.Time, error) {
	if tenantID == "" || adminID == "" {
		return "", time.Time{}, fmt.Errorf("issue: tenant/admin: %w", errs.ErrInvalidInput)
	}
	key, err := a.reg.Active()
	if err != nil {
		return "", time.Time{}, err
	}
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}

	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		TenantID:   tenantID,
		SessionJTI: sessionJTI,
		Type:       typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Audience:  jwt.ClaimStrings{a.audience},
			Subject:   adminID,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	method := jwt.GetSigningMethod(key.Alg)
	if method == nil {
		return "", time.Time{}, fmt.Errorf("signing method %q: %w", key.Alg, errs.ErrMisconfigured)
	}
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = key.ID
	signed, err := tok.SignedString(key.Signer)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign: %v: %w", err, errs.ErrMisconfigured)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience, expiry and claim shape.
//
// Errors: errs.ErrMisconfigured when the key set is unusable,
// errs.ErrTokenExpired for expired tokens, errs.ErrUnauthorized otherwise.
func (a *Authenticator) Verify(raw string) (*Claims, error) {
	var cfgErr error
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		k, err := a.reg.Lookup(kid)
		if err != nil {
			if errors.Is(err, errs.ErrMisconfigured) {
				cfgErr = err
			}
			return nil, err
		}
		if t.Method.Alg() != k.Alg {
			return nil, fmt.Errorf("alg %s does not match key %s", t.Method.Alg(), k.Alg)
		}
		return k.Public, nil
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, keyfunc,
		jwt.WithValidMethods([]string{keys.AlgEdDSA, keys.AlgES256, keys.AlgRS256}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	)
	switch {
	case cfgErr != nil:
		return nil, cfgErr
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("verify: %w", errs.ErrTokenExpired)
	case err != nil:
		return nil, fmt.Errorf("verify: %v: %w", err, errs.ErrUnauthorized)
	}

	if claims.Type != typeAccess || claims.TenantID == "" || claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("verify: claim shape: %w", errs.ErrUnauthorized)
	}
	return claims, nil
}
