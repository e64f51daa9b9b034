package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/audit"
	pkgcrypto "github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/limiter"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
)

// DefaultRefreshTTL is the lifetime of a refresh session.
const DefaultRefreshTTL = 30 * 24 * time.Hour

// TokenIssuer mints admin access tokens.
type TokenIssuer interface {
	Issue(tenantID, adminID, sessionJTI string) (string, time.Time, error)
}

// AdminAuthService defines admin session operations.
type AdminAuthService interface {
	// CreateAdmin seeds an admin with an argon2id password hash.
	CreateAdmin(ctx context.Context, tenantID, email, password string) (*model.Admin, error)
	// Login applies the lockout limiter and opens a refresh session.
	Login(ctx context.Context, email, password, remoteAddr, correlationID string) (model.Tokens, error)
	// Refresh rotates the refresh session of the authenticated admin.
	Refresh(ctx context.Context, tenantID, adminID, refreshToken, correlationID string) (model.Tokens, error)
	// Logout revokes the refresh session.
	Logout(ctx context.Context, tenantID, adminID, refreshToken, correlationID string) error
}

type AdminAuthServiceImpl struct {
	admins     repository.AdminRepository
	sessions   repository.SessionRepository
	issuer     TokenIssuer
	lim        limiter.Limiter
	refreshTTL time.Duration
	deps
}

// NewAdminAuthService constructs AdminAuthService with required dependencies.
func NewAdminAuthService(
	admins repository.AdminRepository, sessions repository.SessionRepository,
	issuer TokenIssuer, lim limiter.Limiter, refreshTTL time.Duration, rec audit.Recorder, opts ...Option,
) *AdminAuthServiceImpl {
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &AdminAuthServiceImpl{
		admins: admins, sessions: sessions, issuer: issuer, lim: lim, refreshTTL: refreshTTL,
		deps: newDeps(rec, opts),
	}
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// CreateAdmin inserts an admin record with a per-admin salt.
func (s *AdminAuthServiceImpl) CreateAdmin(ctx context.Context, tenantID, email, password string) (*model.Admin, error) {
	email = normalizeEmail(email)
	if tenantID == "" || email == "" || password == "" {
		return nil, fmt.Errorf("tenant, email and password required: %w", errs.ErrInvalidInput)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	hash, salt, err := pkgcrypto.NewPasswordHash([]byte(password))
	if err != nil {
		return nil, err
	}
	a := &model.Admin{
		ID:        id.String(),
		TenantID:  tenantID,
		Email:     email,
		PwdHash:   hash,
		Salt:      salt,
		CreatedAt: s.now(),
	}
	if err := s.admins.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Login authenticates with lockout by (email, ip).
func (s *AdminAuthServiceImpl) Login(ctx context.Context, email, password, remoteAddr, correlationID string) (model.Tokens, error) {
	email = normalizeEmail(email)
	ipHash := limiter.HashIP(remoteAddr)

	allowed, retry, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, err
	}
	if !allowed {
		return model.Tokens{}, &errs.RateLimitError{RetryAfter: retry}
	}

	a, err := s.admins.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, err
	}
	var ok bool
	if err != nil {
		ok = pkgcrypto.BurnPasswordCheck([]byte(password))
	} else {
		ok = pkgcrypto.VerifyPassword([]byte(password), a.Salt, a.PwdHash)
	}
	if !ok {
		blocked, retry, ferr := s.lim.Failure(ctx, email, ipHash)
		if ferr != nil {
			s.log.Warn("login limiter failure not recorded", zap.Error(ferr))
		}
		if ferr == nil && blocked {
			return model.Tokens{}, &errs.RateLimitError{RetryAfter: retry}
		}
		// unknown email and wrong password look the same
		return model.Tokens{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, email, ipHash); err != nil {
		s.log.Warn("login limiter reset failed", zap.Error(err))
	}

	toks, err := s.openSession(ctx, a.TenantID, a.ID)
	if err != nil {
		return model.Tokens{}, err
	}
	s.record(ctx, model.AuditEntry{TenantID: a.TenantID, Action: ActionAdminLogin, JTI: toks.SessionID, CorrelationID: correlationID})
	return toks, nil
}

// openSession stores a new refresh session and mints the token pair.
func (s *AdminAuthServiceImpl) openSession(ctx context.Context, tenantID, adminID string) (model.Tokens, error) {
	sid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, err
	}
	refresh, hash, err := pkgcrypto.NewOpaqueToken()
	if err != nil {
		return model.Tokens{}, err
	}
	sess := &model.AdminSession{
		ID:               sid.String(),
		TenantID:         tenantID,
		AdminID:          adminID,
		RefreshTokenHash: hash,
		ExpiresAt:        s.now().Add(s.refreshTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return model.Tokens{}, err
	}
	access, exp, err := s.issuer.Issue(tenantID, adminID, sess.ID)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        exp,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
	}, nil
}

// liveSession resolves a refresh token owned by (tenantID, adminID).
func (s *AdminAuthServiceImpl) liveSession(ctx context.Context, tenantID, adminID, refreshToken string) (*model.AdminSession, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token missing: %w", errs.ErrTokenExpired)
	}
	sess, err := s.sessions.GetByHash(ctx, pkgcrypto.HashToken(refreshToken))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("refresh session unknown: %w", errs.ErrTokenExpired)
	}
	if err != nil {
		return nil, err
	}
	switch {
	case sess.RevokedAt != nil:
		return nil, fmt.Errorf("refresh session revoked: %w", errs.ErrTokenExpired)
	case !s.now().Before(sess.ExpiresAt):
		return nil, fmt.Errorf("refresh session expired: %w", errs.ErrTokenExpired)
	case sess.TenantID != tenantID || sess.AdminID != adminID:
		return nil, fmt.Errorf("refresh session of another admin: %w", errs.ErrTokenExpired)
	}
	return sess, nil
}

// Refresh revokes the presented session and opens a new one.
func (s *AdminAuthServiceImpl) Refresh(ctx context.Context, tenantID, adminID, refreshToken, correlationID string) (model.Tokens, error) {
	sess, err := s.liveSession(ctx, tenantID, adminID, refreshToken)
	if err != nil {
		return model.Tokens{}, err
	}
	// a concurrent refresh of the same token loses here
	if err := s.sessions.Revoke(ctx, sess.ID, s.now()); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, fmt.Errorf("refresh session already rotated: %w", errs.ErrTokenExpired)
		}
		return model.Tokens{}, err
	}
	toks, err := s.openSession(ctx, tenantID, adminID)
	if err != nil {
		return model.Tokens{}, err
	}
	s.record(ctx, model.AuditEntry{TenantID: tenantID, Action: ActionAdminRefresh, JTI: toks.SessionID, CorrelationID: correlationID})
	return toks, nil
}

// Logout revokes the presented session.
func (s *AdminAuthServiceImpl) Logout(ctx context.Context, tenantID, adminID, refreshToken, correlationID string) error {
	sess, err := s.liveSession(ctx, tenantID, adminID, refreshToken)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, sess.ID, s.now()); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	s.record(ctx, model.AuditEntry{TenantID: tenantID, Action: ActionAdminLogout, JTI: sess.ID, CorrelationID: correlationID})
	return nil
}
