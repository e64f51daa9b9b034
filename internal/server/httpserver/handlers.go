package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

const maxBodyBytes = 64 << 10

var errNoRoute = fmt.Errorf("no such route: %w", errs.ErrNotFound)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %v: %w", err, errs.ErrInvalidInput)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("body too large: %w", errs.ErrInvalidInput)
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			return fmt.Errorf("decode body: %v: %w", err, errs.ErrInvalidInput)
		}
	}
	return validate.Struct(dst)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"omitempty,max=256"`
}

type tokensResponse struct {
	AccessToken      string    `json:"accessToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type confirmRequest struct {
	Token     string `json:"token" validate:"required,max=256"`
	PublicKey string `json:"publicKey" validate:"required,max=4096"`
}

type claimRequest struct {
	QRToken string `json:"qrToken" validate:"required,max=256"`
}

type redeemRequest struct {
	RedeemToken string `json:"redeemToken" validate:"required,max=256"`
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := s.d.JWKS.PublicJWKS()
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.pw.write(w, r, err)
		return
	}
	tok, err := s.d.Auth.Login(r.Context(), req.Email, req.Password, r.RemoteAddr, CorrelationID(r.Context()))
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	s.writeTokens(w, tok)
}

func (s *Server) writeTokens(w http.ResponseWriter, tok model.Tokens) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    tok.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  tok.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.d.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokensResponse{
		AccessToken:      tok.AccessToken,
		TokenType:        "Bearer",
		ExpiresAt:        tok.ExpiresAt.UTC(),
		RefreshToken:     tok.RefreshToken,
		RefreshExpiresAt: tok.RefreshExpiresAt.UTC(),
	})
}

// refreshToken takes the token from the body, falling back to the cookie.
func refreshToken(r *http.Request) (string, error) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		return "", err
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, nil
	}
	if c, err := r.Cookie(refreshCookieName); err == nil {
		return c.Value, nil
	}
	return "", nil
}

// writeSessionError reports refresh session failures as 401.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errs.ErrTokenExpired) {
		s.pw.writeStatus(w, r, err, http.StatusUnauthorized)
		return
	}
	s.pw.write(w, r, err)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	claims, _ := AdminFromCtx(r.Context())
	raw, err := refreshToken(r)
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	tok, err := s.d.Auth.Refresh(r.Context(), claims.TenantID, claims.AdminID(), raw, CorrelationID(r.Context()))
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.writeTokens(w, tok)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := AdminFromCtx(r.Context())
	raw, err := refreshToken(r)
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	if err := s.d.Auth.Logout(r.Context(), claims.TenantID, claims.AdminID(), raw, CorrelationID(r.Context())); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.d.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	claims, _ := AdminFromCtx(r.Context())
	tok, err := s.d.Devices.CreateLink(r.Context(), claims.TenantID, claims.AdminID(), CorrelationID(r.Context()))
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     tok.Token,
		"linkId":    tok.JTI,
		"expiresAt": tok.ExpiresAt.UTC(),
	})
}

func (s *Server) handleConfirmDevice(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decode(r, &req); err != nil {
		s.pw.write(w, r, err)
		return
	}
	d, err := s.d.Devices.Confirm(r.Context(), req.Token, req.PublicKey, CorrelationID(r.Context()))
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"deviceId": d.ID,
		"tenantId": d.TenantID,
	})
}

func (s *Server) handleDisableDevice(w http.ResponseWriter, r *http.Request) {
	claims, _ := AdminFromCtx(r.Context())
	id := chi.URLParam(r, "deviceId")
	if err := s.d.Devices.Disable(r.Context(), claims.TenantID, id, CorrelationID(r.Context())); err != nil {
		s.pw.write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStampToken(w http.ResponseWriter, r *http.Request) {
	dev, _ := DeviceFromCtx(r.Context())
	tok, err := s.d.Stamps.IssueToken(r.Context(), dev, CorrelationID(r.Context()))
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"qrToken":   tok.Token,
		"jti":       tok.JTI,
		"expiresAt": tok.ExpiresAt.UTC(),
	})
}

func (s *Server) handleStampClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		s.pw.write(w, r, err)
		return
	}
	st, err := s.d.Stamps.Claim(r.Context(), req.QRToken, r.Header.Get(HeaderCardID), CorrelationID(r.Context()))
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRewardToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.d.Rewards.IssueToken(r.Context(), r.Header.Get(HeaderTenantID), r.Header.Get(HeaderCardID), CorrelationID(r.Context()))
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"redeemToken": tok.Token,
		"jti":         tok.JTI,
		"expiresAt":   tok.ExpiresAt.UTC(),
	})
}

func (s *Server) handleRewardRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decode(r, &req); err != nil {
		s.pw.write(w, r, err)
		return
	}
	dev, _ := DeviceFromCtx(r.Context())
	st, err := s.d.Rewards.Redeem(r.Context(), dev, req.RedeemToken, CorrelationID(r.Context()))
	if err != nil {
		s.pw.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
