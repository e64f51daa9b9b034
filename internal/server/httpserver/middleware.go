package httpserver

import (
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/deviceproof"
	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/session"
)

// Correlation headers.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderRequestID     = "X-Request-Id"

	maxCorrelationIDLen = 128
)

// Logging logs one line per request. Bodies are never logged.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("dur", time.Since(start)),
				zap.String("correlation_id", CorrelationID(r.Context())),
			)
		})
	}
}

// Recover turns handler panics into a 500 problem.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	pw := problemWriter{log: log}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					pw.write(w, r, errs.ErrMisconfigured)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Correlation takes the caller's correlation id or generates one, and echoes it.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderCorrelationID))
		if id == "" {
			id = strings.TrimSpace(r.Header.Get(HeaderRequestID))
		}
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.Must(uuid.NewV4()).String()
		}
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
	})
}

// TokenVerifier validates admin access tokens.
type TokenVerifier interface {
	Verify(raw string) (*session.Claims, error)
}

// bearerToken extracts "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, true
		}
	}
	return "", false
}

// AdminAuth requires a valid admin access token. Expired tokens are 401
// TOKEN_EXPIRED so clients know to refresh.
func AdminAuth(v TokenVerifier, pw problemWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				pw.write(w, r, errs.ErrUnauthorized)
				return
			}
			claims, err := v.Verify(raw)
			switch {
			case errors.Is(err, errs.ErrTokenExpired):
				pw.writeStatus(w, r, err, http.StatusUnauthorized)
				return
			case err != nil:
				pw.write(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), claims)))
		})
	}
}

// DeviceAuth requires a valid device proof.
func DeviceAuth(v *deviceproof.Verifier, trustProxy bool, pw problemWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := deviceproof.FromRequest(r, trustProxy)
			if err != nil {
				pw.write(w, r, err)
				return
			}
			dev, err := v.Verify(r.Context(), p)
			if err != nil {
				pw.write(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), dev)))
		})
	}
}

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware
// rewrites RemoteAddr when the server runs behind a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
