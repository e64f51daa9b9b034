package idempotency

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
)

// HeaderKey is the request and response header carrying the client key.
const HeaderKey = "Idempotency-Key"

const (
	minKeyLen   = 8
	maxKeyLen   = 128
	maxBodySize = 1 << 20
)

// Config wires the middleware.
type Config struct {
	Store   Store
	TTL     time.Duration // result retention, DefaultTTL when zero
	LockTTL time.Duration // lock lifetime, TTL when zero

	// Tenant returns the caller tenant, "" for anonymous callers.
	Tenant func(*http.Request) string
	// Route returns a stable route identifier such as the router pattern.
	Route func(*http.Request) string
	// Subject optionally narrows the scope to one caller inside a tenant,
	// such as an anonymous card. "" keeps the tenant-wide scope.
	Subject func(*http.Request) string
	// Problem renders an error response.
	Problem func(http.ResponseWriter, *http.Request, error)

	Log *zap.Logger
}

// ValidateKey checks presence and shape of a client key.
func ValidateKey(key string) error {
	if key == "" {
		return errs.ErrIdempotencyKeyRequired
	}
	if len(key) < minKeyLen || len(key) > maxKeyLen {
		return errs.ErrIdempotencyKeyInvalid
	}
	for i := 0; i < len(key); i++ {
		if c := key[i]; c <= ' ' || c > '~' {
			return errs.ErrIdempotencyKeyInvalid
		}
	}
	return nil
}

// Cacheable reports whether a response status is stored: 2xx and 4xx only.
func Cacheable(status int) bool {
	return (status >= 200 && status < 300) || (status >= 400 && status < 500)
}

// Middleware wraps state-mutating handlers.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.TTL
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Tenant == nil {
		cfg.Tenant = func(*http.Request) string { return "" }
	}
	if cfg.Route == nil {
		cfg.Route = func(r *http.Request) string { return r.URL.Path }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(HeaderKey)
			if err := ValidateKey(clientKey); err != nil {
				cfg.Problem(w, r, err)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
			if err != nil {
				cfg.Problem(w, r, fmt.Errorf("read body: %v: %w", err, errs.ErrInvalidInput))
				return
			}
			if len(body) > maxBodySize {
				cfg.Problem(w, r, fmt.Errorf("body too large: %w", errs.ErrInvalidInput))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			route := cfg.Route(r)
			if cfg.Subject != nil {
				if sub := cfg.Subject(r); sub != "" {
					route += "#" + sub
				}
			}
			key := ScopeKey(cfg.Tenant(r), r.Method, route, body, clientKey)

			if res, err := cfg.Store.GetResult(ctx, key); err != nil {
				cfg.Problem(w, r, fmt.Errorf("idempotency lookup: %w", err))
				return
			} else if res != nil {
				replay(w, res)
				return
			}

			acquired, err := cfg.Store.AcquireLock(ctx, key, cfg.LockTTL)
			if err != nil {
				cfg.Problem(w, r, fmt.Errorf("idempotency lock: %w", err))
				return
			}
			if !acquired {
				// the owner may have finished between the two calls
				if res, err := cfg.Store.GetResult(ctx, key); err == nil && res != nil {
					replay(w, res)
					return
				}
				cfg.Problem(w, r, errs.ErrIdempotencyConflict)
				return
			}

			rec := newRecorder()
			rec.Header().Set(HeaderKey, clientKey)
			completed := false
			defer func() {
				if !completed {
					// handler panicked: free the key for a fresh attempt
					_ = cfg.Store.ReleaseLock(context.WithoutCancel(ctx), key)
				}
			}()
			next.ServeHTTP(rec, r)
			completed = true

			// the outcome is recorded even if the client has gone away
			storeCtx := context.WithoutCancel(ctx)
			if Cacheable(rec.status) {
				if err := cfg.Store.SetResult(storeCtx, key, rec.result(), cfg.TTL); err != nil {
					cfg.Log.Error("idempotency store result", zap.Error(err), zap.String("route", cfg.Route(r)))
				}
			} else if err := cfg.Store.ReleaseLock(storeCtx, key); err != nil {
				cfg.Log.Error("idempotency release lock", zap.Error(err), zap.String("route", cfg.Route(r)))
			}
			rec.flush(w)
		})
	}
}

func replay(w http.ResponseWriter, res *Result) {
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

// recorder buffers the whole response so it can be stored before it is sent.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newRecorder() *recorder { return &recorder{header: http.Header{}, status: http.StatusOK} }

func (rec *recorder) Header() http.Header { return rec.header }

func (rec *recorder) WriteHeader(status int) {
	if rec.wrote {
		return
	}
	rec.status, rec.wrote = status, true
}

func (rec *recorder) Write(b []byte) (int, error) {
	rec.wrote = true
	return rec.body.Write(b)
}

func (rec *recorder) result() Result {
	h := make(map[string]string, len(rec.header))
	for k := range rec.header {
		h[k] = rec.header.Get(k)
	}
	return Result{Status: rec.status, Headers: h, Body: append([]byte(nil), rec.body.Bytes()...)}
}

func (rec *recorder) flush(w http.ResponseWriter) {
	for k, v := range rec.header {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.status)
	_, _ = w.Write(rec.body.Bytes())
}
