package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Globator25/Lokaltreu-sub000/internal/model"
	"github.com/Globator25/Lokaltreu-sub000/internal/session"
)

func TestAuthCtx_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, ok := AdminFromCtx(ctx); ok {
		t.Fatalf("expected no admin in empty ctx")
	}
	if _, ok := DeviceFromCtx(ctx); ok {
		t.Fatalf("expected no device in empty ctx")
	}
	require.Empty(t, tenantOf(ctx))

	ctx = WithAdmin(ctx, &session.Claims{TenantID: "t1"})
	require.Equal(t, "t1", tenantOf(ctx))

	ctx = WithDevice(context.Background(), &model.Device{ID: "d1", TenantID: "t2"})
	require.Equal(t, "t2", tenantOf(ctx))

	bad := context.WithValue(context.Background(), adminKey, "not-claims")
	if _, ok := AdminFromCtx(bad); ok {
		t.Fatalf("expected miss on wrong typed value")
	}
}

func TestCorrelation_GeneratesAndBoundsIDs(t *testing.T) {
	t.Parallel()

	var seen string
	h := Correlation(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { seen = CorrelationID(r.Context()) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, "req-1", seen)
	require.Equal(t, "req-1", rr.Header().Get(HeaderCorrelationID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, strings.Repeat("x", maxCorrelationIDLen+1))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Len(t, seen, 36)
	require.Equal(t, seen, rr.Header().Get(HeaderCorrelationID))
}

func TestRecover_CatchesPanic(t *testing.T) {
	t.Parallel()

	h := Correlation(Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("oh no")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var p Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	require.Equal(t, "CONFIG_ERROR", p.ErrorCode)
}

func TestLogging_Passthrough(t *testing.T) {
	t.Parallel()

	h := Logging(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"ok":        {"Bearer abc.def.ghi", "abc.def.ghi", true},
		"lowercase": {"bearer tok", "tok", true},
		"basic":     {"Basic foo", "", false},
		"empty":     {"Bearer   ", "", false},
		"missing":   {"", "", false},
	}
	for name, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		got, ok := bearerToken(req)
		require.Equal(t, c.ok, ok, name)
		require.Equal(t, c.want, got, name)
	}
}
