package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
)

func testProblem(w http.ResponseWriter, _ *http.Request, err error) {
	k := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(k.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error_code": k.Code})
}

type harness struct {
	store *MemoryStore
	calls atomic.Int32
	h     http.Handler
}

func newHarness(t *testing.T, status int, tenant string) *harness {
	t.Helper()
	hs := &harness{store: NewMemoryStore()}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hs.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	})
	hs.h = Middleware(Config{
		Store:   hs.store,
		Tenant:  func(*http.Request) string { return tenant },
		Route:   func(*http.Request) string { return "/stamps/claim" },
		Problem: testProblem,
		Log:     zaptest.NewLogger(t),
	})(inner)
	return hs
}

func do(h http.Handler, key, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/stamps/claim", strings.NewReader(body))
	if key != "" {
		r.Header.Set(HeaderKey, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func code(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var p map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p["error_code"]
}

func TestMiddleware_KeyValidation(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, http.StatusOK, "t1")

	w := do(hs.h, "", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "IDEMPOTENCY_KEY_REQUIRED", code(t, w))

	for _, bad := range []string{"short", strings.Repeat("k", 129), "has space key", "tab\tkey-123"} {
		w = do(hs.h, bad, `{}`)
		require.Equal(t, http.StatusBadRequest, w.Code, bad)
		require.Equal(t, "IDEMPOTENCY_KEY_INVALID", code(t, w), bad)
	}
	require.Zero(t, hs.calls.Load())
}

func TestMiddleware_ReplaysSuccess(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, http.StatusOK, "t1")

	first := do(hs.h, "key-00000001", `{"qrToken":"abc","x":1}`)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "key-00000001", first.Header().Get(HeaderKey))

	// same JSON, different key order and whitespace
	second := do(hs.h, "key-00000001", `{ "x": 1, "qrToken": "abc" }`)
	require.Equal(t, first.Code, second.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, "key-00000001", second.Header().Get(HeaderKey))
	require.Equal(t, "application/json", second.Header().Get("Content-Type"))
	require.EqualValues(t, 1, hs.calls.Load())

	// a different body is a different scope
	do(hs.h, "key-00000001", `{"qrToken":"other"}`)
	require.EqualValues(t, 2, hs.calls.Load())
}

func TestMiddleware_ReplaysClientErrors(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, http.StatusConflict, "t1")

	first := do(hs.h, "key-00000002", `{}`)
	second := do(hs.h, "key-00000002", `{}`)
	require.Equal(t, http.StatusConflict, second.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.EqualValues(t, 1, hs.calls.Load())
}

func TestMiddleware_ServerErrorsAreNotCached(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, http.StatusServiceUnavailable, "t1")

	for i := 0; i < 3; i++ {
		w := do(hs.h, "key-00000003", `{}`)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.Equal(t, "key-00000003", w.Header().Get(HeaderKey))
	}
	require.EqualValues(t, 3, hs.calls.Load())
}

func TestMiddleware_TenantScoped(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	var calls atomic.Int32
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	})
	mk := func(tenant string) http.Handler {
		return Middleware(Config{
			Store:   store,
			Tenant:  func(*http.Request) string { return tenant },
			Problem: testProblem,
		})(inner)
	}

	do(mk("a"), "key-00000004", `{}`)
	do(mk("b"), "key-00000004", `{}`)
	do(mk("a"), "key-00000004", `{}`)
	require.EqualValues(t, 2, calls.Load())
}

func TestMiddleware_SubjectScoped(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	var calls atomic.Int32
	h := Middleware(Config{
		Store:   store,
		Tenant:  func(*http.Request) string { return "t1" },
		Subject: func(r *http.Request) string { return r.Header.Get("X-Card-Id") },
		Problem: testProblem,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	}))
	send := func(card string) string {
		r := httptest.NewRequest(http.MethodPost, "/rewards/tokens", nil)
		r.Header.Set(HeaderKey, "key-00000009")
		r.Header.Set("X-Card-Id", card)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Body.String()
	}

	a := send("card-a")
	b := send("card-b")
	require.NotEqual(t, a, b)
	require.Equal(t, a, send("card-a"))
	require.EqualValues(t, 2, calls.Load())
}

func TestMiddleware_LockHeldIsConflict(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, http.StatusOK, "t1")

	key := ScopeKey("t1", http.MethodPost, "/stamps/claim", []byte(`{}`), "key-00000005")
	ok, err := hs.store.AcquireLock(context.Background(), key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	w := do(hs.h, "key-00000005", `{}`)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "IDEMPOTENCY_CONFLICT", code(t, w))
	require.Zero(t, hs.calls.Load())
}

func TestMiddleware_PanicReleasesLock(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	var boom atomic.Bool
	boom.Store(true)
	h := Middleware(Config{Store: store, Problem: testProblem})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if boom.Load() {
			panic("handler exploded")
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.Panics(t, func() { do(h, "key-00000006", `{}`) })
	boom.Store(false)
	require.Equal(t, http.StatusOK, do(h, "key-00000006", `{}`).Code)
}

func TestMiddleware_ConcurrentDuplicatesExecuteOnce(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	release := make(chan struct{})
	var calls atomic.Int32
	h := Middleware(Config{Store: store, Problem: testProblem})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"stamps":1}`))
	}))

	const n = 16
	results := make(chan *httptest.ResponseRecorder, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- do(h, "key-00000007", `{"qrToken":"q"}`)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	// let the losers observe the lock before the winner finishes
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	var ok, conflict int
	for w := range results {
		switch w.Code {
		case http.StatusOK:
			ok++
			require.Equal(t, `{"stamps":1}`, w.Body.String())
		case http.StatusConflict:
			conflict++
		}
	}
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, n, ok+conflict)
	require.GreaterOrEqual(t, ok, 1)

	// every retry after completion is a byte-identical replay
	for i := 0; i < 3; i++ {
		w := do(h, "key-00000007", `{"qrToken":"q"}`)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, `{"stamps":1}`, w.Body.String())
		require.Equal(t, "key-00000007", w.Header().Get(HeaderKey))
	}
	require.EqualValues(t, 1, calls.Load())
}

type brokenStore struct{ MemoryStore }

func (*brokenStore) GetResult(context.Context, string) (*Result, error) {
	return nil, errors.New("redis down")
}

func TestMiddleware_StoreErrorIsServerError(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	h := Middleware(Config{Store: &brokenStore{}, Problem: testProblem})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	w := do(h, "key-00000008", `{}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Zero(t, calls.Load())
}

func TestScopeKey(t *testing.T) {
	t.Parallel()
	k := ScopeKey("", "post", "/rewards/redeem", []byte(`{"b":1,"a":2}`), "client-key")
	require.True(t, strings.HasPrefix(k, "-|POST /rewards/redeem|"))
	require.True(t, strings.HasSuffix(k, ":client-key"))
	require.Equal(t, k, ScopeKey("", "POST", "/rewards/redeem", []byte(`{"a":2,"b":1}`), "client-key"))
	require.NotEqual(t, BodyHash([]byte("not json")), BodyHash([]byte("not json!")))
}
