// Package idempotency deduplicates retried state-mutating requests.
//
// A request is identified by a scoped key built from the caller tenant, the
// route, a hash of the body and the client-supplied Idempotency-Key. The
// first request takes a TTL-bounded lock, runs the handler and stores the
// response unless it is a server error. Repeats replay the stored response;
// a repeat that only finds the lock is rejected with 409 instead of waiting.
package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/crypto"
)

const (
	DefaultTTL = 24 * time.Hour

	resultPrefix = "idem:result:"
	lockPrefix   = "idem:lock:"
)

// Result is a stored response.
type Result struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// Store persists locks and results. Implementations must make AcquireLock a
// single atomic insert-if-absent.
type Store interface {
	// GetResult returns the stored result or nil when none exists.
	GetResult(ctx context.Context, key string) (*Result, error)
	// AcquireLock reports whether the caller now owns the lock for key.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// SetResult stores res for ttl. The lock is left to expire on its own so a
	// late duplicate can never take it while the result is still cached.
	SetResult(ctx context.Context, key string, res Result, ttl time.Duration) error
	// ReleaseLock drops the lock without storing a result.
	ReleaseLock(ctx context.Context, key string) error
}

// ScopeKey builds the cache key for one logical request.
func ScopeKey(tenantID, method, route string, body []byte, clientKey string) string {
	if tenantID == "" {
		tenantID = "-"
	}
	return tenantID + "|" + strings.ToUpper(method) + " " + route + "|" + BodyHash(body) + ":" + clientKey
}

// BodyHash hashes the canonical JSON form of body, or the raw bytes when body
// is not JSON, so that key order and whitespace do not change the scope.
func BodyHash(body []byte) string {
	if len(body) == 0 {
		return crypto.SHA256Hex(nil)
	}
	var v any
	if err := jsonUnmarshal(body, &v); err == nil {
		if canon, err := crypto.CanonicalJSON(v); err == nil {
			return crypto.SHA256Hex(canon)
		}
	}
	return crypto.SHA256Hex(body)
}
