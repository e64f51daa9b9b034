// Package limiter implements the admin login lockout and the fixed-window
// request limiter.
package limiter

import (
	"context"
	"time"
)

// Limiter controls admin login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, email string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error)
}

// Decision is the outcome of one fixed-window hit.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Window counts hits per key in fixed windows.
type Window interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
