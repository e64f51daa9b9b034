package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the transport-facing classification of an error.
type Kind struct {
	Code   string
	Status int
	Title  string
}

// Internal is returned for errors that match no known sentinel.
var Internal = Kind{Code: "INTERNAL_ERROR", Status: http.StatusInternalServerError, Title: "Internal Server Error"}

// order matters: the first matching sentinel wins.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrTokenExpired, Kind{"TOKEN_EXPIRED", http.StatusBadRequest, "Token expired"}},
	{ErrTokenReuse, Kind{"TOKEN_REUSE", http.StatusConflict, "Token reuse"}},
	{ErrNoReward, Kind{"NO_REWARD_AVAILABLE", http.StatusConflict, "No reward available"}},
	{ErrProofSkew, Kind{"DEVICE_PROOF_SKEW", http.StatusUnauthorized, "Device proof outside time window"}},
	{ErrProofReplay, Kind{"DEVICE_PROOF_REPLAY", http.StatusConflict, "Device proof replayed"}},
	{ErrDeviceTenant, Kind{"DEVICE_PROOF_INVALID", http.StatusForbidden, "Tenant mismatch"}},
	{ErrProofInvalid, Kind{"DEVICE_PROOF_INVALID", http.StatusUnauthorized, "Device proof invalid"}},
	{ErrDeviceDisabled, Kind{"DEVICE_DISABLED", http.StatusForbidden, "Device disabled"}},
	{ErrIdempotencyKeyRequired, Kind{"IDEMPOTENCY_KEY_REQUIRED", http.StatusBadRequest, "Idempotency-Key required"}},
	{ErrIdempotencyKeyInvalid, Kind{"IDEMPOTENCY_KEY_INVALID", http.StatusBadRequest, "Idempotency-Key invalid"}},
	{ErrIdempotencyConflict, Kind{"IDEMPOTENCY_CONFLICT", http.StatusConflict, "Request already in progress"}},
	{ErrRateLimited, Kind{"RATE_LIMITED", http.StatusTooManyRequests, "Too Many Requests"}},
	{ErrMisconfigured, Kind{"CONFIG_ERROR", http.StatusInternalServerError, "Server misconfigured"}},
	{ErrUnauthorized, Kind{"UNAUTHORIZED", http.StatusUnauthorized, "Unauthorized"}},
	{ErrInvalidInput, Kind{"BAD_REQUEST", http.StatusBadRequest, "Bad Request"}},
	{ErrNotFound, Kind{"NOT_FOUND", http.StatusNotFound, "Not Found"}},
	{ErrAlreadyExists, Kind{"CONFLICT", http.StatusConflict, "Conflict"}},
	{ErrVersionConflict, Kind{"CONFLICT", http.StatusConflict, "Conflict"}},
}

// KindOf maps an error chain to its transport kind.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return Internal
}

// RateLimitError is ErrRateLimited with a retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Unwrap makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts a retry hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
