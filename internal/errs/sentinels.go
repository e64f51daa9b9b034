// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a conditional update lost a race.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the caller exceeded a request budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates a malformed request body or parameter.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMisconfigured indicates missing or unusable server configuration (keys, secrets).
	ErrMisconfigured = errors.New("misconfigured")
)

// Single-use tokens.
var (
	ErrTokenExpired = errors.New("token expired or unknown")
	ErrTokenReuse   = errors.New("token already used")
	ErrNoReward     = errors.New("no reward available")
)

// Device proofs.
var (
	ErrProofInvalid   = errors.New("device proof invalid")
	ErrProofSkew      = errors.New("device proof timestamp outside window")
	ErrProofReplay    = errors.New("device proof replayed")
	ErrDeviceDisabled = errors.New("device disabled or unknown")
	ErrDeviceTenant   = errors.New("device belongs to another tenant")
)

// Idempotency.
var (
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIdempotencyKeyInvalid  = errors.New("idempotency key invalid")
	ErrIdempotencyConflict    = errors.New("idempotent request in progress")
)
