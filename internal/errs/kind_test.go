package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKindOf_WrappedSentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("claim: %w", ErrTokenExpired), "TOKEN_EXPIRED", http.StatusBadRequest},
		{fmt.Errorf("claim: %w", ErrTokenReuse), "TOKEN_REUSE", http.StatusConflict},
		{ErrProofSkew, "DEVICE_PROOF_SKEW", http.StatusUnauthorized},
		{ErrProofReplay, "DEVICE_PROOF_REPLAY", http.StatusConflict},
		{ErrDeviceDisabled, "DEVICE_DISABLED", http.StatusForbidden},
		{fmt.Errorf("device: %w", ErrDeviceTenant), "DEVICE_PROOF_INVALID", http.StatusForbidden},
		{ErrIdempotencyConflict, "IDEMPOTENCY_CONFLICT", http.StatusConflict},
		{ErrMisconfigured, "CONFIG_ERROR", http.StatusInternalServerError},
		{errors.New("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, c := range cases {
		k := KindOf(c.err)
		require.Equal(t, c.code, k.Code, c.err.Error())
		require.Equal(t, c.status, k.Status, c.err.Error())
	}
}

func TestRateLimitError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("mw: %w", &RateLimitError{RetryAfter: 12 * time.Second})
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, "RATE_LIMITED", KindOf(err).Code)

	d, ok := RetryAfter(err)
	require.True(t, ok)
	require.Equal(t, 12*time.Second, d)

	_, ok = RetryAfter(ErrNotFound)
	require.False(t, ok)
}
