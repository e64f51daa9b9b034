package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/lt")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ADMIN_JWKS", `{"keys":[]}`)
	t.Setenv("ADMIN_JWT_ACTIVE_KID", "k1")
	t.Setenv("PII_HASH_SECRET", "s")
}

func TestLoad_DefaultsFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("STAMP_TOKEN_TTL", "90s")

	c, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Addr)
	require.Equal(t, ":9090", c.OpsAddr)
	require.Equal(t, 90*time.Second, c.StampTokenTTL)
	require.Equal(t, 5*time.Minute, c.RewardTokenTTL)
	require.Equal(t, 720*time.Hour, c.AdminRefreshTTL)
	require.Equal(t, 5, c.StampsRequired)
	require.Equal(t, 600, c.RateLimits.TenantRPM)
	require.JSONEq(t, `{"keys":[]}`, string(c.AdminJWKS))
}

func TestLoad_FlagsWinOverEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("ADDR", ":1111")

	c, err := Load([]string{"-addr", ":2222", "-stamps-required", "10"})
	require.NoError(t, err)
	require.Equal(t, ":2222", c.Addr)
	require.Equal(t, 10, c.StampsRequired)
}

func TestLoad_JWKSFromFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"keys":[{"kid":"k1"}]}`), 0o600))
	t.Setenv("ADMIN_JWKS", "@"+path)

	c, err := Load(nil)
	require.NoError(t, err)
	require.Contains(t, string(c.AdminJWKS), `"k1"`)
}

func TestLoad_Errors(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_URL", "")
	t.Setenv("PII_HASH_SECRET", "")
	_, err := Load(nil)
	require.ErrorIs(t, err, errs.ErrMisconfigured)
	require.ErrorContains(t, err, "PII_HASH_SECRET, REDIS_URL")

	setRequired(t)
	t.Setenv("IDEMPOTENCY_TTL", "soon")
	_, err = Load(nil)
	require.ErrorIs(t, err, errs.ErrMisconfigured)
	require.ErrorContains(t, err, "IDEMPOTENCY_TTL")

	setRequired(t)
	t.Setenv("IDEMPOTENCY_TTL", "")
	_, err = Load([]string{"-stamps-required", "0"})
	require.ErrorIs(t, err, errs.ErrMisconfigured)
}

func TestEnvReader(t *testing.T) {
	t.Parallel()

	env := map[string]string{"B": "true", "I": "x", "D": "2m"}
	r := &EnvReader{lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}

	require.True(t, r.Bool("B", false))
	require.Equal(t, 2*time.Minute, r.Duration("D", 0))
	require.Equal(t, "def", r.String("S", "def"))
	require.NoError(t, r.Err())

	require.Equal(t, 7, r.Int("I", 7))
	require.ErrorIs(t, r.Err(), errs.ErrMisconfigured)
}

func TestReadValue(t *testing.T) {
	t.Parallel()

	b, err := ReadValue("  ")
	require.NoError(t, err)
	require.Nil(t, b)

	_, err = ReadValue("@/does/not/exist")
	require.Error(t, err)
}
