// Package config loads process configuration from the environment, an
// optional .env file and command-line flags. Flags win over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/limiter"
)

// Config is the API server configuration.
type Config struct {
	Addr        string
	OpsAddr     string
	DatabaseURL string
	RedisURL    string
	TrustProxy  bool
	LogDev      bool

	AdminJWKS       []byte
	AdminActiveKid  string
	AdminAccessTTL  time.Duration
	AdminRefreshTTL time.Duration
	SecureCookies   bool

	IdempotencyTTL       time.Duration
	DeviceProofSkew      time.Duration
	DeviceProofReplayTTL time.Duration

	StampTokenTTL  time.Duration
	RewardTokenTTL time.Duration
	DeviceLinkTTL  time.Duration
	StampsRequired int

	PIIHashSecret   string
	RateLimitsFile  string
	RateLimits      limiter.Policy
	ShutdownTimeout time.Duration
	HealthInterval  time.Duration
}

// LoadDotEnv reads .env into the environment when present. Variables that
// are already set are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load parses args (without the program name) on top of the environment.
func Load(args []string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	var (
		c    Config
		jwks string
		env  = NewEnvReader()
		fset = flag.NewFlagSet("lokaltreu-server", flag.ContinueOnError)
	)

	fset.StringVar(&c.Addr, "addr", env.String("ADDR", ":8080"), "HTTP listen address")
	fset.StringVar(&c.OpsAddr, "ops-addr", env.String("OPS_ADDR", ":9090"), "gRPC health listen address")
	fset.StringVar(&c.DatabaseURL, "dsn", env.String("DATABASE_URL", ""), "PostgreSQL DSN")
	fset.StringVar(&c.RedisURL, "redis-url", env.String("REDIS_URL", ""), "Redis URL")
	fset.BoolVar(&c.TrustProxy, "trust-proxy", env.Bool("TRUST_PROXY", false), "trust X-Forwarded-* headers")
	fset.BoolVar(&c.LogDev, "log-dev", env.Bool("LOG_DEV", false), "development logger")

	fset.StringVar(&jwks, "admin-jwks", env.String("ADMIN_JWKS", ""), "admin JWKS JSON or @path")
	fset.StringVar(&c.AdminActiveKid, "admin-active-kid", env.String("ADMIN_JWT_ACTIVE_KID", ""), "active admin signing kid")
	fset.DurationVar(&c.AdminAccessTTL, "admin-access-ttl", env.Duration("ADMIN_ACCESS_TTL", 15*time.Minute), "admin access token TTL")
	fset.DurationVar(&c.AdminRefreshTTL, "admin-refresh-ttl", env.Duration("ADMIN_REFRESH_TTL", 720*time.Hour), "admin refresh session TTL")
	fset.BoolVar(&c.SecureCookies, "secure-cookies", env.Bool("SECURE_COOKIES", true), "mark refresh cookies Secure")

	fset.DurationVar(&c.IdempotencyTTL, "idempotency-ttl", env.Duration("IDEMPOTENCY_TTL", 24*time.Hour), "idempotent result retention")
	fset.DurationVar(&c.DeviceProofSkew, "device-proof-skew", env.Duration("DEVICE_PROOF_SKEW", 30*time.Second), "device proof clock skew")
	fset.DurationVar(&c.DeviceProofReplayTTL, "device-proof-replay-ttl", env.Duration("DEVICE_PROOF_REPLAY_TTL", 90*time.Second), "nonce retention")

	fset.DurationVar(&c.StampTokenTTL, "stamp-token-ttl", env.Duration("STAMP_TOKEN_TTL", 60*time.Second), "stamp token TTL")
	fset.DurationVar(&c.RewardTokenTTL, "reward-token-ttl", env.Duration("REWARD_TOKEN_TTL", 5*time.Minute), "reward token TTL")
	fset.DurationVar(&c.DeviceLinkTTL, "device-link-ttl", env.Duration("DEVICE_LINK_TTL", 15*time.Minute), "device registration link TTL")
	fset.IntVar(&c.StampsRequired, "stamps-required", env.Int("STAMPS_REQUIRED", 5), "stamps per reward")

	fset.StringVar(&c.PIIHashSecret, "pii-hash-secret", env.String("PII_HASH_SECRET", ""), "keyed hash secret for identifiers")
	fset.StringVar(&c.RateLimitsFile, "rate-limits", env.String("RATE_LIMITS_FILE", ""), "rate limit policy YAML")
	fset.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second), "graceful shutdown timeout")
	fset.DurationVar(&c.HealthInterval, "health-interval", env.Duration("HEALTH_INTERVAL", 5*time.Second), "dependency probe interval")

	if err := env.Err(); err != nil {
		return nil, err
	}
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if c.AdminJWKS, err = ReadValue(jwks); err != nil {
		return nil, fmt.Errorf("admin jwks: %w", err)
	}
	if c.RateLimits, err = limiter.LoadPolicy(c.RateLimitsFile); err != nil {
		return nil, err
	}
	return &c, c.Validate()
}

// Validate reports missing mandatory settings as errs.ErrMisconfigured.
func (c *Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"DATABASE_URL":         c.DatabaseURL,
		"REDIS_URL":            c.RedisURL,
		"ADMIN_JWT_ACTIVE_KID": c.AdminActiveKid,
		"PII_HASH_SECRET":      c.PIIHashSecret,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(c.AdminJWKS) == 0 {
		missing = append(missing, "ADMIN_JWKS")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), errs.ErrMisconfigured)
	}
	if c.StampsRequired <= 0 {
		return fmt.Errorf("STAMPS_REQUIRED must be positive: %w", errs.ErrMisconfigured)
	}
	for name, d := range map[string]time.Duration{
		"ADMIN_ACCESS_TTL": c.AdminAccessTTL, "ADMIN_REFRESH_TTL": c.AdminRefreshTTL,
		"IDEMPOTENCY_TTL": c.IdempotencyTTL, "STAMP_TOKEN_TTL": c.StampTokenTTL,
		"REWARD_TOKEN_TTL": c.RewardTokenTTL, "DEVICE_LINK_TTL": c.DeviceLinkTTL,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout, "HEALTH_INTERVAL": c.HealthInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive: %w", name, errs.ErrMisconfigured)
		}
	}
	return nil
}

// ReadValue returns v, or the contents of the file when v is "@path".
func ReadValue(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if path, ok := strings.CutPrefix(v, "@"); ok {
		return os.ReadFile(path)
	}
	if v == "" {
		return nil, nil
	}
	return []byte(v), nil
}

// EnvReader reads typed environment variables and remembers the first
// malformed one.
type EnvReader struct {
	lookup func(string) (string, bool)
	err    error
}

// NewEnvReader reads the process environment.
func NewEnvReader() *EnvReader { return &EnvReader{lookup: os.LookupEnv} }

// Err reports the first malformed variable.
func (e *EnvReader) Err() error { return e.err }

func (e *EnvReader) fail(key, val string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s=%q: %v: %w", key, val, err, errs.ErrMisconfigured)
	}
}

// String returns the variable or def.
func (e *EnvReader) String(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

// Bool parses the variable with strconv.ParseBool.
func (e *EnvReader) Bool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

// Int parses the variable as a decimal integer.
func (e *EnvReader) Int(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

// Duration parses the variable with time.ParseDuration.
func (e *EnvReader) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}
