// Command lokaltreu-api starts the Lokaltreu HTTP API and the ops health server.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/audit"
	"github.com/Globator25/Lokaltreu-sub000/internal/config"
	"github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/deviceproof"
	"github.com/Globator25/Lokaltreu-sub000/internal/idempotency"
	"github.com/Globator25/Lokaltreu-sub000/internal/keys"
	"github.com/Globator25/Lokaltreu-sub000/internal/limiter"
	"github.com/Globator25/Lokaltreu-sub000/internal/migrate"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository/postgres"
	"github.com/Globator25/Lokaltreu-sub000/internal/server/httpserver"
	"github.com/Globator25/Lokaltreu-sub000/internal/server/ops"
	"github.com/Globator25/Lokaltreu-sub000/internal/service"
	"github.com/Globator25/Lokaltreu-sub000/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// main loads configuration, runs migrations and serves until SIGINT/SIGTERM.
func main() {
	_ = config.LoadDotEnv()
	cfg, err := config.Load(os.Args[1:])
	logger := newLogger(cfg != nil && cfg.LogDev)
	defer func() { _ = logger.Sync() }()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("opsAddr", cfg.OpsAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseURL, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	ropts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis url", zap.Error(err))
	}
	rdb := redis.NewClient(ropts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping", zap.Error(err))
	}

	reg := keys.NewRegistry(cfg.AdminJWKS, cfg.AdminActiveKid)
	if err := reg.Err(); err != nil {
		logger.Fatal("admin key set", zap.Error(err))
	}
	tokens := session.New(reg, session.WithTTL(cfg.AdminAccessTTL))

	// Repositories
	adminRepo := postgres.NewAdminRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)
	deviceRepo := postgres.NewDeviceRepo(db)
	ledgerRepo := postgres.NewLedgerRepo(db)
	auditRepo := postgres.NewAuditRepo(db)

	rec := audit.NewWriter(auditRepo)
	lim := limiter.NewPGWithQuerier(db.Pool, 15*time.Minute, 5, 15*time.Minute)
	svcLog := service.WithLogger(logger.Named("service"))

	// Services
	authSvc := service.NewAdminAuthService(adminRepo, sessionRepo, tokens, lim, cfg.AdminRefreshTTL, rec, svcLog)
	stampSvc := service.NewStampService(ledgerRepo, cfg.StampTokenTTL, cfg.StampsRequired, rec, svcLog)
	rewardSvc := service.NewRewardService(ledgerRepo, cfg.RewardTokenTTL, cfg.StampsRequired, rec, svcLog)
	deviceSvc := service.NewDeviceService(ledgerRepo, deviceRepo, cfg.DeviceLinkTTL, rec, svcLog)

	proofs := deviceproof.NewVerifier(deviceRepo, deviceproof.NewRedisNonceStore(rdb), logger.Named("deviceproof"),
		deviceproof.WithSkew(cfg.DeviceProofSkew),
		deviceproof.WithReplayTTL(cfg.DeviceProofReplayTTL),
	)

	api := httpserver.New(httpserver.Deps{
		Auth:           authSvc,
		Stamps:         stampSvc,
		Rewards:        rewardSvc,
		Devices:        deviceSvc,
		Tokens:         tokens,
		JWKS:           reg,
		Proofs:         proofs,
		Idempotency:    idempotency.NewRedisStore(rdb),
		IdempotencyTTL: cfg.IdempotencyTTL,
		Window:         limiter.NewRedisWindow(rdb),
		Policy:         cfg.RateLimits,
		Hasher:         crypto.NewKeyedHasher([]byte(cfg.PIIHashSecret)),
		TrustProxy:     cfg.TrustProxy,
		SecureCookies:  cfg.SecureCookies,
		Log:            logger.Named("http"),
	})

	health := ops.New(logger.Named("ops"))
	lis, err := net.Listen("tcp", cfg.OpsAddr)
	if err != nil {
		logger.Fatal("ops listen", zap.Error(err))
	}
	go health.Watch(ctx, cfg.HealthInterval,
		ops.Check{Name: "postgres", Probe: db.Ping},
		ops.Check{Name: "redis", Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		ops.Check{Name: "keys", Probe: func(context.Context) error { _, err := reg.Active(); return err }},
	)

	errCh := make(chan error, 2)
	go func() { errCh <- health.Serve(ctx, lis, cfg.ShutdownTimeout) }()
	go func() { errCh <- api.Run(ctx, cfg.Addr, cfg.ShutdownTimeout) }()

	pending := 2
	select {
	case <-ctx.Done():
	case err := <-errCh:
		pending--
		if err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
			os.Exit(1)
		}
		stop()
	}

	// Drain the remaining servers.
	deadline := time.After(cfg.ShutdownTimeout + time.Second)
	for ; pending > 0; pending-- {
		select {
		case <-errCh:
		case <-deadline:
			logger.Warn("shutdown timed out")
			return
		}
	}
	logger.Info("shutdown complete")
}
