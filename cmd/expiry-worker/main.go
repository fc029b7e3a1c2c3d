package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/appointment"
	"github.com/hackgods/locum-marketplace/internal/config"
	"github.com/hackgods/locum-marketplace/internal/db"
	"github.com/hackgods/locum-marketplace/internal/logging"
	"github.com/hackgods/locum-marketplace/internal/metrics"
	"github.com/hackgods/locum-marketplace/internal/notify"
	redisclient "github.com/hackgods/locum-marketplace/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := logging.New(cfg.Env).Named("expiry-worker")
	defer func() { _ = logger.Sync() }()

	logger.Info("expiry worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 4)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 4,
	})
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()

	m := metrics.NewLifecycle(nil)
	notifier := notify.NewNotifier(notify.NewRedisPublisher(rdb, cfg.NotifyChannelPrefix), m, logger)

	// The sweep never checks the payment gate, so no gate is wired.
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisRequestLocker(rdb, cfg.LockTTL),
		nil,
		notifier,
		m,
		cfg,
		logger,
	)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpireStale(runCtx)
	if err != nil {
		logger.Error("expiry run error", zap.Error(err))
		return
	}
	logger.Info("expiry run complete",
		zap.Int("expired", n),
		zap.Duration("took", time.Since(start)),
	)
}
