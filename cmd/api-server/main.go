package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/api"
	"github.com/hackgods/locum-marketplace/internal/appointment"
	"github.com/hackgods/locum-marketplace/internal/booking"
	"github.com/hackgods/locum-marketplace/internal/config"
	"github.com/hackgods/locum-marketplace/internal/db"
	"github.com/hackgods/locum-marketplace/internal/logging"
	"github.com/hackgods/locum-marketplace/internal/metrics"
	"github.com/hackgods/locum-marketplace/internal/notify"
	"github.com/hackgods/locum-marketplace/internal/payment"
	redisclient "github.com/hackgods/locum-marketplace/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Duration("confirmation_ttl", cfg.ConfirmationTTL),
		zap.Duration("lock_ttl", cfg.LockTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if cfg.RunMigrations {
		migrator, err := db.NewMigrator(pgPool, logger)
		if err != nil {
			logger.Fatal("migrator init error", zap.Error(err))
		}
		if err := migrator.Up(rootCtx); err != nil {
			logger.Fatal("migration error", zap.Error(err))
		}
		_ = migrator.Close()
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	m := metrics.NewLifecycle(nil)
	notifier := notify.NewNotifier(notify.NewRedisPublisher(rdb, cfg.NotifyChannelPrefix), m, logger)

	payments := payment.NewService(
		payment.NewStripeClient(cfg.StripeSecretKey, cfg.StripeBaseURL),
		payment.NewPgCustomerStore(pgPool),
		rdb,
		payment.Config{
			CacheTTL:            cfg.PaymentGateCacheTTL,
			AddPaymentMethodURL: cfg.AddPaymentMethodURL,
		},
		m,
		logger.Named("payment"),
	)
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, payment gate will reject every check")
	}

	appointments := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisRequestLocker(rdb, cfg.LockTTL),
		payments,
		notifier,
		m,
		cfg,
		logger.Named("appointment"),
	)
	bookings := booking.NewService(booking.NewPgRepository(pgPool), notifier, m, logger.Named("booking"))

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointments,
		Bookings:     bookings,
		Payments:     payments,
		Health:       api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		Metrics:      m,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
