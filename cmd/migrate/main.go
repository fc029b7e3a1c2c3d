package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/config"
	"github.com/hackgods/locum-marketplace/internal/db"
	"github.com/hackgods/locum-marketplace/internal/logging"
)

func main() {
	flag.Parse()
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}
	logger := logging.New(cfg.Env).Named("migrate")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, logger)
	if err != nil {
		logger.Fatal("migrator init error", zap.Error(err))
	}
	defer func() { _ = migrator.Close() }()

	switch cmd {
	case "up":
		err = migrator.Up(ctx)
	case "status":
		err = migrator.Status(ctx)
	case "version":
		var v int64
		if v, err = migrator.Version(ctx); err == nil {
			logger.Info("schema version", zap.Int64("version", v))
		}
	default:
		logger.Fatal("unknown command, want up, status or version", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}
