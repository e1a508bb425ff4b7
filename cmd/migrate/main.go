package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/config"
	"github.com/kinebook/booking-engine/internal/db"
	"github.com/kinebook/booking-engine/internal/logging"
)

func main() {
	dir := flag.String("dir", "migrations", "directory with goose SQL migrations")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.Env)
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connection", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, *dir)
	if err != nil {
		log.Fatal("init migrator", zap.Error(err))
	}
	defer migrator.Close() //nolint:errcheck

	if err := migrator.Up(ctx); err != nil {
		log.Fatal("apply migrations", zap.Error(err))
	}

	version, err := migrator.Version(ctx)
	if err != nil {
		log.Fatal("read version", zap.Error(err))
	}
	log.Info("migrations applied", zap.Int64("version", version))
}
