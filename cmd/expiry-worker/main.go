package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/config"
	"github.com/kinebook/booking-engine/internal/db"
	"github.com/kinebook/booking-engine/internal/logging"
	"github.com/kinebook/booking-engine/internal/observability/metrics"
	"github.com/kinebook/booking-engine/internal/payment"
	"github.com/kinebook/booking-engine/internal/redisx"
)

// The expiry worker sweeps payment attempts whose payer never came back
// from the gateway, settling them as failed so their appointments do
// not linger as pending forever.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.Env)
	defer log.Sync() //nolint:errcheck

	log.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("payment_ttl", cfg.PaymentTTL))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection", zap.Error(err))
	}
	defer pgPool.Close()

	rdb, err := redisx.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.NewEngineMetrics(nil)
	store := booking.NewPgStore(pgPool)
	locker := redisx.NewOrderLocker(rdb, cfg.LockTTL)

	// The worker never talks to the gateway: orders without a settled
	// verdict time out locally.
	reconciler := payment.NewReconciler(store, nil, locker, nil, m, log, "", cfg.PaymentTTL)

	runOnce(rootCtx, reconciler, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, reconciler, log)
		}
	}
}

func runOnce(ctx context.Context, rec *payment.Reconciler, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := rec.ExpireStalePending(runCtx)
	if err != nil {
		log.Error("expiry run", zap.Error(err))
		return
	}
	log.Info("expiry run complete",
		zap.Int("expired", n),
		zap.Duration("took", time.Since(start)))
}
