package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/api"
	"github.com/kinebook/booking-engine/internal/auth"
	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/config"
	"github.com/kinebook/booking-engine/internal/db"
	"github.com/kinebook/booking-engine/internal/logging"
	"github.com/kinebook/booking-engine/internal/notify"
	"github.com/kinebook/booking-engine/internal/observability/metrics"
	"github.com/kinebook/booking-engine/internal/payment"
	"github.com/kinebook/booking-engine/internal/redisx"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.Env)
	defer log.Sync() //nolint:errcheck

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to postgres")

	rdb, err := redisx.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}()
	log.Info("connected to redis")

	m := metrics.NewEngineMetrics(nil)
	store := booking.NewPgStore(pgPool)
	locker := redisx.NewOrderLocker(rdb, cfg.LockTTL)
	gateway := payment.NewWebpayClient(cfg.WebpayBaseURL, cfg.WebpayCommerceCode, cfg.WebpayAPIKey, m, log)

	var sender notify.EmailSender = notify.NopSender{}
	if cfg.SendgridAPIKey != "" {
		sender = notify.NewSendGridSender(cfg.SendgridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	} else {
		log.Warn("SENDGRID_API_KEY not set, confirmation emails disabled")
	}
	notifier := notify.NewNotifier(sender, m, log)

	bookingSvc := booking.NewService(store, m, log)
	reconciler := payment.NewReconciler(store, gateway, locker, notifier, m, log,
		cfg.ReturnBaseURL+"/payments/appointments/return", cfg.PaymentTTL)
	subscriptions := payment.NewSubscriptionReconciler(store, gateway, locker, m, log,
		cfg.ReturnBaseURL+"/payments/subscriptions/return")

	if cfg.AuthVerifyURL == "" {
		log.Warn("AUTH_VERIFY_URL not set, practitioner endpoints will reject all tokens")
	}
	verifier := auth.NewHTTPVerifier(cfg.AuthVerifyURL)

	router := api.NewRouter(api.RouterConfig{
		Booking:            bookingSvc,
		Payments:           reconciler,
		Subscriptions:      subscriptions,
		Resolver:           store,
		Verifier:           verifier,
		PgPool:             pgPool,
		Redis:              rdb,
		Log:                log,
		Env:                cfg.Env,
		Version:            version,
		FrontendBaseURL:    cfg.FrontendBaseURL,
		SubscriptionAmount: cfg.SubscriptionAmount,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal("http server", zap.Error(err))
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown", zap.Error(err))
	}
}
