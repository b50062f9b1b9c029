package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/pesapoints/pesapoints-backend/api/routes"
	"github.com/pesapoints/pesapoints-backend/internal/errorjournal"
	"github.com/pesapoints/pesapoints-backend/internal/ledger"
	"github.com/pesapoints/pesapoints-backend/internal/payments"
	"github.com/pesapoints/pesapoints-backend/internal/transactions"
	"github.com/pesapoints/pesapoints-backend/internal/users"
	"github.com/pesapoints/pesapoints-backend/internal/webhookevents"
	"github.com/pesapoints/pesapoints-backend/pkg/config"
	"github.com/pesapoints/pesapoints-backend/pkg/db"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
	"github.com/pesapoints/pesapoints-backend/pkg/metrics"
	"github.com/pesapoints/pesapoints-backend/pkg/migrate"
	"github.com/pesapoints/pesapoints-backend/pkg/mpesa"
	"github.com/pesapoints/pesapoints-backend/pkg/redis"
	"github.com/pesapoints/pesapoints-backend/pkg/retry"
	"github.com/pesapoints/pesapoints-backend/pkg/stripe"
)

const (
	shutdownGrace = 15 * time.Second
	webhookDedupT = 24 * time.Hour
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	requireResource(ctx, logg, "stripe client", err)

	mpesaClient, err := mpesa.NewClient(ctx, cfg.Mpesa, logg)
	requireResource(ctx, logg, "mpesa client", err)

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), cfg.Payments.MirrorWallet)
	requireResource(ctx, logg, "ledger service", err)

	paymentService, err := payments.NewService(payments.ServiceParams{
		TransactionRepo:   transactions.NewRepository(dbClient.DB()),
		EventRepo:         webhookevents.NewRepository(dbClient.DB()),
		Users:             users.NewRepository(dbClient.DB()),
		Ledger:            ledgerService,
		Card:              payments.NewStripeProvider(stripeClient),
		Mobile:            payments.NewMpesaProvider(mpesaClient),
		TransactionRunner: dbClient,
		Retry:             retry.New(),
		Journal:           errorjournal.New(dbClient.DB(), logg),
		Metrics:           paymentMetrics,
		Logger:            logg,
		MaxAmount:         cfg.Payments.MaxAmount,
	})
	requireResource(ctx, logg, "payment service", err)

	webhookFastGuard, err := payments.NewIdempotencyGuard(redisClient, webhookDedupT, "webhook")
	requireResource(ctx, logg, "webhook idempotency guard", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			stripeClient,
			mpesaClient,
			paymentService,
			webhookFastGuard,
		),
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		err := multierr.Combine(server.Shutdown(shutdownCtx), <-errCh)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "shutdown did not complete cleanly", err)
			os.Exit(1)
		}
	}
	logg.Info(ctx, "api server stopped")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
