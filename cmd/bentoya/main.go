package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bentoya/bentoya/internal/app"
	"github.com/bentoya/bentoya/internal/collections"
	"github.com/bentoya/bentoya/internal/invoicing"
	"github.com/bentoya/bentoya/internal/observability"
	"github.com/bentoya/bentoya/internal/orders"
	"github.com/bentoya/bentoya/internal/payments"
	"github.com/bentoya/bentoya/internal/platform/cache"
	"github.com/bentoya/bentoya/internal/platform/db"
	"github.com/bentoya/bentoya/internal/receipts"
	"github.com/bentoya/bentoya/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := db.Migrate(cfg.PGDSN, cfg.MigrationsPath); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo)
	ordersHandler := orders.NewHandler(logger, ordersService, auditLogger)

	invoicingRepo := invoicing.NewRepository(pool)
	invoicingService := invoicing.NewService(invoicingRepo)
	invoicingHandler := invoicing.NewHandler(logger, invoicingService, auditLogger, metrics)

	paymentsRepo := payments.NewRepository(pool)
	paymentsService := payments.NewService(paymentsRepo)
	paymentsHandler := payments.NewHandler(logger, paymentsService, auditLogger, idempotencyStore, metrics)

	collectionsRepo := collections.NewRepository(pool)
	collectionsService := collections.NewService(collectionsRepo)
	collectionsHandler := collections.NewHandler(logger, collectionsService)

	receiptsRepo := receipts.NewRepository(pool)
	receiptsService := receipts.NewService(receiptsRepo)
	receiptsHandler := receipts.NewHandler(logger, receiptsService, auditLogger, metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		OrdersHandler:      ordersHandler,
		InvoicingHandler:   invoicingHandler,
		PaymentsHandler:    paymentsHandler,
		CollectionsHandler: collectionsHandler,
		ReceiptsHandler:    receiptsHandler,
		Metrics:            metrics,
		HealthCheck: func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
