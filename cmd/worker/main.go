package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/loyalty"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sales/customers"
	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
	saleshared "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, pricing cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	issuerRepo := saleshared.NewIssuerRepository(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	inventoryService := inventory.NewService(logger, inventory.NewRepository(pool))
	catalogService := catalog.NewService(logger, catalog.NewRepository(pool), inventoryService)
	pricingService := pricing.NewService(logger, pricing.NewRepository(pool), redisClient, cfg.ConfigCacheTTL)
	loyaltyService := loyalty.NewService(logger, loyalty.NewRepository(pool))
	customersService := customers.NewService(logger, customers.NewRepository(pool))

	ordersService := orders.NewService(logger, orders.NewRepository(pool), orders.Dependencies{
		Catalog:      catalogService,
		Pricing:      pricingService,
		Loyalty:      loyaltyService,
		Customers:    customersService,
		Availability: inventoryService,
		Issuer:       issuerRepo,
	})

	scanJob := jobs.NewBackorderScanJob(ordersService, logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger)

	scanTask, err := jobs.NewBackorderScanTask(jobs.BackorderScanPayload{})
	if err != nil {
		logger.Error("build backorder scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{
		Retention: cfg.IdempotencyRetention,
	})
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBackorderScan, Handler: scanJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := chi.NewRouter()
	router.Route("/jobs", jobs.NewHandler(inspector, nil, logger).MountRoutes)
	healthServer := &http.Server{
		Addr:         cfg.WorkerAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("worker health endpoint listening", slog.String("addr", cfg.WorkerAddr))
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
