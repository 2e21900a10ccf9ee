package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/loyalty"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sales/customers"
	"github.com/meridian-erp/meridian-erp/internal/sales/invoices"
	"github.com/meridian-erp/meridian-erp/internal/sales/notes"
	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
	"github.com/meridian-erp/meridian-erp/internal/sales/quotes"
	saleshared "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, pricing cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	validate := validator.New()
	idempotencyStore := shared.NewIdempotencyStore(pool)
	issuerRepo := saleshared.NewIssuerRepository(pool)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(logger, inventoryRepo)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(logger, catalogRepo, inventoryService)

	pricingRepo := pricing.NewRepository(pool)
	pricingService := pricing.NewService(logger, pricingRepo, redisClient, cfg.ConfigCacheTTL)

	loyaltyRepo := loyalty.NewRepository(pool)
	loyaltyService := loyalty.NewService(logger, loyaltyRepo)

	customersRepo := customers.NewRepository(pool)
	customersService := customers.NewService(logger, customersRepo)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(logger, ordersRepo, orders.Dependencies{
		Catalog:      catalogService,
		Pricing:      pricingService,
		Loyalty:      loyaltyService,
		Customers:    customersService,
		Availability: inventoryService,
		Issuer:       issuerRepo,
	})

	quotesRepo := quotes.NewRepository(pool)
	quotesService := quotes.NewService(logger, quotesRepo, quotes.Dependencies{
		Catalog:      catalogService,
		Pricing:      pricingService,
		Loyalty:      loyaltyService,
		Customers:    customersService,
		Availability: inventoryService,
		Orders:       ordersService,
		Issuer:       issuerRepo,
	})

	invoicesRepo := invoices.NewRepository(pool)
	invoicesService := invoices.NewService(logger, invoicesRepo, ordersService, issuerRepo)

	dispatchRepo := dispatch.NewRepository(pool)
	dispatchService := dispatch.NewService(logger, dispatchRepo, invoicesService, catalogService, inventoryService)

	notesRepo := notes.NewRepository(pool)
	notesService := notes.NewService(logger, notesRepo, invoicesService, dispatchService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalog.NewHandler(logger, catalogService, validate),
		InventoryHandler: inventory.NewHandler(logger, inventoryService, validate, idempotencyStore),
		PricingHandler:   pricing.NewHandler(logger, pricingService, catalogService),
		LoyaltyHandler:   loyalty.NewHandler(logger, loyaltyService),
		CustomersHandler: customers.NewHandler(logger, customersService),
		QuotesHandler:    quotes.NewHandler(logger, quotesService, validate),
		OrdersHandler:    orders.NewHandler(logger, ordersService, validate),
		InvoicesHandler:  invoices.NewHandler(logger, invoicesService, validate),
		NotesHandler:     notes.NewHandler(logger, notesService, validate),
		DispatchHandler:  dispatch.NewHandler(logger, dispatchService, validate),
		CompanyHandler:   saleshared.NewCompanyHandler(logger, issuerRepo, validate),
		JobsHandler:      jobs.NewHandler(inspector, jobsClient, logger),
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
