package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/loyalty"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sales/customers"
	"github.com/meridian-erp/meridian-erp/internal/sales/invoices"
	"github.com/meridian-erp/meridian-erp/internal/sales/notes"
	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
	"github.com/meridian-erp/meridian-erp/internal/sales/quotes"
	saleshared "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	CatalogHandler   *catalog.Handler
	InventoryHandler *inventory.Handler
	PricingHandler   *pricing.Handler
	LoyaltyHandler   *loyalty.Handler
	CustomersHandler *customers.Handler
	QuotesHandler    *quotes.Handler
	OrdersHandler    *orders.Handler
	InvoicesHandler  *invoices.Handler
	NotesHandler     *notes.Handler
	DispatchHandler  *dispatch.Handler
	CompanyHandler   *saleshared.CompanyHandler
	JobsHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/catalog/products", params.CatalogHandler.MountRoutes)
	r.Route("/inventory", params.InventoryHandler.MountRoutes)
	r.Route("/pricing", params.PricingHandler.MountRoutes)
	r.Route("/loyalty", params.LoyaltyHandler.MountRoutes)

	r.Route("/sales", func(r chi.Router) {
		r.Route("/customers", params.CustomersHandler.MountRoutes)
		r.Route("/quotes", params.QuotesHandler.MountRoutes)
		r.Route("/orders", params.OrdersHandler.MountRoutes)
		r.Route("/invoices", params.InvoicesHandler.MountRoutes)
		r.Route("/notes", params.NotesHandler.MountRoutes)
	})

	r.Route("/dispatch", params.DispatchHandler.MountRoutes)
	r.Route("/config", params.CompanyHandler.MountRoutes)

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	return r
}
