package pricing

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for pricing rules, the sales policy and
// price previews.
type Handler struct {
	logger  *slog.Logger
	service *Service
	catalog *catalog.Service
}

func NewHandler(logger *slog.Logger, service *Service, catalogService *catalog.Service) *Handler {
	return &Handler{logger: logger, service: service, catalog: catalogService}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rules", h.handleListRules)
	r.Post("/rules", h.handleCreateRule)
	r.Put("/rules/{id}", h.handleUpdateRule)
	r.Delete("/rules/{id}", h.handleDeleteRule)
	r.Get("/policy", h.handleGetPolicy)
	r.Put("/policy", h.handleUpdatePolicy)
	r.Get("/preview", h.handlePreview)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rules)
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule Rule
	if err := httpx.DecodeJSON(r, &rule); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	created, err := h.service.CreateRule(r.Context(), rule)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule Rule
	if err := httpx.DecodeJSON(r, &rule); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if err := h.service.UpdateRule(r.Context(), rule); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.service.GetPolicy(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy Policy
	if err := httpx.DecodeJSON(r, &policy); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	saved, err := h.service.UpdatePolicy(r.Context(), policy)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sku := q.Get("sku")
	qty, _ := strconv.ParseInt(q.Get("quantity"), 10, 64)
	if sku == "" || qty <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "sku and a positive quantity are required")
		return
	}

	product, err := h.catalog.Get(r.Context(), sku)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	customDiscount := decimal.Zero
	if raw := q.Get("custom_discount"); raw != "" {
		if parsed, err := decimal.NewFromString(raw); err == nil {
			customDiscount = parsed
		}
	}

	quote, err := h.service.ResolvePrice(r.Context(), ResolveInput{
		Product:        product,
		Quantity:       qty,
		Tier:           Tier(q.Get("tier")),
		IsB2B:          q.Get("b2b") == "true",
		CustomDiscount: customDiscount,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	if term := q.Get("term_days"); term != "" {
		days, _ := strconv.Atoi(term)
		adjusted, err := h.service.TermAdjustedPrice(r.Context(), quote.UnitPrice, days)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"quote": quote, "term_days": days, "term_adjusted_price": adjusted})
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}
