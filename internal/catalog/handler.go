package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the product catalog.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.handleList)
	r.Post("/products", h.handleCreate)
	r.Get("/products/{sku}", h.handleGet)
	r.Put("/products/{sku}", h.handleUpdate)
	r.Delete("/products/{sku}", h.handleDelete)
	r.Get("/products/{sku}/price-history", h.handlePriceHistory)
	r.Get("/categories", h.handleListCategories)
	r.Post("/categories", h.handleCreateCategory)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{
		Search:     q.Get("search"),
		Brand:      q.Get("brand"),
		CategoryID: q.Get("category_id"),
		ShopOnly:   q.Get("shop_only") == "true",
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	products, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": products, "total": total})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.Get(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.Update(r.Context(), chi.URLParam(r, "sku"), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := h.service.PriceHistory(r.Context(), chi.URLParam(r, "sku"), r.URL.Query().Get("price_type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changes)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "sku")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var c Category
	if err := httpx.DecodeJSON(r, &c); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	created, err := h.service.CreateCategory(r.Context(), c)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}
