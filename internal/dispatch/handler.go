package dispatch

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for delivery guides.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers guide routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/guides", h.handleList)
	r.Post("/guides", h.handleCreate)
	r.Post("/guides/receptions", h.handleCreateReception)
	r.Get("/guides/{number}", h.handleGet)
	r.Post("/guides/{number}/dispatch", h.handleDispatch)
	r.Post("/guides/{number}/deliver", h.handleDeliver)
	r.Post("/guides/{number}/cancel", h.handleCancel)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{
		Search: q.Get("search"),
		Status: q.Get("status"),
		Type:   q.Get("guide_type"),
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	guides, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      guides,
		"pagination": shared.NewPagination(filters.Page, filters.PerPage, total),
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateGuideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	guide, err := h.service.CreateFromInvoice(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, guide)
}

func (h *Handler) handleCreateReception(w http.ResponseWriter, r *http.Request) {
	var req CreateReceptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	guide, err := h.service.CreateReception(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, guide)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	guide, err := h.service.Get(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, guide)
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	guide, err := h.service.Dispatch(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, guide)
}

func (h *Handler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req DeliverRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	guide, err := h.service.Deliver(r.Context(), chi.URLParam(r, "number"), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, guide)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "number")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
