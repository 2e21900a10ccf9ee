package loyalty

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for loyalty balances and configuration.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/config", h.handleGetConfig)
	r.Put("/config", h.handleUpdateConfig)
	r.Get("/accounts/{ruc}", h.handleGetAccount)
	r.Post("/accounts/{ruc}/convert", h.handleConvert)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetConfig(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if err := httpx.DecodeJSON(r, &cfg); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	saved, err := h.service.UpdateConfig(r.Context(), cfg)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "ruc"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		LocalPoints int64 `json:"local_points"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	result, err := h.service.Convert(r.Context(), chi.URLParam(r, "ruc"), payload.LocalPoints)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
