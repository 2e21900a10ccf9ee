package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validate    *validator.Validate
	idempotency *shared.IdempotencyStore
}

func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, idempotency: idempotency}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/movements", h.handleListMovements)
	r.Post("/movements", h.handlePostMovement)
	r.Post("/adjustments", h.handleAdjust)
	r.Post("/losses", h.handleLoss)
	r.Get("/losses/report", h.handleLossesReport)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/availability", h.handleAvailability)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := MovementFilters{
		SKU:  q.Get("sku"),
		Type: MovementType(q.Get("movement_type")),
	}
	filters.From = parseTime(q.Get("from"))
	filters.To = parseTime(q.Get("to"))
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	movements, total, err := h.service.ListMovements(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": movements, "total": total})
}

func (h *Handler) handlePostMovement(w http.ResponseWriter, r *http.Request) {
	var input MovementInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key, err := h.claimKey(r, "inventory:movement")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movement, err := h.service.Post(r.Context(), input)
	if err != nil {
		h.releaseKey(r, key)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

// claimKey reserves the caller's Idempotency-Key so a retried request does
// not post the same movement twice. Requests without a key pass through.
func (h *Handler) claimKey(r *http.Request, scope string) (string, error) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idempotency == nil {
		return "", nil
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, scope); err != nil {
		return "", err
	}
	return key, nil
}

// releaseKey frees a claimed key after a failed operation so the caller can
// retry with the same key.
func (h *Handler) releaseKey(r *http.Request, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(r.Context(), key); err != nil {
		h.logger.Warn("idempotency key release failed", "key", key, "error", err)
	}
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var input AdjustInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	state, err := h.service.AdjustStock(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_sku": state.SKU,
		"new_stock":   state.Stock,
	})
}

func (h *Handler) handleLoss(w http.ResponseWriter, r *http.Request) {
	var input LossInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RegisterLoss(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleLossesReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := h.service.LossesReport(r.Context(),
		parseTime(q.Get("start_date")), parseTime(q.Get("end_date")), MovementType(q.Get("loss_type")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var input TransferInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RegisterTransferOut(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Items []AvailabilityRequestItem `json:"items" validate:"required,min=1,dive"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.CheckAvailability(r.Context(), payload.Items)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		if d, derr := time.Parse("2006-01-02", value); derr == nil {
			return d
		}
		return time.Time{}
	}
	return t
}
