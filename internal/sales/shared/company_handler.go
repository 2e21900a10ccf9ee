package shared

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// CompanyProfileRequest is the payload for replacing the company profile.
type CompanyProfileRequest struct {
	Name           string `json:"name" validate:"required"`
	RUC            string `json:"ruc" validate:"required,len=11,numeric"`
	Address        string `json:"address" validate:"required"`
	Phone          string `json:"phone"`
	Email          string `json:"email" validate:"omitempty,email"`
	Website        string `json:"website"`
	LogoURL        string `json:"logo_url"`
	BankName       string `json:"bank_name"`
	AccountSoles   string `json:"account_soles"`
	AccountDollars string `json:"account_dollars"`
}

// CompanyHandler serves the company profile that gets snapshotted onto
// sales documents.
type CompanyHandler struct {
	logger   *slog.Logger
	repo     *IssuerRepository
	validate *validator.Validate
}

func NewCompanyHandler(logger *slog.Logger, repo *IssuerRepository, validate *validator.Validate) *CompanyHandler {
	return &CompanyHandler{logger: logger, repo: repo, validate: validate}
}

// MountRoutes registers the company profile routes.
func (h *CompanyHandler) MountRoutes(r chi.Router) {
	r.Get("/company", h.handleGet)
	r.Put("/company", h.handleUpdate)
}

func (h *CompanyHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := h.repo.Snapshot(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, info)
}

func (h *CompanyHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req CompanyProfileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	info := IssuerInfo{
		Name:           req.Name,
		RUC:            req.RUC,
		Address:        req.Address,
		Phone:          req.Phone,
		Email:          req.Email,
		Website:        req.Website,
		LogoURL:        req.LogoURL,
		BankName:       req.BankName,
		AccountSoles:   req.AccountSoles,
		AccountDollars: req.AccountDollars,
	}
	if err := h.repo.Save(r.Context(), info); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("company profile updated", "ruc", info.RUC)
	httpx.JSON(w, http.StatusOK, info)
}
