package customers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Service struct {
	logger *slog.Logger
	repo   Repository
}

func NewService(logger *slog.Logger, repo Repository) *Service {
	return &Service{logger: logger, repo: repo}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Customer, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, ruc string) (Customer, error) {
	return s.repo.Get(ctx, strings.TrimSpace(ruc))
}

func (s *Service) Create(ctx context.Context, c Customer) (Customer, error) {
	c.RUC = strings.TrimSpace(c.RUC)
	c.Name = strings.TrimSpace(c.Name)
	if err := validateCustomer(c); err != nil {
		return Customer{}, err
	}
	if c.Classification == "" {
		c.Classification = pricing.TierStandard
	}
	if len(c.AllowedTerms) == 0 {
		c.AllowedTerms = []int{0}
	}
	if c.RiskScore == "" {
		c.RiskScore = "C"
	}

	created, err := s.repo.Create(ctx, c)
	if err != nil {
		return Customer{}, err
	}
	s.logger.Info("customer created", "ruc", created.RUC, "tier", created.Classification)
	return created, nil
}

func (s *Service) Update(ctx context.Context, ruc string, c Customer) (Customer, error) {
	existing, err := s.repo.Get(ctx, strings.TrimSpace(ruc))
	if err != nil {
		return Customer{}, err
	}
	c.RUC = existing.RUC
	if err := validateCustomer(c); err != nil {
		return Customer{}, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return Customer{}, err
	}
	return s.repo.Get(ctx, c.RUC)
}

func (s *Service) Delete(ctx context.Context, ruc string) error {
	return s.repo.Delete(ctx, strings.TrimSpace(ruc))
}

// ValidateCreditSale checks whether a sale at the given term can go ahead.
// Cash sales always pass. A manual block stops everything; then the term
// must be in the customer's allowed list and the new total together with
// outstanding debt must fit inside the credit limit.
func (s *Service) ValidateCreditSale(ctx context.Context, ruc string, total decimal.Decimal, termDays int) error {
	if termDays <= 0 {
		return nil
	}

	customer, err := s.repo.Get(ctx, ruc)
	if err != nil {
		return err
	}
	if customer.CreditManualBlock {
		return shared.Validationf("customer %s is blocked for credit sales", ruc)
	}
	if !customer.CreditEnabled {
		return shared.Validationf("customer %s is not enabled for credit sales", ruc)
	}

	allowed := false
	for _, term := range customer.AllowedTerms {
		if term == termDays {
			allowed = true
			break
		}
	}
	if !allowed {
		return shared.Validationf("term of %d days is not allowed for customer %s", termDays, ruc)
	}

	outstanding, err := s.repo.OutstandingDebt(ctx, ruc)
	if err != nil {
		return err
	}
	if outstanding.Add(total).GreaterThan(customer.CreditLimit) {
		return shared.Validationf("credit limit exceeded for %s: limit %s, outstanding %s, requested %s",
			ruc, customer.CreditLimit.StringFixed(3), outstanding.StringFixed(3), total.StringFixed(3))
	}
	return nil
}

func validateCustomer(c Customer) error {
	if c.RUC == "" {
		return shared.Validationf("customer ruc is required")
	}
	if c.Name == "" {
		return shared.Validationf("customer name is required")
	}
	if c.CustomDiscountPct.IsNegative() || c.CustomDiscountPct.GreaterThan(decimal.NewFromInt(100)) {
		return shared.Validationf("custom discount must be between 0 and 100")
	}
	if c.CreditLimit.IsNegative() {
		return shared.Validationf("credit limit cannot be negative")
	}
	for _, term := range c.AllowedTerms {
		switch term {
		case 0, 30, 60, 90, 180:
		default:
			return shared.Validationf("unsupported credit term %d", term)
		}
	}
	return nil
}
