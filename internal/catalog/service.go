package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// StockLedger posts the opening balance of a freshly created product so the
// movement history starts with an auditable entry instead of a bare column
// value.
type StockLedger interface {
	PostOpeningStock(ctx context.Context, sku string, qty int64, unitCost decimal.Decimal, reference string) error
}

type Service struct {
	logger *slog.Logger
	repo   Repository
	ledger StockLedger
}

func NewService(logger *slog.Logger, repo Repository, ledger StockLedger) *Service {
	return &Service{logger: logger, repo: repo, ledger: ledger}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, sku string) (Product, error) {
	return s.repo.Get(ctx, strings.TrimSpace(sku))
}

func (s *Service) GetMany(ctx context.Context, skus []string) (map[string]Product, error) {
	return s.repo.GetMany(ctx, skus)
}

func (s *Service) Create(ctx context.Context, req CreateProductRequest) (Product, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	if err := validatePrices(req.PriceRetail, req.PriceWholesale, req.Cost); err != nil {
		return Product{}, err
	}

	product := Product{
		SKU:            req.SKU,
		Name:           strings.TrimSpace(req.Name),
		Brand:          strings.TrimSpace(req.Brand),
		Description:    req.Description,
		CategoryID:     req.CategoryID,
		PriceRetail:    req.PriceRetail.Round(3),
		PriceWholesale: req.PriceWholesale.Round(3),
		Discount6Pct:   req.Discount6Pct,
		Discount12Pct:  req.Discount12Pct,
		Discount24Pct:  req.Discount24Pct,
		Cost:           req.Cost.Round(3),
		LoyaltyPoints:  req.LoyaltyPoints,
		PointsCost:     req.PointsCost,
		IsActiveInShop: req.IsActiveInShop,
	}

	created, err := s.repo.Create(ctx, product)
	if err != nil {
		return Product{}, err
	}

	if req.InitialStock > 0 {
		ref := fmt.Sprintf("INITIAL-%s", created.SKU)
		if err := s.ledger.PostOpeningStock(ctx, created.SKU, req.InitialStock, created.Cost, ref); err != nil {
			s.logger.Error("opening stock post failed", "sku", created.SKU, "error", err)
			return Product{}, err
		}
		created.StockCurrent = req.InitialStock
	}

	s.logger.Info("product created", "sku", created.SKU, "initial_stock", req.InitialStock)
	return created, nil
}

// Update patches catalog fields. Any movement of a list price writes a row
// to the price audit trail before the product itself is touched; an
// unchanged price writes nothing.
func (s *Service) Update(ctx context.Context, sku string, req UpdateProductRequest) (Product, error) {
	product, err := s.repo.Get(ctx, strings.TrimSpace(sku))
	if err != nil {
		return Product{}, err
	}
	oldRetail := product.PriceRetail
	oldWholesale := product.PriceWholesale

	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
	}
	if req.Brand != nil {
		product.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.CategoryID != nil {
		product.CategoryID = *req.CategoryID
	}
	if req.PriceRetail != nil {
		product.PriceRetail = req.PriceRetail.Round(3)
	}
	if req.PriceWholesale != nil {
		product.PriceWholesale = req.PriceWholesale.Round(3)
	}
	if req.Discount6Pct != nil {
		product.Discount6Pct = *req.Discount6Pct
	}
	if req.Discount12Pct != nil {
		product.Discount12Pct = *req.Discount12Pct
	}
	if req.Discount24Pct != nil {
		product.Discount24Pct = *req.Discount24Pct
	}
	if req.LoyaltyPoints != nil {
		product.LoyaltyPoints = *req.LoyaltyPoints
	}
	if req.PointsCost != nil {
		product.PointsCost = *req.PointsCost
	}
	if req.IsActiveInShop != nil {
		product.IsActiveInShop = *req.IsActiveInShop
	}

	if err := validatePrices(product.PriceRetail, product.PriceWholesale, product.Cost); err != nil {
		return Product{}, err
	}

	now := time.Now()
	changes := []PriceChange{}
	if !product.PriceRetail.Equal(oldRetail) {
		changes = append(changes, PriceChange{
			ProductSKU: product.SKU,
			PriceType:  PriceListRetail,
			OldPrice:   oldRetail,
			NewPrice:   product.PriceRetail,
			ChangedBy:  req.ChangedBy,
			Reason:     req.PriceChangeReason,
			ChangedAt:  now,
		})
	}
	if !product.PriceWholesale.Equal(oldWholesale) {
		changes = append(changes, PriceChange{
			ProductSKU: product.SKU,
			PriceType:  PriceListWholesale,
			OldPrice:   oldWholesale,
			NewPrice:   product.PriceWholesale,
			ChangedBy:  req.ChangedBy,
			Reason:     req.PriceChangeReason,
			ChangedAt:  now,
		})
	}
	if len(changes) > 0 {
		if err := s.repo.InsertPriceChanges(ctx, changes); err != nil {
			return Product{}, err
		}
	}

	if err := s.repo.Update(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// PriceHistory returns the audit trail for one product, newest first,
// optionally narrowed to a single price list.
func (s *Service) PriceHistory(ctx context.Context, sku, priceType string) ([]PriceChange, error) {
	sku = strings.TrimSpace(sku)
	if _, err := s.repo.Get(ctx, sku); err != nil {
		return nil, err
	}
	return s.repo.ListPriceChanges(ctx, sku, priceType)
}

func (s *Service) Delete(ctx context.Context, sku string) error {
	product, err := s.repo.Get(ctx, strings.TrimSpace(sku))
	if err != nil {
		return err
	}
	if product.StockCurrent != 0 {
		return shared.Validationf("product %s still has %d units in stock", product.SKU, product.StockCurrent)
	}
	return s.repo.Delete(ctx, product.SKU)
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, c Category) (Category, error) {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" {
		return Category{}, shared.Validationf("category id and name are required")
	}
	return s.repo.CreateCategory(ctx, c)
}

func validatePrices(retail, wholesale, cost decimal.Decimal) error {
	if !retail.IsPositive() || !wholesale.IsPositive() {
		return shared.Validationf("prices must be positive")
	}
	if cost.IsNegative() {
		return shared.Validationf("cost cannot be negative")
	}
	if wholesale.LessThan(cost) {
		return shared.Validationf("wholesale price %s is below cost %s", wholesale.StringFixed(3), cost.StringFixed(3))
	}
	return nil
}
