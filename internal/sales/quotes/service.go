package quotes

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/loyalty"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sales/customers"
	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	Get(ctx context.Context, number string) (Quote, error)
	List(ctx context.Context, filters ListFilters) ([]Quote, int, error)
}

// CatalogPort resolves products by sku.
type CatalogPort interface {
	GetMany(ctx context.Context, skus []string) (map[string]catalog.Product, error)
}

// PricingPort resolves unit prices and credit-term surcharges.
type PricingPort interface {
	ResolvePrice(ctx context.Context, input pricing.ResolveInput) (pricing.Quote, error)
	TermAdjustedPrice(ctx context.Context, base decimal.Decimal, termDays int) (decimal.Decimal, error)
}

// LoyaltyPort reads the configuration used for point snapshots.
type LoyaltyPort interface {
	GetConfig(ctx context.Context) (loyalty.Config, error)
}

// CustomersPort looks up the quoted customer.
type CustomersPort interface {
	Get(ctx context.Context, ruc string) (customers.Customer, error)
}

// AvailabilityPort checks committed-aware stock coverage.
type AvailabilityPort interface {
	CheckAvailability(ctx context.Context, items []inventory.AvailabilityRequestItem) (inventory.AvailabilityReport, error)
}

// OrdersPort creates the orders a conversion spawns.
type OrdersPort interface {
	CreateFromQuote(ctx context.Context, input orders.QuoteOrderInput) (orders.Order, error)
	ActiveCountByQuote(ctx context.Context, quoteNumber string) (int, error)
}

// IssuerPort captures the company profile snapshot stamped on documents.
type IssuerPort interface {
	Snapshot(ctx context.Context) (doc.IssuerInfo, error)
}

// Dependencies bundles the collaborating services.
type Dependencies struct {
	Catalog      CatalogPort
	Pricing      PricingPort
	Loyalty      LoyaltyPort
	Customers    CustomersPort
	Availability AvailabilityPort
	Orders       OrdersPort
	Issuer       IssuerPort
}

// Service drives the quote lifecycle.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	deps   Dependencies
	now    func() time.Time
}

func NewService(logger *slog.Logger, repo RepositoryPort, deps Dependencies) *Service {
	return &Service{logger: logger, repo: repo, deps: deps, now: time.Now}
}

func (s *Service) Get(ctx context.Context, number string) (Quote, error) {
	return s.repo.Get(ctx, number)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Quote, int, error) {
	return s.repo.List(ctx, filters)
}

// Create opens a DRAFT quote. Prices resolve through the pricing engine
// unless the request fixes them, and every line gets the loyalty point
// snapshot that will travel to the orders a conversion spawns.
func (s *Service) Create(ctx context.Context, req CreateQuoteRequest) (Quote, error) {
	customer, err := s.deps.Customers.Get(ctx, req.CustomerRUC)
	if err != nil {
		return Quote{}, err
	}
	items, err := s.buildItems(ctx, customer, req.TermDays, req.Items)
	if err != nil {
		return Quote{}, err
	}
	issuer, err := s.deps.Issuer.Snapshot(ctx)
	if err != nil {
		return Quote{}, err
	}

	address := req.DeliveryAddress
	if address == "" {
		address = customer.Address
	}
	now := s.now()
	quote := Quote{
		CustomerRUC:     customer.RUC,
		CustomerName:    customer.Name,
		DeliveryAddress: address,
		Status:          StatusDraft,
		Channel:         loyaltyChannel(req.Channel),
		Items:           items,
		TotalAmount:     doc.ItemsTotal(items),
		TermDays:        req.TermDays,
		ValidUntil:      req.ValidUntil,
		Issuer:          issuer,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		number, err := repo.IssueNumber(ctx, sequence.PrefixQuote, now)
		if err != nil {
			return err
		}
		quote.QuoteNumber = number
		return repo.Insert(ctx, quote)
	})
	if err != nil {
		return Quote{}, err
	}

	s.logger.Info("quote created", "quote", quote.QuoteNumber,
		"customer", quote.CustomerRUC, "total", quote.TotalAmount)
	return quote, nil
}

// Update replaces the editable fields of a quote that is still DRAFT or
// SENT. Items are re-priced and their point snapshots refreshed.
func (s *Service) Update(ctx context.Context, number string, req UpdateQuoteRequest) (Quote, error) {
	current, err := s.repo.Get(ctx, number)
	if err != nil {
		return Quote{}, err
	}
	if current.Status.Finalized() {
		return Quote{}, shared.Validationf("quote %s is finalized and cannot be updated", number)
	}

	customer, err := s.deps.Customers.Get(ctx, current.CustomerRUC)
	if err != nil {
		return Quote{}, err
	}
	items, err := s.buildItems(ctx, customer, req.TermDays, req.Items)
	if err != nil {
		return Quote{}, err
	}

	var updated Quote
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		quote, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if quote.Status.Finalized() {
			return shared.Validationf("quote %s is finalized and cannot be updated", number)
		}
		quote.DeliveryAddress = req.DeliveryAddress
		quote.TermDays = req.TermDays
		quote.ValidUntil = req.ValidUntil
		quote.Notes = req.Notes
		quote.Items = items
		quote.TotalAmount = doc.ItemsTotal(items)
		updated = quote
		return repo.Update(ctx, quote)
	})
	if err != nil {
		return Quote{}, err
	}
	return updated, nil
}

// SetStatus moves a quote along its manual transitions. CONVERTED is only
// reachable through Convert.
func (s *Service) SetStatus(ctx context.Context, number string, status Status) (Quote, error) {
	var updated Quote
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		quote, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if !canTransition(quote.Status, status) {
			return shared.Validationf("quote %s cannot move from %s to %s",
				number, quote.Status, status)
		}
		quote.Status = status
		updated = quote
		return repo.UpdateStatus(ctx, number, status)
	})
	if err != nil {
		return Quote{}, err
	}
	return updated, nil
}

// Delete removes a quote. A converted quote stays while any of its orders
// is still in play.
func (s *Service) Delete(ctx context.Context, number string) error {
	quote, err := s.repo.Get(ctx, number)
	if err != nil {
		return err
	}
	if quote.Status == StatusConverted {
		active, err := s.deps.Orders.ActiveCountByQuote(ctx, number)
		if err != nil {
			return err
		}
		if active > 0 {
			return shared.Validationf("quote %s has %d active order(s)", number, active)
		}
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		return repo.Delete(ctx, number)
	})
}

// Convert turns an accepted quote into orders. Lines covered by stock go to
// a PENDING order, the uncovered remainder to a BACKORDER order; both carry
// the quote's prices and point snapshots. Preview reports the split without
// writing anything.
func (s *Service) Convert(ctx context.Context, number string, preview bool) (ConversionResult, error) {
	quote, err := s.repo.Get(ctx, number)
	if err != nil {
		return ConversionResult{}, err
	}
	if quote.Status == StatusConverted && !preview {
		return ConversionResult{}, shared.Validationf("quote %s is already converted", number)
	}

	report, err := s.deps.Availability.CheckAvailability(ctx, availabilityRequest(quote.Items))
	if err != nil {
		return ConversionResult{}, err
	}
	result := ConversionResult{
		Preview:   preview,
		WillSplit: !report.CanFulfillFull,
		Report:    report,
	}
	if preview {
		return result, nil
	}

	lines := make(map[string]doc.DocumentItem, len(quote.Items))
	for _, item := range quote.Items {
		lines[item.SKU] = item
	}

	var available []doc.DocumentItem
	for _, line := range report.Available {
		available = append(available, quoteLine(lines, line.SKU, line.Quantity))
	}
	var missing []doc.DocumentItem
	for _, line := range report.Missing {
		if line.Missing > 0 {
			missing = append(missing, quoteLine(lines, line.SKU, line.Missing))
		}
	}
	if len(available) == 0 && len(missing) == 0 {
		return ConversionResult{}, shared.Validationf("quote %s has nothing to convert", number)
	}

	if len(available) > 0 {
		order, err := s.deps.Orders.CreateFromQuote(ctx, s.orderInput(quote, orders.StatusPending, available))
		if err != nil {
			return ConversionResult{}, err
		}
		result.Orders = append(result.Orders, ConvertedOrder{Kind: "STANDARD", OrderNumber: order.OrderNumber})
	}
	if len(missing) > 0 {
		order, err := s.deps.Orders.CreateFromQuote(ctx, s.orderInput(quote, orders.StatusBackorder, missing))
		if err != nil {
			return ConversionResult{}, err
		}
		result.Orders = append(result.Orders, ConvertedOrder{Kind: "BACKORDER", OrderNumber: order.OrderNumber})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		return repo.UpdateStatus(ctx, number, StatusConverted)
	})
	if err != nil {
		return ConversionResult{}, err
	}

	s.logger.Info("quote converted", "quote", number,
		"orders", len(result.Orders), "split", result.WillSplit)
	return result, nil
}

func (s *Service) orderInput(quote Quote, status orders.Status, items []doc.DocumentItem) orders.QuoteOrderInput {
	return orders.QuoteOrderInput{
		CustomerRUC:     quote.CustomerRUC,
		CustomerName:    quote.CustomerName,
		DeliveryAddress: quote.DeliveryAddress,
		Channel:         quote.Channel,
		TermDays:        quote.TermDays,
		QuoteNumber:     quote.QuoteNumber,
		Status:          status,
		Items:           items,
		Issuer:          quote.Issuer,
	}
}

func (s *Service) buildItems(ctx context.Context, customer customers.Customer, termDays int, requested []ItemRequest) ([]doc.DocumentItem, error) {
	cfg, err := s.deps.Loyalty.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	skus := make([]string, 0, len(requested))
	for _, line := range requested {
		skus = append(skus, line.SKU)
	}
	products, err := s.deps.Catalog.GetMany(ctx, skus)
	if err != nil {
		return nil, err
	}

	var items []doc.DocumentItem
	for _, line := range requested {
		product, ok := products[line.SKU]
		if !ok {
			return nil, shared.NotFound("product", line.SKU)
		}

		var unitPrice decimal.Decimal
		if line.UnitPrice != nil {
			if line.UnitPrice.IsNegative() {
				return nil, shared.Validationf("unit price for %s cannot be negative", product.SKU)
			}
			unitPrice = *line.UnitPrice
		} else {
			resolved, err := s.deps.Pricing.ResolvePrice(ctx, pricing.ResolveInput{
				Product:        product,
				Quantity:       line.Quantity,
				Tier:           customer.Classification,
				IsB2B:          customer.IsB2B,
				CustomDiscount: customer.CustomDiscountPct,
			})
			if err != nil {
				return nil, err
			}
			unitPrice = resolved.UnitPrice
			if termDays > 0 {
				unitPrice, err = s.deps.Pricing.TermAdjustedPrice(ctx, unitPrice, termDays)
				if err != nil {
					return nil, err
				}
			}
		}

		points := loyalty.PointsPerUnit(cfg, product.LoyaltyPoints, unitPrice, nil)
		items = append(items, doc.DocumentItem{
			SKU:           product.SKU,
			Name:          product.Name,
			Quantity:      line.Quantity,
			UnitPrice:     unitPrice,
			LoyaltyPoints: &points,
		})
	}
	return items, nil
}

func quoteLine(lines map[string]doc.DocumentItem, sku string, quantity int64) doc.DocumentItem {
	item := lines[sku]
	item.Quantity = quantity
	item.InvoicedQuantity = 0
	return item
}

func availabilityRequest(items []doc.DocumentItem) []inventory.AvailabilityRequestItem {
	out := make([]inventory.AvailabilityRequestItem, 0, len(items))
	for _, item := range items {
		out = append(out, inventory.AvailabilityRequestItem{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return out
}
