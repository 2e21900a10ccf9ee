package orders

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
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	Get(ctx context.Context, number string) (Order, error)
	List(ctx context.Context, filters ListFilters) ([]Order, int, error)
	ActiveCountByQuote(ctx context.Context, quoteNumber string) (int, error)
	ProductHistory(ctx context.Context, sku string) ([]SaleRecord, error)
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

// LoyaltyPort handles point balances around order creation.
type LoyaltyPort interface {
	GetConfig(ctx context.Context) (loyalty.Config, error)
	Accrue(ctx context.Context, ruc string, channel loyalty.Channel, points int64) error
	Redeem(ctx context.Context, ruc string, points int64) error
	Refund(ctx context.Context, ruc string, points int64) error
}

// CustomersPort looks up customers and validates credit sales.
type CustomersPort interface {
	Get(ctx context.Context, ruc string) (customers.Customer, error)
	ValidateCreditSale(ctx context.Context, ruc string, total decimal.Decimal, termDays int) error
}

// AvailabilityPort checks committed-aware stock coverage.
type AvailabilityPort interface {
	CheckAvailability(ctx context.Context, items []inventory.AvailabilityRequestItem) (inventory.AvailabilityReport, error)
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
	Issuer       IssuerPort
}

// Service drives the order lifecycle.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	deps   Dependencies
	now    func() time.Time
}

func NewService(logger *slog.Logger, repo RepositoryPort, deps Dependencies) *Service {
	return &Service{logger: logger, repo: repo, deps: deps, now: time.Now}
}

func (s *Service) Get(ctx context.Context, number string) (Order, error) {
	return s.repo.Get(ctx, number)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	return s.repo.List(ctx, filters)
}

// ActiveCountByQuote counts orders of one quote still in play.
func (s *Service) ActiveCountByQuote(ctx context.Context, quoteNumber string) (int, error) {
	return s.repo.ActiveCountByQuote(ctx, quoteNumber)
}

// ProductHistory lists past sales of one product.
func (s *Service) ProductHistory(ctx context.Context, sku string) ([]SaleRecord, error) {
	return s.repo.ProductHistory(ctx, sku)
}

// Create builds an order from a checkout request: resolves prices, snapshots
// loyalty points per line, validates credit, checks availability, redeems
// point-paid lines and accrues earned points once the order is stored.
// Redemption happens before the insert; a failed insert refunds the points.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (Order, error) {
	customer, err := s.deps.Customers.Get(ctx, req.CustomerRUC)
	if err != nil {
		return Order{}, err
	}
	cfg, err := s.deps.Loyalty.GetConfig(ctx)
	if err != nil {
		return Order{}, err
	}
	channel := channelFrom(req.Channel)

	skus := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		skus = append(skus, item.SKU)
	}
	products, err := s.deps.Catalog.GetMany(ctx, skus)
	if err != nil {
		return Order{}, err
	}

	var (
		items         []doc.DocumentItem
		pointsSpent   int64
		pointsGranted int64
	)
	for _, line := range req.Items {
		product, ok := products[line.SKU]
		if !ok {
			return Order{}, shared.NotFound("product", line.SKU)
		}

		var unitPrice decimal.Decimal
		switch {
		case line.RedeemPoints:
			if product.PointsCost <= 0 {
				return Order{}, shared.Validationf("product %s cannot be paid with points", product.SKU)
			}
			pointsSpent += product.PointsCost * line.Quantity
		case line.UnitPrice != nil:
			if line.UnitPrice.IsNegative() {
				return Order{}, shared.Validationf("unit price for %s cannot be negative", product.SKU)
			}
			unitPrice = *line.UnitPrice
		default:
			quote, err := s.deps.Pricing.ResolvePrice(ctx, pricing.ResolveInput{
				Product:        product,
				Quantity:       line.Quantity,
				Tier:           customer.Classification,
				IsB2B:          customer.IsB2B,
				CustomDiscount: customer.CustomDiscountPct,
			})
			if err != nil {
				return Order{}, err
			}
			unitPrice = quote.UnitPrice
			if req.TermDays > 0 {
				unitPrice, err = s.deps.Pricing.TermAdjustedPrice(ctx, unitPrice, req.TermDays)
				if err != nil {
					return Order{}, err
				}
			}
		}

		perUnit := int64(0)
		if !line.RedeemPoints {
			perUnit = loyalty.PointsPerUnit(cfg, product.LoyaltyPoints, unitPrice, line.LoyaltyPoints)
			pointsGranted += perUnit * line.Quantity
		}
		points := perUnit
		items = append(items, doc.DocumentItem{
			SKU:           product.SKU,
			Name:          product.Name,
			Quantity:      line.Quantity,
			UnitPrice:     unitPrice,
			LoyaltyPoints: &points,
		})
	}

	total := doc.ItemsTotal(items)
	if err := s.deps.Customers.ValidateCreditSale(ctx, customer.RUC, total, req.TermDays); err != nil {
		return Order{}, err
	}

	status := StatusPending
	report, err := s.deps.Availability.CheckAvailability(ctx, availabilityRequest(items))
	if err != nil {
		return Order{}, err
	}
	if !report.CanFulfillFull {
		if !req.AllowBackorder {
			return Order{}, shared.Validationf("insufficient stock for %d item(s)", len(report.Missing))
		}
		status = StatusBackorder
	}

	address := req.DeliveryAddress
	if address == "" {
		address = customer.Address
	}
	order := Order{
		CustomerRUC:     customer.RUC,
		CustomerName:    customer.Name,
		DeliveryAddress: address,
		Status:          status,
		Channel:         channel,
		Items:           items,
		TotalAmount:     total,
		TermDays:        req.TermDays,
		PointsGranted:   pointsGranted,
		PointsSpent:     pointsSpent,
		Notes:           req.Notes,
	}

	if pointsSpent > 0 {
		if err := s.deps.Loyalty.Redeem(ctx, customer.RUC, pointsSpent); err != nil {
			return Order{}, err
		}
	}
	created, err := s.persist(ctx, order)
	if err != nil {
		if pointsSpent > 0 {
			if refundErr := s.deps.Loyalty.Refund(ctx, customer.RUC, pointsSpent); refundErr != nil {
				s.logger.Error("points refund after failed order failed",
					"ruc", customer.RUC, "points", pointsSpent, "error", refundErr)
			}
		}
		return Order{}, err
	}

	s.accrue(ctx, created)
	s.logger.Info("order created", "order", created.OrderNumber, "customer",
		created.CustomerRUC, "status", created.Status, "total", created.TotalAmount)
	return created, nil
}

// QuoteOrderInput carries pre-priced lines from a quote conversion.
type QuoteOrderInput struct {
	CustomerRUC     string
	CustomerName    string
	DeliveryAddress string
	Channel         loyalty.Channel
	TermDays        int
	QuoteNumber     string
	Status          Status
	Items           []doc.DocumentItem
	Issuer          doc.IssuerInfo
	Notes           string
}

// CreateFromQuote stores an order whose prices and point snapshots were fixed
// on the quote. Only PENDING orders accrue points; backorders accrue at
// conversion time instead.
func (s *Service) CreateFromQuote(ctx context.Context, input QuoteOrderInput) (Order, error) {
	if input.Status != StatusPending && input.Status != StatusBackorder {
		return Order{}, shared.Validationf("orders start as PENDING or BACKORDER, not %s", input.Status)
	}
	if len(input.Items) == 0 {
		return Order{}, shared.Validationf("order requires at least one item")
	}
	order := Order{
		CustomerRUC:     input.CustomerRUC,
		CustomerName:    input.CustomerName,
		DeliveryAddress: input.DeliveryAddress,
		Status:          input.Status,
		Channel:         input.Channel,
		Items:           input.Items,
		TotalAmount:     doc.ItemsTotal(input.Items),
		TermDays:        input.TermDays,
		PointsGranted:   grantedPoints(input.Items),
		QuoteNumber:     input.QuoteNumber,
		Issuer:          input.Issuer,
		Notes:           input.Notes,
	}
	created, err := s.persistWithIssuer(ctx, order, input.Issuer.RUC != "")
	if err != nil {
		return Order{}, err
	}
	s.accrue(ctx, created)
	return created, nil
}

func (s *Service) persist(ctx context.Context, order Order) (Order, error) {
	return s.persistWithIssuer(ctx, order, false)
}

func (s *Service) persistWithIssuer(ctx context.Context, order Order, haveIssuer bool) (Order, error) {
	if !haveIssuer {
		issuer, err := s.deps.Issuer.Snapshot(ctx)
		if err != nil {
			return Order{}, err
		}
		order.Issuer = issuer
	}
	now := s.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		number, err := repo.IssueNumber(ctx, sequence.PrefixOrder, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number
		return repo.Insert(ctx, order)
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// accrue credits earned points after the order is stored. Accrual failures do
// not undo the order; they are logged for manual follow-up.
func (s *Service) accrue(ctx context.Context, order Order) {
	if order.Status != StatusPending || order.PointsGranted <= 0 {
		return
	}
	if err := s.deps.Loyalty.Accrue(ctx, order.CustomerRUC, order.Channel, order.PointsGranted); err != nil {
		s.logger.Error("points accrual failed", "order", order.OrderNumber,
			"ruc", order.CustomerRUC, "points", order.PointsGranted, "error", err)
	}
}

// Delete removes an order that has no invoices. When it was the only order of
// a converted quote, the quote returns to ACCEPTED so it can convert again.
func (s *Service) Delete(ctx context.Context, number string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		order, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if order.Status == StatusInvoiced || order.Status == StatusPartiallyInvoiced {
			return shared.Validationf("order %s has invoices and cannot be deleted", number)
		}
		if err := repo.Delete(ctx, number); err != nil {
			return err
		}
		if order.QuoteNumber != "" {
			siblings, err := repo.SiblingCount(ctx, order.QuoteNumber)
			if err != nil {
				return err
			}
			if siblings == 0 {
				return repo.RevertQuoteStatus(ctx, order.QuoteNumber, "ACCEPTED")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("order deleted", "order", number)
	return nil
}

// ApplyInvoicedQuantities shifts per-item invoice coverage by the given
// deltas (positive when invoicing, negative when an invoice is deleted), caps
// each line at its ordered quantity and re-derives the order status.
func (s *Service) ApplyInvoicedQuantities(ctx context.Context, number string, deltas map[string]int64) (Order, error) {
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		order, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if !order.Status.Fulfillable() {
			return shared.Validationf("order %s cannot be invoiced in status %s", number, order.Status)
		}

		pending := make(map[string]int64, len(deltas))
		for sku, delta := range deltas {
			pending[sku] = delta
		}
		for i := range order.Items {
			delta, ok := pending[order.Items[i].SKU]
			if !ok {
				continue
			}
			next := order.Items[i].InvoicedQuantity + delta
			if next < 0 {
				return shared.Validationf("invoiced quantity for %s cannot go below zero", order.Items[i].SKU)
			}
			if next > order.Items[i].Quantity {
				return shared.Validationf("invoiced quantity for %s exceeds ordered quantity %d",
					order.Items[i].SKU, order.Items[i].Quantity)
			}
			order.Items[i].InvoicedQuantity = next
			delete(pending, order.Items[i].SKU)
		}
		for sku := range pending {
			return shared.Validationf("product %s is not part of order %s", sku, number)
		}

		if err := repo.UpdateItems(ctx, number, order.Items); err != nil {
			return err
		}
		order.Status = DeriveStatus(order.Items)
		if err := repo.UpdateStatus(ctx, number, order.Status); err != nil {
			return err
		}
		updated = order
		return nil
	})
	return updated, err
}

// CheckBackorderAvailability reports, per line, how much of a backorder the
// current physical stock covers.
func (s *Service) CheckBackorderAvailability(ctx context.Context, number string) (BackorderAvailability, error) {
	order, err := s.repo.Get(ctx, number)
	if err != nil {
		return BackorderAvailability{}, err
	}
	if order.Status != StatusBackorder {
		return BackorderAvailability{}, shared.Validationf("order %s is not a backorder", number)
	}

	products, err := s.deps.Catalog.GetMany(ctx, itemSKUs(order.Items))
	if err != nil {
		return BackorderAvailability{}, err
	}

	result := BackorderAvailability{OrderNumber: number, CanConvertFull: true}
	for _, item := range order.Items {
		available := int64(0)
		if product, ok := products[item.SKU]; ok {
			available = product.StockCurrent
		}
		missing := item.Quantity - available
		if missing < 0 {
			missing = 0
		}
		if missing > 0 {
			result.CanConvertFull = false
		}
		if available > 0 {
			result.CanConvertPartial = true
		}
		result.Items = append(result.Items, BackorderItem{
			SKU:       item.SKU,
			Name:      item.Name,
			Required:  item.Quantity,
			Available: available,
			Missing:   missing,
		})
	}
	return result, nil
}

// ConvertBackorder splits a backorder by current stock: covered quantities
// move to a fresh PENDING order, the remainder to a fresh BACKORDER order,
// and the original becomes CONVERTED. Lines with partial coverage are split
// across both. Fails when no line has any stock.
func (s *Service) ConvertBackorder(ctx context.Context, number string) (ConversionResult, error) {
	var result ConversionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		original, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if original.Status != StatusBackorder {
			return shared.Validationf("order %s is not a backorder", number)
		}

		products, err := s.deps.Catalog.GetMany(ctx, itemSKUs(original.Items))
		if err != nil {
			return err
		}

		var availableItems, remainingItems []doc.DocumentItem
		for _, item := range original.Items {
			stock := int64(0)
			if product, ok := products[item.SKU]; ok {
				stock = product.StockCurrent
			}
			switch {
			case stock >= item.Quantity:
				availableItems = append(availableItems, item)
			case stock > 0:
				split := item
				split.Quantity = stock
				availableItems = append(availableItems, split)
				rest := item
				rest.Quantity = item.Quantity - stock
				remainingItems = append(remainingItems, rest)
			default:
				remainingItems = append(remainingItems, item)
			}
		}
		if len(availableItems) == 0 {
			return shared.Validationf("no stock available to convert backorder %s", number)
		}

		now := s.now()
		available := childOrder(original, availableItems, StatusPending, now)
		available.OrderNumber, err = repo.IssueNumber(ctx, sequence.PrefixOrder, now)
		if err != nil {
			return err
		}
		if err := repo.Insert(ctx, available); err != nil {
			return err
		}

		var backorder *Order
		if len(remainingItems) > 0 {
			child := childOrder(original, remainingItems, StatusBackorder, now)
			child.OrderNumber, err = repo.IssueNumber(ctx, sequence.PrefixOrder, now)
			if err != nil {
				return err
			}
			if err := repo.Insert(ctx, child); err != nil {
				return err
			}
			backorder = &child
		}

		if err := repo.UpdateStatus(ctx, number, StatusConverted); err != nil {
			return err
		}
		original.Status = StatusConverted
		result = ConversionResult{Original: original, Available: available, Backorder: backorder}
		return nil
	})
	if err != nil {
		return ConversionResult{}, err
	}

	s.accrue(ctx, result.Available)
	s.logger.Info("backorder converted", "order", number,
		"available_order", result.Available.OrderNumber,
		"split", result.Backorder != nil)
	return result, nil
}

func childOrder(original Order, items []doc.DocumentItem, status Status, now time.Time) Order {
	return Order{
		CustomerRUC:     original.CustomerRUC,
		CustomerName:    original.CustomerName,
		DeliveryAddress: original.DeliveryAddress,
		Status:          status,
		Channel:         original.Channel,
		Items:           items,
		TotalAmount:     doc.ItemsTotal(items),
		TermDays:        original.TermDays,
		PointsGranted:   grantedPoints(items),
		QuoteNumber:     original.QuoteNumber,
		Issuer:          original.Issuer,
		Notes:           original.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func grantedPoints(items []doc.DocumentItem) int64 {
	var total int64
	for _, item := range items {
		if item.LoyaltyPoints != nil {
			total += *item.LoyaltyPoints * item.Quantity
		}
	}
	return total
}

func itemSKUs(items []doc.DocumentItem) []string {
	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	return skus
}

func availabilityRequest(items []doc.DocumentItem) []inventory.AvailabilityRequestItem {
	request := make([]inventory.AvailabilityRequestItem, 0, len(items))
	for _, item := range items {
		request = append(request, inventory.AvailabilityRequestItem{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return request
}
