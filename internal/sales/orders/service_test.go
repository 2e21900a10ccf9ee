package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/loyalty"
	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/sales/customers"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// memoryRepo implements RepositoryPort over a map. WithTx applies the
// callback against a snapshot and only keeps the result on success.
type memoryRepo struct {
	orders     map[string]Order
	quotes     map[string]string
	nextNumber int
	insertErr  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[string]Order{}, quotes: map[string]string{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	snapshot := &memoryTx{repo: m, orders: map[string]Order{}, quotes: map[string]string{}, nextNumber: m.nextNumber}
	for k, v := range m.orders {
		snapshot.orders[k] = v
	}
	for k, v := range m.quotes {
		snapshot.quotes[k] = v
	}
	if err := fn(ctx, snapshot); err != nil {
		return err
	}
	m.orders = snapshot.orders
	m.quotes = snapshot.quotes
	m.nextNumber = snapshot.nextNumber
	return nil
}

type memoryTx struct {
	repo       *memoryRepo
	orders     map[string]Order
	quotes     map[string]string
	nextNumber int
}

func (t *memoryTx) IssueNumber(ctx context.Context, kind string, now time.Time) (string, error) {
	t.nextNumber++
	return fmt.Sprintf("%s-%02d-%04d", kind, now.Year()%100, t.nextNumber), nil
}

func (t *memoryTx) Insert(ctx context.Context, order Order) error {
	if t.repo.insertErr != nil {
		return t.repo.insertErr
	}
	t.orders[order.OrderNumber] = order
	return nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, number string) (Order, error) {
	order, ok := t.orders[number]
	if !ok {
		return Order{}, shared.NotFound("order", number)
	}
	return order, nil
}

func (t *memoryTx) UpdateItems(ctx context.Context, number string, items []doc.DocumentItem) error {
	order := t.orders[number]
	order.Items = items
	t.orders[number] = order
	return nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, number string, status Status) error {
	order, ok := t.orders[number]
	if !ok {
		return shared.NotFound("order", number)
	}
	order.Status = status
	t.orders[number] = order
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, number string) error {
	if _, ok := t.orders[number]; !ok {
		return shared.NotFound("order", number)
	}
	delete(t.orders, number)
	return nil
}

func (t *memoryTx) SiblingCount(ctx context.Context, quoteNumber string) (int, error) {
	n := 0
	for _, order := range t.orders {
		if order.QuoteNumber == quoteNumber {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) RevertQuoteStatus(ctx context.Context, quoteNumber, status string) error {
	t.quotes[quoteNumber] = status
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, number string) (Order, error) {
	order, ok := m.orders[number]
	if !ok {
		return Order{}, shared.NotFound("order", number)
	}
	return order, nil
}

func (m *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	out := []Order{}
	for _, order := range m.orders {
		out = append(out, order)
	}
	return out, len(out), nil
}

func (m *memoryRepo) ActiveCountByQuote(ctx context.Context, quoteNumber string) (int, error) {
	n := 0
	for _, order := range m.orders {
		if order.QuoteNumber == quoteNumber &&
			order.Status != StatusConverted && order.Status != StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) ProductHistory(ctx context.Context, sku string) ([]SaleRecord, error) {
	return nil, nil
}

type stubCatalog struct {
	products map[string]catalog.Product
}

func (s *stubCatalog) GetMany(ctx context.Context, skus []string) (map[string]catalog.Product, error) {
	out := map[string]catalog.Product{}
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok {
			out[sku] = p
		}
	}
	return out, nil
}

// stubPricing returns the product base price and records term adjustments.
type stubPricing struct {
	termCalls []int
}

func (s *stubPricing) ResolvePrice(ctx context.Context, input pricing.ResolveInput) (pricing.Quote, error) {
	base := input.Product.PriceRetail
	if input.IsB2B {
		base = input.Product.PriceWholesale
	}
	return pricing.Quote{SKU: input.Product.SKU, Quantity: input.Quantity, UnitPrice: base.Round(3)}, nil
}

func (s *stubPricing) TermAdjustedPrice(ctx context.Context, base decimal.Decimal, termDays int) (decimal.Decimal, error) {
	s.termCalls = append(s.termCalls, termDays)
	return base.Mul(decimal.NewFromFloat(1.05)).Round(3), nil
}

type stubLoyalty struct {
	cfg      loyalty.Config
	accrued  []int64
	redeemed []int64
	refunded []int64
	channels []loyalty.Channel
	balance  int64
}

func (s *stubLoyalty) GetConfig(ctx context.Context) (loyalty.Config, error) {
	return s.cfg, nil
}

func (s *stubLoyalty) Accrue(ctx context.Context, ruc string, channel loyalty.Channel, points int64) error {
	s.accrued = append(s.accrued, points)
	s.channels = append(s.channels, channel)
	return nil
}

func (s *stubLoyalty) Redeem(ctx context.Context, ruc string, points int64) error {
	if points > s.balance {
		return &loyalty.InsufficientPointsError{CustomerRUC: ruc, Balance: s.balance, Requested: points}
	}
	s.balance -= points
	s.redeemed = append(s.redeemed, points)
	return nil
}

func (s *stubLoyalty) Refund(ctx context.Context, ruc string, points int64) error {
	s.balance += points
	s.refunded = append(s.refunded, points)
	return nil
}

type stubCustomers struct {
	customer  customers.Customer
	creditErr error
}

func (s *stubCustomers) Get(ctx context.Context, ruc string) (customers.Customer, error) {
	if ruc != s.customer.RUC {
		return customers.Customer{}, shared.NotFound("customer", ruc)
	}
	return s.customer, nil
}

func (s *stubCustomers) ValidateCreditSale(ctx context.Context, ruc string, total decimal.Decimal, termDays int) error {
	return s.creditErr
}

// stubAvailability answers from a physical stock map with no commitments.
type stubAvailability struct {
	stock map[string]int64
}

func (s *stubAvailability) CheckAvailability(ctx context.Context, items []inventory.AvailabilityRequestItem) (inventory.AvailabilityReport, error) {
	report := inventory.AvailabilityReport{CanFulfillFull: true}
	for _, item := range items {
		if s.stock[item.SKU] >= item.Quantity {
			report.Available = append(report.Available, inventory.AvailableLine{SKU: item.SKU, Quantity: item.Quantity})
			continue
		}
		report.CanFulfillFull = false
		report.Missing = append(report.Missing, inventory.MissingLine{SKU: item.SKU, Required: item.Quantity})
	}
	return report, nil
}

type stubIssuer struct{}

func (stubIssuer) Snapshot(ctx context.Context) (doc.IssuerInfo, error) {
	return doc.IssuerInfo{Name: "Meridian SAC", RUC: "20100000001"}, nil
}

type fixture struct {
	service      *Service
	repo         *memoryRepo
	catalog      *stubCatalog
	pricing      *stubPricing
	loyalty      *stubLoyalty
	customers    *stubCustomers
	availability *stubAvailability
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemoryRepo(),
		catalog: &stubCatalog{products: map[string]catalog.Product{
			"DET-500": {
				SKU:            "DET-500",
				Name:           "Detergente 500g",
				PriceRetail:    decimal.NewFromInt(12),
				PriceWholesale: decimal.NewFromInt(10),
				LoyaltyPoints:  2,
				StockCurrent:   100,
			},
			"JAB-090": {
				SKU:            "JAB-090",
				Name:           "Jabon 90g",
				PriceRetail:    decimal.NewFromInt(3),
				PriceWholesale: decimal.RequireFromString("2.5"),
				PointsCost:     50,
				StockCurrent:   40,
			},
		}},
		pricing:      &stubPricing{},
		loyalty:      &stubLoyalty{cfg: loyalty.DefaultConfig(), balance: 500},
		availability: &stubAvailability{stock: map[string]int64{"DET-500": 100, "JAB-090": 40}},
		customers: &stubCustomers{customer: customers.Customer{
			RUC:            "20601030013",
			Name:           "Comercial Aurora",
			Address:        "Av. Grau 1200, Piura",
			Classification: pricing.TierStandard,
		}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(logger, f.repo, Dependencies{
		Catalog:      f.catalog,
		Pricing:      f.pricing,
		Loyalty:      f.loyalty,
		Customers:    f.customers,
		Availability: f.availability,
		Issuer:       stubIssuer{},
	})
	f.service.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	return f
}

func TestCreateAssignsNumberAndTotal(t *testing.T) {
	f := newFixture(t)

	order, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		Items: []ItemRequest{
			{SKU: "DET-500", Quantity: 10},
			{SKU: "JAB-090", Quantity: 5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "OV-25-0001", order.OrderNumber)
	require.Equal(t, StatusPending, order.Status)
	require.Equal(t, "120.000", order.Items[0].LineTotal().StringFixed(3))
	require.Equal(t, "135.000", order.TotalAmount.StringFixed(3))
	require.Equal(t, "Meridian SAC", order.Issuer.Name)
	require.Equal(t, "Av. Grau 1200, Piura", order.DeliveryAddress)
}

func TestCreateAccruesPointsOnPendingOrder(t *testing.T) {
	f := newFixture(t)

	order, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		Channel:     "SHOP",
		Items:       []ItemRequest{{SKU: "DET-500", Quantity: 10}},
	})
	require.NoError(t, err)
	// 2 points per unit from the product value.
	require.Equal(t, int64(20), order.PointsGranted)
	require.Equal(t, []int64{20}, f.loyalty.accrued)
	require.Equal(t, []loyalty.Channel{loyalty.ChannelWeb}, f.loyalty.channels)
}

func TestCreateSnapshotWinsOverProductPoints(t *testing.T) {
	f := newFixture(t)

	snapshot := int64(7)
	order, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		Items:       []ItemRequest{{SKU: "DET-500", Quantity: 3, LoyaltyPoints: &snapshot}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(21), order.PointsGranted)
	require.Equal(t, int64(7), *order.Items[0].LoyaltyPoints)
}

func TestCreateInsufficientStockRejectedWithoutBackorder(t *testing.T) {
	f := newFixture(t)
	f.availability.stock["DET-500"] = 4

	_, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		Items:       []ItemRequest{{SKU: "DET-500", Quantity: 10}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.orders)
}

func TestCreateBackorderWhenAllowed(t *testing.T) {
	f := newFixture(t)
	f.availability.stock["DET-500"] = 4

	order, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC:    "20601030013",
		AllowBackorder: true,
		Items:          []ItemRequest{{SKU: "DET-500", Quantity: 10}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusBackorder, order.Status)
	// Backorders accrue nothing until converted.
	require.Empty(t, f.loyalty.accrued)
	require.Equal(t, int64(20), order.PointsGranted)
}

func TestCreateRedeemsPointsAndRefundsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.insertErr = errors.New("connection reset")

	_, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		Items:       []ItemRequest{{SKU: "JAB-090", Quantity: 2, RedeemPoints: true}},
	})
	require.Error(t, err)
	require.Equal(t, []int64{100}, f.loyalty.redeemed)
	require.Equal(t, []int64{100}, f.loyalty.refunded)
	require.Equal(t, int64(500), f.loyalty.balance)
}

func TestCreateRedeemedItemsPriceZeroAndNoAccrual(t *testing.T) {
	f := newFixture(t)

	order, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		Items:       []ItemRequest{{SKU: "JAB-090", Quantity: 2, RedeemPoints: true}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), order.PointsSpent)
	require.True(t, order.TotalAmount.IsZero())
	require.Equal(t, int64(0), order.PointsGranted)
	require.Empty(t, f.loyalty.accrued)
	require.Equal(t, int64(400), f.loyalty.balance)
}

func TestCreateRedeemFailsWhenBalanceShort(t *testing.T) {
	f := newFixture(t)
	f.loyalty.balance = 30

	_, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		Items:       []ItemRequest{{SKU: "JAB-090", Quantity: 1, RedeemPoints: true}},
	})
	var insufficient *loyalty.InsufficientPointsError
	require.ErrorAs(t, err, &insufficient)
	require.Empty(t, f.repo.orders)
}

func TestCreateAppliesTermSurcharge(t *testing.T) {
	f := newFixture(t)
	f.customers.customer.CreditEnabled = true
	f.customers.customer.AllowedTerms = []int{0, 30}
	f.customers.customer.CreditLimit = decimal.NewFromInt(10000)

	order, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		TermDays:    30,
		Items:       []ItemRequest{{SKU: "DET-500", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, []int{30}, f.pricing.termCalls)
	require.Equal(t, "12.600", order.Items[0].UnitPrice.StringFixed(3))
}

func TestCreateCreditRejectionStopsOrder(t *testing.T) {
	f := newFixture(t)
	f.customers.creditErr = shared.Validationf("credit limit exceeded")

	_, err := f.service.Create(context.Background(), CreateOrderRequest{
		CustomerRUC: "20601030013",
		TermDays:    30,
		Items:       []ItemRequest{{SKU: "DET-500", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.orders)
}

func TestDeriveStatus(t *testing.T) {
	ten := func(invoiced int64) doc.DocumentItem {
		return doc.DocumentItem{SKU: "A", Quantity: 10, InvoicedQuantity: invoiced}
	}
	five := func(invoiced int64) doc.DocumentItem {
		return doc.DocumentItem{SKU: "B", Quantity: 5, InvoicedQuantity: invoiced}
	}

	require.Equal(t, StatusPending, DeriveStatus([]doc.DocumentItem{ten(0), five(0)}))
	require.Equal(t, StatusPartiallyInvoiced, DeriveStatus([]doc.DocumentItem{ten(0), five(5)}))
	require.Equal(t, StatusPartiallyInvoiced, DeriveStatus([]doc.DocumentItem{ten(4), five(5)}))
	require.Equal(t, StatusInvoiced, DeriveStatus([]doc.DocumentItem{ten(10), five(5)}))
}

func seedOrder(f *fixture, order Order) {
	if order.OrderNumber == "" {
		order.OrderNumber = "OV-25-0001"
	}
	f.repo.orders[order.OrderNumber] = order
	f.repo.nextNumber++
}

func TestApplyInvoicedQuantitiesDerivesStatus(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, Order{
		Status: StatusPending,
		Items: []doc.DocumentItem{
			{SKU: "DET-500", Quantity: 10},
			{SKU: "JAB-090", Quantity: 5},
		},
	})

	updated, err := f.service.ApplyInvoicedQuantities(context.Background(), "OV-25-0001",
		map[string]int64{"JAB-090": 5})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyInvoiced, updated.Status)

	updated, err = f.service.ApplyInvoicedQuantities(context.Background(), "OV-25-0001",
		map[string]int64{"DET-500": 10})
	require.NoError(t, err)
	require.Equal(t, StatusInvoiced, updated.Status)

	// An invoice deletion walks coverage back down.
	updated, err = f.service.ApplyInvoicedQuantities(context.Background(), "OV-25-0001",
		map[string]int64{"DET-500": -10, "JAB-090": -5})
	require.NoError(t, err)
	require.Equal(t, StatusPending, updated.Status)
}

func TestApplyInvoicedQuantitiesCapsAtOrdered(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, Order{
		Status: StatusPending,
		Items:  []doc.DocumentItem{{SKU: "DET-500", Quantity: 10, InvoicedQuantity: 8}},
	})

	_, err := f.service.ApplyInvoicedQuantities(context.Background(), "OV-25-0001",
		map[string]int64{"DET-500": 3})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, int64(8), f.repo.orders["OV-25-0001"].Items[0].InvoicedQuantity)
	require.Equal(t, StatusPending, f.repo.orders["OV-25-0001"].Status)
}

func TestApplyInvoicedQuantitiesUnknownProduct(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, Order{
		Status: StatusPending,
		Items:  []doc.DocumentItem{{SKU: "DET-500", Quantity: 10}},
	})

	_, err := f.service.ApplyInvoicedQuantities(context.Background(), "OV-25-0001",
		map[string]int64{"NOPE-1": 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteBlockedWhenInvoiced(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, Order{Status: StatusInvoiced})

	err := f.service.Delete(context.Background(), "OV-25-0001")
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, f.repo.orders, 1)
}

func TestDeleteRevertsQuoteWhenLastOrder(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, Order{Status: StatusPending, QuoteNumber: "CV-25-0003"})

	require.NoError(t, f.service.Delete(context.Background(), "OV-25-0001"))
	require.Empty(t, f.repo.orders)
	require.Equal(t, "ACCEPTED", f.repo.quotes["CV-25-0003"])
}

func TestDeleteKeepsQuoteWhileSiblingsRemain(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, Order{Status: StatusPending, QuoteNumber: "CV-25-0003"})
	seedOrder(f, Order{OrderNumber: "OV-25-0002", Status: StatusBackorder, QuoteNumber: "CV-25-0003"})

	require.NoError(t, f.service.Delete(context.Background(), "OV-25-0001"))
	require.Len(t, f.repo.orders, 1)
	require.Empty(t, f.repo.quotes["CV-25-0003"])
}

func backorderFixture(t *testing.T) *fixture {
	f := newFixture(t)
	points := int64(2)
	seedOrder(f, Order{
		Status:      StatusBackorder,
		CustomerRUC: "20601030013",
		Channel:     loyalty.ChannelERP,
		QuoteNumber: "CV-25-0009",
		Items: []doc.DocumentItem{
			{SKU: "DET-500", Quantity: 10, UnitPrice: decimal.NewFromInt(12), LoyaltyPoints: &points},
			{SKU: "JAB-090", Quantity: 8, UnitPrice: decimal.NewFromInt(3)},
		},
	})
	return f
}

func TestConvertBackorderFullCoverage(t *testing.T) {
	f := backorderFixture(t)

	result, err := f.service.ConvertBackorder(context.Background(), "OV-25-0001")
	require.NoError(t, err)
	require.Equal(t, StatusConverted, result.Original.Status)
	require.Nil(t, result.Backorder)
	require.Equal(t, StatusPending, result.Available.Status)
	require.Len(t, result.Available.Items, 2)
	require.Equal(t, "144.000", result.Available.TotalAmount.StringFixed(3))
	require.Equal(t, "CV-25-0009", result.Available.QuoteNumber)
	// Deferred accrual happens now, for the shippable part.
	require.Equal(t, []int64{20}, f.loyalty.accrued)
}

func TestConvertBackorderPartialSplitsLine(t *testing.T) {
	f := backorderFixture(t)
	f.catalog.products["DET-500"] = func() catalog.Product {
		p := f.catalog.products["DET-500"]
		p.StockCurrent = 4
		return p
	}()

	result, err := f.service.ConvertBackorder(context.Background(), "OV-25-0001")
	require.NoError(t, err)
	require.NotNil(t, result.Backorder)

	require.Equal(t, int64(4), result.Available.Items[0].Quantity)
	require.Equal(t, int64(8), result.Available.Items[1].Quantity)
	require.Equal(t, int64(6), result.Backorder.Items[0].Quantity)
	require.Equal(t, "72.000", result.Available.TotalAmount.StringFixed(3))
	require.Equal(t, "72.000", result.Backorder.TotalAmount.StringFixed(3))
	require.Equal(t, StatusConverted, f.repo.orders["OV-25-0001"].Status)
	require.Len(t, f.repo.orders, 3)
}

func TestConvertBackorderNoStockFails(t *testing.T) {
	f := backorderFixture(t)
	for sku, product := range f.catalog.products {
		product.StockCurrent = 0
		f.catalog.products[sku] = product
	}

	_, err := f.service.ConvertBackorder(context.Background(), "OV-25-0001")
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, StatusBackorder, f.repo.orders["OV-25-0001"].Status)
	require.Len(t, f.repo.orders, 1)
}

func TestConvertBackorderRejectsNonBackorder(t *testing.T) {
	f := newFixture(t)
	seedOrder(f, Order{Status: StatusPending})

	_, err := f.service.ConvertBackorder(context.Background(), "OV-25-0001")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCheckBackorderAvailability(t *testing.T) {
	f := backorderFixture(t)
	f.catalog.products["DET-500"] = func() catalog.Product {
		p := f.catalog.products["DET-500"]
		p.StockCurrent = 4
		return p
	}()

	report, err := f.service.CheckBackorderAvailability(context.Background(), "OV-25-0001")
	require.NoError(t, err)
	require.False(t, report.CanConvertFull)
	require.True(t, report.CanConvertPartial)
	require.Equal(t, int64(6), report.Items[0].Missing)
	require.Equal(t, int64(0), report.Items[1].Missing)
}
