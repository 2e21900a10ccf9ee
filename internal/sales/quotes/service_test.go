package quotes

import (
	"context"
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
	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// memoryRepo implements RepositoryPort over a map. WithTx applies the
// callback against a snapshot and only keeps the result on success.
type memoryRepo struct {
	quotes     map[string]Quote
	nextNumber int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{quotes: map[string]Quote{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	snapshot := &memoryTx{quotes: map[string]Quote{}, nextNumber: m.nextNumber}
	for k, v := range m.quotes {
		snapshot.quotes[k] = v
	}
	if err := fn(ctx, snapshot); err != nil {
		return err
	}
	m.quotes = snapshot.quotes
	m.nextNumber = snapshot.nextNumber
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, number string) (Quote, error) {
	quote, ok := m.quotes[number]
	if !ok {
		return Quote{}, shared.NotFound("quote", number)
	}
	return quote, nil
}

func (m *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Quote, int, error) {
	out := []Quote{}
	for _, quote := range m.quotes {
		out = append(out, quote)
	}
	return out, len(out), nil
}

type memoryTx struct {
	quotes     map[string]Quote
	nextNumber int
}

func (t *memoryTx) IssueNumber(ctx context.Context, kind string, now time.Time) (string, error) {
	t.nextNumber++
	return fmt.Sprintf("%s-%02d-%04d", kind, now.Year()%100, t.nextNumber), nil
}

func (t *memoryTx) Insert(ctx context.Context, quote Quote) error {
	t.quotes[quote.QuoteNumber] = quote
	return nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, number string) (Quote, error) {
	quote, ok := t.quotes[number]
	if !ok {
		return Quote{}, shared.NotFound("quote", number)
	}
	return quote, nil
}

func (t *memoryTx) Update(ctx context.Context, quote Quote) error {
	if _, ok := t.quotes[quote.QuoteNumber]; !ok {
		return shared.NotFound("quote", quote.QuoteNumber)
	}
	t.quotes[quote.QuoteNumber] = quote
	return nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, number string, status Status) error {
	quote, ok := t.quotes[number]
	if !ok {
		return shared.NotFound("quote", number)
	}
	quote.Status = status
	t.quotes[number] = quote
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, number string) error {
	if _, ok := t.quotes[number]; !ok {
		return shared.NotFound("quote", number)
	}
	delete(t.quotes, number)
	return nil
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
	cfg loyalty.Config
}

func (s *stubLoyalty) GetConfig(ctx context.Context) (loyalty.Config, error) {
	return s.cfg, nil
}

type stubCustomers struct {
	customer customers.Customer
}

func (s *stubCustomers) Get(ctx context.Context, ruc string) (customers.Customer, error) {
	if ruc != s.customer.RUC {
		return customers.Customer{}, shared.NotFound("customer", ruc)
	}
	return s.customer, nil
}

// stubAvailability splits each line against a physical stock map.
type stubAvailability struct {
	stock map[string]int64
}

func (s *stubAvailability) CheckAvailability(ctx context.Context, items []inventory.AvailabilityRequestItem) (inventory.AvailabilityReport, error) {
	report := inventory.AvailabilityReport{CanFulfillFull: true}
	for _, item := range items {
		have := s.stock[item.SKU]
		if have >= item.Quantity {
			report.Available = append(report.Available, inventory.AvailableLine{SKU: item.SKU, Quantity: item.Quantity})
			continue
		}
		report.CanFulfillFull = false
		if have > 0 {
			report.Available = append(report.Available, inventory.AvailableLine{SKU: item.SKU, Quantity: have})
		}
		report.Missing = append(report.Missing, inventory.MissingLine{
			SKU: item.SKU, Required: item.Quantity, Missing: item.Quantity - have,
		})
	}
	return report, nil
}

// stubOrders records conversion inputs and hands back numbered orders.
type stubOrders struct {
	inputs      []orders.QuoteOrderInput
	activeCount int
	createErr   error
}

func (s *stubOrders) CreateFromQuote(ctx context.Context, input orders.QuoteOrderInput) (orders.Order, error) {
	if s.createErr != nil {
		return orders.Order{}, s.createErr
	}
	s.inputs = append(s.inputs, input)
	return orders.Order{
		OrderNumber: fmt.Sprintf("OV-25-%04d", len(s.inputs)),
		Status:      input.Status,
		Items:       input.Items,
		TotalAmount: doc.ItemsTotal(input.Items),
		QuoteNumber: input.QuoteNumber,
	}, nil
}

func (s *stubOrders) ActiveCountByQuote(ctx context.Context, quoteNumber string) (int, error) {
	return s.activeCount, nil
}

type stubIssuer struct{}

func (stubIssuer) Snapshot(ctx context.Context) (doc.IssuerInfo, error) {
	return doc.IssuerInfo{Name: "Meridian SAC", RUC: "20100000001"}, nil
}

type fixture struct {
	service      *Service
	repo         *memoryRepo
	pricing      *stubPricing
	orders       *stubOrders
	availability *stubAvailability
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:         newMemoryRepo(),
		pricing:      &stubPricing{},
		orders:       &stubOrders{},
		availability: &stubAvailability{stock: map[string]int64{"DET-500": 100, "JAB-090": 40}},
	}
	catalogStub := &stubCatalog{products: map[string]catalog.Product{
		"DET-500": {
			SKU:           "DET-500",
			Name:          "Detergente 500g",
			PriceRetail:   decimal.NewFromInt(12),
			LoyaltyPoints: 2,
		},
		"JAB-090": {
			SKU:         "JAB-090",
			Name:        "Jabon 90g",
			PriceRetail: decimal.NewFromInt(3),
		},
	}}
	customersStub := &stubCustomers{customer: customers.Customer{
		RUC:            "20601030013",
		Name:           "Comercial Aurora",
		Address:        "Av. Grau 1200, Piura",
		Classification: pricing.TierStandard,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(logger, f.repo, Dependencies{
		Catalog:      catalogStub,
		Pricing:      f.pricing,
		Loyalty:      &stubLoyalty{cfg: loyalty.DefaultConfig()},
		Customers:    customersStub,
		Availability: f.availability,
		Orders:       f.orders,
		Issuer:       stubIssuer{},
	})
	f.service.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	return f
}

func createQuote(t *testing.T, f *fixture, items []ItemRequest) Quote {
	t.Helper()
	quote, err := f.service.Create(context.Background(), CreateQuoteRequest{
		CustomerRUC: "20601030013",
		Items:       items,
	})
	require.NoError(t, err)
	return quote
}

func TestCreateAssignsNumberAndSnapshotsPoints(t *testing.T) {
	f := newFixture(t)

	quote := createQuote(t, f, []ItemRequest{
		{SKU: "DET-500", Quantity: 10},
		{SKU: "JAB-090", Quantity: 5},
	})
	require.Equal(t, "CV-25-0001", quote.QuoteNumber)
	require.Equal(t, StatusDraft, quote.Status)
	require.Equal(t, "135.000", quote.TotalAmount.StringFixed(3))
	require.Equal(t, "Meridian SAC", quote.Issuer.Name)
	require.Equal(t, "Av. Grau 1200, Piura", quote.DeliveryAddress)

	// DET carries the product's own points, JAB falls back to price x rate.
	require.NotNil(t, quote.Items[0].LoyaltyPoints)
	require.Equal(t, int64(2), *quote.Items[0].LoyaltyPoints)
	require.NotNil(t, quote.Items[1].LoyaltyPoints)
	require.Equal(t, int64(3), *quote.Items[1].LoyaltyPoints)
}

func TestCreateAppliesTermSurcharge(t *testing.T) {
	f := newFixture(t)

	quote, err := f.service.Create(context.Background(), CreateQuoteRequest{
		CustomerRUC: "20601030013",
		TermDays:    30,
		Items:       []ItemRequest{{SKU: "DET-500", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, []int{30}, f.pricing.termCalls)
	require.Equal(t, "12.600", quote.Items[0].UnitPrice.StringFixed(3))
}

func TestCreateUnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), CreateQuoteRequest{
		CustomerRUC: "20601030013",
		Items:       []ItemRequest{{SKU: "ARR-1KG", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateRepricesAndRefreshesSnapshot(t *testing.T) {
	f := newFixture(t)
	quote := createQuote(t, f, []ItemRequest{{SKU: "DET-500", Quantity: 10}})

	updated, err := f.service.Update(context.Background(), quote.QuoteNumber, UpdateQuoteRequest{
		DeliveryAddress: "Jr. Lima 45, Sullana",
		Items:           []ItemRequest{{SKU: "JAB-090", Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, "12.000", updated.TotalAmount.StringFixed(3))
	require.Equal(t, "Jr. Lima 45, Sullana", updated.DeliveryAddress)
	require.Len(t, updated.Items, 1)
	require.Equal(t, "JAB-090", updated.Items[0].SKU)

	stored, err := f.repo.Get(context.Background(), quote.QuoteNumber)
	require.NoError(t, err)
	require.Equal(t, "12.000", stored.TotalAmount.StringFixed(3))
}

func TestUpdateFinalizedQuoteRejected(t *testing.T) {
	f := newFixture(t)
	quote := createQuote(t, f, []ItemRequest{{SKU: "DET-500", Quantity: 1}})
	_, err := f.service.SetStatus(context.Background(), quote.QuoteNumber, StatusRejected)
	require.NoError(t, err)

	_, err = f.service.Update(context.Background(), quote.QuoteNumber, UpdateQuoteRequest{
		Items: []ItemRequest{{SKU: "DET-500", Quantity: 2}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSetStatusTransitions(t *testing.T) {
	f := newFixture(t)
	quote := createQuote(t, f, []ItemRequest{{SKU: "DET-500", Quantity: 1}})

	sent, err := f.service.SetStatus(context.Background(), quote.QuoteNumber, StatusSent)
	require.NoError(t, err)
	require.Equal(t, StatusSent, sent.Status)

	accepted, err := f.service.SetStatus(context.Background(), quote.QuoteNumber, StatusAccepted)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)

	// Accepted is terminal for manual moves.
	_, err = f.service.SetStatus(context.Background(), quote.QuoteNumber, StatusRejected)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConvertFullStockCreatesSingleOrder(t *testing.T) {
	f := newFixture(t)
	quote := createQuote(t, f, []ItemRequest{
		{SKU: "DET-500", Quantity: 10},
		{SKU: "JAB-090", Quantity: 5},
	})

	result, err := f.service.Convert(context.Background(), quote.QuoteNumber, false)
	require.NoError(t, err)
	require.False(t, result.WillSplit)
	require.Len(t, result.Orders, 1)
	require.Equal(t, "STANDARD", result.Orders[0].Kind)
	require.Equal(t, "OV-25-0001", result.Orders[0].OrderNumber)

	require.Len(t, f.orders.inputs, 1)
	input := f.orders.inputs[0]
	require.Equal(t, orders.StatusPending, input.Status)
	require.Equal(t, quote.QuoteNumber, input.QuoteNumber)
	require.Equal(t, "Meridian SAC", input.Issuer.Name)
	require.Equal(t, int64(2), *input.Items[0].LoyaltyPoints)

	stored, err := f.repo.Get(context.Background(), quote.QuoteNumber)
	require.NoError(t, err)
	require.Equal(t, StatusConverted, stored.Status)
}

func TestConvertSplitsIntoPendingAndBackorder(t *testing.T) {
	f := newFixture(t)
	f.availability.stock["DET-500"] = 4
	quote := createQuote(t, f, []ItemRequest{
		{SKU: "DET-500", Quantity: 10},
		{SKU: "JAB-090", Quantity: 5},
	})

	result, err := f.service.Convert(context.Background(), quote.QuoteNumber, false)
	require.NoError(t, err)
	require.True(t, result.WillSplit)
	require.Len(t, result.Orders, 2)
	require.Equal(t, "STANDARD", result.Orders[0].Kind)
	require.Equal(t, "BACKORDER", result.Orders[1].Kind)

	standard := f.orders.inputs[0]
	require.Equal(t, orders.StatusPending, standard.Status)
	require.Len(t, standard.Items, 2)
	require.Equal(t, int64(4), standard.Items[0].Quantity)
	require.Equal(t, int64(5), standard.Items[1].Quantity)

	backorder := f.orders.inputs[1]
	require.Equal(t, orders.StatusBackorder, backorder.Status)
	require.Len(t, backorder.Items, 1)
	require.Equal(t, "DET-500", backorder.Items[0].SKU)
	require.Equal(t, int64(6), backorder.Items[0].Quantity)
	require.Equal(t, "12", backorder.Items[0].UnitPrice.String())
}

func TestConvertPreviewWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.availability.stock["DET-500"] = 4
	quote := createQuote(t, f, []ItemRequest{{SKU: "DET-500", Quantity: 10}})

	result, err := f.service.Convert(context.Background(), quote.QuoteNumber, true)
	require.NoError(t, err)
	require.True(t, result.Preview)
	require.True(t, result.WillSplit)
	require.Empty(t, result.Orders)
	require.Empty(t, f.orders.inputs)

	stored, err := f.repo.Get(context.Background(), quote.QuoteNumber)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestConvertAlreadyConvertedRejected(t *testing.T) {
	f := newFixture(t)
	quote := createQuote(t, f, []ItemRequest{{SKU: "DET-500", Quantity: 1}})

	_, err := f.service.Convert(context.Background(), quote.QuoteNumber, false)
	require.NoError(t, err)

	_, err = f.service.Convert(context.Background(), quote.QuoteNumber, false)
	require.ErrorIs(t, err, shared.ErrValidation)

	// Preview of a converted quote is still allowed.
	_, err = f.service.Convert(context.Background(), quote.QuoteNumber, true)
	require.NoError(t, err)
}

func TestDeleteConvertedQuoteWithActiveOrdersBlocked(t *testing.T) {
	f := newFixture(t)
	quote := createQuote(t, f, []ItemRequest{{SKU: "DET-500", Quantity: 1}})
	_, err := f.service.Convert(context.Background(), quote.QuoteNumber, false)
	require.NoError(t, err)

	f.orders.activeCount = 1
	err = f.service.Delete(context.Background(), quote.QuoteNumber)
	require.ErrorIs(t, err, shared.ErrValidation)

	f.orders.activeCount = 0
	require.NoError(t, f.service.Delete(context.Background(), quote.QuoteNumber))
	_, err = f.repo.Get(context.Background(), quote.QuoteNumber)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteDraftQuote(t *testing.T) {
	f := newFixture(t)
	quote := createQuote(t, f, []ItemRequest{{SKU: "DET-500", Quantity: 1}})

	require.NoError(t, f.service.Delete(context.Background(), quote.QuoteNumber))
	require.Empty(t, f.repo.quotes)
}
