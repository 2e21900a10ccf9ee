package dispatch

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
	"github.com/meridian-erp/meridian-erp/internal/sales/invoices"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// memoryRepo implements RepositoryPort over a map. WithTx applies the
// callback against a snapshot and only keeps the result on success.
type memoryRepo struct {
	guides     map[string]Guide
	nextNumber int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{guides: map[string]Guide{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	snapshot := &memoryTx{repo: m, guides: map[string]Guide{}, nextNumber: m.nextNumber}
	for k, v := range m.guides {
		snapshot.guides[k] = v
	}
	if err := fn(ctx, snapshot); err != nil {
		return err
	}
	m.guides = snapshot.guides
	m.nextNumber = snapshot.nextNumber
	return nil
}

type memoryTx struct {
	repo       *memoryRepo
	guides     map[string]Guide
	nextNumber int
}

func (t *memoryTx) IssueNumber(ctx context.Context, kind string, now time.Time) (string, error) {
	t.nextNumber++
	return fmt.Sprintf("%s-%02d-%04d", kind, now.Year()%100, t.nextNumber), nil
}

func (t *memoryTx) Insert(ctx context.Context, guide Guide) error {
	t.guides[guide.GuideNumber] = guide
	return nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, number string) (Guide, error) {
	guide, ok := t.guides[number]
	if !ok {
		return Guide{}, shared.NotFound("guide", number)
	}
	return guide, nil
}

func (t *memoryTx) GetByInvoice(ctx context.Context, invoiceNumber string) (Guide, error) {
	for _, guide := range t.guides {
		if guide.InvoiceNumber == invoiceNumber {
			return guide, nil
		}
	}
	return Guide{}, shared.NotFound("guide", invoiceNumber)
}

func (t *memoryTx) UpdateStatus(ctx context.Context, guide Guide) error {
	current, ok := t.guides[guide.GuideNumber]
	if !ok {
		return shared.NotFound("guide", guide.GuideNumber)
	}
	current.Status = guide.Status
	current.DispatchDate = guide.DispatchDate
	current.DeliveryDate = guide.DeliveryDate
	current.ReceivedBy = guide.ReceivedBy
	t.guides[guide.GuideNumber] = current
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, number string) error {
	if _, ok := t.guides[number]; !ok {
		return shared.NotFound("guide", number)
	}
	delete(t.guides, number)
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, number string) (Guide, error) {
	guide, ok := m.guides[number]
	if !ok {
		return Guide{}, shared.NotFound("guide", number)
	}
	return guide, nil
}

func (m *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Guide, int, error) {
	out := []Guide{}
	for _, guide := range m.guides {
		out = append(out, guide)
	}
	return out, len(out), nil
}

type dispatchCall struct {
	invoice string
	status  invoices.DispatchStatus
	guideID string
}

type stubInvoices struct {
	invoice invoices.Invoice
	calls   []dispatchCall
}

func (s *stubInvoices) Get(ctx context.Context, number string) (invoices.Invoice, error) {
	if number != s.invoice.InvoiceNumber {
		return invoices.Invoice{}, shared.NotFound("invoice", number)
	}
	return s.invoice, nil
}

func (s *stubInvoices) SetDispatchStatus(ctx context.Context, number string, status invoices.DispatchStatus, guideID string) error {
	s.calls = append(s.calls, dispatchCall{invoice: number, status: status, guideID: guideID})
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

// stubStock applies batches atomically against a stock map, the way the
// ledger service does.
type stubStock struct {
	stock   map[string]int64
	batches [][]inventory.MovementInput
	err     error
}

func (s *stubStock) PostBatch(ctx context.Context, inputs []inventory.MovementInput) ([]inventory.Movement, error) {
	if s.err != nil {
		return nil, s.err
	}
	next := map[string]int64{}
	for k, v := range s.stock {
		next[k] = v
	}
	var posted []inventory.Movement
	for _, input := range inputs {
		direction, _ := input.Type.Direction()
		value := next[input.SKU] + int64(direction)*input.Quantity
		if value < 0 {
			return nil, &inventory.InsufficientStockError{SKU: input.SKU, Available: next[input.SKU], Requested: input.Quantity}
		}
		next[input.SKU] = value
		posted = append(posted, inventory.Movement{
			ProductSKU: input.SKU,
			Quantity:   input.Quantity,
			Direction:  direction,
			Type:       input.Type,
			Reference:  input.Reference,
		})
	}
	s.stock = next
	s.batches = append(s.batches, inputs)
	return posted, nil
}

type fixture struct {
	service  *Service
	repo     *memoryRepo
	invoices *stubInvoices
	stock    *stubStock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemoryRepo(),
		invoices: &stubInvoices{invoice: invoices.Invoice{
			InvoiceNumber:   "FV-25-0001",
			OrderNumber:     "OV-25-0001",
			CustomerRUC:     "20601030013",
			CustomerName:    "Comercial Aurora",
			DeliveryAddress: "Av. Grau 1200, Piura",
			DispatchStatus:  invoices.NotDispatched,
			Items: []doc.DocumentItem{
				{SKU: "DET-500", Name: "Detergente 500g", Quantity: 10, UnitPrice: decimal.NewFromInt(12)},
				{SKU: "JAB-090", Name: "Jabon 90g", Quantity: 5, UnitPrice: decimal.NewFromInt(3)},
			},
		}},
		stock: &stubStock{stock: map[string]int64{"DET-500": 50, "JAB-090": 20}},
	}
	catalogStub := &stubCatalog{products: map[string]catalog.Product{
		"DET-500": {SKU: "DET-500", Name: "Detergente 500g", Cost: decimal.RequireFromString("7.500")},
		"JAB-090": {SKU: "JAB-090", Name: "Jabon 90g", Cost: decimal.RequireFromString("1.200")},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(logger, f.repo, f.invoices, catalogStub, f.stock)
	f.service.now = func() time.Time { return time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC) }
	return f
}

func TestCreateFromInvoiceSnapshotsCost(t *testing.T) {
	f := newFixture(t)

	guide, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{
		InvoiceNumber: "FV-25-0001",
		VehiclePlate:  "ABC-123",
	})
	require.NoError(t, err)
	require.Equal(t, "GV-25-0001", guide.GuideNumber)
	require.Equal(t, StatusDraft, guide.Status)
	require.Equal(t, TypeDispatch, guide.Type)
	require.Equal(t, "7.500", guide.Items[0].UnitCost.StringFixed(3))
	require.Equal(t, int64(10), guide.Items[0].Quantity)
	// Creation links the guide without touching the dispatch state.
	require.Equal(t, []dispatchCall{{invoice: "FV-25-0001", status: invoices.NotDispatched, guideID: "GV-25-0001"}}, f.invoices.calls)
	require.Empty(t, f.stock.batches)
}

func TestCreateFromInvoiceIdempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)
	second, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)
	require.Equal(t, first.GuideNumber, second.GuideNumber)
	require.Len(t, f.repo.guides, 1)
}

func TestDispatchPostsOutMovements(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)

	guide, err := f.service.Dispatch(context.Background(), created.GuideNumber)
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, guide.Status)
	require.NotNil(t, guide.DispatchDate)

	require.Len(t, f.stock.batches, 1)
	batch := f.stock.batches[0]
	require.Equal(t, inventory.MovementOut, batch[0].Type)
	require.Equal(t, created.GuideNumber, batch[0].Reference)
	require.Equal(t, int64(40), f.stock.stock["DET-500"])
	require.Equal(t, int64(15), f.stock.stock["JAB-090"])

	last := f.invoices.calls[len(f.invoices.calls)-1]
	require.Equal(t, invoices.Dispatched, last.status)
	require.Equal(t, created.GuideNumber, last.guideID)
}

func TestDispatchRequiresDraft(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)
	_, err = f.service.Dispatch(context.Background(), created.GuideNumber)
	require.NoError(t, err)

	_, err = f.service.Dispatch(context.Background(), created.GuideNumber)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, f.stock.batches, 1)
}

func TestDispatchInsufficientStockRevertsGuide(t *testing.T) {
	f := newFixture(t)
	f.stock.stock["JAB-090"] = 3
	created, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)

	_, err = f.service.Dispatch(context.Background(), created.GuideNumber)
	var insufficient *inventory.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	// Nothing moved, not even the line that had stock.
	require.Equal(t, int64(50), f.stock.stock["DET-500"])
	require.Equal(t, StatusDraft, f.repo.guides[created.GuideNumber].Status)
	require.Nil(t, f.repo.guides[created.GuideNumber].DispatchDate)
}

func TestDeliverRequiresDispatched(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)

	_, err = f.service.Deliver(context.Background(), created.GuideNumber, DeliverRequest{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.Dispatch(context.Background(), created.GuideNumber)
	require.NoError(t, err)

	guide, err := f.service.Deliver(context.Background(), created.GuideNumber, DeliverRequest{ReceivedBy: "R. Quispe"})
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, guide.Status)
	require.Equal(t, "R. Quispe", guide.ReceivedBy)
	require.NotNil(t, guide.DeliveryDate)

	last := f.invoices.calls[len(f.invoices.calls)-1]
	require.Equal(t, invoices.Delivered, last.status)
}

func TestCancelDraftDeletesWithoutStockEffect(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(context.Background(), created.GuideNumber))
	require.Empty(t, f.repo.guides)
	require.Empty(t, f.stock.batches)

	last := f.invoices.calls[len(f.invoices.calls)-1]
	require.Equal(t, invoices.NotDispatched, last.status)
	require.Equal(t, "", last.guideID)
}

func TestCancelDispatchedRestoresStock(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)
	_, err = f.service.Dispatch(context.Background(), created.GuideNumber)
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(context.Background(), created.GuideNumber))
	require.Empty(t, f.repo.guides)
	require.Equal(t, int64(50), f.stock.stock["DET-500"])
	require.Equal(t, int64(20), f.stock.stock["JAB-090"])

	require.Len(t, f.stock.batches, 2)
	restore := f.stock.batches[1]
	require.Equal(t, inventory.MovementIn, restore[0].Type)
	require.Equal(t, "CANCEL-"+created.GuideNumber, restore[0].Reference)

	last := f.invoices.calls[len(f.invoices.calls)-1]
	require.Equal(t, invoices.NotDispatched, last.status)
}

func TestCancelKeepsGuideWhenRestoreFails(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.CreateFromInvoice(context.Background(), CreateGuideRequest{InvoiceNumber: "FV-25-0001"})
	require.NoError(t, err)
	_, err = f.service.Dispatch(context.Background(), created.GuideNumber)
	require.NoError(t, err)

	f.stock.err = errors.New("ledger unavailable")
	err = f.service.Cancel(context.Background(), created.GuideNumber)
	require.Error(t, err)

	// The guide survives until the compensating movement lands.
	stored, getErr := f.repo.Get(context.Background(), created.GuideNumber)
	require.NoError(t, getErr)
	require.Equal(t, StatusDispatched, stored.Status)
	require.Equal(t, int64(40), f.stock.stock["DET-500"])
	require.Len(t, f.stock.batches, 1)

	last := f.invoices.calls[len(f.invoices.calls)-1]
	require.Equal(t, invoices.Dispatched, last.status)
}

func TestCreateReceptionPostsCostedMovements(t *testing.T) {
	f := newFixture(t)

	guide, err := f.service.CreateReception(context.Background(), CreateReceptionRequest{
		Reference:    "F001-009431",
		SupplierRUC:  "20100070970",
		SupplierName: "Distribuciones Norte SAC",
		Items: []ReceptionItemRequest{
			{SKU: "DET-500", Quantity: 10, UnitCost: decimal.RequireFromString("9.000")},
			{SKU: "JAB-090", Quantity: 40, UnitCost: decimal.RequireFromString("1.350")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "GC-25-0001", guide.GuideNumber)
	require.Equal(t, TypeReception, guide.Type)
	require.Equal(t, StatusDelivered, guide.Status)
	require.Equal(t, "F001-009431", guide.InvoiceNumber)
	require.Equal(t, "Detergente 500g", guide.Items[0].Name)

	require.Equal(t, int64(60), f.stock.stock["DET-500"])
	require.Equal(t, int64(60), f.stock.stock["JAB-090"])
	require.Len(t, f.stock.batches, 1)
	batch := f.stock.batches[0]
	require.Equal(t, inventory.MovementIn, batch[0].Type)
	require.Equal(t, "9.000", batch[0].UnitCost.StringFixed(3))
	require.Equal(t, guide.GuideNumber, batch[0].Reference)
}

func TestCreateReceptionRejectsUnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateReception(context.Background(), CreateReceptionRequest{
		Reference:    "F001-009431",
		SupplierName: "Distribuciones Norte SAC",
		Items: []ReceptionItemRequest{
			{SKU: "NO-SUCH", Quantity: 1, UnitCost: decimal.NewFromInt(5)},
		},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.repo.guides)
	require.Empty(t, f.stock.batches)
}

func TestCreateReceptionRejectsNegativeCost(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateReception(context.Background(), CreateReceptionRequest{
		Reference:    "F001-009431",
		SupplierName: "Distribuciones Norte SAC",
		Items: []ReceptionItemRequest{
			{SKU: "DET-500", Quantity: 1, UnitCost: decimal.NewFromInt(-1)},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.guides)
}

func TestCreateReceptionDiscardedWhenStockFails(t *testing.T) {
	f := newFixture(t)
	f.stock.err = errors.New("ledger unavailable")

	_, err := f.service.CreateReception(context.Background(), CreateReceptionRequest{
		Reference:    "F001-009431",
		SupplierName: "Distribuciones Norte SAC",
		Items: []ReceptionItemRequest{
			{SKU: "DET-500", Quantity: 10, UnitCost: decimal.RequireFromString("9.000")},
		},
	})
	require.Error(t, err)
	require.Empty(t, f.repo.guides)
}

func TestCreateReturnGuideRestoresStock(t *testing.T) {
	f := newFixture(t)

	guide, err := f.service.CreateReturnGuide(context.Background(), ReturnGuideInput{
		Reference:    "NC-25-0001",
		CustomerRUC:  "20601030013",
		CustomerName: "Comercial Aurora",
		Items: []GuideItem{
			{SKU: "DET-500", Name: "Detergente 500g", Quantity: 3},
		},
	})
	require.NoError(t, err)
	require.Equal(t, TypeReturn, guide.Type)
	require.Equal(t, StatusDelivered, guide.Status)
	require.Equal(t, "NC-25-0001", guide.InvoiceNumber)
	require.NotNil(t, guide.DeliveryDate)

	require.Equal(t, int64(53), f.stock.stock["DET-500"])
	require.Len(t, f.stock.batches, 1)
	require.Equal(t, inventory.MovementIn, f.stock.batches[0][0].Type)
	require.Equal(t, guide.GuideNumber, f.stock.batches[0][0].Reference)

	stored, err := f.repo.Get(context.Background(), guide.GuideNumber)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, stored.Status)
}

func TestCreateReturnGuideRequiresItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateReturnGuide(context.Background(), ReturnGuideInput{Reference: "NC-25-0001"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.guides)
}
