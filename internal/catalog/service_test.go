package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	products     map[string]Product
	categories   map[string]Category
	priceChanges []PriceChange
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: map[string]Product{}, categories: map[string]Category{}}
}

func (m *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	out := []Product{}
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, sku string) (Product, error) {
	p, ok := m.products[sku]
	if !ok {
		return Product{}, shared.NotFound("product", sku)
	}
	return p, nil
}

func (m *memoryRepo) GetMany(ctx context.Context, skus []string) (map[string]Product, error) {
	out := map[string]Product{}
	for _, sku := range skus {
		if p, ok := m.products[sku]; ok {
			out[sku] = p
		}
	}
	return out, nil
}

func (m *memoryRepo) Create(ctx context.Context, p Product) (Product, error) {
	if _, exists := m.products[p.SKU]; exists {
		return Product{}, shared.Duplicate("product", "sku", p.SKU)
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.products[p.SKU] = p
	return p, nil
}

func (m *memoryRepo) Update(ctx context.Context, p Product) error {
	if _, ok := m.products[p.SKU]; !ok {
		return shared.NotFound("product", p.SKU)
	}
	m.products[p.SKU] = p
	return nil
}

func (m *memoryRepo) Delete(ctx context.Context, sku string) error {
	if _, ok := m.products[sku]; !ok {
		return shared.NotFound("product", sku)
	}
	delete(m.products, sku)
	return nil
}

func (m *memoryRepo) InsertPriceChanges(ctx context.Context, changes []PriceChange) error {
	m.priceChanges = append(m.priceChanges, changes...)
	return nil
}

func (m *memoryRepo) ListPriceChanges(ctx context.Context, sku, priceType string) ([]PriceChange, error) {
	out := []PriceChange{}
	for _, c := range m.priceChanges {
		if c.ProductSKU != sku {
			continue
		}
		if priceType != "" && c.PriceType != priceType {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryRepo) ListCategories(ctx context.Context) ([]Category, error) {
	out := []Category{}
	for _, c := range m.categories {
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryRepo) CreateCategory(ctx context.Context, c Category) (Category, error) {
	m.categories[c.ID] = c
	return c, nil
}

type fakeLedger struct {
	posts []openingPost
	fail  error
}

type openingPost struct {
	sku       string
	qty       int64
	unitCost  decimal.Decimal
	reference string
}

func (f *fakeLedger) PostOpeningStock(ctx context.Context, sku string, qty int64, unitCost decimal.Decimal, reference string) error {
	if f.fail != nil {
		return f.fail
	}
	f.posts = append(f.posts, openingPost{sku: sku, qty: qty, unitCost: unitCost, reference: reference})
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *fakeLedger) {
	t.Helper()
	repo := newMemoryRepo()
	ledger := &fakeLedger{}
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, ledger), repo, ledger
}

func validCreateRequest() CreateProductRequest {
	return CreateProductRequest{
		SKU:            "det-500",
		Name:           "Detergente 500g",
		Brand:          "Limpiamax",
		PriceRetail:    decimal.NewFromFloat(12.50),
		PriceWholesale: decimal.NewFromFloat(10.00),
		Cost:           decimal.NewFromFloat(7.80),
		InitialStock:   24,
		LoyaltyPoints:  5,
	}
}

func TestCreateProductPostsOpeningStock(t *testing.T) {
	svc, repo, ledger := newTestService(t)

	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	require.Equal(t, "DET-500", created.SKU)
	require.Equal(t, int64(24), created.StockCurrent)

	require.Len(t, ledger.posts, 1)
	require.Equal(t, "INITIAL-DET-500", ledger.posts[0].reference)
	require.Equal(t, int64(24), ledger.posts[0].qty)
	require.True(t, ledger.posts[0].unitCost.Equal(decimal.NewFromFloat(7.8)))

	stored, err := repo.Get(context.Background(), "DET-500")
	require.NoError(t, err)
	require.True(t, stored.PriceWholesale.Equal(decimal.NewFromFloat(10)))
}

func TestCreateProductZeroStockSkipsLedger(t *testing.T) {
	svc, _, ledger := newTestService(t)

	req := validCreateRequest()
	req.InitialStock = 0
	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, ledger.posts)
}

func TestCreateProductDuplicateSKU(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), validCreateRequest())
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestCreateProductRejectsWholesaleBelowCost(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := validCreateRequest()
	req.PriceWholesale = decimal.NewFromFloat(5.00)
	_, err := svc.Create(context.Background(), req)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateProductPatchesFields(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	name := "Detergente 500g Limon"
	points := int64(8)
	updated, err := svc.Update(context.Background(), "DET-500", UpdateProductRequest{
		Name:          &name,
		LoyaltyPoints: &points,
	})
	require.NoError(t, err)
	require.Equal(t, name, updated.Name)
	require.Equal(t, int64(8), updated.LoyaltyPoints)
	require.Equal(t, "Limpiamax", updated.Brand)
}

func TestUpdateProductRecordsPriceHistory(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	retail := decimal.NewFromFloat(13.90)
	_, err = svc.Update(context.Background(), "DET-500", UpdateProductRequest{
		PriceRetail:       &retail,
		ChangedBy:         "mruiz",
		PriceChangeReason: "lista marzo",
	})
	require.NoError(t, err)

	require.Len(t, repo.priceChanges, 1)
	change := repo.priceChanges[0]
	require.Equal(t, "DET-500", change.ProductSKU)
	require.Equal(t, PriceListRetail, change.PriceType)
	require.True(t, change.OldPrice.Equal(decimal.NewFromFloat(12.50)))
	require.True(t, change.NewPrice.Equal(decimal.NewFromFloat(13.90)))
	require.Equal(t, "mruiz", change.ChangedBy)
	require.Equal(t, "lista marzo", change.Reason)

	history, err := svc.PriceHistory(context.Background(), "DET-500", PriceListRetail)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestUpdateProductUnchangedPriceSkipsHistory(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	sameRetail := decimal.NewFromFloat(12.50)
	wholesale := decimal.NewFromFloat(11.00)
	_, err = svc.Update(context.Background(), "DET-500", UpdateProductRequest{
		PriceRetail:    &sameRetail,
		PriceWholesale: &wholesale,
	})
	require.NoError(t, err)

	// Only the wholesale list moved.
	require.Len(t, repo.priceChanges, 1)
	require.Equal(t, PriceListWholesale, repo.priceChanges[0].PriceType)
}

func TestDeleteProductBlockedWhileStocked(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	p := repo.products["DET-500"]
	p.StockCurrent = 24
	repo.products["DET-500"] = p

	err = svc.Delete(context.Background(), "DET-500")
	require.ErrorIs(t, err, shared.ErrValidation)

	p.StockCurrent = 0
	repo.products["DET-500"] = p
	require.NoError(t, svc.Delete(context.Background(), "DET-500"))
}
