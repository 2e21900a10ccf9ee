package notes

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

	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/sales/invoices"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// memoryRepo implements RepositoryPort over a map. WithTx applies the
// callback against a snapshot and only keeps the result on success.
type memoryRepo struct {
	notes      map[string]Note
	nextNumber int
	insertErr  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{notes: map[string]Note{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	snapshot := &memoryTx{repo: m, notes: map[string]Note{}, nextNumber: m.nextNumber}
	for k, v := range m.notes {
		snapshot.notes[k] = v
	}
	if err := fn(ctx, snapshot); err != nil {
		return err
	}
	m.notes = snapshot.notes
	m.nextNumber = snapshot.nextNumber
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, number string) (Note, error) {
	note, ok := m.notes[number]
	if !ok {
		return Note{}, shared.NotFound("note", number)
	}
	return note, nil
}

func (m *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Note, int, error) {
	out := []Note{}
	for _, note := range m.notes {
		out = append(out, note)
	}
	return out, len(out), nil
}

type memoryTx struct {
	repo       *memoryRepo
	notes      map[string]Note
	nextNumber int
}

func (t *memoryTx) IssueNumber(ctx context.Context, kind string, now time.Time) (string, error) {
	t.nextNumber++
	return fmt.Sprintf("%s-%02d-%04d", kind, now.Year()%100, t.nextNumber), nil
}

func (t *memoryTx) Insert(ctx context.Context, note Note) error {
	if t.repo.insertErr != nil {
		return t.repo.insertErr
	}
	t.notes[note.NoteNumber] = note
	return nil
}

func (t *memoryTx) SetReturnGuide(ctx context.Context, number, guideID string) error {
	note, ok := t.notes[number]
	if !ok {
		return shared.NotFound("note", number)
	}
	note.ReturnGuideID = guideID
	t.notes[number] = note
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, number string) error {
	if _, ok := t.notes[number]; !ok {
		return shared.NotFound("note", number)
	}
	delete(t.notes, number)
	return nil
}

type linkedNote struct {
	invoice string
	summary string
}

type stubInvoices struct {
	invoice invoices.Invoice
	linked  []linkedNote
}

func (s *stubInvoices) Get(ctx context.Context, number string) (invoices.Invoice, error) {
	if number != s.invoice.InvoiceNumber {
		return invoices.Invoice{}, shared.NotFound("invoice", number)
	}
	return s.invoice, nil
}

func (s *stubInvoices) LinkNote(ctx context.Context, number, summary string) error {
	s.linked = append(s.linked, linkedNote{invoice: number, summary: summary})
	return nil
}

type stubGuides struct {
	returns []dispatch.ReturnGuideInput
	err     error
}

func (s *stubGuides) CreateReturnGuide(ctx context.Context, input dispatch.ReturnGuideInput) (dispatch.Guide, error) {
	if s.err != nil {
		return dispatch.Guide{}, s.err
	}
	s.returns = append(s.returns, input)
	return dispatch.Guide{
		GuideNumber:   fmt.Sprintf("GV-25-%04d", len(s.returns)),
		Type:          dispatch.TypeReturn,
		Status:        dispatch.StatusDelivered,
		InvoiceNumber: input.Reference,
	}, nil
}

type fixture struct {
	service  *Service
	repo     *memoryRepo
	invoices *stubInvoices
	guides   *stubGuides
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemoryRepo(),
		invoices: &stubInvoices{invoice: invoices.Invoice{
			InvoiceNumber: "FV-25-0001",
			OrderNumber:   "OV-25-0001",
			CustomerRUC:   "20601030013",
			CustomerName:  "Comercial Aurora",
			Items: []doc.DocumentItem{
				{SKU: "DET-500", Name: "Detergente 500g", Quantity: 10, UnitPrice: decimal.NewFromInt(12)},
				{SKU: "JAB-090", Name: "Jabon 90g", Quantity: 5, UnitPrice: decimal.NewFromInt(3)},
			},
		}},
		guides: &stubGuides{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(logger, f.repo, f.invoices, f.guides)
	f.service.now = func() time.Time { return time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC) }
	return f
}

func TestCreateCreditNotePricesFromInvoice(t *testing.T) {
	f := newFixture(t)

	note, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0001",
		Type:          TypeCredit,
		Reason:        ReasonDiscount,
		Items:         []ItemRequest{{SKU: "DET-500", Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, "NC-25-0001", note.NoteNumber)
	require.Equal(t, "48.000", note.TotalAmount.StringFixed(3))
	require.Equal(t, "12", note.Items[0].UnitPrice.String())
	require.Empty(t, note.ReturnGuideID)
	require.Empty(t, f.guides.returns)

	require.Len(t, f.invoices.linked, 1)
	require.Equal(t, "FV-25-0001", f.invoices.linked[0].invoice)
	require.Equal(t, "NC-25-0001 CREDIT 48.000", f.invoices.linked[0].summary)
}

func TestCreateDebitNoteUsesOwnSequence(t *testing.T) {
	f := newFixture(t)

	note, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0001",
		Type:          TypeDebit,
		Reason:        ReasonError,
		Items:         []ItemRequest{{SKU: "JAB-090", Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, "ND-25-0001", note.NoteNumber)
	require.Equal(t, "6.000", note.TotalAmount.StringFixed(3))
	require.Empty(t, f.guides.returns)
}

func TestCreateReturnPostsReturnGuide(t *testing.T) {
	f := newFixture(t)

	note, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0001",
		Type:          TypeCredit,
		Reason:        ReasonReturn,
		Items: []ItemRequest{
			{SKU: "DET-500", Quantity: 3},
			{SKU: "JAB-090", Quantity: 5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "GV-25-0001", note.ReturnGuideID)
	require.Equal(t, "51.000", note.TotalAmount.StringFixed(3))

	require.Len(t, f.guides.returns, 1)
	input := f.guides.returns[0]
	require.Equal(t, "NC-25-0001", input.Reference)
	require.Equal(t, "20601030013", input.CustomerRUC)
	require.Len(t, input.Items, 2)
	require.Equal(t, int64(3), input.Items[0].Quantity)

	stored, err := f.repo.Get(context.Background(), "NC-25-0001")
	require.NoError(t, err)
	require.Equal(t, "GV-25-0001", stored.ReturnGuideID)
}

func TestCreateReturnRequiresCreditNote(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0001",
		Type:          TypeDebit,
		Reason:        ReasonReturn,
		Items:         []ItemRequest{{SKU: "DET-500", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.notes)
}

func TestCreateRejectsItemNotOnInvoice(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0001",
		Type:          TypeCredit,
		Reason:        ReasonReturn,
		Items: []ItemRequest{
			{SKU: "DET-500", Quantity: 3},
			{SKU: "ARR-1KG", Quantity: 1},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.notes)
	require.Empty(t, f.guides.returns)
	require.Empty(t, f.invoices.linked)
}

func TestCreateRejectsQuantityAboveInvoiced(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0001",
		Type:          TypeCredit,
		Reason:        ReasonReturn,
		Items: []ItemRequest{
			{SKU: "JAB-090", Quantity: 5},
			{SKU: "DET-500", Quantity: 11},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.notes)
	require.Empty(t, f.guides.returns)
}

func TestCreateRejectsDuplicateItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0001",
		Type:          TypeCredit,
		Reason:        ReasonDiscount,
		Items: []ItemRequest{
			{SKU: "DET-500", Quantity: 2},
			{SKU: "DET-500", Quantity: 3},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.notes)
}

func TestCreateDiscardsNoteWhenReturnGuideFails(t *testing.T) {
	f := newFixture(t)
	f.guides.err = errors.New("stock posting unavailable")

	_, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0001",
		Type:          TypeCredit,
		Reason:        ReasonReturn,
		Items:         []ItemRequest{{SKU: "DET-500", Quantity: 3}},
	})
	require.Error(t, err)
	require.Empty(t, f.repo.notes)
	require.Empty(t, f.invoices.linked)
}

func TestCreateUnknownInvoice(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), CreateNoteRequest{
		InvoiceNumber: "FV-25-0099",
		Type:          TypeCredit,
		Reason:        ReasonDiscount,
		Items:         []ItemRequest{{SKU: "DET-500", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
