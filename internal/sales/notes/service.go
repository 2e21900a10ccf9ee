package notes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/sales/invoices"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	Get(ctx context.Context, number string) (Note, error)
	List(ctx context.Context, filters ListFilters) ([]Note, int, error)
}

// InvoicesPort is the slice of the invoice service notes touch.
type InvoicesPort interface {
	Get(ctx context.Context, number string) (invoices.Invoice, error)
	LinkNote(ctx context.Context, number, summary string) error
}

// GuidesPort creates the return guide backing a merchandise return.
type GuidesPort interface {
	CreateReturnGuide(ctx context.Context, input dispatch.ReturnGuideInput) (dispatch.Guide, error)
}

// Service emits credit and debit notes against invoices.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	invoices InvoicesPort
	guides   GuidesPort
	now      func() time.Time
}

func NewService(logger *slog.Logger, repo RepositoryPort, invoicesPort InvoicesPort, guides GuidesPort) *Service {
	return &Service{
		logger:   logger,
		repo:     repo,
		invoices: invoicesPort,
		guides:   guides,
		now:      time.Now,
	}
}

// Create validates every line against the invoice before any side effect:
// a note either takes effect in full or leaves stock and the invoice alone.
// A credit note for a return also creates a RETURN guide restoring stock.
func (s *Service) Create(ctx context.Context, req CreateNoteRequest) (Note, error) {
	if req.Reason == ReasonReturn && req.Type != TypeCredit {
		return Note{}, shared.Validationf("returns require a credit note")
	}

	invoice, err := s.invoices.Get(ctx, req.InvoiceNumber)
	if err != nil {
		return Note{}, err
	}

	items, err := noteItems(invoice, req.Items)
	if err != nil {
		return Note{}, err
	}

	now := s.now()
	note := Note{
		InvoiceNumber: invoice.InvoiceNumber,
		CustomerRUC:   invoice.CustomerRUC,
		CustomerName:  invoice.CustomerName,
		Type:          req.Type,
		Reason:        req.Reason,
		Items:         items,
		TotalAmount:   doc.ItemsTotal(items),
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	kind := sequence.PrefixCreditNote
	if note.Type == TypeDebit {
		kind = sequence.PrefixDebitNote
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		number, err := repo.IssueNumber(ctx, kind, now)
		if err != nil {
			return err
		}
		note.NoteNumber = number
		return repo.Insert(ctx, note)
	})
	if err != nil {
		return Note{}, err
	}

	if note.Type == TypeCredit && note.Reason == ReasonReturn {
		guide, err := s.guides.CreateReturnGuide(ctx, dispatch.ReturnGuideInput{
			Reference:    note.NoteNumber,
			CustomerRUC:  note.CustomerRUC,
			CustomerName: note.CustomerName,
			Items:        guideItems(items),
			Notes:        fmt.Sprintf("return credited by %s", note.NoteNumber),
		})
		if err != nil {
			s.discard(ctx, note.NoteNumber)
			return Note{}, err
		}
		note.ReturnGuideID = guide.GuideNumber
		if err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
			return repo.SetReturnGuide(ctx, note.NoteNumber, guide.GuideNumber)
		}); err != nil {
			s.logger.Error("linking return guide to note failed",
				"note", note.NoteNumber, "guide", guide.GuideNumber, "error", err)
		}
	}

	summary := fmt.Sprintf("%s %s %s", note.NoteNumber, note.Type, note.TotalAmount.StringFixed(3))
	if err := s.invoices.LinkNote(ctx, invoice.InvoiceNumber, summary); err != nil {
		s.logger.Error("linking note to invoice failed",
			"note", note.NoteNumber, "invoice", invoice.InvoiceNumber, "error", err)
	}

	s.logger.Info("note emitted", "note", note.NoteNumber,
		"invoice", invoice.InvoiceNumber, "type", note.Type, "reason", note.Reason,
		"total", note.TotalAmount)
	return note, nil
}

// Get returns one note.
func (s *Service) Get(ctx context.Context, number string) (Note, error) {
	return s.repo.Get(ctx, number)
}

// List returns a page of notes.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Note, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) discard(ctx context.Context, number string) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		return repo.Delete(ctx, number)
	})
	if err != nil {
		s.logger.Error("discarding note after failed return guide failed",
			"note", number, "error", err)
	}
}

// noteItems resolves every requested line against the invoice. Quantities
// are capped by the invoiced quantity and prices always come from the
// invoice, never from the request.
func noteItems(invoice invoices.Invoice, requested []ItemRequest) ([]doc.DocumentItem, error) {
	lines := make(map[string]doc.DocumentItem, len(invoice.Items))
	for _, item := range invoice.Items {
		lines[item.SKU] = item
	}

	seen := make(map[string]bool, len(requested))
	items := make([]doc.DocumentItem, 0, len(requested))
	for _, req := range requested {
		if seen[req.SKU] {
			return nil, shared.Validationf("duplicate item %s", req.SKU)
		}
		seen[req.SKU] = true

		line, ok := lines[req.SKU]
		if !ok {
			return nil, shared.Validationf("item %s is not on invoice %s", req.SKU, invoice.InvoiceNumber)
		}
		if req.Quantity > line.Quantity {
			return nil, shared.Validationf("item %s: quantity %d exceeds invoiced %d",
				req.SKU, req.Quantity, line.Quantity)
		}
		items = append(items, doc.DocumentItem{
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  req.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return items, nil
}

func guideItems(items []doc.DocumentItem) []dispatch.GuideItem {
	out := make([]dispatch.GuideItem, 0, len(items))
	for _, item := range items {
		out = append(out, dispatch.GuideItem{
			SKU:      item.SKU,
			Name:     item.Name,
			Quantity: item.Quantity,
		})
	}
	return out
}
