package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/sales/invoices"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	Get(ctx context.Context, number string) (Guide, error)
	List(ctx context.Context, filters ListFilters) ([]Guide, int, error)
}

// InvoicesPort is the slice of the invoice service the guides touch.
type InvoicesPort interface {
	Get(ctx context.Context, number string) (invoices.Invoice, error)
	SetDispatchStatus(ctx context.Context, number string, status invoices.DispatchStatus, guideID string) error
}

// CatalogPort resolves products for the cost snapshot.
type CatalogPort interface {
	GetMany(ctx context.Context, skus []string) (map[string]catalog.Product, error)
}

// StockPort posts the guide's stock movements as one atomic batch.
type StockPort interface {
	PostBatch(ctx context.Context, inputs []inventory.MovementInput) ([]inventory.Movement, error)
}

// Service drives the guide lifecycle.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	invoices InvoicesPort
	catalog  CatalogPort
	stock    StockPort
	now      func() time.Time
}

func NewService(logger *slog.Logger, repo RepositoryPort, invoicesPort InvoicesPort, catalogPort CatalogPort, stock StockPort) *Service {
	return &Service{
		logger:   logger,
		repo:     repo,
		invoices: invoicesPort,
		catalog:  catalogPort,
		stock:    stock,
		now:      time.Now,
	}
}

func (s *Service) Get(ctx context.Context, number string) (Guide, error) {
	return s.repo.Get(ctx, number)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Guide, int, error) {
	return s.repo.List(ctx, filters)
}

// CreateFromInvoice creates a DRAFT guide covering every invoice line. Item
// costs snapshot the product's weighted-average cost at this moment. When the
// invoice already has a guide that guide is returned unchanged.
func (s *Service) CreateFromInvoice(ctx context.Context, req CreateGuideRequest) (Guide, error) {
	invoice, err := s.invoices.Get(ctx, req.InvoiceNumber)
	if err != nil {
		return Guide{}, err
	}

	skus := make([]string, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		skus = append(skus, item.SKU)
	}
	products, err := s.catalog.GetMany(ctx, skus)
	if err != nil {
		return Guide{}, err
	}

	now := s.now()
	guide := Guide{
		SunatNumber:     req.SunatNumber,
		Type:            TypeDispatch,
		Status:          StatusDraft,
		InvoiceNumber:   invoice.InvoiceNumber,
		OrderNumber:     invoice.OrderNumber,
		CustomerRUC:     invoice.CustomerRUC,
		CustomerName:    invoice.CustomerName,
		DeliveryAddress: invoice.DeliveryAddress,
		VehiclePlate:    req.VehiclePlate,
		DriverName:      req.DriverName,
		Notes:           req.Notes,
		IssueDate:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range invoice.Items {
		line := GuideItem{SKU: item.SKU, Name: item.Name, Quantity: item.Quantity}
		if product, ok := products[item.SKU]; ok {
			line.Name = product.Name
			line.UnitCost = product.Cost
		}
		guide.Items = append(guide.Items, line)
	}

	var existing *Guide
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		prior, err := repo.GetByInvoice(ctx, invoice.InvoiceNumber)
		if err == nil {
			existing = &prior
			return nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return err
		}

		guide.GuideNumber, err = repo.IssueNumber(ctx, sequence.PrefixGuide, now)
		if err != nil {
			return err
		}
		return repo.Insert(ctx, guide)
	})
	if err != nil {
		return Guide{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	if err := s.invoices.SetDispatchStatus(ctx, invoice.InvoiceNumber, invoice.DispatchStatus, guide.GuideNumber); err != nil {
		s.logger.Error("linking guide to invoice failed",
			"guide", guide.GuideNumber, "invoice", invoice.InvoiceNumber, "error", err)
	}

	s.logger.Info("guide created", "guide", guide.GuideNumber, "invoice", invoice.InvoiceNumber)
	return guide, nil
}

// Dispatch moves a DRAFT guide to DISPATCHED and posts one OUT movement per
// line referencing the guide number. The status flips first under a row
// lock, so a concurrent dispatch of the same guide cannot post twice; a
// failed batch flips it back.
func (s *Service) Dispatch(ctx context.Context, number string) (Guide, error) {
	var guide Guide
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		current, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return shared.Validationf("guide %s must be DRAFT to dispatch, is %s", number, current.Status)
		}
		now := s.now()
		current.Status = StatusDispatched
		current.DispatchDate = &now
		if err := repo.UpdateStatus(ctx, current); err != nil {
			return err
		}
		guide = current
		return nil
	})
	if err != nil {
		return Guide{}, err
	}

	if _, err := s.stock.PostBatch(ctx, s.movements(guide, inventory.MovementOut, guide.GuideNumber)); err != nil {
		revertErr := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
			current, getErr := repo.GetForUpdate(ctx, number)
			if getErr != nil {
				return getErr
			}
			current.Status = StatusDraft
			current.DispatchDate = nil
			return repo.UpdateStatus(ctx, current)
		})
		if revertErr != nil {
			s.logger.Error("reverting guide after failed stock posting failed",
				"guide", number, "error", revertErr)
		}
		return Guide{}, err
	}

	if err := s.invoices.SetDispatchStatus(ctx, guide.InvoiceNumber, invoices.Dispatched, guide.GuideNumber); err != nil {
		s.logger.Error("updating invoice dispatch status failed",
			"guide", number, "invoice", guide.InvoiceNumber, "error", err)
	}

	s.logger.Info("guide dispatched", "guide", number, "items", len(guide.Items))
	return guide, nil
}

// Deliver confirms delivery of a dispatched guide. No stock effect.
func (s *Service) Deliver(ctx context.Context, number string, req DeliverRequest) (Guide, error) {
	var guide Guide
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		current, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if current.Status != StatusDispatched {
			return shared.Validationf("guide %s must be DISPATCHED to deliver, is %s", number, current.Status)
		}
		now := s.now()
		current.Status = StatusDelivered
		current.DeliveryDate = &now
		current.ReceivedBy = req.ReceivedBy
		if err := repo.UpdateStatus(ctx, current); err != nil {
			return err
		}
		guide = current
		return nil
	})
	if err != nil {
		return Guide{}, err
	}

	if err := s.invoices.SetDispatchStatus(ctx, guide.InvoiceNumber, invoices.Delivered, guide.GuideNumber); err != nil {
		s.logger.Error("updating invoice dispatch status failed",
			"guide", number, "invoice", guide.InvoiceNumber, "error", err)
	}
	return guide, nil
}

// Cancel removes the guide. A guide that already moved stock first gets one
// compensating IN per line referencing CANCEL-<guide>, at the cost each line
// shipped with; only after the restore lands is the row deleted and the
// invoice returned to NOT_DISPATCHED. A failed restore leaves the guide in
// place; a failed deletion posts the restored stock back out.
func (s *Service) Cancel(ctx context.Context, number string) error {
	guide, err := s.repo.Get(ctx, number)
	if err != nil {
		return err
	}

	reference := fmt.Sprintf("CANCEL-%s", number)
	if guide.Status != StatusDraft {
		if _, err := s.stock.PostBatch(ctx, s.movements(guide, inventory.MovementIn, reference)); err != nil {
			s.logger.Error("restoring stock before guide cancellation failed",
				"guide", number, "error", err)
			return err
		}
	}

	if err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		return repo.Delete(ctx, number)
	}); err != nil {
		if guide.Status != StatusDraft {
			if _, revertErr := s.stock.PostBatch(ctx, s.movements(guide, inventory.MovementOut, reference)); revertErr != nil {
				s.logger.Error("reverting stock restore after failed guide deletion failed",
					"guide", number, "error", revertErr)
			}
		}
		return err
	}

	if err := s.invoices.SetDispatchStatus(ctx, guide.InvoiceNumber, invoices.NotDispatched, ""); err != nil {
		s.logger.Error("updating invoice dispatch status failed",
			"guide", number, "invoice", guide.InvoiceNumber, "error", err)
	}

	s.logger.Info("guide cancelled", "guide", number, "was", guide.Status)
	return nil
}

// CreateReception records goods received from a supplier: a terminal
// RECEPTION guide drawing GC numbers plus one IN movement per line at the
// invoiced unit cost, which folds into the product's weighted average.
func (s *Service) CreateReception(ctx context.Context, req CreateReceptionRequest) (Guide, error) {
	if len(req.Items) == 0 {
		return Guide{}, shared.Validationf("reception requires at least one item")
	}
	skus := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.UnitCost.IsNegative() {
			return Guide{}, shared.Validationf("unit cost for %s cannot be negative", item.SKU)
		}
		skus = append(skus, item.SKU)
	}
	products, err := s.catalog.GetMany(ctx, skus)
	if err != nil {
		return Guide{}, err
	}

	now := s.now()
	guide := Guide{
		SunatNumber:   req.SunatNumber,
		Type:          TypeReception,
		Status:        StatusDelivered,
		InvoiceNumber: req.Reference,
		CustomerRUC:   req.SupplierRUC,
		CustomerName:  req.SupplierName,
		Notes:         req.Notes,
		IssueDate:     now,
		DeliveryDate:  &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, item := range req.Items {
		product, ok := products[item.SKU]
		if !ok {
			return Guide{}, shared.NotFound("product", item.SKU)
		}
		guide.Items = append(guide.Items, GuideItem{
			SKU:      item.SKU,
			Name:     product.Name,
			Quantity: item.Quantity,
			UnitCost: item.UnitCost,
		})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		number, err := repo.IssueNumber(ctx, sequence.PrefixReceptionGuide, now)
		if err != nil {
			return err
		}
		guide.GuideNumber = number
		return repo.Insert(ctx, guide)
	})
	if err != nil {
		return Guide{}, err
	}

	if _, err := s.stock.PostBatch(ctx, s.movements(guide, inventory.MovementIn, guide.GuideNumber)); err != nil {
		if delErr := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
			return repo.Delete(ctx, guide.GuideNumber)
		}); delErr != nil {
			s.logger.Error("removing reception guide after failed stock posting failed",
				"guide", guide.GuideNumber, "error", delErr)
		}
		return Guide{}, err
	}

	s.logger.Info("reception guide created", "guide", guide.GuideNumber, "reference", req.Reference)
	return guide, nil
}

// ReturnGuideInput describes a customer return documented by a credit note.
type ReturnGuideInput struct {
	Reference    string
	CustomerRUC  string
	CustomerName string
	Items        []GuideItem
	Notes        string
}

// CreateReturnGuide records a customer return: a terminal RETURN guide plus
// one IN movement per line restoring the stock. The guide references the
// credit note that caused it.
func (s *Service) CreateReturnGuide(ctx context.Context, input ReturnGuideInput) (Guide, error) {
	if len(input.Items) == 0 {
		return Guide{}, shared.Validationf("return requires at least one item")
	}

	now := s.now()
	guide := Guide{
		Type:          TypeReturn,
		Status:        StatusDelivered,
		InvoiceNumber: input.Reference,
		CustomerRUC:   input.CustomerRUC,
		CustomerName:  input.CustomerName,
		Items:         input.Items,
		Notes:         input.Notes,
		IssueDate:     now,
		DeliveryDate:  &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		number, err := repo.IssueNumber(ctx, sequence.PrefixGuide, now)
		if err != nil {
			return err
		}
		guide.GuideNumber = number
		return repo.Insert(ctx, guide)
	})
	if err != nil {
		return Guide{}, err
	}

	inputs := make([]inventory.MovementInput, 0, len(guide.Items))
	for _, item := range guide.Items {
		inputs = append(inputs, inventory.MovementInput{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			Type:      inventory.MovementIn,
			Reference: guide.GuideNumber,
			Notes:     fmt.Sprintf("return per %s", input.Reference),
		})
	}
	if _, err := s.stock.PostBatch(ctx, inputs); err != nil {
		if delErr := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
			return repo.Delete(ctx, guide.GuideNumber)
		}); delErr != nil {
			s.logger.Error("removing return guide after failed stock posting failed",
				"guide", guide.GuideNumber, "error", delErr)
		}
		return Guide{}, err
	}

	s.logger.Info("return guide created", "guide", guide.GuideNumber, "reference", input.Reference)
	return guide, nil
}

func (s *Service) movements(guide Guide, movementType inventory.MovementType, reference string) []inventory.MovementInput {
	inputs := make([]inventory.MovementInput, 0, len(guide.Items))
	for _, item := range guide.Items {
		cost := item.UnitCost
		inputs = append(inputs, inventory.MovementInput{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			Type:      movementType,
			UnitCost:  &cost,
			Reference: reference,
			Notes:     fmt.Sprintf("guide %s", guide.GuideNumber),
		})
	}
	return inputs
}
