package invoices

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	Get(ctx context.Context, number string) (Invoice, error)
	List(ctx context.Context, filters ListFilters) ([]Invoice, int, error)
	CountByOrder(ctx context.Context, orderNumber string) (int, error)
}

// OrdersPort is the slice of the order service used when invoicing. Applying
// invoiced quantities owns the cap validation and status derivation.
type OrdersPort interface {
	Get(ctx context.Context, number string) (orders.Order, error)
	ApplyInvoicedQuantities(ctx context.Context, number string, deltas map[string]int64) (orders.Order, error)
}

// IssuerPort captures the company profile snapshot.
type IssuerPort interface {
	Snapshot(ctx context.Context) (doc.IssuerInfo, error)
}

// Service drives the invoice lifecycle.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	orders OrdersPort
	issuer IssuerPort
	now    func() time.Time
}

func NewService(logger *slog.Logger, repo RepositoryPort, ordersPort OrdersPort, issuer IssuerPort) *Service {
	return &Service{logger: logger, repo: repo, orders: ordersPort, issuer: issuer, now: time.Now}
}

func (s *Service) Get(ctx context.Context, number string) (Invoice, error) {
	return s.repo.Get(ctx, number)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Invoice, int, error) {
	return s.repo.List(ctx, filters)
}

// Create invoices an order, fully or for an explicit item subset. The order's
// per-item coverage is raised first (which also rejects quantities beyond the
// remaining amount); a failure storing the invoice walks the coverage back.
func (s *Service) Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error) {
	order, err := s.orders.Get(ctx, req.OrderNumber)
	if err != nil {
		return Invoice{}, err
	}
	if !order.Status.Fulfillable() {
		return Invoice{}, shared.Validationf("order %s cannot be invoiced in status %s",
			order.OrderNumber, order.Status)
	}

	deltas, err := invoiceDeltas(order, req.Items)
	if err != nil {
		return Invoice{}, err
	}

	updated, err := s.orders.ApplyInvoicedQuantities(ctx, order.OrderNumber, deltas)
	if err != nil {
		return Invoice{}, err
	}

	var items []doc.DocumentItem
	for _, line := range updated.Items {
		quantity, ok := deltas[line.SKU]
		if !ok || quantity == 0 {
			continue
		}
		items = append(items, doc.DocumentItem{
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	issuer, err := s.issuer.Snapshot(ctx)
	if err != nil {
		s.compensate(ctx, order.OrderNumber, deltas)
		return Invoice{}, err
	}

	now := s.now()
	invoice := Invoice{
		OrderNumber:     order.OrderNumber,
		CustomerRUC:     order.CustomerRUC,
		CustomerName:    order.CustomerName,
		DeliveryAddress: order.DeliveryAddress,
		Items:           items,
		TotalAmount:     doc.ItemsTotal(items),
		PaymentStatus:   PaymentPending,
		DispatchStatus:  NotDispatched,
		TermDays:        order.TermDays,
		Issuer:          issuer,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.PaymentAmount != nil {
		amount := req.PaymentAmount.Round(3)
		if !amount.IsPositive() {
			s.compensate(ctx, order.OrderNumber, deltas)
			return Invoice{}, shared.Validationf("payment amount must be positive")
		}
		if amount.GreaterThan(invoice.TotalAmount) {
			s.compensate(ctx, order.OrderNumber, deltas)
			return Invoice{}, shared.Validationf("payment %s exceeds invoice total %s",
				amount, invoice.TotalAmount)
		}
		invoice.Payments = []doc.Payment{{Amount: amount, Date: now, Notes: req.PaymentNotes}}
		invoice.AmountPaid = amount
		invoice.PaymentStatus = DerivePaymentStatus(invoice.TotalAmount, amount)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		number, err := repo.IssueNumber(ctx, sequence.PrefixInvoice, now)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number
		return repo.Insert(ctx, invoice)
	})
	if err != nil {
		s.compensate(ctx, order.OrderNumber, deltas)
		return Invoice{}, err
	}

	s.logger.Info("invoice created", "invoice", invoice.InvoiceNumber,
		"order", invoice.OrderNumber, "total", invoice.TotalAmount,
		"order_status", updated.Status)
	return invoice, nil
}

// invoiceDeltas resolves how much of each line to invoice: the explicit
// subset when given, otherwise everything still uncovered.
func invoiceDeltas(order orders.Order, subset []SubsetItem) (map[string]int64, error) {
	deltas := map[string]int64{}
	if len(subset) == 0 {
		for _, line := range order.Items {
			if remaining := line.Quantity - line.InvoicedQuantity; remaining > 0 {
				deltas[line.SKU] = remaining
			}
		}
		if len(deltas) == 0 {
			return nil, shared.Validationf("order %s is already fully invoiced", order.OrderNumber)
		}
		return deltas, nil
	}
	for _, item := range subset {
		if item.Quantity <= 0 {
			return nil, shared.Validationf("invoiced quantity for %s must be positive", item.SKU)
		}
		if _, dup := deltas[item.SKU]; dup {
			return nil, shared.Validationf("product %s listed twice", item.SKU)
		}
		deltas[item.SKU] = item.Quantity
	}
	return deltas, nil
}

// compensate walks order coverage back after a failed invoice store.
func (s *Service) compensate(ctx context.Context, orderNumber string, deltas map[string]int64) {
	reverse := make(map[string]int64, len(deltas))
	for sku, quantity := range deltas {
		reverse[sku] = -quantity
	}
	if _, err := s.orders.ApplyInvoicedQuantities(ctx, orderNumber, reverse); err != nil {
		s.logger.Error("reverting invoice coverage failed", "order", orderNumber, "error", err)
	}
}

// RegisterPayment appends one payment. Paid invoices and amounts above the
// pending balance are rejected.
func (s *Service) RegisterPayment(ctx context.Context, number string, req PaymentRequest) (Invoice, error) {
	amount := req.Amount.Round(3)
	if !amount.IsPositive() {
		return Invoice{}, shared.Validationf("payment amount must be positive")
	}

	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		invoice, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if invoice.PaymentStatus == PaymentPaid {
			return shared.Validationf("invoice %s is already paid", number)
		}
		if amount.GreaterThan(invoice.Pending()) {
			return shared.Validationf("payment %s exceeds pending balance %s",
				amount, invoice.Pending())
		}

		payment := doc.Payment{Amount: amount, Date: s.now(), Notes: req.Notes}
		paid := invoice.AmountPaid.Add(amount)
		status := DerivePaymentStatus(invoice.TotalAmount, paid)
		if err := repo.AppendPayment(ctx, number, payment, paid, status); err != nil {
			return err
		}

		invoice.Payments = append(invoice.Payments, payment)
		invoice.AmountPaid = paid
		invoice.PaymentStatus = status
		updated = invoice
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	s.logger.Info("payment registered", "invoice", number, "amount", amount,
		"status", updated.PaymentStatus)
	return updated, nil
}

// Delete removes an invoice that has not shipped and walks the order's
// invoice coverage back down, which also re-derives the order status.
func (s *Service) Delete(ctx context.Context, number string) error {
	var removed Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		invoice, err := repo.GetForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if invoice.DispatchStatus != NotDispatched {
			return shared.Validationf("invoice %s has been dispatched and cannot be deleted", number)
		}
		removed = invoice
		return repo.Delete(ctx, number)
	})
	if err != nil {
		return err
	}

	deltas := make(map[string]int64, len(removed.Items))
	for _, item := range removed.Items {
		deltas[item.SKU] = -item.Quantity
	}
	if len(deltas) > 0 {
		if _, err := s.orders.ApplyInvoicedQuantities(ctx, removed.OrderNumber, deltas); err != nil {
			s.logger.Error("reverting order coverage after invoice deletion failed",
				"invoice", number, "order", removed.OrderNumber, "error", err)
		}
	}

	s.logger.Info("invoice deleted", "invoice", number, "order", removed.OrderNumber)
	return nil
}

// SetDispatchStatus records the dispatch state and guide link. Used by the
// dispatch module when a guide moves through its lifecycle.
func (s *Service) SetDispatchStatus(ctx context.Context, number string, status DispatchStatus, guideID string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		return repo.UpdateDispatch(ctx, number, status, guideID)
	})
}

// LinkNote appends a credit or debit note summary to the invoice.
func (s *Service) LinkNote(ctx context.Context, number, summary string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		if _, err := repo.GetForUpdate(ctx, number); err != nil {
			return err
		}
		return repo.AppendLinkedNote(ctx, number, summary)
	})
}
