package invoices

import "github.com/shopspring/decimal"

// SubsetItem selects how much of one order line to invoice.
type SubsetItem struct {
	SKU      string `json:"product_sku" validate:"required"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
}

// CreateInvoiceRequest invoices an order. Without Items the whole remaining
// (not yet invoiced) quantity of every line is taken; with Items only the
// named subset is. An initial payment can be registered in the same call.
type CreateInvoiceRequest struct {
	OrderNumber   string           `json:"order_number" validate:"required"`
	Items         []SubsetItem     `json:"items" validate:"omitempty,min=1,dive"`
	PaymentAmount *decimal.Decimal `json:"payment_amount,omitempty"`
	PaymentNotes  string           `json:"payment_notes,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// PaymentRequest registers one payment against an invoice.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Notes  string          `json:"notes,omitempty"`
}

// ListFilters narrows invoice listings.
type ListFilters struct {
	Search        string
	PaymentStatus string
	Dispatch      string
	CustomerRUC   string
	Page          int
	PerPage       int
}
