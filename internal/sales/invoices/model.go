// Package invoices implements sales invoices: full or partial invoicing of
// an order, append-only payments and dispatch linkage.
package invoices

import (
	"time"

	"github.com/shopspring/decimal"

	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
)

// PaymentStatus tracks how much of the invoice has been collected.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentPaid    PaymentStatus = "PAID"
)

// DispatchStatus mirrors the state of the delivery guide tied to the invoice.
type DispatchStatus string

const (
	NotDispatched DispatchStatus = "NOT_DISPATCHED"
	Dispatched    DispatchStatus = "DISPATCHED"
	Delivered     DispatchStatus = "DELIVERED"
)

// DerivePaymentStatus computes the payment state from collected vs total.
func DerivePaymentStatus(total, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return PaymentPaid
	case paid.IsPositive():
		return PaymentPartial
	default:
		return PaymentPending
	}
}

// Invoice is a sales invoice. Items carry the invoiced quantities, which may
// be a subset of the order when invoicing partially.
type Invoice struct {
	InvoiceNumber   string             `json:"invoice_number"`
	OrderNumber     string             `json:"order_number"`
	CustomerRUC     string             `json:"customer_ruc"`
	CustomerName    string             `json:"customer_name"`
	DeliveryAddress string             `json:"delivery_address,omitempty"`
	Items           []doc.DocumentItem `json:"items"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	AmountPaid      decimal.Decimal    `json:"amount_paid"`
	PaymentStatus   PaymentStatus      `json:"payment_status"`
	Payments        []doc.Payment      `json:"payments"`
	DispatchStatus  DispatchStatus     `json:"dispatch_status"`
	GuideID         string             `json:"guide_id,omitempty"`
	LinkedNotes     []string           `json:"linked_notes,omitempty"`
	TermDays        int                `json:"term_days"`
	Issuer          doc.IssuerInfo     `json:"issuer"`
	Notes           string             `json:"notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Pending is the amount still owed.
func (i Invoice) Pending() decimal.Decimal {
	return i.TotalAmount.Sub(i.AmountPaid)
}
