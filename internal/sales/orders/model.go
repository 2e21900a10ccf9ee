// Package orders implements sales orders: creation from checkout or quote
// conversion, invoiced-quantity tracking, backorder handling and deletion.
package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/loyalty"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
)

// Status is the lifecycle state of a sales order.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPartiallyInvoiced Status = "PARTIALLY_INVOICED"
	StatusInvoiced          Status = "INVOICED"
	StatusBackorder         Status = "BACKORDER"
	StatusConverted         Status = "CONVERTED"
	StatusCancelled         Status = "CANCELLED"
)

// Fulfillable reports whether the order participates in invoicing. Backorders
// must be converted first; converted and cancelled orders are terminal.
func (s Status) Fulfillable() bool {
	return s == StatusPending || s == StatusPartiallyInvoiced || s == StatusInvoiced
}

// DeriveStatus computes the invoicing state from per-item coverage: INVOICED
// when every line is fully covered, PARTIALLY_INVOICED when any line has
// coverage, PENDING otherwise. Lines with zero quantity are ignored.
func DeriveStatus(items []doc.DocumentItem) Status {
	covered := false
	full := true
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		if item.InvoicedQuantity > 0 {
			covered = true
		}
		if item.InvoicedQuantity < item.Quantity {
			full = false
		}
	}
	switch {
	case covered && full:
		return StatusInvoiced
	case covered:
		return StatusPartiallyInvoiced
	default:
		return StatusPending
	}
}

// channelFrom normalizes a stored or requested channel name; anything that is
// not the web shop counts as the ERP desk.
func channelFrom(s string) loyalty.Channel {
	if strings.EqualFold(s, string(loyalty.ChannelWeb)) {
		return loyalty.ChannelWeb
	}
	return loyalty.ChannelERP
}

// Order is a sales order. Items carry the loyalty point snapshot taken at
// creation time and the running invoiced quantity per line.
type Order struct {
	OrderNumber     string             `json:"order_number"`
	CustomerRUC     string             `json:"customer_ruc"`
	CustomerName    string             `json:"customer_name"`
	DeliveryAddress string             `json:"delivery_address,omitempty"`
	Status          Status             `json:"status"`
	Channel         loyalty.Channel    `json:"channel"`
	Items           []doc.DocumentItem `json:"items"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	TermDays        int                `json:"term_days"`
	PointsGranted   int64              `json:"points_granted"`
	PointsSpent     int64              `json:"points_spent"`
	QuoteNumber     string             `json:"quotation_number,omitempty"`
	Issuer          doc.IssuerInfo     `json:"issuer"`
	Notes           string             `json:"notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
