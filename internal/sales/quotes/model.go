// Package quotes manages sales quotations. A quote never touches stock;
// it only fixes prices and loyalty point snapshots until conversion turns
// it into one or two orders.
package quotes

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/loyalty"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
)

// Status is the quote lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusConverted Status = "CONVERTED"
)

// Finalized reports whether the quote can no longer be edited.
func (s Status) Finalized() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusConverted
}

// canTransition lists the manual status moves. CONVERTED is only reachable
// through conversion.
func canTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusSent || to == StatusAccepted || to == StatusRejected
	case StatusSent:
		return to == StatusAccepted || to == StatusRejected
	}
	return false
}

// loyaltyChannel normalizes a stored or requested channel name; anything
// that is not the web shop counts as the ERP desk.
func loyaltyChannel(s string) loyalty.Channel {
	if strings.EqualFold(s, string(loyalty.ChannelWeb)) {
		return loyalty.ChannelWeb
	}
	return loyalty.ChannelERP
}

// Quote is a priced proposal awaiting acceptance.
type Quote struct {
	QuoteNumber     string             `json:"quote_number"`
	CustomerRUC     string             `json:"customer_ruc"`
	CustomerName    string             `json:"customer_name"`
	DeliveryAddress string             `json:"delivery_address,omitempty"`
	Status          Status             `json:"status"`
	Channel         loyalty.Channel    `json:"channel"`
	Items           []doc.DocumentItem `json:"items"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	TermDays        int                `json:"term_days"`
	ValidUntil      *time.Time         `json:"valid_until,omitempty"`
	Issuer          doc.IssuerInfo     `json:"issuer_info"`
	Notes           string             `json:"notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
