package quotes

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// ItemRequest is one requested quote line. A missing unit price is resolved
// through the pricing engine for the quoted customer and term.
type ItemRequest struct {
	SKU       string           `json:"product_sku" validate:"required"`
	Quantity  int64            `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

// CreateQuoteRequest is the payload for opening a quote.
type CreateQuoteRequest struct {
	CustomerRUC     string        `json:"customer_ruc" validate:"required"`
	Channel         string        `json:"channel" validate:"omitempty,oneof=ERP SHOP"`
	TermDays        int           `json:"term_days" validate:"gte=0"`
	DeliveryAddress string        `json:"delivery_address"`
	ValidUntil      *time.Time    `json:"valid_until"`
	Notes           string        `json:"notes"`
	Items           []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

// UpdateQuoteRequest replaces the editable fields of a non-finalized quote.
type UpdateQuoteRequest struct {
	DeliveryAddress string        `json:"delivery_address"`
	TermDays        int           `json:"term_days" validate:"gte=0"`
	ValidUntil      *time.Time    `json:"valid_until"`
	Notes           string        `json:"notes"`
	Items           []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

// StatusRequest moves a quote through its manual transitions.
type StatusRequest struct {
	Status Status `json:"status" validate:"required,oneof=SENT ACCEPTED REJECTED"`
}

// ListFilters narrows quote listings.
type ListFilters struct {
	Search      string
	Status      string
	CustomerRUC string
	Page        int
	PerPage     int
}

// ConvertedOrder names one order produced by a conversion.
type ConvertedOrder struct {
	Kind        string `json:"type"`
	OrderNumber string `json:"order_number"`
}

// ConversionResult reports the outcome of a conversion or its preview.
type ConversionResult struct {
	Preview   bool                         `json:"preview"`
	WillSplit bool                         `json:"will_split"`
	Orders    []ConvertedOrder             `json:"orders,omitempty"`
	Report    inventory.AvailabilityReport `json:"stock_check"`
}
