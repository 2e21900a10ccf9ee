package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemRequest is one requested line. UnitPrice is optional: when absent the
// price is resolved server side from the pricing rules. RedeemPoints marks a
// line paid entirely with web loyalty points at the product's points cost.
type ItemRequest struct {
	SKU           string           `json:"product_sku" validate:"required"`
	Quantity      int64            `json:"quantity" validate:"required,gt=0"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	LoyaltyPoints *int64           `json:"loyalty_points,omitempty"`
	RedeemPoints  bool             `json:"redeem_with_points,omitempty"`
}

// CreateOrderRequest creates an order directly (ERP desk sale or storefront
// checkout). AllowBackorder turns an insufficient-stock rejection into a
// BACKORDER order instead.
type CreateOrderRequest struct {
	CustomerRUC     string        `json:"customer_ruc" validate:"required"`
	Channel         string        `json:"channel" validate:"omitempty,oneof=ERP SHOP"`
	TermDays        int           `json:"term_days" validate:"gte=0"`
	DeliveryAddress string        `json:"delivery_address"`
	Notes           string        `json:"notes"`
	AllowBackorder  bool          `json:"allow_backorder"`
	Items           []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

// ListFilters narrows order listings.
type ListFilters struct {
	Search      string
	Status      string
	CustomerRUC string
	Page        int
	PerPage     int
}

// BackorderItem reports stock coverage for one backordered line.
type BackorderItem struct {
	SKU       string `json:"product_sku"`
	Name      string `json:"product_name"`
	Required  int64  `json:"required_quantity"`
	Available int64  `json:"available_quantity"`
	Missing   int64  `json:"missing_quantity"`
}

// BackorderAvailability summarizes whether a backorder can convert now.
type BackorderAvailability struct {
	OrderNumber       string          `json:"order_number"`
	CanConvertFull    bool            `json:"can_convert_full"`
	CanConvertPartial bool            `json:"can_convert_partial"`
	Items             []BackorderItem `json:"items"`
}

// ConversionResult reports the orders produced by a backorder conversion.
// Backorder is nil when everything could ship.
type ConversionResult struct {
	Original  Order  `json:"original_order"`
	Available Order  `json:"available_order"`
	Backorder *Order `json:"backorder_order,omitempty"`
}

// SaleRecord is one historical sale of a product.
type SaleRecord struct {
	OrderNumber  string          `json:"order_number"`
	CustomerRUC  string          `json:"customer_ruc"`
	CustomerName string          `json:"customer_name"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Date         time.Time       `json:"date"`
}
