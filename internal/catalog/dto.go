package catalog

import "github.com/shopspring/decimal"

// CreateProductRequest carries a new product plus its opening stock.
// InitialStock, when positive, is posted to the stock ledger as an IN
// movement so the opening balance has an audit trail.
type CreateProductRequest struct {
	SKU            string          `json:"sku" validate:"required,max=40"`
	Name           string          `json:"name" validate:"required,max=200"`
	Brand          string          `json:"brand" validate:"max=100"`
	Description    string          `json:"description"`
	CategoryID     string          `json:"category_id"`
	PriceRetail    decimal.Decimal `json:"price_retail" validate:"required"`
	PriceWholesale decimal.Decimal `json:"price_wholesale" validate:"required"`
	Discount6Pct   decimal.Decimal `json:"discount_6_pct"`
	Discount12Pct  decimal.Decimal `json:"discount_12_pct"`
	Discount24Pct  decimal.Decimal `json:"discount_24_pct"`
	Cost           decimal.Decimal `json:"cost" validate:"required"`
	InitialStock   int64           `json:"initial_stock" validate:"gte=0"`
	LoyaltyPoints  int64           `json:"loyalty_points" validate:"gte=0"`
	PointsCost     int64           `json:"points_cost" validate:"gte=0"`
	IsActiveInShop bool            `json:"is_active_in_shop"`
}

// UpdateProductRequest updates catalog fields. Stock and cost are owned by
// the stock ledger and cannot be set here. ChangedBy and PriceChangeReason
// are carried into the price audit trail when a list price moves.
type UpdateProductRequest struct {
	Name              *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Brand             *string          `json:"brand,omitempty" validate:"omitempty,max=100"`
	Description       *string          `json:"description,omitempty"`
	CategoryID        *string          `json:"category_id,omitempty"`
	PriceRetail       *decimal.Decimal `json:"price_retail,omitempty"`
	PriceWholesale    *decimal.Decimal `json:"price_wholesale,omitempty"`
	Discount6Pct      *decimal.Decimal `json:"discount_6_pct,omitempty"`
	Discount12Pct     *decimal.Decimal `json:"discount_12_pct,omitempty"`
	Discount24Pct     *decimal.Decimal `json:"discount_24_pct,omitempty"`
	LoyaltyPoints     *int64           `json:"loyalty_points,omitempty" validate:"omitempty,gte=0"`
	PointsCost        *int64           `json:"points_cost,omitempty" validate:"omitempty,gte=0"`
	IsActiveInShop    *bool            `json:"is_active_in_shop,omitempty"`
	ChangedBy         string           `json:"changed_by,omitempty" validate:"omitempty,max=100"`
	PriceChangeReason string           `json:"price_change_reason,omitempty" validate:"omitempty,max=300"`
}

// ListFilters narrows product listings.
type ListFilters struct {
	Search     string
	Brand      string
	CategoryID string
	ShopOnly   bool
	Page       int
	PerPage    int
}
