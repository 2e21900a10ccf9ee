package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the master record for a sellable item. StockCurrent and Cost
// are maintained by the stock ledger; everything else is catalog data.
type Product struct {
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Brand          string          `json:"brand"`
	Description    string          `json:"description"`
	CategoryID     string          `json:"category_id"`
	PriceRetail    decimal.Decimal `json:"price_retail"`
	PriceWholesale decimal.Decimal `json:"price_wholesale"`
	Discount6Pct   decimal.Decimal `json:"discount_6_pct"`
	Discount12Pct  decimal.Decimal `json:"discount_12_pct"`
	Discount24Pct  decimal.Decimal `json:"discount_24_pct"`
	Cost           decimal.Decimal `json:"cost"`
	StockCurrent   int64           `json:"stock_current"`
	LoyaltyPoints  int64           `json:"loyalty_points"`
	PointsCost     int64           `json:"points_cost"`
	IsActiveInShop bool            `json:"is_active_in_shop"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Price lists tracked in the price audit trail.
const (
	PriceListRetail    = "RETAIL"
	PriceListWholesale = "WHOLESALE"
)

// PriceChange is one append-only audit row recorded whenever a list price
// moves. Rows are never updated or deleted.
type PriceChange struct {
	ProductSKU string          `json:"product_sku"`
	PriceType  string          `json:"price_type"`
	OldPrice   decimal.Decimal `json:"old_price"`
	NewPrice   decimal.Decimal `json:"new_price"`
	ChangedBy  string          `json:"changed_by,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	ChangedAt  time.Time       `json:"changed_at"`
}

// Category groups products for pricing rules and navigation.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
