package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier mirrors the customer classification ladder used by rule matching.
type Tier string

const (
	TierStandard Tier = "STANDARD"
	TierBronze   Tier = "BRONCE"
	TierSilver   Tier = "PLATA"
	TierGold     Tier = "ORO"
	TierDiamond  Tier = "DIAMANTE"
)

// Rule grants a tier a percentage discount, optionally narrowed to a brand,
// a category, or both. When several rules match one product the highest
// discount wins.
type Rule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Tier        Tier            `json:"tier"`
	CategoryID  string          `json:"category_id,omitempty"`
	Brand       string          `json:"brand,omitempty"`
	DiscountPct decimal.Decimal `json:"discount_percentage"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Policy is the single master record of financial surcharges and default
// volume discounts.
type Policy struct {
	CashDiscount      decimal.Decimal `json:"cash_discount"`
	Credit30Days      decimal.Decimal `json:"credit_30_days"`
	Credit60Days      decimal.Decimal `json:"credit_60_days"`
	Credit90Days      decimal.Decimal `json:"credit_90_days"`
	Credit180Days     decimal.Decimal `json:"credit_180_days"`
	RetailMarkupPct   decimal.Decimal `json:"retail_markup_pct"`
	Vol6DiscountPct   decimal.Decimal `json:"vol_6_discount_pct"`
	Vol12DiscountPct  decimal.Decimal `json:"vol_12_discount_pct"`
	Vol24DiscountPct  decimal.Decimal `json:"vol_24_discount_pct"`
	MinMarginGuardPct decimal.Decimal `json:"min_margin_guard_pct"`
	LastUpdated       time.Time       `json:"last_updated"`
	UpdatedBy         string          `json:"updated_by,omitempty"`
}

// DefaultPolicy seeds the policy row on first use.
func DefaultPolicy() Policy {
	return Policy{
		Credit30Days:      decimal.NewFromInt(3),
		Credit60Days:      decimal.NewFromInt(5),
		Credit90Days:      decimal.NewFromInt(8),
		Credit180Days:     decimal.NewFromInt(15),
		RetailMarkupPct:   decimal.NewFromInt(20),
		Vol6DiscountPct:   decimal.NewFromInt(5),
		Vol12DiscountPct:  decimal.NewFromInt(8),
		Vol24DiscountPct:  decimal.NewFromInt(12),
		MinMarginGuardPct: decimal.NewFromInt(12),
	}
}

// Quote is the resolved price for one product line together with the
// discounts that produced it.
type Quote struct {
	SKU            string          `json:"sku"`
	Quantity       int64           `json:"quantity"`
	BasePrice      decimal.Decimal `json:"base_price"`
	TierDiscount   decimal.Decimal `json:"tier_discount_pct"`
	VolumeDiscount decimal.Decimal `json:"volume_discount_pct"`
	CustomDiscount decimal.Decimal `json:"custom_discount_pct"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}
