package customers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/pricing"
)

// Branch is one delivery location of a customer.
type Branch struct {
	Name          string `json:"branch_name"`
	Address       string `json:"address"`
	ContactPerson string `json:"contact_person,omitempty"`
	Phone         string `json:"phone,omitempty"`
	IsMain        bool   `json:"is_main"`
	IsActive      bool   `json:"is_active"`
}

// Customer is a buyer identified by RUC. Credit fields gate term sales:
// a manual block wins over everything else, then the allowed terms list,
// then the credit limit against outstanding debt.
type Customer struct {
	RUC               string          `json:"ruc"`
	Name              string          `json:"name"`
	Email             string          `json:"email,omitempty"`
	Phone             string          `json:"phone,omitempty"`
	Address           string          `json:"address,omitempty"`
	Classification    pricing.Tier    `json:"classification"`
	CustomDiscountPct decimal.Decimal `json:"custom_discount_percent"`
	IsB2B             bool            `json:"is_b2b"`
	Branches          []Branch        `json:"branches"`

	CreditEnabled     bool            `json:"status_credit"`
	CreditManualBlock bool            `json:"credit_manual_block"`
	CreditLimit       decimal.Decimal `json:"credit_limit"`
	AllowedTerms      []int           `json:"allowed_terms"`
	RiskScore         string          `json:"risk_score"`
	InternalNotes     string          `json:"internal_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters narrows customer listings.
type ListFilters struct {
	Search  string
	Tier    pricing.Tier
	Page    int
	PerPage int
}
