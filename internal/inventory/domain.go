package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MovementType enumerates stock ledger entry kinds.
type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"

	// MovementAdjustment is the generic kind accepted at the API; it is
	// resolved to IN or OUT by the sign of the stock difference before the
	// entry is written.
	MovementAdjustment           MovementType = "ADJUSTMENT"
	MovementAdjustmentStocktake  MovementType = "ADJUSTMENT_STOCKTAKE"
	MovementAdjustmentGift       MovementType = "ADJUSTMENT_GIFT"
	MovementAdjustmentBonus      MovementType = "ADJUSTMENT_BONUS"
	MovementAdjustmentCorrection MovementType = "ADJUSTMENT_CORRECTION"

	MovementTransferIn  MovementType = "TRANSFER_IN"
	MovementTransferOut MovementType = "TRANSFER_OUT"

	MovementLossDamaged   MovementType = "LOSS_DAMAGED"
	MovementLossDefective MovementType = "LOSS_DEFECTIVE"
	MovementLossHumidity  MovementType = "LOSS_HUMIDITY"
	MovementLossExpired   MovementType = "LOSS_EXPIRED"
	MovementLossTheft     MovementType = "LOSS_THEFT"
	MovementLossOther     MovementType = "LOSS_OTHER"
)

// LossTypes lists every loss subtype in report order.
func LossTypes() []MovementType {
	return []MovementType{
		MovementLossDamaged, MovementLossDefective, MovementLossHumidity,
		MovementLossExpired, MovementLossTheft, MovementLossOther,
	}
}

// IsLoss reports whether t is one of the loss subtypes.
func (t MovementType) IsLoss() bool {
	switch t {
	case MovementLossDamaged, MovementLossDefective, MovementLossHumidity,
		MovementLossExpired, MovementLossTheft, MovementLossOther:
		return true
	}
	return false
}

// IsAdjustment reports whether t is an adjustment subtype or the generic kind.
func (t MovementType) IsAdjustment() bool {
	switch t {
	case MovementAdjustment, MovementAdjustmentStocktake, MovementAdjustmentGift,
		MovementAdjustmentBonus, MovementAdjustmentCorrection:
		return true
	}
	return false
}

// Direction returns +1 for inbound kinds and -1 for outbound kinds.
// Adjustment subtypes have no fixed direction; the caller supplies it from
// the sign of the stock difference.
func (t MovementType) Direction() (int, bool) {
	switch t {
	case MovementIn, MovementTransferIn:
		return 1, true
	case MovementOut, MovementTransferOut:
		return -1, true
	}
	if t.IsLoss() {
		return -1, true
	}
	return 0, false
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	if _, ok := t.Direction(); ok {
		return true
	}
	return t.IsAdjustment()
}

// Movement is one immutable stock ledger entry. Quantity is always positive;
// Direction carries the sign so replaying the ledger reproduces the stock
// level exactly, adjustments included.
type Movement struct {
	ID          int64           `json:"id"`
	ProductSKU  string          `json:"product_sku"`
	Quantity    int64           `json:"quantity"`
	Direction   int             `json:"direction"`
	Type        MovementType    `json:"movement_type"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Reference   string          `json:"reference_document"`
	Notes       string          `json:"notes,omitempty"`
	Responsible string          `json:"responsible,omitempty"`
	Date        time.Time       `json:"date"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProductState is the slice of the product row the ledger owns.
type ProductState struct {
	SKU   string
	Name  string
	Stock int64
	Cost  decimal.Decimal
}

// InsufficientStockError rejects an outbound movement larger than the
// current stock level.
type InsufficientStockError struct {
	SKU       string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: have %d, need %d", e.SKU, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return shared.ErrValidation }

// MovementFilters narrows ledger listings.
type MovementFilters struct {
	SKU      string
	Type     MovementType
	From     time.Time
	To       time.Time
	LossOnly bool
	Page     int
	PerPage  int
}

// WeightedAverageCost folds a received lot into the running average.
// With stock s at cost k and an inbound lot of q units at cost c the new
// cost is round((s*k + q*c) / (s+q), 3). A non-positive resulting quantity
// keeps the previous cost.
func WeightedAverageCost(stock int64, cost decimal.Decimal, qty int64, unitCost decimal.Decimal) decimal.Decimal {
	totalQty := stock + qty
	if totalQty <= 0 {
		return cost
	}
	currentValue := cost.Mul(decimal.NewFromInt(stock))
	newValue := unitCost.Mul(decimal.NewFromInt(qty))
	return currentValue.Add(newValue).Div(decimal.NewFromInt(totalQty)).Round(3)
}
