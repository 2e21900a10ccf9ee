package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementInput posts a single ledger entry.
type MovementInput struct {
	SKU       string           `json:"product_sku" validate:"required"`
	Quantity  int64            `json:"quantity" validate:"required,gt=0"`
	Type      MovementType     `json:"movement_type" validate:"required"`
	UnitCost  *decimal.Decimal `json:"unit_cost,omitempty"`
	Reference string           `json:"reference_document" validate:"required"`
	Notes     string           `json:"notes,omitempty"`
}

// AdjustInput sets a product to an absolute counted quantity.
type AdjustInput struct {
	SKU         string       `json:"product_sku" validate:"required"`
	NewQuantity int64        `json:"new_quantity" validate:"gte=0"`
	Type        MovementType `json:"movement_type,omitempty"`
	Notes       string       `json:"notes" validate:"required"`
	Responsible string       `json:"responsible,omitempty"`
}

// LossInput writes off stock under a loss subtype.
type LossInput struct {
	SKU         string       `json:"product_sku" validate:"required"`
	Quantity    int64        `json:"quantity" validate:"required,gt=0"`
	Type        MovementType `json:"loss_type" validate:"required"`
	Notes       string       `json:"notes,omitempty"`
	Responsible string       `json:"responsible" validate:"required"`
}

// LossResult reports the write-off outcome.
type LossResult struct {
	SKU        string          `json:"product_sku"`
	Quantity   int64           `json:"quantity"`
	NewStock   int64           `json:"new_stock"`
	CostImpact decimal.Decimal `json:"cost_impact"`
}

// TransferItem is one line of an outbound transfer batch.
type TransferItem struct {
	SKU      string `json:"product_sku" validate:"required"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
}

// TransferInput moves stock out to a named destination under one reference.
type TransferInput struct {
	TargetWarehouse string         `json:"target_warehouse" validate:"required"`
	Items           []TransferItem `json:"items" validate:"required,min=1,dive"`
	Notes           string         `json:"notes,omitempty"`
}

// TransferResult reports the batch outcome.
type TransferResult struct {
	Reference string     `json:"reference_document"`
	Items     []Movement `json:"movements"`
}

// LossesReport aggregates loss movements for a period.
type LossesReport struct {
	Summary LossesSummary                `json:"summary"`
	ByType  map[MovementType]LossesGroup `json:"by_type"`
}

type LossesSummary struct {
	TotalQuantity  int64           `json:"total_quantity"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	TotalMovements int             `json:"total_movements"`
}

type LossesGroup struct {
	Quantity int64           `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
	Count    int             `json:"count"`
}

// AvailabilityRequestItem is one requested line of an availability check.
type AvailabilityRequestItem struct {
	SKU       string          `json:"product_sku" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// StockInfo breaks down how the available figure was derived.
type StockInfo struct {
	Physical  int64 `json:"physical"`
	Committed int64 `json:"committed"`
	Available int64 `json:"available"`
}

// AvailableLine is a line that can ship now, possibly a partial split of the
// requested quantity.
type AvailableLine struct {
	SKU       string          `json:"product_sku"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     StockInfo       `json:"stock_info"`
}

// MissingLine is the unfulfillable remainder of a requested line.
type MissingLine struct {
	SKU         string          `json:"product_sku"`
	ProductName string          `json:"product_name"`
	Required    int64           `json:"required_quantity"`
	Missing     int64           `json:"missing_quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Stock       StockInfo       `json:"stock_info"`
}

// AvailabilityReport partitions a request into what can ship and what cannot.
type AvailabilityReport struct {
	Available      []AvailableLine `json:"available_items"`
	Missing        []MissingLine   `json:"missing_items"`
	CanFulfillFull bool            `json:"can_fulfill_full"`
	CheckedAt      time.Time       `json:"checked_at"`
}
