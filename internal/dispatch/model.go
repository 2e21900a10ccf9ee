// Package dispatch implements delivery guides: draft creation from an
// invoice, the dispatch that moves stock, delivery confirmation,
// cancellation with stock reversal, and inbound reception guides that
// fold supplier costs into the average.
package dispatch

import (
	"time"

	"github.com/shopspring/decimal"
)

// GuideType classifies the movement the guide documents.
type GuideType string

const (
	TypeReception GuideType = "RECEPTION"
	TypeDispatch  GuideType = "DISPATCH"
	TypeReturn    GuideType = "RETURN"
)

// GuideStatus is the lifecycle state of a guide. Stock only moves on the
// DRAFT to DISPATCHED transition and on cancellation after it.
type GuideStatus string

const (
	StatusDraft      GuideStatus = "DRAFT"
	StatusDispatched GuideStatus = "DISPATCHED"
	StatusDelivered  GuideStatus = "DELIVERED"
)

// GuideItem is one line of a guide. UnitCost snapshots the product's
// weighted-average cost at guide creation.
type GuideItem struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"product_name"`
	Quantity int64           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Guide is a delivery guide tied to one invoice.
type Guide struct {
	GuideNumber     string      `json:"guide_number"`
	SunatNumber     string      `json:"sunat_number,omitempty"`
	Type            GuideType   `json:"guide_type"`
	Status          GuideStatus `json:"status"`
	InvoiceNumber   string      `json:"invoice_number"`
	OrderNumber     string      `json:"order_number,omitempty"`
	CustomerRUC     string      `json:"customer_ruc"`
	CustomerName    string      `json:"customer_name"`
	DeliveryAddress string      `json:"delivery_address,omitempty"`
	Items           []GuideItem `json:"items"`
	VehiclePlate    string      `json:"vehicle_plate,omitempty"`
	DriverName      string      `json:"driver_name,omitempty"`
	ReceivedBy      string      `json:"received_by,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	IssueDate       time.Time   `json:"issue_date"`
	DispatchDate    *time.Time  `json:"dispatch_date,omitempty"`
	DeliveryDate    *time.Time  `json:"delivery_date,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
