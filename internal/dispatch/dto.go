package dispatch

import "github.com/shopspring/decimal"

// CreateGuideRequest creates a DRAFT guide from an invoice. One guide per
// invoice: a repeated call returns the existing guide.
type CreateGuideRequest struct {
	InvoiceNumber string `json:"invoice_number" validate:"required"`
	SunatNumber   string `json:"sunat_number,omitempty"`
	VehiclePlate  string `json:"vehicle_plate,omitempty"`
	DriverName    string `json:"driver_name,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// ReceptionItemRequest is one received line. UnitCost is the supplier's
// invoiced cost for the unit.
type ReceptionItemRequest struct {
	SKU      string          `json:"sku" validate:"required"`
	Quantity int64           `json:"quantity" validate:"gt=0"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// CreateReceptionRequest records goods received from a supplier against an
// external document reference.
type CreateReceptionRequest struct {
	Reference    string                 `json:"reference" validate:"required"`
	SunatNumber  string                 `json:"sunat_number,omitempty"`
	SupplierRUC  string                 `json:"supplier_ruc,omitempty"`
	SupplierName string                 `json:"supplier_name" validate:"required"`
	Items        []ReceptionItemRequest `json:"items" validate:"min=1,dive"`
	Notes        string                 `json:"notes,omitempty"`
}

// DeliverRequest confirms delivery of a dispatched guide.
type DeliverRequest struct {
	ReceivedBy string `json:"received_by,omitempty"`
}

// ListFilters narrows guide listings.
type ListFilters struct {
	Search  string
	Status  string
	Type    string
	Page    int
	PerPage int
}
