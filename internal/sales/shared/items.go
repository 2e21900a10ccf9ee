// Package shared holds document types common to quotes, orders, invoices
// and notes.
package shared

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentItem is one line of a sales document. The same shape travels
// from quote to order to invoice to note; InvoicedQuantity and the loyalty
// snapshot only carry meaning on orders.
type DocumentItem struct {
	SKU              string          `json:"product_sku"`
	Name             string          `json:"product_name,omitempty"`
	Quantity         int64           `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	InvoicedQuantity int64           `json:"invoiced_quantity"`
	LoyaltyPoints    *int64          `json:"loyalty_points,omitempty"`
}

// LineTotal is quantity times unit price, rounded to 3 decimals.
func (i DocumentItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity)).Round(3)
}

// ItemsTotal sums line totals and rounds the result to 3 decimals.
func ItemsTotal(items []DocumentItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total.Round(3)
}

// Payment is one append-only entry against an invoice.
type Payment struct {
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
	Notes  string          `json:"notes,omitempty"`
}
