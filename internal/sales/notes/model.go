// Package notes issues credit and debit notes against emitted invoices.
// Credit notes for returned merchandise restore stock through a return
// guide; every note appends a summary line to the invoice it amends.
package notes

import (
	"time"

	"github.com/shopspring/decimal"

	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
)

// NoteType distinguishes the fiscal direction of the adjustment.
type NoteType string

const (
	TypeCredit NoteType = "CREDIT"
	TypeDebit  NoteType = "DEBIT"
)

// NoteReason is the declared cause of the note.
type NoteReason string

const (
	ReasonReturn    NoteReason = "RETURN"
	ReasonDiscount  NoteReason = "DISCOUNT"
	ReasonError     NoteReason = "ERROR"
	ReasonAnnulment NoteReason = "ANNULMENT"
)

// Note is a credit or debit note tied to an existing invoice.
type Note struct {
	NoteNumber    string             `json:"note_number"`
	InvoiceNumber string             `json:"invoice_number"`
	CustomerRUC   string             `json:"customer_ruc"`
	CustomerName  string             `json:"customer_name"`
	Type          NoteType           `json:"note_type"`
	Reason        NoteReason         `json:"reason"`
	Items         []doc.DocumentItem `json:"items"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	ReturnGuideID string             `json:"return_guide_id,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
