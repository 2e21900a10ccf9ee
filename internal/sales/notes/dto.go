package notes

// ItemRequest selects an invoice line and the quantity the note covers.
type ItemRequest struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
}

// CreateNoteRequest is the payload for emitting a note against an invoice.
type CreateNoteRequest struct {
	InvoiceNumber string        `json:"invoice_number" validate:"required"`
	Type          NoteType      `json:"note_type" validate:"required,oneof=CREDIT DEBIT"`
	Reason        NoteReason    `json:"reason" validate:"required,oneof=RETURN DISCOUNT ERROR ANNULMENT"`
	Items         []ItemRequest `json:"items" validate:"required,min=1,dive"`
	Notes         string        `json:"notes"`
}

// ListFilters narrows note listings.
type ListFilters struct {
	Search        string
	Type          string
	InvoiceNumber string
	Page          int
	PerPage       int
}
