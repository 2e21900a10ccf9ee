package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists invoices in PostgreSQL: sales_invoices for the header,
// sales_invoice_items for the lines and sales_invoice_payments for the
// append-only payment log.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional invoice operations.
type TxRepository interface {
	IssueNumber(ctx context.Context, kind string, now time.Time) (string, error)
	Insert(ctx context.Context, invoice Invoice) error
	GetForUpdate(ctx context.Context, number string) (Invoice, error)
	AppendPayment(ctx context.Context, number string, payment doc.Payment, paid decimal.Decimal, status PaymentStatus) error
	UpdateDispatch(ctx context.Context, number string, status DispatchStatus, guideID string) error
	AppendLinkedNote(ctx context.Context, number, note string) error
	Delete(ctx context.Context, number string) error
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) IssueNumber(ctx context.Context, kind string, now time.Time) (string, error) {
	return sequence.Issue(ctx, r.tx, kind, now, func(ctx context.Context, prefix string) (string, error) {
		var last string
		err := r.tx.QueryRow(ctx,
			`SELECT invoice_number FROM sales_invoices WHERE invoice_number LIKE $1 || '-%'
			 ORDER BY LENGTH(invoice_number) DESC, invoice_number DESC LIMIT 1`, prefix,
		).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return last, err
	})
}

func (r *txRepo) Insert(ctx context.Context, invoice Invoice) error {
	issuer, err := json.Marshal(invoice.Issuer)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO sales_invoices (
		invoice_number, order_number, customer_ruc, customer_name,
		delivery_address, total_amount, amount_paid, payment_status,
		dispatch_status, guide_id, linked_notes, term_days, issuer, notes,
		created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		invoice.InvoiceNumber, invoice.OrderNumber, invoice.CustomerRUC,
		invoice.CustomerName, invoice.DeliveryAddress, invoice.TotalAmount,
		invoice.AmountPaid, string(invoice.PaymentStatus), string(invoice.DispatchStatus),
		nullable(invoice.GuideID), invoice.LinkedNotes, invoice.TermDays, issuer,
		invoice.Notes, invoice.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range invoice.Items {
		_, err = r.tx.Exec(ctx, `INSERT INTO sales_invoice_items (
			invoice_number, product_sku, product_name, quantity, unit_price
		) VALUES ($1,$2,$3,$4,$5)`,
			invoice.InvoiceNumber, item.SKU, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return err
		}
	}
	for _, payment := range invoice.Payments {
		if err := insertPayment(ctx, r.tx, invoice.InvoiceNumber, payment); err != nil {
			return err
		}
	}
	return nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, number string, payment doc.Payment) error {
	_, err := tx.Exec(ctx, `INSERT INTO sales_invoice_payments (
		invoice_number, amount, date, notes
	) VALUES ($1,$2,$3,$4)`, number, payment.Amount, payment.Date, payment.Notes)
	return err
}

func (r *txRepo) GetForUpdate(ctx context.Context, number string) (Invoice, error) {
	invoice, err := scanInvoice(r.tx.QueryRow(ctx,
		selectInvoice+` WHERE invoice_number = $1 FOR UPDATE`, number), number)
	if err != nil {
		return Invoice{}, err
	}
	return loadDetails(ctx, r.tx, invoice)
}

func (r *txRepo) AppendPayment(ctx context.Context, number string, payment doc.Payment, paid decimal.Decimal, status PaymentStatus) error {
	if err := insertPayment(ctx, r.tx, number, payment); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx,
		`UPDATE sales_invoices SET amount_paid = $2, payment_status = $3, updated_at = NOW()
		 WHERE invoice_number = $1`, number, paid, string(status))
	return err
}

func (r *txRepo) UpdateDispatch(ctx context.Context, number string, status DispatchStatus, guideID string) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE sales_invoices SET dispatch_status = $2, guide_id = $3, updated_at = NOW()
		 WHERE invoice_number = $1`, number, string(status), nullable(guideID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("invoice", number)
	}
	return nil
}

func (r *txRepo) AppendLinkedNote(ctx context.Context, number, note string) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE sales_invoices SET linked_notes = array_append(linked_notes, $2),
		 updated_at = NOW() WHERE invoice_number = $1`, number, note)
	return err
}

func (r *txRepo) Delete(ctx context.Context, number string) error {
	if _, err := r.tx.Exec(ctx,
		`DELETE FROM sales_invoice_payments WHERE invoice_number = $1`, number); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx,
		`DELETE FROM sales_invoice_items WHERE invoice_number = $1`, number); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM sales_invoices WHERE invoice_number = $1`, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("invoice", number)
	}
	return nil
}

const selectInvoice = `SELECT invoice_number, order_number, customer_ruc,
	customer_name, delivery_address, total_amount, amount_paid, payment_status,
	dispatch_status, COALESCE(guide_id, ''), COALESCE(linked_notes, '{}'),
	term_days, issuer, notes, created_at, updated_at FROM sales_invoices`

// Get loads one invoice with items and payments.
func (r *Repository) Get(ctx context.Context, number string) (Invoice, error) {
	invoice, err := scanInvoice(r.pool.QueryRow(ctx,
		selectInvoice+` WHERE invoice_number = $1`, number), number)
	if err != nil {
		return Invoice{}, err
	}
	return loadDetails(ctx, r.pool, invoice)
}

// List returns a page of invoices, newest first, without details.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Invoice, int, error) {
	where := ` WHERE 1=1`
	args := []any{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (invoice_number ILIKE $` + n + ` OR order_number ILIKE $` + n + ` OR customer_name ILIKE $` + n + `)`
	}
	if filters.PaymentStatus != "" {
		args = append(args, filters.PaymentStatus)
		where += ` AND payment_status = $` + strconv.Itoa(len(args))
	}
	if filters.Dispatch != "" {
		args = append(args, filters.Dispatch)
		where += ` AND dispatch_status = $` + strconv.Itoa(len(args))
	}
	if filters.CustomerRUC != "" {
		args = append(args, filters.CustomerRUC)
		where += ` AND customer_ruc = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales_invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filters.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query := selectInvoice + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows, "")
		if err != nil {
			return nil, 0, err
		}
		result = append(result, invoice)
	}
	return result, total, rows.Err()
}

// CountByOrder counts invoices raised against one order.
func (r *Repository) CountByOrder(ctx context.Context, orderNumber string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sales_invoices WHERE order_number = $1`, orderNumber,
	).Scan(&n)
	return n, err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadDetails(ctx context.Context, q queryer, invoice Invoice) (Invoice, error) {
	rows, err := q.Query(ctx,
		`SELECT product_sku, product_name, quantity, unit_price
		 FROM sales_invoice_items WHERE invoice_number = $1 ORDER BY id`,
		invoice.InvoiceNumber)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item doc.DocumentItem
		if err := rows.Scan(&item.SKU, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return Invoice{}, err
		}
		invoice.Items = append(invoice.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}

	payRows, err := q.Query(ctx,
		`SELECT amount, date, notes FROM sales_invoice_payments
		 WHERE invoice_number = $1 ORDER BY id`, invoice.InvoiceNumber)
	if err != nil {
		return Invoice{}, err
	}
	defer payRows.Close()
	for payRows.Next() {
		var payment doc.Payment
		if err := payRows.Scan(&payment.Amount, &payment.Date, &payment.Notes); err != nil {
			return Invoice{}, err
		}
		invoice.Payments = append(invoice.Payments, payment)
	}
	return invoice, payRows.Err()
}

func scanInvoice(row pgx.Row, number string) (Invoice, error) {
	var (
		invoice  Invoice
		payment  string
		dispatch string
		issuer   []byte
	)
	err := row.Scan(&invoice.InvoiceNumber, &invoice.OrderNumber, &invoice.CustomerRUC,
		&invoice.CustomerName, &invoice.DeliveryAddress, &invoice.TotalAmount,
		&invoice.AmountPaid, &payment, &dispatch, &invoice.GuideID,
		&invoice.LinkedNotes, &invoice.TermDays, &issuer, &invoice.Notes,
		&invoice.CreatedAt, &invoice.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, shared.NotFound("invoice", number)
	}
	if err != nil {
		return Invoice{}, err
	}
	invoice.PaymentStatus = PaymentStatus(payment)
	invoice.DispatchStatus = DispatchStatus(dispatch)
	if len(issuer) > 0 {
		if err := json.Unmarshal(issuer, &invoice.Issuer); err != nil {
			return Invoice{}, err
		}
	}
	return invoice, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
