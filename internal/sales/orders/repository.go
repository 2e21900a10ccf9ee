package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	doc "github.com/meridian-erp/meridian-erp/internal/sales/shared"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists sales orders in PostgreSQL. Orders live in
// sales_orders with their lines in sales_order_items; the issuer snapshot is
// stored as JSONB on the order row.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations of the order lifecycle.
// IssueNumber serializes per document prefix via an advisory lock, so two
// concurrent inserts can never draw the same number.
type TxRepository interface {
	IssueNumber(ctx context.Context, kind string, now time.Time) (string, error)
	Insert(ctx context.Context, order Order) error
	GetForUpdate(ctx context.Context, number string) (Order, error)
	UpdateItems(ctx context.Context, number string, items []doc.DocumentItem) error
	UpdateStatus(ctx context.Context, number string, status Status) error
	Delete(ctx context.Context, number string) error
	SiblingCount(ctx context.Context, quoteNumber string) (int, error)
	RevertQuoteStatus(ctx context.Context, quoteNumber, status string) error
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
			`SELECT order_number FROM sales_orders WHERE order_number LIKE $1 || '-%'
			 ORDER BY LENGTH(order_number) DESC, order_number DESC LIMIT 1`, prefix,
		).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return last, err
	})
}

func (r *txRepo) Insert(ctx context.Context, order Order) error {
	issuer, err := json.Marshal(order.Issuer)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO sales_orders (
		order_number, customer_ruc, customer_name, delivery_address, status,
		channel, total_amount, term_days, points_granted, points_spent,
		quotation_number, issuer, notes, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		order.OrderNumber, order.CustomerRUC, order.CustomerName, order.DeliveryAddress,
		string(order.Status), string(order.Channel), order.TotalAmount, order.TermDays,
		order.PointsGranted, order.PointsSpent, nullable(order.QuoteNumber), issuer,
		order.Notes, order.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range order.Items {
		_, err = r.tx.Exec(ctx, `INSERT INTO sales_order_items (
			order_number, product_sku, product_name, quantity, unit_price,
			invoiced_quantity, loyalty_points
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			order.OrderNumber, item.SKU, item.Name, item.Quantity, item.UnitPrice,
			item.InvoicedQuantity, item.LoyaltyPoints)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) GetForUpdate(ctx context.Context, number string) (Order, error) {
	order, err := scanOrder(r.tx.QueryRow(ctx,
		selectOrder+` WHERE order_number = $1 FOR UPDATE`, number), number)
	if err != nil {
		return Order{}, err
	}
	order.Items, err = queryItems(ctx, r.tx, number)
	return order, err
}

func (r *txRepo) UpdateItems(ctx context.Context, number string, items []doc.DocumentItem) error {
	for _, item := range items {
		_, err := r.tx.Exec(ctx,
			`UPDATE sales_order_items SET invoiced_quantity = $3
			 WHERE order_number = $1 AND product_sku = $2`,
			number, item.SKU, item.InvoicedQuantity)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) UpdateStatus(ctx context.Context, number string, status Status) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE sales_orders SET status = $2, updated_at = NOW() WHERE order_number = $1`,
		number, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("order", number)
	}
	return nil
}

func (r *txRepo) Delete(ctx context.Context, number string) error {
	if _, err := r.tx.Exec(ctx,
		`DELETE FROM sales_order_items WHERE order_number = $1`, number); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM sales_orders WHERE order_number = $1`, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("order", number)
	}
	return nil
}

func (r *txRepo) SiblingCount(ctx context.Context, quoteNumber string) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM sales_orders WHERE quotation_number = $1`, quoteNumber,
	).Scan(&n)
	return n, err
}

func (r *txRepo) RevertQuoteStatus(ctx context.Context, quoteNumber, status string) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE sales_quotes SET status = $2, updated_at = NOW() WHERE quote_number = $1`,
		quoteNumber, status)
	return err
}

const selectOrder = `SELECT order_number, customer_ruc, customer_name,
	delivery_address, status, channel, total_amount, term_days, points_granted,
	points_spent, COALESCE(quotation_number, ''), issuer, notes, created_at,
	updated_at FROM sales_orders`

// Get loads one order with its items.
func (r *Repository) Get(ctx context.Context, number string) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx,
		selectOrder+` WHERE order_number = $1`, number), number)
	if err != nil {
		return Order{}, err
	}
	order.Items, err = queryItems(ctx, r.pool, number)
	return order, err
}

// List returns a page of orders matching the filters, newest first, without
// their items.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	where := ` WHERE 1=1`
	args := []any{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (order_number ILIKE $` + n + ` OR customer_name ILIKE $` + n + ` OR customer_ruc ILIKE $` + n + `)`
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filters.CustomerRUC != "" {
		args = append(args, filters.CustomerRUC)
		where += ` AND customer_ruc = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales_orders`+where, args...).Scan(&total); err != nil {
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
	query := selectOrder + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		order, err := scanOrder(rows, "")
		if err != nil {
			return nil, 0, err
		}
		result = append(result, order)
	}
	return result, total, rows.Err()
}

// ActiveCountByQuote counts non-terminal orders spawned by one quote.
func (r *Repository) ActiveCountByQuote(ctx context.Context, quoteNumber string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sales_orders WHERE quotation_number = $1
		 AND status NOT IN ('CONVERTED','CANCELLED')`, quoteNumber,
	).Scan(&n)
	return n, err
}

// ProductHistory lists past sales of one product, newest first.
func (r *Repository) ProductHistory(ctx context.Context, sku string) ([]SaleRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.order_number, o.customer_ruc, o.customer_name, i.quantity,
			i.unit_price, o.created_at
		 FROM sales_order_items i
		 JOIN sales_orders o ON o.order_number = i.order_number
		 WHERE i.product_sku = $1
		 ORDER BY o.created_at DESC`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SaleRecord
	for rows.Next() {
		var rec SaleRecord
		if err := rows.Scan(&rec.OrderNumber, &rec.CustomerRUC, &rec.CustomerName,
			&rec.Quantity, &rec.UnitPrice, &rec.Date); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q queryer, number string) ([]doc.DocumentItem, error) {
	rows, err := q.Query(ctx,
		`SELECT product_sku, product_name, quantity, unit_price,
			invoiced_quantity, loyalty_points
		 FROM sales_order_items WHERE order_number = $1 ORDER BY id`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []doc.DocumentItem
	for rows.Next() {
		var item doc.DocumentItem
		if err := rows.Scan(&item.SKU, &item.Name, &item.Quantity, &item.UnitPrice,
			&item.InvoicedQuantity, &item.LoyaltyPoints); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row, number string) (Order, error) {
	var (
		order  Order
		status string
		chann  string
		issuer []byte
	)
	err := row.Scan(&order.OrderNumber, &order.CustomerRUC, &order.CustomerName,
		&order.DeliveryAddress, &status, &chann, &order.TotalAmount, &order.TermDays,
		&order.PointsGranted, &order.PointsSpent, &order.QuoteNumber, &issuer,
		&order.Notes, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("order", number)
	}
	if err != nil {
		return Order{}, err
	}
	order.Status = Status(status)
	order.Channel = channelFrom(chann)
	if len(issuer) > 0 {
		if err := json.Unmarshal(issuer, &order.Issuer); err != nil {
			return Order{}, err
		}
	}
	return order, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
