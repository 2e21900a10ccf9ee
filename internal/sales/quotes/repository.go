package quotes

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

// Repository persists quotes in PostgreSQL: sales_quotes for the header and
// sales_quote_items for the lines.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional quote operations.
type TxRepository interface {
	IssueNumber(ctx context.Context, kind string, now time.Time) (string, error)
	Insert(ctx context.Context, quote Quote) error
	GetForUpdate(ctx context.Context, number string) (Quote, error)
	Update(ctx context.Context, quote Quote) error
	UpdateStatus(ctx context.Context, number string, status Status) error
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
			`SELECT quote_number FROM sales_quotes WHERE quote_number LIKE $1 || '-%'
			 ORDER BY LENGTH(quote_number) DESC, quote_number DESC LIMIT 1`, prefix,
		).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return last, err
	})
}

func (r *txRepo) Insert(ctx context.Context, quote Quote) error {
	issuer, err := json.Marshal(quote.Issuer)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO sales_quotes (
		quote_number, customer_ruc, customer_name, delivery_address, status,
		channel, total_amount, term_days, valid_until, issuer, notes,
		created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`,
		quote.QuoteNumber, quote.CustomerRUC, quote.CustomerName,
		quote.DeliveryAddress, string(quote.Status), string(quote.Channel),
		quote.TotalAmount, quote.TermDays, quote.ValidUntil, issuer,
		quote.Notes, quote.CreatedAt)
	if err != nil {
		return err
	}
	return insertItems(ctx, r.tx, quote)
}

func insertItems(ctx context.Context, tx pgx.Tx, quote Quote) error {
	for _, item := range quote.Items {
		_, err := tx.Exec(ctx, `INSERT INTO sales_quote_items (
			quote_number, product_sku, product_name, quantity, unit_price, loyalty_points
		) VALUES ($1,$2,$3,$4,$5,$6)`,
			quote.QuoteNumber, item.SKU, item.Name, item.Quantity,
			item.UnitPrice, item.LoyaltyPoints)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) GetForUpdate(ctx context.Context, number string) (Quote, error) {
	quote, err := scanQuote(r.tx.QueryRow(ctx,
		selectQuote+` WHERE quote_number = $1 FOR UPDATE`, number), number)
	if err != nil {
		return Quote{}, err
	}
	items, err := queryItems(ctx, r.tx, number)
	if err != nil {
		return Quote{}, err
	}
	quote.Items = items
	return quote, nil
}

func (r *txRepo) Update(ctx context.Context, quote Quote) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE sales_quotes SET delivery_address = $2, total_amount = $3,
		 term_days = $4, valid_until = $5, notes = $6, updated_at = NOW()
		 WHERE quote_number = $1`,
		quote.QuoteNumber, quote.DeliveryAddress, quote.TotalAmount,
		quote.TermDays, quote.ValidUntil, quote.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("quote", quote.QuoteNumber)
	}
	if _, err := r.tx.Exec(ctx,
		`DELETE FROM sales_quote_items WHERE quote_number = $1`, quote.QuoteNumber); err != nil {
		return err
	}
	return insertItems(ctx, r.tx, quote)
}

func (r *txRepo) UpdateStatus(ctx context.Context, number string, status Status) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE sales_quotes SET status = $2, updated_at = NOW()
		 WHERE quote_number = $1`, number, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("quote", number)
	}
	return nil
}

func (r *txRepo) Delete(ctx context.Context, number string) error {
	if _, err := r.tx.Exec(ctx,
		`DELETE FROM sales_quote_items WHERE quote_number = $1`, number); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM sales_quotes WHERE quote_number = $1`, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("quote", number)
	}
	return nil
}

const selectQuote = `SELECT quote_number, customer_ruc, customer_name,
	delivery_address, status, channel, total_amount, term_days, valid_until,
	issuer, notes, created_at, updated_at FROM sales_quotes`

// Get loads one quote with its items.
func (r *Repository) Get(ctx context.Context, number string) (Quote, error) {
	quote, err := scanQuote(r.pool.QueryRow(ctx,
		selectQuote+` WHERE quote_number = $1`, number), number)
	if err != nil {
		return Quote{}, err
	}
	items, err := queryItems(ctx, r.pool, number)
	if err != nil {
		return Quote{}, err
	}
	quote.Items = items
	return quote, nil
}

// List returns a page of quotes, newest first, without items.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Quote, int, error) {
	where := ` WHERE 1=1`
	args := []any{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (quote_number ILIKE $` + n + ` OR customer_name ILIKE $` + n + ` OR customer_ruc ILIKE $` + n + `)`
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales_quotes`+where, args...).Scan(&total); err != nil {
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
	query := selectQuote + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Quote
	for rows.Next() {
		quote, err := scanQuote(rows, "")
		if err != nil {
			return nil, 0, err
		}
		result = append(result, quote)
	}
	return result, total, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q queryer, number string) ([]doc.DocumentItem, error) {
	rows, err := q.Query(ctx,
		`SELECT product_sku, product_name, quantity, unit_price, loyalty_points
		 FROM sales_quote_items WHERE quote_number = $1 ORDER BY id`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []doc.DocumentItem
	for rows.Next() {
		var item doc.DocumentItem
		if err := rows.Scan(&item.SKU, &item.Name, &item.Quantity,
			&item.UnitPrice, &item.LoyaltyPoints); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQuote(row pgx.Row, number string) (Quote, error) {
	var (
		quote   Quote
		status  string
		channel string
		issuer  []byte
	)
	err := row.Scan(&quote.QuoteNumber, &quote.CustomerRUC, &quote.CustomerName,
		&quote.DeliveryAddress, &status, &channel, &quote.TotalAmount,
		&quote.TermDays, &quote.ValidUntil, &issuer, &quote.Notes,
		&quote.CreatedAt, &quote.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quote{}, shared.NotFound("quote", number)
	}
	if err != nil {
		return Quote{}, err
	}
	quote.Status = Status(status)
	quote.Channel = loyaltyChannel(channel)
	if len(issuer) > 0 {
		if err := json.Unmarshal(issuer, &quote.Issuer); err != nil {
			return Quote{}, err
		}
	}
	return quote, nil
}
