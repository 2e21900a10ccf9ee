package inventory

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used while posting.
// GetProductForUpdate locks the product row so concurrent posts against one
// SKU serialize on it.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, sku string) (ProductState, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	UpdateProductStock(ctx context.Context, sku string, stock int64, cost decimal.Decimal) error
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

func (r *txRepo) GetProductForUpdate(ctx context.Context, sku string) (ProductState, error) {
	var state ProductState
	err := r.tx.QueryRow(ctx,
		`SELECT sku, name, stock_current, cost FROM products WHERE sku = $1 FOR UPDATE`, sku,
	).Scan(&state.SKU, &state.Name, &state.Stock, &state.Cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductState{}, shared.NotFound("product", sku)
	}
	return state, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (
		product_sku, quantity, direction, movement_type, unit_cost,
		reference_document, notes, responsible, date
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	RETURNING id, created_at`,
		m.ProductSKU, m.Quantity, m.Direction, string(m.Type), m.UnitCost,
		m.Reference, m.Notes, m.Responsible, m.Date,
	).Scan(&m.ID, &m.CreatedAt)
	return m, err
}

func (r *txRepo) UpdateProductStock(ctx context.Context, sku string, stock int64, cost decimal.Decimal) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE products SET stock_current = $2, cost = $3, updated_at = NOW() WHERE sku = $1`,
		sku, stock, cost)
	return err
}

const movementColumns = `id, product_sku, quantity, direction, movement_type, unit_cost,
	reference_document, COALESCE(notes,''), COALESCE(responsible,''), date, created_at`

// ListMovements returns ledger entries newest first.
func (r *Repository) ListMovements(ctx context.Context, filters MovementFilters) ([]Movement, int, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM stock_movements WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	addClause := func(clause string, value interface{}) {
		argCount++
		idx := `$` + strconv.Itoa(argCount)
		query += ` AND ` + clause + idx
		countQuery += ` AND ` + clause + idx
		args = append(args, value)
	}

	if filters.SKU != "" {
		addClause(`product_sku = `, filters.SKU)
	}
	if filters.Type != "" {
		addClause(`movement_type = `, string(filters.Type))
	}
	if filters.LossOnly {
		query += ` AND movement_type LIKE 'LOSS_%'`
		countQuery += ` AND movement_type LIKE 'LOSS_%'`
	}
	if !filters.From.IsZero() {
		addClause(`date >= `, filters.From)
	}
	if !filters.To.IsZero() {
		addClause(`date <= `, filters.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 {
		perPage = 50
	}
	query += ` ORDER BY id DESC LIMIT ` + strconv.Itoa(perPage) + ` OFFSET ` + strconv.Itoa((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	return movements, total, rows.Err()
}

// LossMovements returns all loss entries within the period, oldest first.
func (r *Repository) LossMovements(ctx context.Context, from, to time.Time, lossType MovementType) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE `
	args := []interface{}{}
	if lossType != "" {
		query += `movement_type = $1`
		args = append(args, string(lossType))
	} else {
		query += `movement_type LIKE 'LOSS_%'`
	}
	if !from.IsZero() {
		args = append(args, from)
		query += ` AND date >= $` + strconv.Itoa(len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += ` AND date <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// CommittedBySKU sums quantities reserved by orders still waiting for
// dispatch paperwork.
func (r *Repository) CommittedBySKU(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.product_sku, COALESCE(SUM(i.quantity), 0)
		FROM sales_order_items i
		JOIN sales_orders o ON o.order_number = i.order_number
		WHERE o.status = 'PENDING'
		GROUP BY i.product_sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	committed := map[string]int64{}
	for rows.Next() {
		var sku string
		var qty int64
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, err
		}
		committed[sku] = qty
	}
	return committed, rows.Err()
}

// ProductStates loads stock and cost for the given SKUs without locking.
func (r *Repository) ProductStates(ctx context.Context, skus []string) (map[string]ProductState, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT sku, name, stock_current, cost FROM products WHERE sku = ANY($1)`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := map[string]ProductState{}
	for rows.Next() {
		var s ProductState
		if err := rows.Scan(&s.SKU, &s.Name, &s.Stock, &s.Cost); err != nil {
			return nil, err
		}
		states[s.SKU] = s
	}
	return states, rows.Err()
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var typ string
	err := row.Scan(&m.ID, &m.ProductSKU, &m.Quantity, &m.Direction, &typ, &m.UnitCost,
		&m.Reference, &m.Notes, &m.Responsible, &m.Date, &m.CreatedAt)
	m.Type = MovementType(typ)
	return m, err
}
