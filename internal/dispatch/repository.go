package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists delivery guides in delivery_guides with their lines in
// delivery_guide_items.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional guide operations.
type TxRepository interface {
	IssueNumber(ctx context.Context, kind string, now time.Time) (string, error)
	Insert(ctx context.Context, guide Guide) error
	GetForUpdate(ctx context.Context, number string) (Guide, error)
	GetByInvoice(ctx context.Context, invoiceNumber string) (Guide, error)
	UpdateStatus(ctx context.Context, guide Guide) error
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
			`SELECT guide_number FROM delivery_guides WHERE guide_number LIKE $1 || '-%'
			 ORDER BY LENGTH(guide_number) DESC, guide_number DESC LIMIT 1`, prefix,
		).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return last, err
	})
}

func (r *txRepo) Insert(ctx context.Context, guide Guide) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO delivery_guides (
		guide_number, sunat_number, guide_type, status, invoice_number,
		order_number, customer_ruc, customer_name, delivery_address,
		vehicle_plate, driver_name, received_by, notes, issue_date,
		dispatch_date, delivery_date, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)`,
		guide.GuideNumber, guide.SunatNumber, string(guide.Type), string(guide.Status),
		guide.InvoiceNumber, guide.OrderNumber, guide.CustomerRUC, guide.CustomerName,
		guide.DeliveryAddress, guide.VehiclePlate, guide.DriverName, guide.ReceivedBy,
		guide.Notes, guide.IssueDate, guide.DispatchDate, guide.DeliveryDate,
		guide.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range guide.Items {
		_, err = r.tx.Exec(ctx, `INSERT INTO delivery_guide_items (
			guide_number, product_sku, product_name, quantity, unit_cost
		) VALUES ($1,$2,$3,$4,$5)`,
			guide.GuideNumber, item.SKU, item.Name, item.Quantity, item.UnitCost)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) GetForUpdate(ctx context.Context, number string) (Guide, error) {
	guide, err := scanGuide(r.tx.QueryRow(ctx,
		selectGuide+` WHERE guide_number = $1 FOR UPDATE`, number), number)
	if err != nil {
		return Guide{}, err
	}
	guide.Items, err = queryItems(ctx, r.tx, number)
	return guide, err
}

func (r *txRepo) GetByInvoice(ctx context.Context, invoiceNumber string) (Guide, error) {
	guide, err := scanGuide(r.tx.QueryRow(ctx,
		selectGuide+` WHERE invoice_number = $1`, invoiceNumber), invoiceNumber)
	if err != nil {
		return Guide{}, err
	}
	guide.Items, err = queryItems(ctx, r.tx, guide.GuideNumber)
	return guide, err
}

func (r *txRepo) UpdateStatus(ctx context.Context, guide Guide) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE delivery_guides SET status = $2, dispatch_date = $3,
		 delivery_date = $4, received_by = $5, updated_at = NOW()
		 WHERE guide_number = $1`,
		guide.GuideNumber, string(guide.Status), guide.DispatchDate,
		guide.DeliveryDate, guide.ReceivedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("guide", guide.GuideNumber)
	}
	return nil
}

func (r *txRepo) Delete(ctx context.Context, number string) error {
	if _, err := r.tx.Exec(ctx,
		`DELETE FROM delivery_guide_items WHERE guide_number = $1`, number); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM delivery_guides WHERE guide_number = $1`, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("guide", number)
	}
	return nil
}

const selectGuide = `SELECT guide_number, COALESCE(sunat_number, ''), guide_type,
	status, invoice_number, COALESCE(order_number, ''), customer_ruc,
	customer_name, delivery_address, COALESCE(vehicle_plate, ''),
	COALESCE(driver_name, ''), COALESCE(received_by, ''), notes, issue_date,
	dispatch_date, delivery_date, created_at, updated_at FROM delivery_guides`

// Get loads one guide with its items.
func (r *Repository) Get(ctx context.Context, number string) (Guide, error) {
	guide, err := scanGuide(r.pool.QueryRow(ctx,
		selectGuide+` WHERE guide_number = $1`, number), number)
	if err != nil {
		return Guide{}, err
	}
	guide.Items, err = queryItems(ctx, r.pool, number)
	return guide, err
}

// List returns a page of guides, newest first, without items.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Guide, int, error) {
	where := ` WHERE 1=1`
	args := []any{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (guide_number ILIKE $` + n + ` OR sunat_number ILIKE $` + n +
			` OR customer_name ILIKE $` + n + ` OR invoice_number ILIKE $` + n + `)`
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filters.Type != "" {
		args = append(args, filters.Type)
		where += ` AND guide_type = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_guides`+where, args...).Scan(&total); err != nil {
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
	query := selectGuide + where +
		` ORDER BY issue_date DESC LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Guide
	for rows.Next() {
		guide, err := scanGuide(rows, "")
		if err != nil {
			return nil, 0, err
		}
		result = append(result, guide)
	}
	return result, total, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q queryer, number string) ([]GuideItem, error) {
	rows, err := q.Query(ctx,
		`SELECT product_sku, product_name, quantity, unit_cost
		 FROM delivery_guide_items WHERE guide_number = $1 ORDER BY id`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []GuideItem
	for rows.Next() {
		var item GuideItem
		if err := rows.Scan(&item.SKU, &item.Name, &item.Quantity, &item.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanGuide(row pgx.Row, key string) (Guide, error) {
	var (
		guide     Guide
		guideType string
		status    string
	)
	err := row.Scan(&guide.GuideNumber, &guide.SunatNumber, &guideType, &status,
		&guide.InvoiceNumber, &guide.OrderNumber, &guide.CustomerRUC,
		&guide.CustomerName, &guide.DeliveryAddress, &guide.VehiclePlate,
		&guide.DriverName, &guide.ReceivedBy, &guide.Notes, &guide.IssueDate,
		&guide.DispatchDate, &guide.DeliveryDate, &guide.CreatedAt, &guide.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Guide{}, shared.NotFound("guide", key)
	}
	if err != nil {
		return Guide{}, err
	}
	guide.Type = GuideType(guideType)
	guide.Status = GuideStatus(status)
	return guide, nil
}
