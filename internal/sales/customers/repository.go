package customers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/pricing"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Customer, int, error)
	Get(ctx context.Context, ruc string) (Customer, error)
	Create(ctx context.Context, c Customer) (Customer, error)
	Update(ctx context.Context, c Customer) error
	Delete(ctx context.Context, ruc string) error
	OutstandingDebt(ctx context.Context, ruc string) (decimal.Decimal, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const customerColumns = `ruc, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(address,''),
	classification, custom_discount_percent, is_b2b, branches,
	status_credit, credit_manual_block, credit_limit, allowed_terms, risk_score,
	COALESCE(internal_notes,''), created_at, updated_at`

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Customer, int, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM customers WHERE 1=1`
	args := []interface{}{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		idx := `$` + strconv.Itoa(len(args))
		clause := ` AND (name ILIKE ` + idx + ` OR ruc ILIKE ` + idx + `)`
		query += clause
		countQuery += clause
	}
	if filters.Tier != "" {
		args = append(args, string(filters.Tier))
		idx := `$` + strconv.Itoa(len(args))
		query += ` AND classification = ` + idx
		countQuery += ` AND classification = ` + idx
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
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
	query += ` ORDER BY name LIMIT ` + strconv.Itoa(perPage) + ` OFFSET ` + strconv.Itoa((page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	customers := []Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		customers = append(customers, c)
	}
	return customers, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, ruc string) (Customer, error) {
	row := r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE ruc = $1`, ruc)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, shared.NotFound("customer", ruc)
	}
	return c, err
}

func (r *repository) Create(ctx context.Context, c Customer) (Customer, error) {
	branches, err := json.Marshal(c.Branches)
	if err != nil {
		return Customer{}, err
	}
	err = r.db.QueryRow(ctx, `INSERT INTO customers (
		ruc, name, email, phone, address, classification, custom_discount_percent, is_b2b,
		branches, status_credit, credit_manual_block, credit_limit, allowed_terms, risk_score, internal_notes
	) VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13,$14,NULLIF($15,''))
	RETURNING created_at, updated_at`,
		c.RUC, c.Name, c.Email, c.Phone, c.Address, string(c.Classification), c.CustomDiscountPct, c.IsB2B,
		branches, c.CreditEnabled, c.CreditManualBlock, c.CreditLimit, c.AllowedTerms, c.RiskScore, c.InternalNotes,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Customer{}, shared.Duplicate("customer", "ruc", c.RUC)
	}
	return c, err
}

func (r *repository) Update(ctx context.Context, c Customer) error {
	branches, err := json.Marshal(c.Branches)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE customers SET
		name = $2, email = NULLIF($3,''), phone = NULLIF($4,''), address = NULLIF($5,''),
		classification = $6, custom_discount_percent = $7, is_b2b = $8, branches = $9,
		status_credit = $10, credit_manual_block = $11, credit_limit = $12,
		allowed_terms = $13, risk_score = $14, internal_notes = NULLIF($15,''), updated_at = NOW()
	WHERE ruc = $1`,
		c.RUC, c.Name, c.Email, c.Phone, c.Address, string(c.Classification), c.CustomDiscountPct, c.IsB2B,
		branches, c.CreditEnabled, c.CreditManualBlock, c.CreditLimit, c.AllowedTerms, c.RiskScore, c.InternalNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("customer", c.RUC)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, ruc string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM customers WHERE ruc = $1`, ruc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("customer", ruc)
	}
	return nil
}

// OutstandingDebt sums unpaid invoice remainders for the customer.
func (r *repository) OutstandingDebt(ctx context.Context, ruc string) (decimal.Decimal, error) {
	var outstanding decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount - amount_paid), 0)
		FROM sales_invoices
		WHERE customer_ruc = $1 AND payment_status <> 'PAID'`, ruc).Scan(&outstanding)
	return outstanding, err
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	var classification string
	var branches []byte
	err := row.Scan(&c.RUC, &c.Name, &c.Email, &c.Phone, &c.Address,
		&classification, &c.CustomDiscountPct, &c.IsB2B, &branches,
		&c.CreditEnabled, &c.CreditManualBlock, &c.CreditLimit, &c.AllowedTerms, &c.RiskScore,
		&c.InternalNotes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Customer{}, err
	}
	c.Classification = pricing.Tier(classification)
	if len(branches) > 0 {
		if err := json.Unmarshal(branches, &c.Branches); err != nil {
			return Customer{}, err
		}
	}
	return c, nil
}
