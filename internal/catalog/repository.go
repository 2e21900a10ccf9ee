package catalog

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const productColumns = `sku, name, brand, description, category_id, price_retail, price_wholesale,
	discount_6_pct, discount_12_pct, discount_24_pct, cost, stock_current,
	loyalty_points, points_cost, is_active_in_shop, created_at, updated_at`

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, sku string) (Product, error)
	GetMany(ctx context.Context, skus []string) (map[string]Product, error)
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) error
	Delete(ctx context.Context, sku string) error
	InsertPriceChanges(ctx context.Context, changes []PriceChange) error
	ListPriceChanges(ctx context.Context, sku, priceType string) ([]PriceChange, error)
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, c Category) (Category, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM products WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	addClause := func(clause string, value interface{}) {
		argCount++
		idx := `$` + strconv.Itoa(argCount)
		query += ` AND ` + clause + idx
		countQuery += ` AND ` + clause + idx
		args = append(args, value)
	}

	if filters.Search != "" {
		argCount++
		idx := `$` + strconv.Itoa(argCount)
		clause := ` AND (name ILIKE ` + idx + ` OR sku ILIKE ` + idx + `)`
		query += clause
		countQuery += clause
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Brand != "" {
		addClause(`brand = `, filters.Brand)
	}
	if filters.CategoryID != "" {
		addClause(`category_id = `, filters.CategoryID)
	}
	if filters.ShopOnly {
		query += ` AND is_active_in_shop = TRUE`
		countQuery += ` AND is_active_in_shop = TRUE`
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
	query += ` ORDER BY sku LIMIT ` + strconv.Itoa(perPage) + ` OFFSET ` + strconv.Itoa((page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, sku string) (Product, error) {
	row := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.NotFound("product", sku)
	}
	return p, err
}

func (r *repository) GetMany(ctx context.Context, skus []string) (map[string]Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE sku = ANY($1)`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Product, len(skus))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.SKU] = p
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, p Product) (Product, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO products (
		sku, name, brand, description, category_id, price_retail, price_wholesale,
		discount_6_pct, discount_12_pct, discount_24_pct, cost, stock_current,
		loyalty_points, points_cost, is_active_in_shop
	) VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	RETURNING created_at, updated_at`,
		p.SKU, p.Name, p.Brand, p.Description, p.CategoryID, p.PriceRetail, p.PriceWholesale,
		p.Discount6Pct, p.Discount12Pct, p.Discount24Pct, p.Cost, p.StockCurrent,
		p.LoyaltyPoints, p.PointsCost, p.IsActiveInShop,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Product{}, shared.Duplicate("product", "sku", p.SKU)
	}
	return p, err
}

func (r *repository) Update(ctx context.Context, p Product) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET
		name = $2, brand = $3, description = $4, category_id = NULLIF($5,''),
		price_retail = $6, price_wholesale = $7,
		discount_6_pct = $8, discount_12_pct = $9, discount_24_pct = $10,
		loyalty_points = $11, points_cost = $12, is_active_in_shop = $13,
		updated_at = NOW()
	WHERE sku = $1`,
		p.SKU, p.Name, p.Brand, p.Description, p.CategoryID,
		p.PriceRetail, p.PriceWholesale,
		p.Discount6Pct, p.Discount12Pct, p.Discount24Pct,
		p.LoyaltyPoints, p.PointsCost, p.IsActiveInShop,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("product", p.SKU)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, sku string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE sku = $1`, sku)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("product", sku)
	}
	return nil
}

func (r *repository) InsertPriceChanges(ctx context.Context, changes []PriceChange) error {
	for _, c := range changes {
		if _, err := r.db.Exec(ctx, `INSERT INTO price_history
			(product_sku, price_type, old_price, new_price, changed_by, reason, changed_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)`,
			c.ProductSKU, c.PriceType, c.OldPrice, c.NewPrice, c.ChangedBy, c.Reason, c.ChangedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) ListPriceChanges(ctx context.Context, sku, priceType string) ([]PriceChange, error) {
	query := `SELECT product_sku, price_type, old_price, new_price,
		COALESCE(changed_by, ''), COALESCE(reason, ''), changed_at
	FROM price_history WHERE product_sku = $1`
	args := []interface{}{sku}
	if priceType != "" {
		query += ` AND price_type = $2`
		args = append(args, priceType)
	}
	query += ` ORDER BY changed_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []PriceChange{}
	for rows.Next() {
		var c PriceChange
		if err := rows.Scan(&c.ProductSKU, &c.PriceType, &c.OldPrice, &c.NewPrice,
			&c.ChangedBy, &c.Reason, &c.ChangedAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (r *repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, parent_id, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *repository) CreateCategory(ctx context.Context, c Category) (Category, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO categories (id, name, parent_id) VALUES ($1,$2,$3) RETURNING created_at`,
		c.ID, c.Name, c.ParentID).Scan(&c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Category{}, shared.Duplicate("category", "id", c.ID)
	}
	return c, err
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var categoryID *string
	err := row.Scan(
		&p.SKU, &p.Name, &p.Brand, &p.Description, &categoryID,
		&p.PriceRetail, &p.PriceWholesale,
		&p.Discount6Pct, &p.Discount12Pct, &p.Discount24Pct,
		&p.Cost, &p.StockCurrent, &p.LoyaltyPoints, &p.PointsCost,
		&p.IsActiveInShop, &p.CreatedAt, &p.UpdatedAt,
	)
	if categoryID != nil {
		p.CategoryID = *categoryID
	}
	return p, err
}
