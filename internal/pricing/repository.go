package pricing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Repository interface {
	ActiveRulesForTier(ctx context.Context, tier Tier) ([]Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	CreateRule(ctx context.Context, rule Rule) (Rule, error)
	UpdateRule(ctx context.Context, rule Rule) error
	DeleteRule(ctx context.Context, id string) error
	GetPolicy(ctx context.Context) (Policy, error)
	SavePolicy(ctx context.Context, policy Policy) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const ruleColumns = `id, name, tier, COALESCE(category_id,''), COALESCE(brand,''), discount_percentage, is_active, created_at`

func (r *repository) ActiveRulesForTier(ctx context.Context, tier Tier) ([]Rule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM pricing_rules WHERE tier = $1 AND is_active = TRUE`, string(tier))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func (r *repository) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM pricing_rules ORDER BY tier, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func (r *repository) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `INSERT INTO pricing_rules (id, name, tier, category_id, brand, discount_percentage, is_active)
		VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7) RETURNING created_at`,
		rule.ID, rule.Name, string(rule.Tier), rule.CategoryID, rule.Brand, rule.DiscountPct, rule.IsActive,
	).Scan(&rule.CreatedAt)
	return rule, err
}

func (r *repository) UpdateRule(ctx context.Context, rule Rule) error {
	tag, err := r.db.Exec(ctx, `UPDATE pricing_rules SET
		name = $2, tier = $3, category_id = NULLIF($4,''), brand = NULLIF($5,''),
		discount_percentage = $6, is_active = $7
	WHERE id = $1`,
		rule.ID, rule.Name, string(rule.Tier), rule.CategoryID, rule.Brand, rule.DiscountPct, rule.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("pricing rule", rule.ID)
	}
	return nil
}

func (r *repository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pricing_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("pricing rule", id)
	}
	return nil
}

func (r *repository) GetPolicy(ctx context.Context) (Policy, error) {
	var p Policy
	var updatedBy *string
	err := r.db.QueryRow(ctx, `SELECT cash_discount, credit_30_days, credit_60_days, credit_90_days,
		credit_180_days, retail_markup_pct, vol_6_discount_pct, vol_12_discount_pct, vol_24_discount_pct,
		min_margin_guard_pct, last_updated, updated_by
	FROM sales_policies LIMIT 1`).Scan(
		&p.CashDiscount, &p.Credit30Days, &p.Credit60Days, &p.Credit90Days,
		&p.Credit180Days, &p.RetailMarkupPct, &p.Vol6DiscountPct, &p.Vol12DiscountPct, &p.Vol24DiscountPct,
		&p.MinMarginGuardPct, &p.LastUpdated, &updatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, shared.NotFound("sales policy", "singleton")
	}
	if updatedBy != nil {
		p.UpdatedBy = *updatedBy
	}
	return p, err
}

func (r *repository) SavePolicy(ctx context.Context, policy Policy) error {
	_, err := r.db.Exec(ctx, `INSERT INTO sales_policies (
		singleton, cash_discount, credit_30_days, credit_60_days, credit_90_days, credit_180_days,
		retail_markup_pct, vol_6_discount_pct, vol_12_discount_pct, vol_24_discount_pct,
		min_margin_guard_pct, last_updated, updated_by
	) VALUES (TRUE,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NULLIF($11,''))
	ON CONFLICT (singleton) DO UPDATE SET
		cash_discount = EXCLUDED.cash_discount,
		credit_30_days = EXCLUDED.credit_30_days,
		credit_60_days = EXCLUDED.credit_60_days,
		credit_90_days = EXCLUDED.credit_90_days,
		credit_180_days = EXCLUDED.credit_180_days,
		retail_markup_pct = EXCLUDED.retail_markup_pct,
		vol_6_discount_pct = EXCLUDED.vol_6_discount_pct,
		vol_12_discount_pct = EXCLUDED.vol_12_discount_pct,
		vol_24_discount_pct = EXCLUDED.vol_24_discount_pct,
		min_margin_guard_pct = EXCLUDED.min_margin_guard_pct,
		last_updated = NOW(),
		updated_by = EXCLUDED.updated_by`,
		policy.CashDiscount, policy.Credit30Days, policy.Credit60Days, policy.Credit90Days, policy.Credit180Days,
		policy.RetailMarkupPct, policy.Vol6DiscountPct, policy.Vol12DiscountPct, policy.Vol24DiscountPct,
		policy.MinMarginGuardPct, policy.UpdatedBy)
	return err
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	rules := []Rule{}
	for rows.Next() {
		var rule Rule
		var tier string
		if err := rows.Scan(&rule.ID, &rule.Name, &tier, &rule.CategoryID, &rule.Brand,
			&rule.DiscountPct, &rule.IsActive, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Tier = Tier(tier)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
