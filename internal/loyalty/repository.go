package loyalty

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists loyalty accounts and the global configuration.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by balance moves.
type TxRepository interface {
	GetAccountForUpdate(ctx context.Context, ruc string) (Account, error)
	SaveAccount(ctx context.Context, account Account) error
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

// GetAccountForUpdate locks the account row, creating it on first touch so
// every customer has a zero balance to lock.
func (r *txRepo) GetAccountForUpdate(ctx context.Context, ruc string) (Account, error) {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO loyalty_accounts (customer_ruc) VALUES ($1) ON CONFLICT (customer_ruc) DO NOTHING`, ruc)
	if err != nil {
		return Account{}, err
	}

	var account Account
	err = r.tx.QueryRow(ctx,
		`SELECT customer_ruc, web_points, local_points, updated_at FROM loyalty_accounts WHERE customer_ruc = $1 FOR UPDATE`,
		ruc,
	).Scan(&account.CustomerRUC, &account.WebPoints, &account.LocalPoints, &account.UpdatedAt)
	return account, err
}

func (r *txRepo) SaveAccount(ctx context.Context, account Account) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE loyalty_accounts SET web_points = $2, local_points = $3, updated_at = NOW() WHERE customer_ruc = $1`,
		account.CustomerRUC, account.WebPoints, account.LocalPoints)
	return err
}

// GetAccount reads a balance without locking. Unknown customers read as a
// zero balance.
func (r *Repository) GetAccount(ctx context.Context, ruc string) (Account, error) {
	var account Account
	err := r.pool.QueryRow(ctx,
		`SELECT customer_ruc, web_points, local_points, updated_at FROM loyalty_accounts WHERE customer_ruc = $1`,
		ruc,
	).Scan(&account.CustomerRUC, &account.WebPoints, &account.LocalPoints, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{CustomerRUC: ruc}, nil
	}
	return account, err
}

// GetConfig reads the singleton configuration row.
func (r *Repository) GetConfig(ctx context.Context) (Config, error) {
	var cfg Config
	err := r.pool.QueryRow(ctx,
		`SELECT points_per_sole, is_active, web_only, conversion_rate, updated_at FROM loyalty_config LIMIT 1`,
	).Scan(&cfg.PointsPerSole, &cfg.IsActive, &cfg.WebOnly, &cfg.ConversionRate, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, shared.NotFound("loyalty config", "singleton")
	}
	return cfg, err
}

// SaveConfig upserts the singleton configuration row.
func (r *Repository) SaveConfig(ctx context.Context, cfg Config) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO loyalty_config (
		singleton, points_per_sole, is_active, web_only, conversion_rate, updated_at
	) VALUES (TRUE,$1,$2,$3,$4,NOW())
	ON CONFLICT (singleton) DO UPDATE SET
		points_per_sole = EXCLUDED.points_per_sole,
		is_active = EXCLUDED.is_active,
		web_only = EXCLUDED.web_only,
		conversion_rate = EXCLUDED.conversion_rate,
		updated_at = NOW()`,
		cfg.PointsPerSole, cfg.IsActive, cfg.WebOnly, cfg.ConversionRate)
	return err
}
