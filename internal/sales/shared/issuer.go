package shared

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IssuerInfo is the immutable snapshot of the issuing company embedded in
// every sales document at creation time. Later edits to the company
// profile never touch documents already issued.
type IssuerInfo struct {
	Name           string `json:"name"`
	RUC            string `json:"ruc"`
	Address        string `json:"address"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	Website        string `json:"website,omitempty"`
	LogoURL        string `json:"logo_url,omitempty"`
	BankName       string `json:"bank_name,omitempty"`
	AccountSoles   string `json:"account_soles,omitempty"`
	AccountDollars string `json:"account_dollars,omitempty"`
}

// IssuerRepository loads the company profile used for snapshots.
type IssuerRepository struct {
	pool *pgxpool.Pool
}

func NewIssuerRepository(pool *pgxpool.Pool) *IssuerRepository {
	return &IssuerRepository{pool: pool}
}

// Snapshot returns the current company profile. A missing profile yields
// an empty snapshot rather than an error; documents can still be issued
// while the profile is unconfigured.
func (r *IssuerRepository) Snapshot(ctx context.Context) (IssuerInfo, error) {
	var info IssuerInfo
	err := r.pool.QueryRow(ctx, `SELECT name, ruc, COALESCE(address,''), COALESCE(phone,''),
		COALESCE(email,''), COALESCE(website,''), COALESCE(logo_url,''),
		COALESCE(bank_name,''), COALESCE(account_soles,''), COALESCE(account_dollars,'')
	FROM company_profile LIMIT 1`).Scan(
		&info.Name, &info.RUC, &info.Address, &info.Phone,
		&info.Email, &info.Website, &info.LogoURL,
		&info.BankName, &info.AccountSoles, &info.AccountDollars,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return IssuerInfo{}, nil
	}
	return info, err
}

// Save upserts the single company profile row.
func (r *IssuerRepository) Save(ctx context.Context, info IssuerInfo) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO company_profile (
		singleton, name, ruc, address, phone, email, website, logo_url,
		bank_name, account_soles, account_dollars
	) VALUES (TRUE,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (singleton) DO UPDATE SET
		name = EXCLUDED.name, ruc = EXCLUDED.ruc, address = EXCLUDED.address,
		phone = EXCLUDED.phone, email = EXCLUDED.email, website = EXCLUDED.website,
		logo_url = EXCLUDED.logo_url, bank_name = EXCLUDED.bank_name,
		account_soles = EXCLUDED.account_soles, account_dollars = EXCLUDED.account_dollars`,
		info.Name, info.RUC, info.Address, info.Phone, info.Email, info.Website,
		info.LogoURL, info.BankName, info.AccountSoles, info.AccountDollars)
	return err
}
