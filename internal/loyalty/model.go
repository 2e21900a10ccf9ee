package loyalty

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Channel identifies where a sale originated. Web sales credit the public
// web balance; in-person ERP sales credit the internal local balance.
type Channel string

const (
	ChannelERP Channel = "ERP"
	ChannelWeb Channel = "SHOP"
)

// Config is the single global loyalty configuration.
type Config struct {
	PointsPerSole  decimal.Decimal `json:"points_per_sole"`
	IsActive       bool            `json:"is_active"`
	WebOnly        bool            `json:"web_only"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DefaultConfig seeds the configuration row on first use.
func DefaultConfig() Config {
	return Config{
		PointsPerSole:  decimal.NewFromInt(1),
		IsActive:       true,
		ConversionRate: decimal.NewFromInt(1),
	}
}

// Account holds both point balances for a customer.
type Account struct {
	CustomerRUC string    `json:"customer_ruc"`
	WebPoints   int64     `json:"web_points"`
	LocalPoints int64     `json:"local_points"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InsufficientPointsError rejects a redemption or conversion larger than
// the balance it draws from.
type InsufficientPointsError struct {
	CustomerRUC string
	Balance     int64
	Requested   int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points for %s: have %d, need %d", e.CustomerRUC, e.Balance, e.Requested)
}

func (e *InsufficientPointsError) Unwrap() error { return shared.ErrValidation }

// PointsPerUnit resolves the per-unit point value of an item. A snapshot
// taken earlier (on the quote) always wins; next the product's fixed point
// value; finally the configured points-per-sole rate against the unit
// price, floored. An inactive configuration grants nothing on that last
// path.
func PointsPerUnit(cfg Config, productPoints int64, unitPrice decimal.Decimal, snapshot *int64) int64 {
	if snapshot != nil {
		return *snapshot
	}
	if productPoints > 0 {
		return productPoints
	}
	if cfg.IsActive && cfg.PointsPerSole.IsPositive() {
		return unitPrice.Mul(cfg.PointsPerSole).IntPart()
	}
	return 0
}

// ConvertedPoints computes how many web points N local points become.
func ConvertedPoints(cfg Config, localPoints int64) int64 {
	return decimal.NewFromInt(localPoints).Mul(cfg.ConversionRate).IntPart()
}
