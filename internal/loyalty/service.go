package loyalty

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	GetAccount(ctx context.Context, ruc string) (Account, error)
	GetConfig(ctx context.Context) (Config, error)
	SaveConfig(ctx context.Context, cfg Config) error
}

// Service manages both point balances per customer. Web-channel sales
// credit the web balance, ERP-channel sales credit the local balance, and
// redemptions always draw from the web balance.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
}

func NewService(logger *slog.Logger, repo RepositoryPort) *Service {
	return &Service{logger: logger, repo: repo}
}

// GetConfig returns the configuration, seeding defaults on first use.
func (s *Service) GetConfig(ctx context.Context) (Config, error) {
	cfg, err := s.repo.GetConfig(ctx)
	if errors.Is(err, shared.ErrNotFound) {
		cfg = DefaultConfig()
		if err := s.repo.SaveConfig(ctx, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	return cfg, err
}

// UpdateConfig replaces the configuration.
func (s *Service) UpdateConfig(ctx context.Context, cfg Config) (Config, error) {
	if cfg.PointsPerSole.IsNegative() {
		return Config{}, shared.Validationf("points per sole cannot be negative")
	}
	if cfg.ConversionRate.IsNegative() {
		return Config{}, shared.Validationf("conversion rate cannot be negative")
	}
	if err := s.repo.SaveConfig(ctx, cfg); err != nil {
		return Config{}, err
	}
	s.logger.Info("loyalty config updated", "active", cfg.IsActive, "web_only", cfg.WebOnly)
	return s.repo.GetConfig(ctx)
}

// GetAccount returns both balances for a customer.
func (s *Service) GetAccount(ctx context.Context, ruc string) (Account, error) {
	return s.repo.GetAccount(ctx, ruc)
}

// Accrue credits earned points to the balance matching the sale channel.
// When the web-only flag is set, ERP sales accrue nothing at all; routing
// itself never changes with the flag.
func (s *Service) Accrue(ctx context.Context, ruc string, channel Channel, points int64) error {
	if points < 0 {
		return shared.Validationf("accrued points cannot be negative")
	}
	if points == 0 {
		return nil
	}

	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return err
	}
	if channel == ChannelERP && cfg.WebOnly {
		return nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		account, err := repo.GetAccountForUpdate(ctx, ruc)
		if err != nil {
			return err
		}
		if channel == ChannelWeb {
			account.WebPoints += points
		} else {
			account.LocalPoints += points
		}
		return repo.SaveAccount(ctx, account)
	})
	if err != nil {
		return err
	}

	s.logger.Info("points accrued", "ruc", ruc, "channel", channel, "points", points)
	return nil
}

// Redeem deducts points from the web balance, failing without changes when
// the balance cannot cover the request.
func (s *Service) Redeem(ctx context.Context, ruc string, points int64) error {
	if points <= 0 {
		return shared.Validationf("redeemed points must be positive")
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		account, err := repo.GetAccountForUpdate(ctx, ruc)
		if err != nil {
			return err
		}
		if account.WebPoints < points {
			return &InsufficientPointsError{CustomerRUC: ruc, Balance: account.WebPoints, Requested: points}
		}
		account.WebPoints -= points
		return repo.SaveAccount(ctx, account)
	})
	if err != nil {
		return err
	}

	s.logger.Info("points redeemed", "ruc", ruc, "points", points)
	return nil
}

// Refund returns previously redeemed points to the web balance. Used as
// the compensation path when an order fails after its redemption went
// through.
func (s *Service) Refund(ctx context.Context, ruc string, points int64) error {
	if points <= 0 {
		return shared.Validationf("refunded points must be positive")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		account, err := repo.GetAccountForUpdate(ctx, ruc)
		if err != nil {
			return err
		}
		account.WebPoints += points
		return repo.SaveAccount(ctx, account)
	})
}

// ConversionResult reports a local-to-web conversion.
type ConversionResult struct {
	CustomerRUC    string `json:"customer_ruc"`
	LocalConverted int64  `json:"local_points_converted"`
	WebGranted     int64  `json:"web_points_granted"`
	WebPoints      int64  `json:"web_points"`
	LocalPoints    int64  `json:"local_points"`
}

// Convert atomically moves local points into web points at the configured
// rate, flooring the result.
func (s *Service) Convert(ctx context.Context, ruc string, localPoints int64) (ConversionResult, error) {
	if localPoints <= 0 {
		return ConversionResult{}, shared.Validationf("converted points must be positive")
	}

	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return ConversionResult{}, err
	}

	var result ConversionResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		account, err := repo.GetAccountForUpdate(ctx, ruc)
		if err != nil {
			return err
		}
		if account.LocalPoints < localPoints {
			return &InsufficientPointsError{CustomerRUC: ruc, Balance: account.LocalPoints, Requested: localPoints}
		}

		granted := ConvertedPoints(cfg, localPoints)
		account.LocalPoints -= localPoints
		account.WebPoints += granted
		result = ConversionResult{
			CustomerRUC:    ruc,
			LocalConverted: localPoints,
			WebGranted:     granted,
			WebPoints:      account.WebPoints,
			LocalPoints:    account.LocalPoints,
		}
		return repo.SaveAccount(ctx, account)
	})
	if err != nil {
		return ConversionResult{}, err
	}

	s.logger.Info("points converted", "ruc", ruc, "local", localPoints, "web_granted", result.WebGranted)
	return result, nil
}
