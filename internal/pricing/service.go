package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const policyCacheKey = "pricing:policy"

var hundred = decimal.NewFromInt(100)

// ResolveInput carries everything about the buyer that affects the price.
type ResolveInput struct {
	Product        catalog.Product
	Quantity       int64
	Tier           Tier
	IsB2B          bool
	CustomDiscount decimal.Decimal
}

// Resolve walks the discount pipeline: role base price, best matching tier
// rule, product volume breaks at 6/12/24 units, then the customer's own
// discount. Each step multiplies, none of them stack additively, and the
// result rounds to 3 decimals once at the end.
func Resolve(input ResolveInput, rules []Rule) Quote {
	p := input.Product

	base := p.PriceRetail
	if input.IsB2B {
		base = p.PriceWholesale
	}

	best := decimal.Zero
	for _, rule := range rules {
		if !rule.IsActive || rule.Tier != input.Tier {
			continue
		}
		if rule.Brand != "" && rule.Brand != p.Brand {
			continue
		}
		if rule.CategoryID != "" && rule.CategoryID != p.CategoryID {
			continue
		}
		if rule.DiscountPct.GreaterThan(best) {
			best = rule.DiscountPct
		}
	}

	var volume decimal.Decimal
	switch {
	case input.Quantity >= 24:
		volume = p.Discount24Pct
	case input.Quantity >= 12:
		volume = p.Discount12Pct
	case input.Quantity >= 6:
		volume = p.Discount6Pct
	}

	price := base.
		Mul(decimal.NewFromInt(1).Sub(best.Div(hundred))).
		Mul(decimal.NewFromInt(1).Sub(volume.Div(hundred))).
		Mul(decimal.NewFromInt(1).Sub(input.CustomDiscount.Div(hundred))).
		Round(3)

	return Quote{
		SKU:            p.SKU,
		Quantity:       input.Quantity,
		BasePrice:      base,
		TierDiscount:   best,
		VolumeDiscount: volume,
		CustomDiscount: input.CustomDiscount,
		UnitPrice:      price,
	}
}

// TermAdjusted applies the credit-term surcharge from the policy. Cash
// terms apply the cash discount; a non-standard term snaps up to the next
// standard bracket.
func TermAdjusted(base decimal.Decimal, termDays int, policy Policy) decimal.Decimal {
	var pct decimal.Decimal
	switch {
	case termDays <= 0:
		pct = policy.CashDiscount
	case termDays == 30:
		pct = policy.Credit30Days
	case termDays == 60:
		pct = policy.Credit60Days
	case termDays == 90:
		pct = policy.Credit90Days
	case termDays == 180:
		pct = policy.Credit180Days
	case termDays > 90:
		pct = policy.Credit180Days
	case termDays > 60:
		pct = policy.Credit90Days
	case termDays > 30:
		pct = policy.Credit60Days
	default:
		pct = policy.Credit30Days
	}
	return base.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred))).Round(3)
}

// Service resolves prices against the rule set and keeps the sales policy
// in a short-lived redis cache.
type Service struct {
	logger   *slog.Logger
	repo     Repository
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewService(logger *slog.Logger, repo Repository, cache *redis.Client, cacheTTL time.Duration) *Service {
	return &Service{logger: logger, repo: repo, cache: cache, cacheTTL: cacheTTL}
}

// ResolvePrice prices one product line for a buyer.
func (s *Service) ResolvePrice(ctx context.Context, input ResolveInput) (Quote, error) {
	if input.Quantity <= 0 {
		return Quote{}, shared.Validationf("quantity must be positive")
	}
	if input.Tier == "" {
		input.Tier = TierStandard
	}

	rules, err := s.repo.ActiveRulesForTier(ctx, input.Tier)
	if err != nil {
		return Quote{}, err
	}
	return Resolve(input, rules), nil
}

// TermAdjustedPrice applies the financial surcharge for a credit term.
func (s *Service) TermAdjustedPrice(ctx context.Context, base decimal.Decimal, termDays int) (decimal.Decimal, error) {
	policy, err := s.GetPolicy(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return TermAdjusted(base, termDays, policy), nil
}

// GetPolicy returns the sales policy, seeding defaults when the row does
// not exist yet.
func (s *Service) GetPolicy(ctx context.Context) (Policy, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, policyCacheKey).Bytes(); err == nil {
			var policy Policy
			if err := json.Unmarshal(cached, &policy); err == nil {
				return policy, nil
			}
		}
	}

	policy, err := s.repo.GetPolicy(ctx)
	if errors.Is(err, shared.ErrNotFound) {
		policy = DefaultPolicy()
		if err := s.repo.SavePolicy(ctx, policy); err != nil {
			return Policy{}, err
		}
	} else if err != nil {
		return Policy{}, err
	}

	s.cachePolicy(ctx, policy)
	return policy, nil
}

// UpdatePolicy replaces the policy and invalidates the cache.
func (s *Service) UpdatePolicy(ctx context.Context, policy Policy) (Policy, error) {
	if policy.MinMarginGuardPct.IsNegative() {
		return Policy{}, shared.Validationf("minimum margin guard cannot be negative")
	}
	if err := s.repo.SavePolicy(ctx, policy); err != nil {
		return Policy{}, err
	}
	if s.cache != nil {
		s.cache.Del(ctx, policyCacheKey)
	}
	s.logger.Info("sales policy updated", "updated_by", policy.UpdatedBy)
	return s.repo.GetPolicy(ctx)
}

func (s *Service) cachePolicy(ctx context.Context, policy Policy) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(policy)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, policyCacheKey, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("policy cache write failed", "error", err)
	}
}

// Rule management.

func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.repo.ListRules(ctx)
}

func (s *Service) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	if err := validateRule(rule); err != nil {
		return Rule{}, err
	}
	return s.repo.CreateRule(ctx, rule)
}

func (s *Service) UpdateRule(ctx context.Context, rule Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	return s.repo.UpdateRule(ctx, rule)
}

func (s *Service) DeleteRule(ctx context.Context, id string) error {
	return s.repo.DeleteRule(ctx, id)
}

func validateRule(rule Rule) error {
	if rule.Name == "" {
		return shared.Validationf("rule name is required")
	}
	switch rule.Tier {
	case TierStandard, TierBronze, TierSilver, TierGold, TierDiamond:
	default:
		return shared.Validationf("unknown tier %q", rule.Tier)
	}
	if rule.DiscountPct.IsNegative() || rule.DiscountPct.GreaterThan(hundred) {
		return shared.Validationf("discount percentage must be between 0 and 100")
	}
	return nil
}
