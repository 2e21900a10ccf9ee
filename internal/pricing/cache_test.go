package pricing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type policyRepo struct {
	policy    *Policy
	getCalls  int
	saveCalls int
}

func (r *policyRepo) ActiveRulesForTier(ctx context.Context, tier Tier) ([]Rule, error) {
	return nil, nil
}

func (r *policyRepo) ListRules(ctx context.Context) ([]Rule, error) { return nil, nil }

func (r *policyRepo) CreateRule(ctx context.Context, rule Rule) (Rule, error) { return rule, nil }

func (r *policyRepo) UpdateRule(ctx context.Context, rule Rule) error { return nil }

func (r *policyRepo) DeleteRule(ctx context.Context, id string) error { return nil }

func (r *policyRepo) GetPolicy(ctx context.Context) (Policy, error) {
	r.getCalls++
	if r.policy == nil {
		return Policy{}, shared.NotFound("sales policy", "singleton")
	}
	return *r.policy, nil
}

func (r *policyRepo) SavePolicy(ctx context.Context, policy Policy) error {
	r.saveCalls++
	r.policy = &policy
	return nil
}

func newCachedService(t *testing.T, repo Repository) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, client, time.Minute), mr
}

func TestGetPolicyCachesSnapshot(t *testing.T) {
	policy := DefaultPolicy()
	policy.UpdatedBy = "ops"
	repo := &policyRepo{policy: &policy}
	svc, mr := newCachedService(t, repo)

	first, err := svc.GetPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ops", first.UpdatedBy)
	require.True(t, mr.Exists("pricing:policy"))

	repo.policy.UpdatedBy = "someone-else"

	second, err := svc.GetPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ops", second.UpdatedBy)
	require.Equal(t, 1, repo.getCalls)
}

func TestGetPolicySeedsDefaultsWhenMissing(t *testing.T) {
	repo := &policyRepo{}
	svc, _ := newCachedService(t, repo)

	policy, err := svc.GetPolicy(context.Background())
	require.NoError(t, err)
	require.True(t, policy.Credit30Days.Equal(decimal.NewFromInt(3)))
	require.Equal(t, 1, repo.saveCalls)
}

func TestUpdatePolicyInvalidatesCache(t *testing.T) {
	policy := DefaultPolicy()
	repo := &policyRepo{policy: &policy}
	svc, mr := newCachedService(t, repo)

	_, err := svc.GetPolicy(context.Background())
	require.NoError(t, err)
	require.True(t, mr.Exists("pricing:policy"))

	next := DefaultPolicy()
	next.Credit30Days = decimal.NewFromInt(4)
	next.UpdatedBy = "ops"
	_, err = svc.UpdatePolicy(context.Background(), next)
	require.NoError(t, err)
	require.False(t, mr.Exists("pricing:policy"))

	refreshed, err := svc.GetPolicy(context.Background())
	require.NoError(t, err)
	require.True(t, refreshed.Credit30Days.Equal(decimal.NewFromInt(4)))
}

func TestCacheExpiryFallsBackToRepository(t *testing.T) {
	policy := DefaultPolicy()
	repo := &policyRepo{policy: &policy}
	svc, mr := newCachedService(t, repo)

	_, err := svc.GetPolicy(context.Background())
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = svc.GetPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, repo.getCalls)
}
