package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/app/repository"
	"github.com/membercraft/creditledger/internal/pkg/tiers"
)

func proTier() tiers.ResolvedTier {
	return tiers.ResolvedTier{
		Key:           "pro",
		Name:          "Pro",
		Priority:      10,
		Credits:       100,
		BillingPeriod: models.BillingPeriodMonthly,
	}
}

func newTestService(tier tiers.ResolvedTier) (*Service, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	repos := repository.MemoryRepositories(store)
	return NewService(repos, tiers.StaticResolver{Tier: tier}, nil), store
}

func seedCost(t *testing.T, store *repository.MemoryStore, actionType string, perUnit int) {
	t.Helper()
	require.NoError(t, store.Upsert(&models.ActionCost{
		ActionType:     actionType,
		CreditsPerUnit: perUnit,
		IsActive:       true,
	}))
}

// setBuckets overwrites the three bucket balances without ledger entries.
func setBuckets(t *testing.T, svc *Service, accountID uint, current, rollover, overage int) *models.CreditAllocation {
	t.Helper()
	allocation, err := svc.GetOrCreate(context.Background(), accountID)
	require.NoError(t, err)
	require.NoError(t, svc.repos.Allocation.UpdateBalances(allocation, current, rollover, overage))
	return allocation
}

func TestGetOrCreateSeedsFromTier(t *testing.T) {
	svc, store := newTestService(proTier())

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "pro", allocation.Tier)
	assert.Equal(t, 100, allocation.MonthlyAllowance)
	assert.Equal(t, 100, allocation.CurrentBalance)
	assert.Equal(t, 0, allocation.RolloverBalance)
	assert.Equal(t, 0, allocation.OverageBalance)
	assert.Equal(t, 300, allocation.HardCap)
	assert.Equal(t, allocation.NextCycleEnd(allocation.BillingCycleStart), allocation.BillingCycleEnd)

	// The seed allowance is granted through the ledger like any later grant.
	entries := store.Transactions()
	require.Len(t, entries, 1)
	assert.Equal(t, "initial_grant", entries[0].ActionType)
	assert.Equal(t, -100, entries[0].CreditsUsed)
	assert.Equal(t, 100, entries[0].BalanceAfter)
	assert.Equal(t, models.SourceRefill, entries[0].SourceType)

	// Second call returns the existing row instead of reseeding.
	again, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, allocation.ID, again.ID)
	assert.Len(t, store.Transactions(), 1)
}

func TestGetOrCreateUnlimitedTierStoresZero(t *testing.T) {
	svc, store := newTestService(tiers.ResolvedTier{Key: "vip", Credits: models.UnlimitedCredits})

	allocation, err := svc.GetOrCreate(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 0, allocation.MonthlyAllowance)
	assert.Equal(t, 0, allocation.CurrentBalance)
	assert.Equal(t, 0, allocation.HardCap)

	// Nothing was granted, so nothing is recorded.
	assert.Empty(t, store.Transactions())
}

func TestSpendDrawOrder(t *testing.T) {
	tests := []struct {
		name         string
		current      int
		rollover     int
		overage      int
		cost         int
		wantCurrent  int
		wantRollover int
		wantOverage  int
		wantSource   string
	}{
		{name: "allowance only", current: 10, rollover: 5, overage: 5, cost: 4, wantCurrent: 6, wantRollover: 5, wantOverage: 5, wantSource: models.SourceAllowance},
		{name: "allowance then rollover", current: 5, rollover: 3, overage: 10, cost: 6, wantCurrent: 0, wantRollover: 2, wantOverage: 10, wantSource: models.SourceAllowance},
		{name: "across all three", current: 5, rollover: 3, overage: 10, cost: 9, wantCurrent: 0, wantRollover: 0, wantOverage: 9, wantSource: models.SourceAllowance},
		{name: "rollover only", current: 0, rollover: 8, overage: 4, cost: 5, wantCurrent: 0, wantRollover: 3, wantOverage: 4, wantSource: models.SourceRollover},
		{name: "overage only", current: 0, rollover: 0, overage: 9, cost: 9, wantCurrent: 0, wantRollover: 0, wantOverage: 0, wantSource: models.SourceOverage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(proTier())
			seedCost(t, store, "render", 1)
			setBuckets(t, svc, 1, tt.current, tt.rollover, tt.overage)

			require.NoError(t, svc.Spend(context.Background(), 1, "render", tt.cost, nil))

			allocation, err := svc.GetOrCreate(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCurrent, allocation.CurrentBalance)
			assert.Equal(t, tt.wantRollover, allocation.RolloverBalance)
			assert.Equal(t, tt.wantOverage, allocation.OverageBalance)

			entries := store.Transactions()
			require.NotEmpty(t, entries)
			last := entries[len(entries)-1]
			assert.Equal(t, tt.cost, last.CreditsUsed)
			assert.Equal(t, tt.wantSource, last.SourceType)
			assert.Equal(t, tt.wantCurrent+tt.wantRollover+tt.wantOverage, last.BalanceAfter)
		})
	}
}

func TestSpendConservation(t *testing.T) {
	svc, store := newTestService(proTier())
	seedCost(t, store, "render", 3)
	setBuckets(t, svc, 1, 20, 10, 5)

	before := 35
	require.NoError(t, svc.Spend(context.Background(), 1, "render", 2, nil))

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)

	entries := store.Transactions()
	last := entries[len(entries)-1]
	assert.Equal(t, before-allocation.TotalBalance(), last.CreditsUsed)
}

// Replaying the full transaction log from an empty account must reproduce
// the stored total balance: grants are negative, spends positive, so the
// balance is the negated sum of signed credits_used.
func TestLedgerReplayReconstructsBalance(t *testing.T) {
	svc, store := newTestService(proTier())
	seedCost(t, store, "render", 1)

	require.NoError(t, svc.Spend(context.Background(), 1, "render", 10, nil))
	require.NoError(t, svc.GrantOverage(context.Background(), 1, 50, nil))
	require.NoError(t, svc.Spend(context.Background(), 1, "render", 7, nil))
	require.NoError(t, svc.AdjustBalance(context.Background(), 1, -3, "ops", "correction"))

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)

	netConsumed := 0
	for _, entry := range store.Transactions() {
		netConsumed += entry.CreditsUsed
	}
	assert.Equal(t, allocation.TotalBalance(), -netConsumed)
	assert.Equal(t, 130, allocation.TotalBalance())
}

func TestSpendThenEqualGrantRestoresTotal(t *testing.T) {
	svc, store := newTestService(proTier())
	seedCost(t, store, "render", 1)

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	before := allocation.TotalBalance()

	require.NoError(t, svc.Spend(context.Background(), 1, "render", 30, nil))
	require.NoError(t, svc.GrantOverage(context.Background(), 1, 30, nil))

	allocation, err = svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, before, allocation.TotalBalance())
}

func TestSpendFreeActionsSkipLedger(t *testing.T) {
	svc, store := newTestService(proTier())
	_, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	baseline := len(store.Transactions())

	t.Run("unknown action", func(t *testing.T) {
		require.NoError(t, svc.Spend(context.Background(), 1, "never_cataloged", 5, nil))
		assert.Len(t, store.Transactions(), baseline)
	})

	t.Run("inactive action", func(t *testing.T) {
		require.NoError(t, store.Upsert(&models.ActionCost{ActionType: "legacy", CreditsPerUnit: 10, IsActive: false}))
		require.NoError(t, svc.Spend(context.Background(), 1, "legacy", 1, nil))
		assert.Len(t, store.Transactions(), baseline)
	})

	t.Run("zero cost action", func(t *testing.T) {
		seedCost(t, store, "ping", 0)
		require.NoError(t, svc.Spend(context.Background(), 1, "ping", 1, nil))
		assert.Len(t, store.Transactions(), baseline)
	})
}

func TestSpendInsufficientCredits(t *testing.T) {
	svc, store := newTestService(proTier())
	seedCost(t, store, "render", 1)
	setBuckets(t, svc, 1, 2, 1, 0)

	err := svc.Spend(context.Background(), 1, "render", 5, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	var gateErr *GateError
	require.True(t, errors.As(err, &gateErr))
	assert.Equal(t, uint(1), gateErr.AccountID)
	assert.Equal(t, 5, gateErr.Cost)
	assert.Equal(t, 3, gateErr.Balance)
	assert.Equal(t, 2, gateErr.Shortfall)

	// A failed spend leaves no ledger entry past the seed grant and no
	// balance change.
	allocation, getErr := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, getErr)
	assert.Equal(t, 3, allocation.TotalBalance())
	entries := store.Transactions()
	require.Len(t, entries, 1)
	assert.Equal(t, "initial_grant", entries[0].ActionType)
}

func TestAffordabilityHardCapPrecedence(t *testing.T) {
	svc, store := newTestService(proTier())
	seedCost(t, store, "render", 1)
	setBuckets(t, svc, 1, 0, 0, 0)

	err := svc.Affordability(context.Background(), 1, "render", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHardCapReached)
	assert.NotErrorIs(t, err, ErrInsufficientCredits)

	var gateErr *GateError
	require.True(t, errors.As(err, &gateErr))
	assert.False(t, gateErr.NextRefill.IsZero())
}

func TestAffordabilityZeroCapIsInsufficiency(t *testing.T) {
	// Free-tier allocations have no hard cap, so an empty balance reads as
	// plain insufficiency with an upgrade path, not cap exhaustion.
	svc, store := newTestService(tiers.FreeTier())
	seedCost(t, store, "render", 1)

	err := svc.Affordability(context.Background(), 1, "render", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestGrantOverage(t *testing.T) {
	svc, store := newTestService(proTier())

	require.NoError(t, svc.GrantOverage(context.Background(), 1, 50, map[string]string{"provider": "stripe"}))

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 50, allocation.OverageBalance)
	assert.Equal(t, 100, allocation.CurrentBalance)

	entries := store.Transactions()
	require.Len(t, entries, 2)
	grant := entries[1]
	assert.Equal(t, "overage_purchase", grant.ActionType)
	assert.Equal(t, -50, grant.CreditsUsed)
	assert.Equal(t, models.SourceOverage, grant.SourceType)

	meta, err := grant.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "stripe", meta["provider"])
}

func TestGrantOverageRejectsNonPositive(t *testing.T) {
	svc, _ := newTestService(proTier())

	assert.Error(t, svc.GrantOverage(context.Background(), 1, 0, nil))
	assert.Error(t, svc.GrantOverage(context.Background(), 1, -10, nil))
}

func TestAdjustBalance(t *testing.T) {
	t.Run("positive adjustment", func(t *testing.T) {
		svc, store := newTestService(proTier())
		setBuckets(t, svc, 1, 40, 0, 0)

		require.NoError(t, svc.AdjustBalance(context.Background(), 1, 25, "ops@example.com", "goodwill"))

		allocation, err := svc.GetOrCreate(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 65, allocation.CurrentBalance)

		entries := store.Transactions()
		require.Len(t, entries, 2)
		adjustment := entries[1]
		assert.Equal(t, ActionAdminAdjustment, adjustment.ActionType)
		assert.Equal(t, -25, adjustment.CreditsUsed)
		assert.Equal(t, models.SourceAdjustment, adjustment.SourceType)

		meta, err := adjustment.Metadata()
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", meta["operator"])
		assert.Equal(t, "goodwill", meta["reason"])
	})

	t.Run("negative adjustment floors at zero", func(t *testing.T) {
		svc, store := newTestService(proTier())
		setBuckets(t, svc, 1, 10, 5, 5)

		require.NoError(t, svc.AdjustBalance(context.Background(), 1, -50, "ops", "abuse"))

		allocation, err := svc.GetOrCreate(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 0, allocation.CurrentBalance)
		assert.Equal(t, 5, allocation.RolloverBalance)
		assert.Equal(t, 5, allocation.OverageBalance)

		entries := store.Transactions()
		require.Len(t, entries, 2)
		assert.Equal(t, 10, entries[1].CreditsUsed)
	})

	t.Run("zero amount is a no-op", func(t *testing.T) {
		svc, store := newTestService(proTier())
		require.NoError(t, svc.AdjustBalance(context.Background(), 1, 0, "ops", "noop"))
		assert.Empty(t, store.Transactions())
	})
}

func TestSpendPublishesEvent(t *testing.T) {
	svc, store := newTestService(proTier())
	published := make([]SpendEvent, 0, 1)
	svc.publisher = publisherFunc(func(ctx context.Context, event SpendEvent) error {
		published = append(published, event)
		return nil
	})

	seedCost(t, store, "render", 2)
	require.NoError(t, svc.Spend(context.Background(), 1, "render", 3, nil))

	require.Len(t, published, 1)
	assert.Equal(t, uint(1), published[0].AccountID)
	assert.Equal(t, "render", published[0].ActionType)
	assert.Equal(t, 3, published[0].Units)
	assert.Equal(t, 6, published[0].Credits)
	assert.Equal(t, 94, published[0].BalanceAfter)
	assert.WithinDuration(t, time.Now(), published[0].OccurredAt, time.Minute)
}

type publisherFunc func(ctx context.Context, event SpendEvent) error

func (f publisherFunc) PublishSpend(ctx context.Context, event SpendEvent) error {
	return f(ctx, event)
}
