package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/internal/pkg/tiers"
)

func annualTier(credits int) tiers.ResolvedTier {
	return tiers.ResolvedTier{
		Key:           "pro_annual",
		Credits:       credits,
		BillingPeriod: models.BillingPeriodAnnual,
	}
}

// fixClock pins the service clock to a day and returns a function that
// advances it.
func fixClock(svc *Service, start time.Time) func(d time.Duration) {
	now := start
	svc.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestRefillDue(t *testing.T) {
	svc, _ := newTestService(proTier())
	advance := fixClock(svc, time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))

	_, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)

	due, err := svc.RefillDue(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, due)

	// A cadence that skips days still reports overdue cycles.
	advance(45 * 24 * time.Hour)
	due, err = svc.RefillDue(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestRefillDueUnknownAccount(t *testing.T) {
	svc, _ := newTestService(proTier())

	_, err := svc.RefillDue(context.Background(), 99)
	assert.ErrorIs(t, err, ErrAllocationNotFound)
}

func TestRefillMonthlyResetsAllowanceOnly(t *testing.T) {
	svc, store := newTestService(proTier())
	advance := fixClock(svc, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	setBuckets(t, svc, 1, 40, 0, 30)
	advance(31 * 24 * time.Hour)

	require.NoError(t, svc.Refill(context.Background(), 1))

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 100, allocation.CurrentBalance)
	// Monthly accounts forfeit unused allowance; purchased overage survives.
	assert.Equal(t, 0, allocation.RolloverBalance)
	assert.Equal(t, 30, allocation.OverageBalance)
	assert.Equal(t, svc.Today(), allocation.BillingCycleStart)
	assert.Equal(t, svc.Today().AddDate(0, 1, 0), allocation.BillingCycleEnd)

	// One seed grant from creation, then the refill.
	entries := store.Transactions()
	require.Len(t, entries, 2)
	refill := entries[1]
	assert.Equal(t, "cycle_refill", refill.ActionType)
	assert.Equal(t, -100, refill.CreditsUsed)
	assert.Equal(t, models.SourceRefill, refill.SourceType)
	assert.Equal(t, 130, refill.BalanceAfter)
}

func TestRefillAnnualRollover(t *testing.T) {
	tests := []struct {
		name         string
		allowance    int
		unusedBefore int
		wantRollover int
	}{
		{name: "unused below cap carries fully", allowance: 1000, unusedBefore: 200, wantRollover: 200},
		{name: "unused above cap is clamped", allowance: 1000, unusedBefore: 500, wantRollover: 250},
		{name: "nothing unused carries nothing", allowance: 1000, unusedBefore: 0, wantRollover: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(annualTier(tt.allowance))
			advance := fixClock(svc, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

			setBuckets(t, svc, 1, tt.unusedBefore, 0, 0)
			advance(31 * 24 * time.Hour)

			require.NoError(t, svc.Refill(context.Background(), 1))

			allocation, err := svc.GetOrCreate(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.allowance, allocation.CurrentBalance)
			assert.Equal(t, tt.wantRollover, allocation.RolloverBalance)
			// Allowance plus rollover never exceeds 125% of the allowance.
			assert.LessOrEqual(t, allocation.CurrentBalance+allocation.RolloverBalance, tt.allowance*125/100)

			// Creation seeds one grant entry before the refill entries.
			entries := store.Transactions()
			if tt.wantRollover > 0 {
				require.Len(t, entries, 3)
				assert.Equal(t, "cycle_rollover", entries[2].ActionType)
				assert.Equal(t, -tt.wantRollover, entries[2].CreditsUsed)
				assert.Equal(t, models.SourceRolloverGrant, entries[2].SourceType)
			} else {
				require.Len(t, entries, 2)
			}
		})
	}
}

func TestRefillPreviousRolloverExpires(t *testing.T) {
	svc, _ := newTestService(annualTier(1000))
	advance := fixClock(svc, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	// Unspent rollover from the prior cycle does not stack; only the current
	// allowance bucket feeds the new rollover.
	setBuckets(t, svc, 1, 100, 250, 0)
	advance(31 * 24 * time.Hour)

	require.NoError(t, svc.Refill(context.Background(), 1))

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1000, allocation.CurrentBalance)
	assert.Equal(t, 100, allocation.RolloverBalance)
}

func TestRefillIdempotentPerCycle(t *testing.T) {
	svc, store := newTestService(proTier())
	advance := fixClock(svc, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	advance(31 * 24 * time.Hour)

	require.NoError(t, svc.Refill(context.Background(), 1))
	entriesAfterFirst := len(store.Transactions())

	// The refill advanced the cycle window, so a second run is a no-op.
	require.NoError(t, svc.Refill(context.Background(), 1))
	assert.Equal(t, entriesAfterFirst, len(store.Transactions()))

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 100, allocation.CurrentBalance)
}

func TestSweepAll(t *testing.T) {
	svc, _ := newTestService(proTier())
	advance := fixClock(svc, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	for accountID := uint(1); accountID <= 3; accountID++ {
		_, err := svc.GetOrCreate(context.Background(), accountID)
		require.NoError(t, err)
	}
	advance(31 * 24 * time.Hour)

	// Account 4 starts a fresh cycle today and must not be touched.
	_, err := svc.GetOrCreate(context.Background(), 4)
	require.NoError(t, err)

	stats, err := svc.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 3, stats.Refilled)
	assert.Equal(t, 0, stats.Failed)

	// All due accounts advanced; a second sweep finds nothing.
	stats, err = svc.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)
}

func TestSweepAllHonorsContext(t *testing.T) {
	svc, _ := newTestService(proTier())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SweepAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
