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

func TestBreakdown(t *testing.T) {
	svc, _ := newTestService(proTier())
	setBuckets(t, svc, 1, 40, 10, 5)

	breakdown, err := svc.Breakdown(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, uint(1), breakdown.AccountID)
	assert.Equal(t, "pro", breakdown.Tier)
	assert.Equal(t, 100, breakdown.MonthlyAllowance)
	assert.Equal(t, 40, breakdown.CurrentBalance)
	assert.Equal(t, 10, breakdown.RolloverBalance)
	assert.Equal(t, 5, breakdown.OverageBalance)
	assert.Equal(t, 55, breakdown.TotalBalance)
	assert.Equal(t, 300, breakdown.HardCap)
	assert.Equal(t, 60, breakdown.PercentUsed)
}

func TestBreakdownPercentUsedClamped(t *testing.T) {
	tests := []struct {
		name        string
		allowance   int
		current     int
		wantPercent int
	}{
		{name: "untouched", allowance: 100, current: 100, wantPercent: 0},
		{name: "fully used", allowance: 100, current: 0, wantPercent: 100},
		{name: "boosted above allowance clamps low", allowance: 100, current: 150, wantPercent: 0},
		{name: "zero allowance reads zero", allowance: 0, current: 0, wantPercent: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(tiers.ResolvedTier{Key: "x", Credits: tt.allowance})
			setBuckets(t, svc, 1, tt.current, 0, 0)

			breakdown, err := svc.Breakdown(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPercent, breakdown.PercentUsed)
		})
	}
}

func TestRemainingEstimates(t *testing.T) {
	svc, store := newTestService(proTier())
	seedCost(t, store, "render", 7)
	seedCost(t, store, "export", 30)
	seedCost(t, store, "preview", 0)
	require.NoError(t, store.Upsert(&models.ActionCost{ActionType: "legacy", CreditsPerUnit: 5, IsActive: false}))

	setBuckets(t, svc, 1, 60, 10, 5)

	estimates, err := svc.RemainingEstimates(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 10, estimates["render"])
	assert.Equal(t, 2, estimates["export"])
	assert.Equal(t, UnlimitedEstimate, estimates["preview"])
	// Inactive catalog entries are excluded entirely.
	_, ok := estimates["legacy"]
	assert.False(t, ok)
}

func TestUsageSummary(t *testing.T) {
	svc, store := newTestService(proTier())
	seedCost(t, store, "render", 2)
	seedCost(t, store, "export", 5)

	ctx := context.Background()
	require.NoError(t, svc.Spend(ctx, 1, "render", 3, nil))
	require.NoError(t, svc.Spend(ctx, 1, "render", 1, nil))
	require.NoError(t, svc.Spend(ctx, 1, "export", 2, nil))
	// Grants must not show up as consumption.
	require.NoError(t, svc.GrantOverage(ctx, 1, 50, nil))
	require.NoError(t, svc.AdjustBalance(ctx, 1, 10, "ops", "test"))

	// Query strictly after the entries so the window includes them all.
	svc.now = func() time.Time { return time.Now().Add(time.Minute) }

	summary, err := svc.UsageSummary(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"render": 8,
		"export": 10,
	}, summary)
}
