package ledger

import (
	"context"
	"time"
)

// UnlimitedEstimate is the remaining-actions sentinel for free actions.
const UnlimitedEstimate = -1

// BalanceBreakdown is the read-side view of one allocation.
type BalanceBreakdown struct {
	AccountID         uint      `json:"account_id"`
	Tier              string    `json:"tier"`
	MonthlyAllowance  int       `json:"monthly_allowance"`
	CurrentBalance    int       `json:"current_balance"`
	RolloverBalance   int       `json:"rollover_balance"`
	OverageBalance    int       `json:"overage_balance"`
	TotalBalance      int       `json:"total_balance"`
	HardCap           int       `json:"hard_cap"`
	PercentUsed       int       `json:"percent_used"`
	BillingCycleStart time.Time `json:"billing_cycle_start"`
	BillingCycleEnd   time.Time `json:"billing_cycle_end"`
}

// Breakdown returns the account's bucket balances and allowance consumption.
// PercentUsed tracks the allowance bucket only and is clamped to [0,100].
func (s *Service) Breakdown(ctx context.Context, accountID uint) (*BalanceBreakdown, error) {
	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	percent := 0
	if allocation.MonthlyAllowance > 0 {
		used := allocation.MonthlyAllowance - allocation.CurrentBalance
		percent = used * 100 / allocation.MonthlyAllowance
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
	}

	return &BalanceBreakdown{
		AccountID:         allocation.AccountID,
		Tier:              allocation.Tier,
		MonthlyAllowance:  allocation.MonthlyAllowance,
		CurrentBalance:    allocation.CurrentBalance,
		RolloverBalance:   allocation.RolloverBalance,
		OverageBalance:    allocation.OverageBalance,
		TotalBalance:      allocation.TotalBalance(),
		HardCap:           allocation.HardCap,
		PercentUsed:       percent,
		BillingCycleStart: allocation.BillingCycleStart,
		BillingCycleEnd:   allocation.BillingCycleEnd,
	}, nil
}

// RemainingEstimates returns how many more of each cataloged action the
// account can afford: floor(total / cost) per active entry, UnlimitedEstimate
// for free ones.
func (s *Service) RemainingEstimates(ctx context.Context, accountID uint) (map[string]int, error) {
	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	costs, err := s.repos.ActionCost.ListActive()
	if err != nil {
		return nil, err
	}

	total := allocation.TotalBalance()
	estimates := make(map[string]int, len(costs))
	for _, cost := range costs {
		if cost.CreditsPerUnit <= 0 {
			estimates[cost.ActionType] = UnlimitedEstimate
			continue
		}
		estimates[cost.ActionType] = total / cost.CreditsPerUnit
	}
	return estimates, nil
}

// UsageSummary returns consumed credits per action type within the current
// billing cycle. Refill, adjustment and rollover-grant entries are excluded
// from the totals.
func (s *Service) UsageSummary(ctx context.Context, accountID uint) (map[string]int, error) {
	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.repos.Transaction.SumSpendByAction(accountID, allocation.BillingCycleStart, s.now())
}
