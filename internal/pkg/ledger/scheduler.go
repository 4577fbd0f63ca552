package ledger

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/membercraft/creditledger/app/models"
)

// AnnualRolloverFraction caps how much unused allowance an annual account
// carries into the next cycle (25% of the monthly allowance).
const AnnualRolloverFraction = 0.25

// PostRefillCapFraction caps allowance plus rollover immediately after a
// refill (125% of the monthly allowance).
const PostRefillCapFraction = 1.25

// sweepPageSize is how many due allocations the sweep loads per page.
const sweepPageSize = 200

// RefillDue reports whether the account's billing cycle has elapsed. Safe to
// call on a cadence that skips days; an account whose cycle ended a week ago
// is still due.
func (s *Service) RefillDue(ctx context.Context, accountID uint) (bool, error) {
	_ = ctx
	allocation, err := s.repos.Allocation.GetByAccountID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrAllocationNotFound
		}
		return false, err
	}
	return allocation.RefillDue(s.Today()), nil
}

// Refill advances the account into a new billing cycle: the allowance bucket
// resets to the monthly allowance, annual accounts carry capped rollover, the
// overage bucket is untouched, and the cycle window re-anchors to today.
//
// Idempotent per cycle - once a refill advances billing_cycle_end, a second
// call the same day is a no-op.
func (s *Service) Refill(ctx context.Context, accountID uint) error {
	_ = ctx
	allocation, err := s.repos.Allocation.GetByAccountID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAllocationNotFound
		}
		return err
	}
	return s.refillAllocation(allocation)
}

func (s *Service) refillAllocation(allocation *models.CreditAllocation) error {
	today := s.Today()
	if !allocation.RefillDue(today) {
		return nil
	}

	allowance := allocation.MonthlyAllowance
	rollover := 0
	if allocation.BillingPeriod == models.BillingPeriodAnnual {
		candidate := minInt(allocation.CurrentBalance, int(float64(allowance)*AnnualRolloverFraction))
		capTotal := int(float64(allowance) * PostRefillCapFraction)
		rollover = minInt(candidate, capTotal-allowance)
		if rollover < 0 {
			rollover = 0
		}
	}

	cycleStart := today
	cycleEnd := allocation.NextCycleEnd(today)
	balanceAfter := allowance + rollover + allocation.OverageBalance

	entries := []*models.CreditTransaction{
		{
			ActionType:   "cycle_refill",
			CreditsUsed:  -allowance,
			BalanceAfter: balanceAfter,
			SourceType:   models.SourceRefill,
		},
	}
	if rollover > 0 {
		entries = append(entries, &models.CreditTransaction{
			ActionType:   "cycle_rollover",
			CreditsUsed:  -rollover,
			BalanceAfter: balanceAfter,
			SourceType:   models.SourceRolloverGrant,
		})
	}

	return s.repos.Allocation.UpdateCycle(allocation, allowance, rollover, cycleStart, cycleEnd, entries...)
}

// SweepStats summarizes one sweep run.
type SweepStats struct {
	Scanned  int `json:"scanned"`
	Refilled int `json:"refilled"`
	Failed   int `json:"failed"`
}

// SweepAll refills every allocation whose cycle has elapsed. Accounts are
// processed independently: a failure on one is logged and skipped, never
// fatal to the rest of the sweep.
func (s *Service) SweepAll(ctx context.Context) (SweepStats, error) {
	stats := SweepStats{}
	today := s.Today()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		// Refilled rows leave the due set, so each page starts at zero.
		page, err := s.repos.Allocation.ListRefillDue(today, stats.Failed, sweepPageSize)
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			return stats, nil
		}

		for i := range page {
			allocation := page[i]
			stats.Scanned++
			if err := s.refillAllocation(&allocation); err != nil {
				stats.Failed++
				log.Errorf("[Sweep] refill failed for account %d: %v", allocation.AccountID, err)
				continue
			}
			stats.Refilled++
		}
	}
}
