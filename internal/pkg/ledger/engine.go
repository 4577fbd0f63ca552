package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/membercraft/creditledger/app/models"
)

// ActionAdminAdjustment is the action type recorded for manual balance
// adjustments.
const ActionAdminAdjustment = "admin_adjustment"

// Affordability reports whether the account can afford units of an action.
// A nil return means allowed; denials are *GateError values matching
// ErrInsufficientCredits or ErrHardCapReached. Free actions are always
// allowed and never touch the allocation.
func (s *Service) Affordability(ctx context.Context, accountID uint, actionType string, units int) error {
	cost, err := s.Cost(actionType, units)
	if err != nil {
		return err
	}
	if cost <= 0 {
		return nil
	}

	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}
	return affordabilityOf(allocation, actionType, cost)
}

// affordabilityOf applies the denial taxonomy to an already-loaded
// allocation. Hard-cap exhaustion takes precedence over plain insufficiency
// so callers can render the refill date instead of an upgrade prompt.
func affordabilityOf(allocation *models.CreditAllocation, actionType string, cost int) error {
	total := allocation.TotalBalance()
	if allocation.HardCap > 0 && total <= 0 {
		return hardCapReached(allocation.AccountID, actionType, cost, total, allocation.BillingCycleEnd)
	}
	if total < cost {
		return insufficientCredits(allocation.AccountID, actionType, cost, total)
	}
	return nil
}

// Spend draws down the account's buckets for units of an action and appends
// exactly one ledger entry. Affordability is re-validated here: check and
// commit are not one transaction, so state may have moved since the caller's
// check. The draw order is fixed - allowance, then rollover, then overage -
// the bucket that expires soonest is spent first.
//
// On a version conflict the allocation is left untouched and
// ErrStaleAllocation is returned; the caller may retry once with fresh reads.
func (s *Service) Spend(ctx context.Context, accountID uint, actionType string, units int, metadata map[string]string) error {
	cost, err := s.Cost(actionType, units)
	if err != nil {
		return err
	}
	if cost <= 0 {
		return nil
	}

	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}
	if err := affordabilityOf(allocation, actionType, cost); err != nil {
		return err
	}

	draw, ok := drawDown(allocation, cost)
	if !ok {
		// Unreachable after the affordability check unless state moved
		// between read and compute; abort without mutating anything.
		return insufficientCredits(accountID, actionType, cost, allocation.TotalBalance())
	}

	balanceAfter := allocation.TotalBalance() - cost
	entry := &models.CreditTransaction{
		ActionType:   actionType,
		CreditsUsed:  cost,
		BalanceAfter: balanceAfter,
		SourceType:   draw.Source,
	}
	if err := entry.SetMetadata(draw.annotate(metadata)); err != nil {
		return err
	}

	if err := s.repos.Allocation.UpdateBalances(allocation, draw.Current, draw.Rollover, draw.Overage, entry); err != nil {
		return err
	}

	s.publishSpend(ctx, SpendEvent{
		AccountID:    accountID,
		ActionType:   actionType,
		Units:        units,
		Credits:      cost,
		SourceType:   draw.Source,
		BalanceAfter: balanceAfter,
		OccurredAt:   s.now(),
	})
	return nil
}

// GrantOverage adds purchased credits to the overage bucket. Invoked only by
// the payment collaborator after it has verified a completed purchase; the
// ledger performs no verification of its own.
func (s *Service) GrantOverage(ctx context.Context, accountID uint, credits int, metadata map[string]string) error {
	if credits <= 0 {
		return errors.New("overage grant requires a positive credit amount")
	}

	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}

	entry := &models.CreditTransaction{
		ActionType:   "overage_purchase",
		CreditsUsed:  -credits,
		BalanceAfter: allocation.TotalBalance() + credits,
		SourceType:   models.SourceOverage,
	}
	if err := entry.SetMetadata(metadata); err != nil {
		return err
	}

	return s.repos.Allocation.UpdateBalances(
		allocation,
		allocation.CurrentBalance,
		allocation.RolloverBalance,
		allocation.OverageBalance+credits,
		entry,
	)
}

// AdjustBalance is the sole manual override path: it moves the allowance
// bucket by a signed amount, floored at zero, and records the operator and
// reason. Draw-order logic is bypassed entirely.
func (s *Service) AdjustBalance(ctx context.Context, accountID uint, amount int, operator, reason string) error {
	if amount == 0 {
		return nil
	}

	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}

	current := allocation.CurrentBalance + amount
	if current < 0 {
		current = 0
	}
	delta := current - allocation.CurrentBalance
	if delta == 0 {
		return nil
	}

	entry := &models.CreditTransaction{
		ActionType:   ActionAdminAdjustment,
		CreditsUsed:  -delta,
		BalanceAfter: allocation.TotalBalance() + delta,
		SourceType:   models.SourceAdjustment,
	}
	if err := entry.SetMetadata(map[string]string{
		"operator": operator,
		"reason":   reason,
	}); err != nil {
		return err
	}

	return s.repos.Allocation.UpdateBalances(
		allocation,
		current,
		allocation.RolloverBalance,
		allocation.OverageBalance,
		entry,
	)
}

// bucketDraw is the outcome of a greedy draw across the three buckets.
type bucketDraw struct {
	Current  int
	Rollover int
	Overage  int

	FromCurrent  int
	FromRollover int
	FromOverage  int

	// Source is the ledger entry's source type: the single bucket that
	// supplied the whole draw, or allowance for mixed draws since the
	// allowance bucket was touched.
	Source string
}

// drawDown computes the post-spend bucket values for a cost in fixed
// perishability order. ok is false when the buckets cannot cover the cost.
func drawDown(allocation *models.CreditAllocation, cost int) (bucketDraw, bool) {
	draw := bucketDraw{}
	remaining := cost

	draw.FromCurrent = minInt(remaining, allocation.CurrentBalance)
	remaining -= draw.FromCurrent
	draw.FromRollover = minInt(remaining, allocation.RolloverBalance)
	remaining -= draw.FromRollover
	draw.FromOverage = minInt(remaining, allocation.OverageBalance)
	remaining -= draw.FromOverage

	if remaining > 0 {
		return bucketDraw{}, false
	}

	draw.Current = allocation.CurrentBalance - draw.FromCurrent
	draw.Rollover = allocation.RolloverBalance - draw.FromRollover
	draw.Overage = allocation.OverageBalance - draw.FromOverage

	switch {
	case draw.FromRollover == 0 && draw.FromOverage == 0:
		draw.Source = models.SourceAllowance
	case draw.FromCurrent == 0 && draw.FromOverage == 0:
		draw.Source = models.SourceRollover
	case draw.FromCurrent == 0 && draw.FromRollover == 0:
		draw.Source = models.SourceOverage
	default:
		draw.Source = models.SourceAllowance
	}
	return draw, true
}

// annotate merges the drawn bucket amounts into the caller metadata.
func (d bucketDraw) annotate(metadata map[string]string) map[string]string {
	merged := make(map[string]string, len(metadata)+3)
	for k, v := range metadata {
		merged[k] = v
	}
	if d.FromCurrent > 0 {
		merged["allowance_drawn"] = strconv.Itoa(d.FromCurrent)
	}
	if d.FromRollover > 0 {
		merged["rollover_drawn"] = strconv.Itoa(d.FromRollover)
	}
	if d.FromOverage > 0 {
		merged["overage_drawn"] = strconv.Itoa(d.FromOverage)
	}
	return merged
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
