package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/internal/pkg/tiers"
)

// ApplyTierChange resizes an account's allocation after its tier changed.
// Upgrades grant the full new allowance immediately; downgrades cap the
// allowance bucket at the new monthly allowance but never increase or zero
// it, so unused balance survives until it depletes or the next refill resets
// it. One system ledger entry records the before/after tiers.
func (s *Service) ApplyTierChange(ctx context.Context, accountID uint, newTierKey string, isUpgrade bool) error {
	tier, err := s.resolver.ResolveTier(ctx, accountID)
	if err != nil {
		return err
	}
	if tier.Key != newTierKey {
		// The caller's tier key wins; the account-level signals may simply
		// not have propagated yet. Size the key from the mapping catalog so
		// an upgrade never lands with a zero allowance.
		tier, err = s.sizeTierKey(newTierKey)
		if err != nil {
			return err
		}
	}
	return s.applyResolvedTier(ctx, accountID, tier, isUpgrade)
}

// sizeTierKey resolves a tier key through the active mapping catalog,
// highest priority first. The free tier has no mapping and sizes to zero.
func (s *Service) sizeTierKey(tierKey string) (tiers.ResolvedTier, error) {
	if tierKey == models.TierFree {
		return tiers.FreeTier(), nil
	}

	mappings, err := s.repos.TierMapping.ListActive()
	if err != nil {
		return tiers.ResolvedTier{}, err
	}
	for _, mapping := range mappings {
		if mapping.TierKey == tierKey {
			return tiers.ResolvedTier{
				Key:           mapping.TierKey,
				Name:          mapping.Name,
				Priority:      mapping.Priority,
				Credits:       mapping.Credits,
				BillingPeriod: mapping.BillingPeriod,
			}, nil
		}
	}
	return tiers.ResolvedTier{}, fmt.Errorf("%w: %s", ErrUnknownTier, tierKey)
}

func (s *Service) applyResolvedTier(ctx context.Context, accountID uint, tier tiers.ResolvedTier, isUpgrade bool) error {
	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}

	newMonthly := tier.Credits
	if newMonthly < 0 {
		newMonthly = 0
	}
	newHardCap := 0
	if newMonthly > 0 {
		newHardCap = newMonthly * models.HardCapFactor
	}

	current := allocation.CurrentBalance
	if isUpgrade {
		current = newMonthly
	} else if current > newMonthly {
		current = newMonthly
	}

	delta := current - allocation.CurrentBalance
	entry := &models.CreditTransaction{
		ActionType:   "tier_transition",
		CreditsUsed:  -delta,
		BalanceAfter: allocation.TotalBalance() + delta,
		SourceType:   models.SourceSystem,
	}
	if err := entry.SetMetadata(map[string]string{
		"from_tier":      allocation.Tier,
		"to_tier":        tier.Key,
		"from_allowance": strconv.Itoa(allocation.MonthlyAllowance),
		"to_allowance":   strconv.Itoa(newMonthly),
		"upgrade":        strconv.FormatBool(isUpgrade),
	}); err != nil {
		return err
	}

	return s.repos.Allocation.UpdateTier(allocation, tier.Key, newMonthly, newHardCap, current, entry)
}

// HandleCancellation stops future grants without clawing back already
// granted credits: allowance and hard cap go to zero, the remaining balance
// stays spendable until the cycle ends.
func (s *Service) HandleCancellation(ctx context.Context, accountID uint) error {
	_ = ctx
	allocation, err := s.repos.Allocation.GetByAccountID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Nothing was ever allocated; nothing to cancel.
			return nil
		}
		return err
	}

	entry := &models.CreditTransaction{
		ActionType:   "tier_cancellation",
		CreditsUsed:  0,
		BalanceAfter: allocation.TotalBalance(),
		SourceType:   models.SourceSystem,
	}
	if err := entry.SetMetadata(map[string]string{
		"from_tier": allocation.Tier,
		"to_tier":   models.TierCancelled,
	}); err != nil {
		return err
	}

	return s.repos.Allocation.UpdateTier(allocation, models.TierCancelled, 0, 0, allocation.CurrentBalance, entry)
}

// Reconcile compares the externally resolved should-be tier against the
// stored tier and applies the same transition logic when they disagree. This
// guards against the primary tier-change trigger being missed.
func (s *Service) Reconcile(ctx context.Context, accountID uint) (bool, error) {
	tier, err := s.resolver.ResolveTier(ctx, accountID)
	if err != nil {
		return false, err
	}
	if tier.IsUnlimited() {
		// Unlimited accounts bypass the ledger; an existing allocation is
		// left as-is for when the tier drops back down.
		return false, nil
	}

	allocation, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return false, err
	}
	if allocation.Tier == tier.Key {
		return false, nil
	}

	isUpgrade := tier.Credits > allocation.MonthlyAllowance
	log.Infof("[Ledger] reconciling account %d tier %s -> %s", accountID, allocation.Tier, tier.Key)
	if err := s.applyResolvedTier(ctx, accountID, tier, isUpgrade); err != nil {
		return false, err
	}
	return true, nil
}
