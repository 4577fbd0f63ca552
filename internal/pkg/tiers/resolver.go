package tiers

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/app/repository"
)

// ResolvedTier is the provider-neutral shape the ledger consumes. Credits of
// models.UnlimitedCredits (-1) means the account bypasses the ledger.
type ResolvedTier struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	Priority      int    `json:"priority"`
	Credits       int    `json:"credits"`
	BillingPeriod string `json:"billing_period"`
}

// IsUnlimited reports whether this tier grants unlimited credits.
func (t ResolvedTier) IsUnlimited() bool {
	return t.Credits == models.UnlimitedCredits
}

// FreeTier is the fallback when no mapping matches an account's signals.
func FreeTier() ResolvedTier {
	return ResolvedTier{
		Key:           models.TierFree,
		Name:          "Free",
		Priority:      0,
		Credits:       0,
		BillingPeriod: models.BillingPeriodMonthly,
	}
}

// Resolver resolves an account to its current tier. The ledger treats this as
// an external collaborator; the mapping-backed implementation below is the
// default wiring.
type Resolver interface {
	ResolveTier(ctx context.Context, accountID uint) (ResolvedTier, error)
}

// mappingResolver resolves tiers through the tier mapping table: for each of
// the account's active signals, look up the active mapping and keep the one
// with the highest priority.
type mappingResolver struct {
	repo repository.TierMappingRepository
}

// NewMappingResolver creates a resolver backed by the tier mapping repository.
func NewMappingResolver(repo repository.TierMappingRepository) Resolver {
	return &mappingResolver{repo: repo}
}

func (r *mappingResolver) ResolveTier(ctx context.Context, accountID uint) (ResolvedTier, error) {
	_ = ctx
	signals, err := r.repo.ListSignalsByAccount(accountID)
	if err != nil {
		return FreeTier(), err
	}

	best := FreeTier()
	found := false
	for _, signal := range signals {
		if signal.Status != models.TierSignalActive {
			continue
		}
		mapping, err := r.repo.FindActiveByRef(signal.Provider, signal.ProviderTierRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return FreeTier(), err
		}
		if !found || mapping.Priority > best.Priority {
			found = true
			best = ResolvedTier{
				Key:           mapping.TierKey,
				Name:          mapping.Name,
				Priority:      mapping.Priority,
				Credits:       mapping.Credits,
				BillingPeriod: mapping.BillingPeriod,
			}
		}
	}
	return best, nil
}

// StaticResolver returns the same tier for every account (tests, dev mode).
type StaticResolver struct {
	Tier ResolvedTier
}

func (r StaticResolver) ResolveTier(ctx context.Context, accountID uint) (ResolvedTier, error) {
	return r.Tier, nil
}
