package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/app/repository"
	"github.com/membercraft/creditledger/internal/pkg/tiers"
)

// Service is the credit accounting engine: affordability checks, bucket
// draw-down, overage grants, cycle refills, tier transitions and admin
// adjustments. All durable state lives in the repositories; the service holds
// no mutable state of its own and is safe for concurrent use.
type Service struct {
	repos     *repository.Repositories
	resolver  tiers.Resolver
	publisher Publisher

	// now is the cycle clock, overridable in tests.
	now func() time.Time
}

// NewService creates a ledger service from injected repositories, a tier
// resolver and an event publisher (nil for none).
func NewService(repos *repository.Repositories, resolver tiers.Resolver, publisher Publisher) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Service{
		repos:     repos,
		resolver:  resolver,
		publisher: publisher,
		now:       time.Now,
	}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle with the
// mapping-backed tier resolver.
func NewServiceFromDB(db *gorm.DB, publisher Publisher) *Service {
	repos := repository.NewRepositories(db)
	return NewService(repos, tiers.NewMappingResolver(repos.TierMapping), publisher)
}

// Today returns the start of the current day on the service clock.
func (s *Service) Today() time.Time {
	t := s.now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// GetOrCreate returns the account's allocation, seeding one from the resolved
// tier on first contact. The hard cap is fixed at creation time to three
// times the monthly allowance; unlimited tiers are stored with a zero
// allowance and cap since the ledger never holds the unlimited sentinel.
func (s *Service) GetOrCreate(ctx context.Context, accountID uint) (*models.CreditAllocation, error) {
	allocation, err := s.repos.Allocation.GetByAccountID(accountID)
	if err == nil {
		return allocation, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tier, err := s.resolver.ResolveTier(ctx, accountID)
	if err != nil {
		return nil, err
	}

	credits := tier.Credits
	hardCap := 0
	if credits > 0 {
		hardCap = credits * models.HardCapFactor
	} else {
		credits = 0
	}
	period := tier.BillingPeriod
	if period != models.BillingPeriodAnnual {
		period = models.BillingPeriodMonthly
	}

	today := s.Today()
	allocation = &models.CreditAllocation{
		AccountID:         accountID,
		Tier:              tier.Key,
		MonthlyAllowance:  credits,
		CurrentBalance:    credits,
		HardCap:           hardCap,
		BillingPeriod:     period,
		BillingCycleStart: today,
	}
	allocation.BillingCycleEnd = allocation.NextCycleEnd(today)

	// The seed grant is a ledger entry like any other grant, so replaying
	// the transaction log reproduces the balance from an empty account.
	var entries []*models.CreditTransaction
	if credits > 0 {
		entries = append(entries, &models.CreditTransaction{
			ActionType:   "initial_grant",
			CreditsUsed:  -credits,
			BalanceAfter: credits,
			SourceType:   models.SourceRefill,
		})
	}

	if err := s.repos.Allocation.Create(allocation, entries...); err != nil {
		// Lost a create race; the winner's row is authoritative.
		if existing, getErr := s.repos.Allocation.GetByAccountID(accountID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return allocation, nil
}

// Cost returns the billable cost of units of an action. Unknown or inactive
// actions are free by design rather than an error.
func (s *Service) Cost(actionType string, units int) (int, error) {
	cost, err := s.repos.ActionCost.GetByActionType(actionType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return cost.EffectiveCost(units), nil
}
