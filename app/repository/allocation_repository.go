package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/membercraft/creditledger/app/models"
)

// allocationRepository implements the AllocationRepository interface
type allocationRepository struct {
	db *gorm.DB
}

// NewAllocationRepository creates a new allocation repository instance
func NewAllocationRepository(db *gorm.DB) AllocationRepository {
	return &allocationRepository{db: db}
}

// Create inserts a freshly seeded allocation row and appends the seed ledger
// entries in the same database transaction, so the seed grant is as auditable
// as every later balance mutation.
func (r *allocationRepository) Create(allocation *models.CreditAllocation, entries ...*models.CreditTransaction) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(allocation).Error; err != nil {
			return err
		}
		for _, entry := range entries {
			entry.AllocationID = allocation.ID
			entry.AccountID = allocation.AccountID
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByAccountID retrieves the allocation for an account.
func (r *allocationRepository) GetByAccountID(accountID uint) (*models.CreditAllocation, error) {
	var allocation models.CreditAllocation
	err := r.db.Where("account_id = ?", accountID).First(&allocation).Error
	if err != nil {
		return nil, err
	}
	return &allocation, nil
}

// UpdateBalances writes new bucket values behind the version guard.
func (r *allocationRepository) UpdateBalances(allocation *models.CreditAllocation, current, rollover, overage int, entries ...*models.CreditTransaction) error {
	fields := map[string]interface{}{
		"current_balance":  current,
		"rollover_balance": rollover,
		"overage_balance":  overage,
	}
	if err := r.guardedUpdate(allocation, fields, entries); err != nil {
		return err
	}
	allocation.CurrentBalance = current
	allocation.RolloverBalance = rollover
	allocation.OverageBalance = overage
	return nil
}

// UpdateCycle resets the allowance and rollover buckets and advances the
// billing cycle window behind the version guard. The overage bucket is left
// untouched; purchased credits never expire on refill.
func (r *allocationRepository) UpdateCycle(allocation *models.CreditAllocation, current, rollover int, cycleStart, cycleEnd time.Time, entries ...*models.CreditTransaction) error {
	fields := map[string]interface{}{
		"current_balance":     current,
		"rollover_balance":    rollover,
		"billing_cycle_start": cycleStart,
		"billing_cycle_end":   cycleEnd,
	}
	if err := r.guardedUpdate(allocation, fields, entries); err != nil {
		return err
	}
	allocation.CurrentBalance = current
	allocation.RolloverBalance = rollover
	allocation.BillingCycleStart = cycleStart
	allocation.BillingCycleEnd = cycleEnd
	return nil
}

// UpdateTier writes a tier transition behind the version guard.
func (r *allocationRepository) UpdateTier(allocation *models.CreditAllocation, tier string, monthlyAllowance, hardCap, current int, entries ...*models.CreditTransaction) error {
	fields := map[string]interface{}{
		"tier":              tier,
		"monthly_allowance": monthlyAllowance,
		"hard_cap":          hardCap,
		"current_balance":   current,
	}
	if err := r.guardedUpdate(allocation, fields, entries); err != nil {
		return err
	}
	allocation.Tier = tier
	allocation.MonthlyAllowance = monthlyAllowance
	allocation.HardCap = hardCap
	allocation.CurrentBalance = current
	return nil
}

// ListRefillDue returns allocations whose billing cycle elapsed on or before
// the given day, oldest cycle end first, for the sweep to page through. The
// id tiebreak keeps paging stable when many accounts share a cycle end.
func (r *allocationRepository) ListRefillDue(asOf time.Time, offset, limit int) ([]models.CreditAllocation, error) {
	var allocations []models.CreditAllocation
	err := r.db.
		Where("billing_cycle_end <= ?", asOf).
		Order("billing_cycle_end ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&allocations).Error
	return allocations, err
}

// Count returns the total number of allocations.
func (r *allocationRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.CreditAllocation{}).Count(&count).Error
	return count, err
}

// guardedUpdate applies a compare-and-set update keyed on the row version and
// appends the ledger entries in the same database transaction. RowsAffected
// of zero means another writer got there first.
func (r *allocationRepository) guardedUpdate(allocation *models.CreditAllocation, fields map[string]interface{}, entries []*models.CreditTransaction) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		fields["version"] = gorm.Expr("version + 1")
		res := tx.Model(&models.CreditAllocation{}).
			Where("id = ? AND version = ?", allocation.ID, allocation.Version).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleAllocation
		}
		for _, entry := range entries {
			entry.AllocationID = allocation.ID
			entry.AccountID = allocation.AccountID
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	allocation.Version++
	return nil
}
