package models

import "time"

// Billing period constants used by allocations and tier mappings.
const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodAnnual  = "annual"
)

// TierCancelled is the tier key written by cancellation handling. A cancelled
// allocation keeps its remaining balance but receives no further grants.
const TierCancelled = "cancelled"

// HardCapFactor is the multiple of the monthly allowance used as the hard cap
// when an allocation is first created.
const HardCapFactor = 3

// CreditAllocation holds the per-account credit buckets and the current
// billing cycle window. One row per account; never deleted.
//
// Buckets are drawn down in perishability order: the monthly allowance
// (resets every cycle), then rollover (survives one cycle), then purchased
// overage (never expires). Each bucket is always >= 0.
type CreditAllocation struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	AccountID         uint      `gorm:"not null;uniqueIndex:ux_credit_allocations_account" json:"account_id"`
	Tier              string    `gorm:"type:varchar(50);not null;default:'free';index" json:"tier"`
	MonthlyAllowance  int       `gorm:"not null;default:0" json:"monthly_allowance"`
	CurrentBalance    int       `gorm:"not null;default:0" json:"current_balance"`
	RolloverBalance   int       `gorm:"not null;default:0" json:"rollover_balance"`
	OverageBalance    int       `gorm:"not null;default:0" json:"overage_balance"`
	HardCap           int       `gorm:"not null;default:0" json:"hard_cap"`
	BillingPeriod     string    `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_period"`
	BillingCycleStart time.Time `gorm:"type:date;not null" json:"billing_cycle_start"`
	BillingCycleEnd   time.Time `gorm:"type:date;not null;index" json:"billing_cycle_end"`
	Version           uint      `gorm:"not null;default:0" json:"version"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (CreditAllocation) TableName() string {
	return "credit_allocations"
}

// TotalBalance returns the spendable total across all three buckets.
func (a *CreditAllocation) TotalBalance() int {
	return a.CurrentBalance + a.RolloverBalance + a.OverageBalance
}

// RefillDue reports whether the current billing cycle has elapsed as of the
// given day. Callers may run on a cadence that skips days, so this compares
// against the whole day rather than an exact instant.
func (a *CreditAllocation) RefillDue(asOf time.Time) bool {
	return !a.BillingCycleEnd.After(truncateToDay(asOf))
}

// NextCycleEnd returns the end of a credit cycle starting at the given day.
// The allowance is monthly for every billing period; an annual subscription
// changes the rollover perk, not the refill cadence.
func (a *CreditAllocation) NextCycleEnd(from time.Time) time.Time {
	return truncateToDay(from).AddDate(0, 1, 0)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
