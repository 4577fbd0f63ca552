package models

import "time"

// UnlimitedCredits is the sentinel credit count for unlimited tiers. An
// unlimited tier bypasses the ledger entirely; the sentinel is never stored
// on a CreditAllocation.
const UnlimitedCredits = -1

// TierFree is the fallback tier key when no mapping matches.
const TierFree = "free"

// TierMapping maps an external membership tier reference (tag, plan id,
// price id) to the internal tier catalog entry that sizes an allocation.
type TierMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_tier_mappings_ref,unique,priority:1" json:"provider"`
	ProviderTierRef string    `gorm:"type:varchar(191);not null;index:ux_tier_mappings_ref,unique,priority:2" json:"provider_tier_ref"`
	TierKey         string    `gorm:"type:varchar(50);not null;index" json:"tier_key"`
	Name            string    `gorm:"type:varchar(100);not null;default:''" json:"name"`
	Priority        int       `gorm:"not null;default:0" json:"priority"`
	Credits         int       `gorm:"not null;default:0" json:"credits"`
	BillingPeriod   string    `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_period"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (TierMapping) TableName() string {
	return "tier_mappings"
}

// IsUnlimited reports whether this mapping grants unlimited credits.
func (m *TierMapping) IsUnlimited() bool {
	return m.Credits == UnlimitedCredits
}

// TierSignal records an externally observed tier reference for an account
// (a membership tag, an active subscription plan). The resolver picks the
// best active mapping among an account's signals.
type TierSignal struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AccountID       uint      `gorm:"not null;index;index:ux_tier_signals_account_ref,unique,priority:1" json:"account_id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_tier_signals_account_ref,unique,priority:2" json:"provider"`
	ProviderTierRef string    `gorm:"type:varchar(191);not null;index:ux_tier_signals_account_ref,unique,priority:3" json:"provider_tier_ref"`
	Status          string    `gorm:"type:varchar(32);not null;default:'active'" json:"status"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (TierSignal) TableName() string {
	return "tier_signals"
}

// Signal status constants.
const (
	TierSignalActive  = "active"
	TierSignalExpired = "expired"
)
