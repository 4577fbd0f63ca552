package models

import "time"

// ActionCost maps a billable action type to its per-unit credit price. The
// catalog is shared across accounts and admin-editable. Inactive or zero-cost
// actions are free and bypass the ledger entirely.
type ActionCost struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ActionType     string    `gorm:"type:varchar(100);not null;uniqueIndex:ux_action_costs_action_type" json:"action_type"`
	CreditsPerUnit int       `gorm:"not null;default:0" json:"credits_per_unit"`
	IsActive       bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (ActionCost) TableName() string {
	return "action_costs"
}

// EffectiveCost returns the billable cost of the action, 0 when the catalog
// entry is inactive.
func (c *ActionCost) EffectiveCost(units int) int {
	if !c.IsActive || c.CreditsPerUnit <= 0 || units <= 0 {
		return 0
	}
	return c.CreditsPerUnit * units
}
