package models

import (
	"encoding/json"
	"time"
)

// Transaction source constants. Spend entries carry the bucket that supplied
// the draw; grant and maintenance entries carry their own sources.
const (
	SourceAllowance     = "allowance"
	SourceRollover      = "rollover"
	SourceOverage       = "overage"
	SourceRefill        = "refill"
	SourceAdjustment    = "adjustment"
	SourceRolloverGrant = "rollover_grant"
	SourceSystem        = "system"
)

// SpendSources are the source types that count as consumption in usage
// summaries. Refills, adjustments and rollover grants are bookkeeping, not
// spend.
var SpendSources = []string{SourceAllowance, SourceRollover, SourceOverage}

// CreditTransaction is one append-only ledger entry per balance mutation.
//
// CreditsUsed is signed: positive values were consumed, negative values were
// granted. Summing CreditsUsed over a window yields net consumption, which
// audit queries rely on. Entries are never updated or deleted.
type CreditTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AllocationID uint      `gorm:"not null;index" json:"allocation_id"`
	AccountID    uint      `gorm:"not null;index:idx_credit_transactions_account_created,priority:1" json:"account_id"`
	ActionType   string    `gorm:"type:varchar(100);not null;index" json:"action_type"`
	CreditsUsed  int       `gorm:"not null" json:"credits_used"`
	BalanceAfter int       `gorm:"not null" json:"balance_after"`
	SourceType   string    `gorm:"type:varchar(32);not null;index" json:"source_type"`
	MetadataJSON string    `gorm:"type:longtext" json:"metadata_json"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_credit_transactions_account_created,priority:2" json:"created_at"`
}

// TableName specifies the table name
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// SetMetadata serializes free-form context onto the entry. A nil or empty map
// clears the field.
func (t *CreditTransaction) SetMetadata(meta map[string]string) error {
	if len(meta) == 0 {
		t.MetadataJSON = ""
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	t.MetadataJSON = string(raw)
	return nil
}

// Metadata deserializes the free-form context of the entry.
func (t *CreditTransaction) Metadata() (map[string]string, error) {
	if t.MetadataJSON == "" {
		return map[string]string{}, nil
	}
	meta := make(map[string]string)
	if err := json.Unmarshal([]byte(t.MetadataJSON), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
