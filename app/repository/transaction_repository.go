package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/membercraft/creditledger/app/models"
)

// transactionRepository implements the TransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// ListByAccount returns ledger entries for an account, newest first.
func (r *transactionRepository) ListByAccount(accountID uint, offset, limit int) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	err := r.db.
		Where("account_id = ?", accountID).
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// ListByAccountSince returns ledger entries for an account created at or
// after the given instant, oldest first (replay order).
func (r *transactionRepository) ListByAccountSince(accountID uint, since time.Time) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	err := r.db.
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// SumSpendByAction aggregates consumed credits per action type inside the
// given window. Only spend sources count; refills, adjustments and rollover
// grants are excluded from usage totals.
func (r *transactionRepository) SumSpendByAction(accountID uint, from, to time.Time) (map[string]int, error) {
	type row struct {
		ActionType string
		Total      int
	}
	var rows []row
	err := r.db.Model(&models.CreditTransaction{}).
		Select("action_type, SUM(credits_used) AS total").
		Where("account_id = ? AND created_at >= ? AND created_at < ?", accountID, from, to).
		Where("source_type IN ?", models.SpendSources).
		Where("credits_used > 0").
		Group("action_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int, len(rows))
	for _, r := range rows {
		totals[r.ActionType] = r.Total
	}
	return totals, nil
}
