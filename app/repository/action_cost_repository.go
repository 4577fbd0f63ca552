package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/membercraft/creditledger/app/models"
)

// actionCostRepository implements the ActionCostRepository interface
type actionCostRepository struct {
	db *gorm.DB
}

// NewActionCostRepository creates a new action cost repository instance
func NewActionCostRepository(db *gorm.DB) ActionCostRepository {
	return &actionCostRepository{db: db}
}

// GetByActionType retrieves a catalog entry by action type.
func (r *actionCostRepository) GetByActionType(actionType string) (*models.ActionCost, error) {
	var cost models.ActionCost
	err := r.db.Where("action_type = ?", actionType).First(&cost).Error
	if err != nil {
		return nil, err
	}
	return &cost, nil
}

// Upsert inserts or overwrites a catalog entry keyed on action type.
func (r *actionCostRepository) Upsert(cost *models.ActionCost) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "action_type"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"credits_per_unit",
			"is_active",
			"updated_at",
		}),
	}).Create(cost).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("action_type = ?", cost.ActionType).First(cost).Error
}

// ListActive returns all active catalog entries.
func (r *actionCostRepository) ListActive() ([]models.ActionCost, error) {
	var costs []models.ActionCost
	err := r.db.Where("is_active = ?", true).Order("action_type ASC").Find(&costs).Error
	return costs, err
}
