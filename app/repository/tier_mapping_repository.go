package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/membercraft/creditledger/app/models"
)

// tierMappingRepository implements the TierMappingRepository interface
type tierMappingRepository struct {
	db *gorm.DB
}

// NewTierMappingRepository creates a new tier mapping repository instance
func NewTierMappingRepository(db *gorm.DB) TierMappingRepository {
	return &tierMappingRepository{db: db}
}

// FindActiveByRef resolves an external tier reference to its active mapping.
func (r *tierMappingRepository) FindActiveByRef(provider, providerTierRef string) (*models.TierMapping, error) {
	var mapping models.TierMapping
	err := r.db.
		Where("provider = ? AND provider_tier_ref = ? AND is_active = ?", provider, providerTierRef, true).
		First(&mapping).Error
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// ListActive returns all active tier mappings, highest priority first.
func (r *tierMappingRepository) ListActive() ([]models.TierMapping, error) {
	var mappings []models.TierMapping
	err := r.db.Where("is_active = ?", true).Order("priority DESC").Find(&mappings).Error
	return mappings, err
}

// Upsert inserts or overwrites a mapping keyed on provider + reference.
func (r *tierMappingRepository) Upsert(mapping *models.TierMapping) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_tier_ref"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier_key",
			"name",
			"priority",
			"credits",
			"billing_period",
			"is_active",
			"updated_at",
		}),
	}).Create(mapping).Error; err != nil {
		return err
	}

	return r.db.Where("provider = ? AND provider_tier_ref = ?", mapping.Provider, mapping.ProviderTierRef).
		First(mapping).Error
}

// ListSignalsByAccount returns the tier signals currently recorded for an account.
func (r *tierMappingRepository) ListSignalsByAccount(accountID uint) ([]models.TierSignal, error) {
	var signals []models.TierSignal
	err := r.db.Where("account_id = ?", accountID).Find(&signals).Error
	return signals, err
}

// UpsertSignal inserts or refreshes a tier signal keyed on account + reference.
func (r *tierMappingRepository) UpsertSignal(signal *models.TierSignal) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
			{Name: "provider"},
			{Name: "provider_tier_ref"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"updated_at",
		}),
	}).Create(signal).Error; err != nil {
		return err
	}

	return r.db.
		Where("account_id = ? AND provider = ? AND provider_tier_ref = ?", signal.AccountID, signal.Provider, signal.ProviderTierRef).
		First(signal).Error
}
