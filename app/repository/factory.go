package repository

import (
	"sync"

	"gorm.io/gorm"

	"github.com/membercraft/creditledger/app/models"
)

// Repositories bundles all repository instances sharing one DB handle.
type Repositories struct {
	Allocation   AllocationRepository
	Transaction  TransactionRepository
	ActionCost   ActionCostRepository
	TierMapping  TierMappingRepository
	WebhookEvent WebhookEventRepository

	db *gorm.DB
}

// NewRepositories creates all repositories for a DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Allocation:   NewAllocationRepository(db),
		Transaction:  NewTransactionRepository(db),
		ActionCost:   NewActionCostRepository(db),
		TierMapping:  NewTierMappingRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		db:           db,
	}
}

// Provisioned reports whether the ledger schema has been migrated. The gate
// fails open while the tables are absent so feature flows are never
// hard-blocked on an uninstalled ledger.
func (r *Repositories) Provisioned() (bool, error) {
	if r.db == nil {
		return false, nil
	}
	migrator := r.db.Migrator()
	for _, table := range []interface{}{
		&models.CreditAllocation{},
		&models.CreditTransaction{},
		&models.ActionCost{},
	} {
		if !migrator.HasTable(table) {
			return false, nil
		}
	}
	return true, nil
}

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetAllocationRepository returns the allocation repository instance
func (f *Factory) GetAllocationRepository() AllocationRepository {
	return f.GetRepositories().Allocation
}

// GetTransactionRepository returns the transaction repository instance
func (f *Factory) GetTransactionRepository() TransactionRepository {
	return f.GetRepositories().Transaction
}

// GetActionCostRepository returns the action cost repository instance
func (f *Factory) GetActionCostRepository() ActionCostRepository {
	return f.GetRepositories().ActionCost
}

// GetTierMappingRepository returns the tier mapping repository instance
func (f *Factory) GetTierMappingRepository() TierMappingRepository {
	return f.GetRepositories().TierMapping
}

// GetWebhookEventRepository returns the webhook event repository instance
func (f *Factory) GetWebhookEventRepository() WebhookEventRepository {
	return f.GetRepositories().WebhookEvent
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
