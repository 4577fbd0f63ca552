package repository

import (
	"errors"
	"time"

	"github.com/membercraft/creditledger/app/models"
)

// ErrStaleAllocation is returned by guarded allocation updates when the row
// version moved between read and write. The caller may retry once with a
// fresh read; the repositories never retry on their own.
var ErrStaleAllocation = errors.New("allocation version conflict")

// AllocationRepository defines the interface for credit allocation operations.
//
// All balance-affecting updates are version-guarded compare-and-set writes:
// they succeed only if the in-memory Version matches the stored row, bump the
// version, and append the given ledger entries in the same storage
// transaction. Either everything is written or nothing is.
type AllocationRepository interface {
	Create(allocation *models.CreditAllocation, entries ...*models.CreditTransaction) error
	GetByAccountID(accountID uint) (*models.CreditAllocation, error)
	UpdateBalances(allocation *models.CreditAllocation, current, rollover, overage int, entries ...*models.CreditTransaction) error
	UpdateCycle(allocation *models.CreditAllocation, current, rollover int, cycleStart, cycleEnd time.Time, entries ...*models.CreditTransaction) error
	UpdateTier(allocation *models.CreditAllocation, tier string, monthlyAllowance, hardCap, current int, entries ...*models.CreditTransaction) error
	ListRefillDue(asOf time.Time, offset, limit int) ([]models.CreditAllocation, error)
	Count() (int64, error)
}

// TransactionRepository defines the interface for ledger entry reads. Writes
// ride the allocation repository's guarded updates so they share a storage
// transaction with the balance mutation.
type TransactionRepository interface {
	ListByAccount(accountID uint, offset, limit int) ([]models.CreditTransaction, error)
	ListByAccountSince(accountID uint, since time.Time) ([]models.CreditTransaction, error)
	SumSpendByAction(accountID uint, from, to time.Time) (map[string]int, error)
}

// ActionCostRepository defines the interface for the shared action cost catalog.
type ActionCostRepository interface {
	GetByActionType(actionType string) (*models.ActionCost, error)
	Upsert(cost *models.ActionCost) error
	ListActive() ([]models.ActionCost, error)
}

// TierMappingRepository defines the interface for external tier reference
// mappings and per-account tier signals.
type TierMappingRepository interface {
	FindActiveByRef(provider, providerTierRef string) (*models.TierMapping, error)
	ListActive() ([]models.TierMapping, error)
	Upsert(mapping *models.TierMapping) error
	ListSignalsByAccount(accountID uint) ([]models.TierSignal, error)
	UpsertSignal(signal *models.TierSignal) error
}

// WebhookEventRepository defines the interface for idempotent payment webhook
// event storage.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Provisioner reports whether the ledger schema has been installed. The
// credit gate fails open while it has not.
type Provisioner interface {
	Provisioned() (bool, error)
}
