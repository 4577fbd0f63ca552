package repository

import (
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/membercraft/creditledger/app/models"
)

// MemoryStore is an in-memory implementation of every repository interface.
// It is used by tests and by dev mode without a database, and mirrors the
// GORM implementations' semantics exactly, including the version guard on
// allocation updates.
type MemoryStore struct {
	mu            sync.Mutex
	allocations   map[uint]*models.CreditAllocation
	transactions  []models.CreditTransaction
	costs         map[string]*models.ActionCost
	mappings      map[string]*models.TierMapping
	signals       map[uint][]models.TierSignal
	webhookEvents map[string]*models.PaymentWebhookEvent
	provisioned   bool
	nextID        uint
}

// NewMemoryStore creates an empty, provisioned in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		allocations:   make(map[uint]*models.CreditAllocation),
		costs:         make(map[string]*models.ActionCost),
		mappings:      make(map[string]*models.TierMapping),
		signals:       make(map[uint][]models.TierSignal),
		webhookEvents: make(map[string]*models.PaymentWebhookEvent),
		provisioned:   true,
		nextID:        1,
	}
}

// MemoryRepositories bundles the memory store behind the same Repositories
// shape callers get from a DB handle.
func MemoryRepositories(store *MemoryStore) *Repositories {
	return &Repositories{
		Allocation:   store,
		Transaction:  store,
		ActionCost:   store,
		TierMapping:  memoryTierMappingRepository{store: store},
		WebhookEvent: store,
	}
}

// memoryTierMappingRepository adapts the memory store to the
// TierMappingRepository interface; Upsert and ListActive would otherwise
// collide with the action cost catalog methods.
type memoryTierMappingRepository struct {
	store *MemoryStore
}

func (r memoryTierMappingRepository) FindActiveByRef(provider, providerTierRef string) (*models.TierMapping, error) {
	return r.store.FindActiveByRef(provider, providerTierRef)
}

func (r memoryTierMappingRepository) ListActive() ([]models.TierMapping, error) {
	return r.store.ListActiveMappings()
}

func (r memoryTierMappingRepository) Upsert(mapping *models.TierMapping) error {
	return r.store.UpsertMapping(mapping)
}

func (r memoryTierMappingRepository) ListSignalsByAccount(accountID uint) ([]models.TierSignal, error) {
	return r.store.ListSignalsByAccount(accountID)
}

func (r memoryTierMappingRepository) UpsertSignal(signal *models.TierSignal) error {
	return r.store.UpsertSignal(signal)
}

// SetProvisioned toggles the provisioning probe result (tests only).
func (m *MemoryStore) SetProvisioned(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provisioned = v
}

// Provisioned implements the Provisioner interface.
func (m *MemoryStore) Provisioned() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisioned, nil
}

func (m *MemoryStore) allocID() uint {
	id := m.nextID
	m.nextID++
	return id
}

// Create implements AllocationRepository.
func (m *MemoryStore) Create(allocation *models.CreditAllocation, entries ...*models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	allocation.ID = m.allocID()
	allocation.CreatedAt = time.Now()
	allocation.UpdatedAt = allocation.CreatedAt
	stored := *allocation
	m.allocations[allocation.AccountID] = &stored
	for _, entry := range entries {
		entry.ID = m.allocID()
		entry.AllocationID = stored.ID
		entry.AccountID = stored.AccountID
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		m.transactions = append(m.transactions, *entry)
	}
	return nil
}

// GetByAccountID implements AllocationRepository.
func (m *MemoryStore) GetByAccountID(accountID uint) (*models.CreditAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.allocations[accountID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *stored
	return &out, nil
}

// UpdateBalances implements AllocationRepository.
func (m *MemoryStore) UpdateBalances(allocation *models.CreditAllocation, current, rollover, overage int, entries ...*models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := m.guard(allocation)
	if err != nil {
		return err
	}
	stored.CurrentBalance = current
	stored.RolloverBalance = rollover
	stored.OverageBalance = overage
	m.commit(allocation, stored, entries)
	allocation.CurrentBalance = current
	allocation.RolloverBalance = rollover
	allocation.OverageBalance = overage
	return nil
}

// UpdateCycle implements AllocationRepository.
func (m *MemoryStore) UpdateCycle(allocation *models.CreditAllocation, current, rollover int, cycleStart, cycleEnd time.Time, entries ...*models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := m.guard(allocation)
	if err != nil {
		return err
	}
	stored.CurrentBalance = current
	stored.RolloverBalance = rollover
	stored.BillingCycleStart = cycleStart
	stored.BillingCycleEnd = cycleEnd
	m.commit(allocation, stored, entries)
	allocation.CurrentBalance = current
	allocation.RolloverBalance = rollover
	allocation.BillingCycleStart = cycleStart
	allocation.BillingCycleEnd = cycleEnd
	return nil
}

// UpdateTier implements AllocationRepository.
func (m *MemoryStore) UpdateTier(allocation *models.CreditAllocation, tier string, monthlyAllowance, hardCap, current int, entries ...*models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := m.guard(allocation)
	if err != nil {
		return err
	}
	stored.Tier = tier
	stored.MonthlyAllowance = monthlyAllowance
	stored.HardCap = hardCap
	stored.CurrentBalance = current
	m.commit(allocation, stored, entries)
	allocation.Tier = tier
	allocation.MonthlyAllowance = monthlyAllowance
	allocation.HardCap = hardCap
	allocation.CurrentBalance = current
	return nil
}

// ListRefillDue implements AllocationRepository.
func (m *MemoryStore) ListRefillDue(asOf time.Time, offset, limit int) ([]models.CreditAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.CreditAllocation
	for _, stored := range m.allocations {
		if !stored.BillingCycleEnd.After(asOf) {
			due = append(due, *stored)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].BillingCycleEnd.Equal(due[j].BillingCycleEnd) {
			return due[i].ID < due[j].ID
		}
		return due[i].BillingCycleEnd.Before(due[j].BillingCycleEnd)
	})
	if offset >= len(due) {
		return nil, nil
	}
	due = due[offset:]
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Count implements AllocationRepository.
func (m *MemoryStore) Count() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.allocations)), nil
}

func (m *MemoryStore) guard(allocation *models.CreditAllocation) (*models.CreditAllocation, error) {
	stored, ok := m.allocations[allocation.AccountID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if stored.Version != allocation.Version {
		return nil, ErrStaleAllocation
	}
	return stored, nil
}

func (m *MemoryStore) commit(allocation, stored *models.CreditAllocation, entries []*models.CreditTransaction) {
	stored.Version++
	stored.UpdatedAt = time.Now()
	for _, entry := range entries {
		entry.ID = m.allocID()
		entry.AllocationID = stored.ID
		entry.AccountID = stored.AccountID
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		m.transactions = append(m.transactions, *entry)
	}
	allocation.Version = stored.Version
}

// ListByAccount implements TransactionRepository.
func (m *MemoryStore) ListByAccount(accountID uint, offset, limit int) ([]models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CreditTransaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].AccountID == accountID {
			out = append(out, m.transactions[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByAccountSince implements TransactionRepository.
func (m *MemoryStore) ListByAccountSince(accountID uint, since time.Time) ([]models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CreditTransaction
	for _, entry := range m.transactions {
		if entry.AccountID == accountID && !entry.CreatedAt.Before(since) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// SumSpendByAction implements TransactionRepository.
func (m *MemoryStore) SumSpendByAction(accountID uint, from, to time.Time) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spend := make(map[string]bool, len(models.SpendSources))
	for _, s := range models.SpendSources {
		spend[s] = true
	}
	totals := make(map[string]int)
	for _, entry := range m.transactions {
		if entry.AccountID != accountID || entry.CreditsUsed <= 0 || !spend[entry.SourceType] {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		totals[entry.ActionType] += entry.CreditsUsed
	}
	return totals, nil
}

// GetByActionType implements ActionCostRepository.
func (m *MemoryStore) GetByActionType(actionType string) (*models.ActionCost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.costs[actionType]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *stored
	return &out, nil
}

// Upsert implements ActionCostRepository.
func (m *MemoryStore) Upsert(cost *models.ActionCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.costs[cost.ActionType]; ok {
		cost.ID = existing.ID
		cost.CreatedAt = existing.CreatedAt
	} else {
		cost.ID = m.allocID()
		cost.CreatedAt = time.Now()
	}
	cost.UpdatedAt = time.Now()
	stored := *cost
	m.costs[cost.ActionType] = &stored
	return nil
}

// ListActive implements ActionCostRepository.
func (m *MemoryStore) ListActive() ([]models.ActionCost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActionCost
	for _, cost := range m.costs {
		if cost.IsActive {
			out = append(out, *cost)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionType < out[j].ActionType })
	return out, nil
}

func mappingKey(provider, ref string) string {
	return provider + "\x00" + ref
}

// FindActiveByRef implements TierMappingRepository.
func (m *MemoryStore) FindActiveByRef(provider, providerTierRef string) (*models.TierMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.mappings[mappingKey(provider, providerTierRef)]
	if !ok || !stored.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	out := *stored
	return &out, nil
}

// ListActiveMappings returns all active mappings, highest priority first.
func (m *MemoryStore) ListActiveMappings() ([]models.TierMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TierMapping
	for _, mapping := range m.mappings {
		if mapping.IsActive {
			out = append(out, *mapping)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// UpsertMapping inserts or overwrites a mapping keyed on provider + reference.
func (m *MemoryStore) UpsertMapping(mapping *models.TierMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mappingKey(mapping.Provider, mapping.ProviderTierRef)
	if existing, ok := m.mappings[key]; ok {
		mapping.ID = existing.ID
		mapping.CreatedAt = existing.CreatedAt
	} else {
		mapping.ID = m.allocID()
		mapping.CreatedAt = time.Now()
	}
	mapping.UpdatedAt = time.Now()
	stored := *mapping
	m.mappings[key] = &stored
	return nil
}

// ListSignalsByAccount implements TierMappingRepository.
func (m *MemoryStore) ListSignalsByAccount(accountID uint) ([]models.TierSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TierSignal, len(m.signals[accountID]))
	copy(out, m.signals[accountID])
	return out, nil
}

// UpsertSignal implements TierMappingRepository.
func (m *MemoryStore) UpsertSignal(signal *models.TierSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.signals[signal.AccountID]
	for i := range existing {
		if existing[i].Provider == signal.Provider && existing[i].ProviderTierRef == signal.ProviderTierRef {
			signal.ID = existing[i].ID
			signal.CreatedAt = existing[i].CreatedAt
			signal.UpdatedAt = time.Now()
			existing[i] = *signal
			return nil
		}
	}
	signal.ID = m.allocID()
	signal.CreatedAt = time.Now()
	signal.UpdatedAt = signal.CreatedAt
	m.signals[signal.AccountID] = append(existing, *signal)
	return nil
}

// CreateIfNotExists implements WebhookEventRepository.
func (m *MemoryStore) CreateIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mappingKey(event.Provider, event.ProviderEventID)
	if stored, ok := m.webhookEvents[key]; ok {
		out := *stored
		return false, &out, nil
	}
	event.ID = m.allocID()
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	stored := *event
	m.webhookEvents[key] = &stored
	out := stored
	return true, &out, nil
}

// MarkProcessed implements WebhookEventRepository.
func (m *MemoryStore) MarkProcessed(id uint, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.webhookEvents {
		if stored.ID == id {
			now := time.Now()
			stored.ProcessedAt = &now
			stored.ProcessingError = processingError
			stored.UpdatedAt = now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// Transactions returns a copy of every ledger entry (tests only).
func (m *MemoryStore) Transactions() []models.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CreditTransaction, len(m.transactions))
	copy(out, m.transactions)
	return out
}
