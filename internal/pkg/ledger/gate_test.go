package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/app/repository"
	"github.com/membercraft/creditledger/internal/pkg/tiers"
)

// recordingCounter captures gate decisions in memory.
type recordingCounter struct {
	allowed  []string
	denied   []string
	failOpen []string
}

func (c *recordingCounter) Allowed(actionType string)  { c.allowed = append(c.allowed, actionType) }
func (c *recordingCounter) Denied(actionType string)   { c.denied = append(c.denied, actionType) }
func (c *recordingCounter) FailOpen(actionType string) { c.failOpen = append(c.failOpen, actionType) }

// staleOnceAllocations fails the first balance update with a version
// conflict, then delegates.
type staleOnceAllocations struct {
	repository.AllocationRepository
	failed bool
}

func (r *staleOnceAllocations) UpdateBalances(allocation *models.CreditAllocation, current, rollover, overage int, entries ...*models.CreditTransaction) error {
	if !r.failed {
		r.failed = true
		return repository.ErrStaleAllocation
	}
	return r.AllocationRepository.UpdateBalances(allocation, current, rollover, overage, entries...)
}

func newTestGate(tier tiers.ResolvedTier) (*Gate, *Service, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	repos := repository.MemoryRepositories(store)
	svc := NewService(repos, tiers.StaticResolver{Tier: tier}, nil)
	return NewGate(svc, store), svc, store
}

func TestGateCheckAndCommit(t *testing.T) {
	gate, _, store := newTestGate(proTier())
	seedCost(t, store, "render", 10)

	require.NoError(t, gate.Check(context.Background(), 1, "render", 1))
	require.NoError(t, gate.Commit(context.Background(), 1, "render", 1, nil))

	// Seed grant from first contact, then the committed spend.
	entries := store.Transactions()
	require.Len(t, entries, 2)
	assert.Equal(t, 10, entries[1].CreditsUsed)
}

func TestGateDeniesWhenBroke(t *testing.T) {
	gate, svc, store := newTestGate(proTier())
	seedCost(t, store, "render", 10)
	setBuckets(t, svc, 1, 5, 0, 0)

	err := gate.Check(context.Background(), 1, "render", 1)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	err = gate.Commit(context.Background(), 1, "render", 1, nil)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestGateFailsOpenWhenUnprovisioned(t *testing.T) {
	gate, _, store := newTestGate(proTier())
	seedCost(t, store, "render", 1000)
	store.SetProvisioned(false)

	require.NoError(t, gate.Check(context.Background(), 1, "render", 1))
	require.NoError(t, gate.Commit(context.Background(), 1, "render", 1, nil))

	// Nothing was spent and no allocation was created.
	assert.Empty(t, store.Transactions())
	count, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGateProvisioningIsSticky(t *testing.T) {
	gate, _, store := newTestGate(proTier())
	seedCost(t, store, "render", 1000)

	// First contact probes and finds the schema; later probes are skipped
	// even if the probe source degrades.
	err := gate.Check(context.Background(), 1, "render", 1)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	store.SetProvisioned(false)
	err = gate.Check(context.Background(), 1, "render", 1)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestGateFailsOpenForUnlimitedTier(t *testing.T) {
	gate, _, store := newTestGate(tiers.ResolvedTier{Key: "vip", Credits: models.UnlimitedCredits})
	seedCost(t, store, "render", 1000)

	require.NoError(t, gate.Check(context.Background(), 1, "render", 1))
	require.NoError(t, gate.Commit(context.Background(), 1, "render", 1, nil))
	assert.Empty(t, store.Transactions())
}

func TestGateFailsOpenOnResolverError(t *testing.T) {
	store := repository.NewMemoryStore()
	repos := repository.MemoryRepositories(store)
	svc := NewService(repos, failingResolver{}, nil)
	gate := NewGate(svc, store)
	seedCost(t, store, "render", 1000)

	require.NoError(t, gate.Check(context.Background(), 1, "render", 1))
	require.NoError(t, gate.Commit(context.Background(), 1, "render", 1, nil))
}

func TestGateCommitRetriesStaleOnce(t *testing.T) {
	gate, svc, store := newTestGate(proTier())
	seedCost(t, store, "render", 10)
	_, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)

	repos := repository.MemoryRepositories(store)
	repos.Allocation = &staleOnceAllocations{AllocationRepository: store}
	svc.repos = repos

	require.NoError(t, gate.Commit(context.Background(), 1, "render", 1, nil))

	// Exactly one spend entry past the seed grant despite the retry.
	entries := store.Transactions()
	require.Len(t, entries, 2)
	assert.Equal(t, 10, entries[1].CreditsUsed)

	allocation, err := svc.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 90, allocation.CurrentBalance)
}

func TestGateCounters(t *testing.T) {
	gate, svc, store := newTestGate(proTier())
	counters := &recordingCounter{}
	gate.SetCounters(counters)
	seedCost(t, store, "render", 10)

	require.NoError(t, gate.Check(context.Background(), 1, "render", 1))
	assert.Equal(t, []string{"render"}, counters.allowed)

	setBuckets(t, svc, 1, 0, 0, 0)
	assert.Error(t, gate.Check(context.Background(), 1, "render", 1))
	assert.Equal(t, []string{"render"}, counters.denied)

	store.SetProvisioned(false)
	gate2 := NewGate(svc, store)
	gate2.SetCounters(counters)
	require.NoError(t, gate2.Check(context.Background(), 1, "render", 1))
	assert.Equal(t, []string{"render"}, counters.failOpen)
}

type failingResolver struct{}

func (failingResolver) ResolveTier(ctx context.Context, accountID uint) (tiers.ResolvedTier, error) {
	return tiers.FreeTier(), assert.AnError
}
