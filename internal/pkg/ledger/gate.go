package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/membercraft/creditledger/app/repository"
)

// provisioning is the tri-state schema probe result. The gate fails open
// until the probe confirms the ledger tables exist, so feature flows are
// never hard-blocked on infrastructure that is not installed yet.
type provisioning int

const (
	provisionUnknown provisioning = iota
	provisionReady
	provisionMissing
)

// provisionRecheck is how often a missing schema is re-probed. Once the
// schema is seen, the result is sticky.
const provisionRecheck = time.Minute

// DecisionCounter receives gate outcomes for lightweight metrics. All methods
// are best-effort and must never block the caller.
type DecisionCounter interface {
	Allowed(actionType string)
	Denied(actionType string)
	FailOpen(actionType string)
}

// Gate is the two-phase contract consumed by feature code: Check before the
// guarded action, Commit after it succeeded. Check never mutates state.
//
// Fail-open rules: unlimited tiers and an unprovisioned ledger always pass,
// and Commit is a silent no-op for both.
type Gate struct {
	service  *Service
	prov     repository.Provisioner
	counters DecisionCounter

	mu        sync.Mutex
	state     provisioning
	checkedAt time.Time
}

// NewGate creates a gate over the ledger service.
func NewGate(service *Service, prov repository.Provisioner) *Gate {
	return &Gate{service: service, prov: prov}
}

// SetCounters installs an optional decision counter. Only Check outcomes are
// counted so an allowed Check followed by a Commit is one decision, not two.
func (g *Gate) SetCounters(counters DecisionCounter) {
	g.counters = counters
}

// Check reports whether the account can afford units of the action. A nil
// return means the caller may proceed; denials are *GateError values
// matching ErrInsufficientCredits or ErrHardCapReached.
func (g *Gate) Check(ctx context.Context, accountID uint, actionType string, units int) error {
	if !g.enforced(ctx, accountID) {
		if g.counters != nil {
			g.counters.FailOpen(actionType)
		}
		return nil
	}
	err := g.service.Affordability(ctx, accountID, actionType, units)
	if g.counters != nil {
		if err != nil {
			g.counters.Denied(actionType)
		} else {
			g.counters.Allowed(actionType)
		}
	}
	return err
}

// Commit executes the spend for an action the caller already performed.
// Affordability is re-validated inside the engine; on a lost-update race the
// commit is retried once with fresh reads before the error surfaces.
func (g *Gate) Commit(ctx context.Context, accountID uint, actionType string, units int, metadata map[string]string) error {
	if !g.enforced(ctx, accountID) {
		return nil
	}
	err := g.service.Spend(ctx, accountID, actionType, units, metadata)
	if errors.Is(err, ErrStaleAllocation) {
		err = g.service.Spend(ctx, accountID, actionType, units, metadata)
	}
	return err
}

// enforced reports whether the ledger applies to this account at all.
func (g *Gate) enforced(ctx context.Context, accountID uint) bool {
	if !g.provisioned() {
		return false
	}

	tier, err := g.service.resolver.ResolveTier(ctx, accountID)
	if err != nil {
		// Fail open: a broken tier source must not block product flows.
		log.Warnf("[Gate] tier resolution failed for account %d, allowing: %v", accountID, err)
		return false
	}
	return !tier.IsUnlimited()
}

func (g *Gate) provisioned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == provisionReady {
		return true
	}
	if g.state == provisionMissing && time.Since(g.checkedAt) < provisionRecheck {
		return false
	}

	ok, err := g.prov.Provisioned()
	g.checkedAt = time.Now()
	if err != nil {
		log.Warnf("[Gate] provisioning probe failed, failing open: %v", err)
		g.state = provisionMissing
		return false
	}
	if ok {
		g.state = provisionReady
		return true
	}
	g.state = provisionMissing
	return false
}
