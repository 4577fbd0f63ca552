package counter

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/membercraft/creditledger/internal/pkg/cache"
)

const (
	gateAllowedKey = "ledger:counters:allowed"
	gateDeniedKey  = "ledger:counters:denied"
	gateOpenKey    = "ledger:counters:fail_open"
)

// AddGateAllowed increments the allowed-decision counter for an action type in Redis
func AddGateAllowed(actionType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, gateAllowedKey, actionType, 1).Err()
}

// AddGateDenied increments the denied-decision counter for an action type in Redis
func AddGateDenied(actionType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, gateDeniedKey, actionType, 1).Err()
}

// AddGateFailOpen increments the fail-open counter for an action type in Redis
func AddGateFailOpen(actionType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, gateOpenKey, actionType, 1).Err()
}

// Snapshot holds the per-action gate decision counts since the last reset.
type Snapshot struct {
	Allowed  map[string]int64 `json:"allowed"`
	Denied   map[string]int64 `json:"denied"`
	FailOpen map[string]int64 `json:"fail_open"`
}

// ReadSnapshot reads all gate decision counters from Redis.
func ReadSnapshot() (*Snapshot, error) {
	ctx := context.Background()
	snap := &Snapshot{}

	var err error
	if snap.Allowed, err = readHash(ctx, gateAllowedKey); err != nil {
		return nil, err
	}
	if snap.Denied, err = readHash(ctx, gateDeniedKey); err != nil {
		return nil, err
	}
	if snap.FailOpen, err = readHash(ctx, gateOpenKey); err != nil {
		return nil, err
	}
	return snap, nil
}

// ResetAll clears all gate decision counters.
func ResetAll() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, gateAllowedKey, gateDeniedKey, gateOpenKey).Err()
}

// GateCounters adapts the Redis counters to the ledger gate. Increment
// failures are logged and dropped so metrics never block a gate decision.
type GateCounters struct{}

func (GateCounters) Allowed(actionType string) {
	if err := AddGateAllowed(actionType); err != nil {
		log.Debugf("[Counter] allowed increment failed for %s: %v", actionType, err)
	}
}

func (GateCounters) Denied(actionType string) {
	if err := AddGateDenied(actionType); err != nil {
		log.Debugf("[Counter] denied increment failed for %s: %v", actionType, err)
	}
}

func (GateCounters) FailOpen(actionType string) {
	if err := AddGateFailOpen(actionType); err != nil {
		log.Debugf("[Counter] fail-open increment failed for %s: %v", actionType, err)
	}
}

func readHash(ctx context.Context, key string) (map[string]int64, error) {
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for field, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
