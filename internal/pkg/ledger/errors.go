package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/membercraft/creditledger/app/repository"
)

// Sentinel errors of the credit ledger. Affordability denials additionally
// carry a *GateError with the structured context the calling layer needs to
// render an actionable message; match them with errors.Is against these
// sentinels or errors.As against *GateError.
var (
	// ErrNotProvisioned means the ledger schema is not installed. The gate
	// treats this as "allowed" rather than surfacing it to end users.
	ErrNotProvisioned = errors.New("credit ledger storage not provisioned")

	// ErrInsufficientCredits means the spendable total is below the cost.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrHardCapReached means the balance is exhausted on a hard-capped
	// allocation; no further spend until the next refill.
	ErrHardCapReached = errors.New("credit hard cap reached")

	// ErrAllocationNotFound is defensive; GetOrCreate makes it unreachable
	// in normal operation.
	ErrAllocationNotFound = errors.New("credit allocation not found")

	// ErrUnknownTier means a tier key matched no active mapping and could
	// not be sized. Transitions reject it rather than guessing an allowance.
	ErrUnknownTier = errors.New("unknown tier key")

	// ErrStaleAllocation is a lost-update race on the allocation row. The
	// caller may retry once with fresh reads; the engine never retries.
	ErrStaleAllocation = repository.ErrStaleAllocation
)

// GateError is a structured affordability denial.
type GateError struct {
	AccountID  uint      `json:"account_id"`
	ActionType string    `json:"action_type"`
	Cost       int       `json:"cost"`
	Balance    int       `json:"balance"`
	Shortfall  int       `json:"shortfall,omitempty"`
	NextRefill time.Time `json:"next_refill,omitempty"`

	err error
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("%v: account=%d action=%s cost=%d balance=%d", e.err, e.AccountID, e.ActionType, e.Cost, e.Balance)
}

// Unwrap exposes the sentinel for errors.Is matching.
func (e *GateError) Unwrap() error {
	return e.err
}

func insufficientCredits(accountID uint, actionType string, cost, balance int) *GateError {
	return &GateError{
		AccountID:  accountID,
		ActionType: actionType,
		Cost:       cost,
		Balance:    balance,
		Shortfall:  cost - balance,
		err:        ErrInsufficientCredits,
	}
}

func hardCapReached(accountID uint, actionType string, cost, balance int, nextRefill time.Time) *GateError {
	return &GateError{
		AccountID:  accountID,
		ActionType: actionType,
		Cost:       cost,
		Balance:    balance,
		NextRefill: nextRefill,
		err:        ErrHardCapReached,
	}
}
