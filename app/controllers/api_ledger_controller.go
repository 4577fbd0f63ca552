package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/membercraft/creditledger/internal/pkg/ledger"
	"github.com/membercraft/creditledger/internal/pkg/payments"
)

var (
	ledgerService  *ledger.Service
	creditGate     *ledger.Gate
	paymentService *payments.Service
)

// InitializeLedgerControllers wires the controllers to the service layer.
func InitializeLedgerControllers(service *ledger.Service, gate *ledger.Gate, pay *payments.Service) {
	ledgerService = service
	creditGate = gate
	paymentService = pay
}

func parseAccountID(c *fiber.Ctx) (uint, error) {
	raw := c.Params("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid account id")
	}
	return uint(id), nil
}

// HandleGetBalance returns the account's bucket breakdown.
func HandleGetBalance(c *fiber.Ctx) error {
	accountID, err := parseAccountID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	breakdown, err := ledgerService.Breakdown(c.Context(), accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load balance"})
	}
	return c.JSON(breakdown)
}

// HandleGetUsage returns consumed credits per action in the current cycle.
func HandleGetUsage(c *fiber.Ctx) error {
	accountID, err := parseAccountID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	usage, err := ledgerService.UsageSummary(c.Context(), accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load usage"})
	}
	return c.JSON(fiber.Map{"account_id": accountID, "usage": usage})
}

// HandleGetEstimates returns remaining-actions estimates per catalog entry.
func HandleGetEstimates(c *fiber.Ctx) error {
	accountID, err := parseAccountID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	estimates, err := ledgerService.RemainingEstimates(c.Context(), accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load estimates"})
	}
	return c.JSON(fiber.Map{"account_id": accountID, "estimates": estimates})
}

// HandleCheckAffordability runs the gate's read-only affordability check.
func HandleCheckAffordability(c *fiber.Ctx) error {
	accountID, err := parseAccountID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	actionType := c.Params("action")
	units := c.QueryInt("units", 1)

	checkErr := creditGate.Check(c.Context(), accountID, actionType, units)
	if checkErr == nil {
		return c.JSON(fiber.Map{"allowed": true})
	}

	var gateErr *ledger.GateError
	if errors.As(checkErr, &gateErr) {
		reason := "insufficient_credits"
		if errors.Is(checkErr, ledger.ErrHardCapReached) {
			reason = "hard_cap_reached"
		}
		return c.JSON(fiber.Map{"allowed": false, "reason": reason, "detail": gateErr})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Affordability check failed"})
}
