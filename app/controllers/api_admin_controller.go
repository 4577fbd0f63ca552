package controllers

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/app/repository"
	"github.com/membercraft/creditledger/internal/pkg/jobqueue"
	"github.com/membercraft/creditledger/internal/pkg/metrics/counter"
)

var validate = validator.New()

// AdjustBalanceRequest is the admin balance override payload.
type AdjustBalanceRequest struct {
	Amount   int    `json:"amount" validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
}

// HandleAdjustBalance applies a signed manual adjustment to the allowance
// bucket.
func HandleAdjustBalance(c *fiber.Ctx) error {
	accountID, err := parseAccountID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	var req AdjustBalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	if err := ledgerService.AdjustBalance(c.Context(), accountID, req.Amount, req.Operator, req.Reason); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Adjustment failed"})
	}

	breakdown, err := ledgerService.Breakdown(c.Context(), accountID)
	if err != nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(breakdown)
}

// UpsertActionCostRequest is the catalog edit payload.
type UpsertActionCostRequest struct {
	CreditsPerUnit int  `json:"credits_per_unit" validate:"gte=0"`
	IsActive       bool `json:"is_active"`
}

// HandleUpsertActionCost creates or overwrites one catalog entry.
func HandleUpsertActionCost(c *fiber.Ctx) error {
	actionType := strings.TrimSpace(c.Params("action"))
	if actionType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing action type"})
	}

	var req UpsertActionCostRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	cost := &models.ActionCost{
		ActionType:     actionType,
		CreditsPerUnit: req.CreditsPerUnit,
		IsActive:       req.IsActive,
	}
	if err := repository.GetGlobalFactory().GetActionCostRepository().Upsert(cost); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save catalog entry"})
	}
	return c.JSON(cost)
}

// UpsertTierMappingRequest is the tier mapping edit payload.
type UpsertTierMappingRequest struct {
	Provider        string `json:"provider" validate:"required"`
	ProviderTierRef string `json:"provider_tier_ref" validate:"required"`
	TierKey         string `json:"tier_key" validate:"required"`
	Name            string `json:"name"`
	Priority        int    `json:"priority"`
	Credits         int    `json:"credits" validate:"gte=-1"`
	BillingPeriod   string `json:"billing_period" validate:"omitempty,oneof=monthly annual"`
	IsActive        bool   `json:"is_active"`
}

// HandleUpsertTierMapping creates or overwrites one tier mapping.
func HandleUpsertTierMapping(c *fiber.Ctx) error {
	var req UpsertTierMappingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	period := req.BillingPeriod
	if period == "" {
		period = models.BillingPeriodMonthly
	}
	mapping := &models.TierMapping{
		Provider:        strings.ToLower(strings.TrimSpace(req.Provider)),
		ProviderTierRef: strings.TrimSpace(req.ProviderTierRef),
		TierKey:         strings.TrimSpace(req.TierKey),
		Name:            strings.TrimSpace(req.Name),
		Priority:        req.Priority,
		Credits:         req.Credits,
		BillingPeriod:   period,
		IsActive:        req.IsActive,
	}
	if err := repository.GetGlobalFactory().GetTierMappingRepository().Upsert(mapping); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save tier mapping"})
	}
	return c.JSON(mapping)
}

// HandleTriggerSweep enqueues one refill sweep run.
func HandleTriggerSweep(c *fiber.Ctx) error {
	jobqueue.GetManager().EnqueueSweep()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Sweep enqueued"})
}

// HandleGateStats returns the gate decision counters accumulated in Redis.
func HandleGateStats(c *fiber.Ctx) error {
	snap, err := counter.ReadSnapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read gate counters"})
	}
	return c.JSON(snap)
}

// HandleTriggerReconcile enqueues a tier reconcile for one account.
func HandleTriggerReconcile(c *fiber.Ctx) error {
	accountID, err := parseAccountID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	jobqueue.GetManager().EnqueueTierReconcile(accountID, "admin")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Reconcile enqueued"})
}
