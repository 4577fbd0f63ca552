package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/membercraft/creditledger/app/controllers"
	"github.com/membercraft/creditledger/internal/pkg/constants"
	"github.com/membercraft/creditledger/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "credit ledger api",
		})
	})

	v1 := api.Group(constants.APIV1Route)
	v1.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"ping": "pong"})
	})

	// Read-side reporting
	v1.Get("/accounts/:id/balance", controllers.HandleGetBalance)
	v1.Get("/accounts/:id/usage", controllers.HandleGetUsage)
	v1.Get("/accounts/:id/estimates", controllers.HandleGetEstimates)
	v1.Get("/accounts/:id/afford/:action", controllers.HandleCheckAffordability)

	// Payment collaborator ingest
	v1.Post("/webhooks/payment", controllers.HandlePaymentWebhook)

	// Operator surface
	admin := v1.Group(constants.AdminRoute, middleware.AdminKeyMiddleware())
	admin.Post("/accounts/:id/adjust", controllers.HandleAdjustBalance)
	admin.Post("/accounts/:id/reconcile", controllers.HandleTriggerReconcile)
	admin.Post("/actions/:action/cost", controllers.HandleUpsertActionCost)
	admin.Post("/tier-mappings", controllers.HandleUpsertTierMapping)
	admin.Post("/sweep", controllers.HandleTriggerSweep)
	admin.Get("/gate-stats", controllers.HandleGateStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
