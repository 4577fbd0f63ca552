package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/membercraft/creditledger/internal/pkg/env"
	"github.com/membercraft/creditledger/internal/pkg/payments"
)

// HandlePaymentWebhook ingests a purchase confirmation and applies the
// overage grant at most once per provider event. When a webhook secret is
// configured the payload signature is verified first; without a secret the
// endpoint trusts upstream network controls.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	if secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", ""); secret != "" {
		if !payments.VerifyWebhookSignature(c.Body(), c.Get("X-Webhook-Signature"), secret) {
			log.Warnf("[Webhook] rejected payload with bad signature from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid signature"})
		}
	}

	var in payments.WebhookEventInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if in.PayloadJSON == "" {
		in.PayloadJSON = string(c.Body())
	}
	if err := validate.Struct(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	granted, err := paymentService.GrantFromPurchase(c.Context(), in)
	if err != nil {
		log.Errorf("[Webhook] overage grant failed for account %d: %v", in.AccountID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Grant failed"})
	}
	return c.JSON(fiber.Map{"granted": granted})
}
