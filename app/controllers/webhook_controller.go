package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/speakloop/speakloop/app/repository"
	"github.com/speakloop/speakloop/internal/pkg/env"
	"github.com/speakloop/speakloop/internal/pkg/gateway"
	"github.com/speakloop/speakloop/internal/pkg/subscription"
)

// HandleGatewayWebhook ingests payment gateway webhook deliveries. Every
// delivery is persisted before processing; duplicates and events for unknown
// subscriptions are acknowledged with 200 so the gateway stops redelivering.
func HandleGatewayWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	eventType := strings.TrimSpace(c.Get("X-Gateway-Event"))
	eventID := strings.TrimSpace(c.Get("X-Gateway-Event-ID"))
	signature := strings.TrimSpace(c.Get("X-Gateway-Signature"))
	secret := env.GetEnv("GATEWAY_WEBHOOK_SECRET", "")

	reconciler := subscription.NewReconciler(repository.GetGlobalRepositories())
	eventsRepo := repository.GetGlobalRepositories().WebhookEvent

	signatureValid := gateway.VerifyWebhookSignature(rawBody, signature, secret)
	created, stored, err := reconciler.RecordEvent(eventID, eventType, rawBody, signatureValid)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	// Only a delivery that was fully applied is a safe no-op; a redelivery of
	// an event whose processing failed must run again or the correction the
	// gateway keeps retrying would be lost.
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		_ = eventsRepo.MarkProcessed(stored.ID, "invalid webhook signature")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	applyErr := reconciler.Apply(eventType, rawBody)
	errMsg := ""
	if applyErr != nil {
		errMsg = applyErr.Error()
	}
	_ = eventsRepo.MarkProcessed(stored.ID, errMsg)
	if applyErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconcile_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
