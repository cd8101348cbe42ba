package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/speakloop/speakloop/app/repository"
	"github.com/speakloop/speakloop/internal/pkg/gateway"
	"github.com/speakloop/speakloop/internal/pkg/subscription"
)

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// mapSubscriptionError translates engine errors into API responses. Gateway
// failures surface as 502 so clients can tell "you did something wrong" from
// "the payment provider is unhappy".
func mapSubscriptionError(c *fiber.Ctx, err error) error {
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		return jsonError(c, fiber.StatusConflict, "already_subscribed", err.Error())
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		return jsonError(c, fiber.StatusConflict, "no_active_subscription", err.Error())
	case errors.Is(err, subscription.ErrNotPaymentFailed):
		return jsonError(c, fiber.StatusConflict, "not_payment_failed", err.Error())
	case errors.Is(err, subscription.ErrInvalidPromoCode):
		return jsonError(c, fiber.StatusNotFound, "invalid_promo_code", err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		return jsonError(c, fiber.StatusConflict, "conflict", "The subscription was modified concurrently, please retry")
	case errors.As(err, &gwErr):
		return jsonError(c, fiber.StatusBadGateway, "gateway_error", "The payment gateway rejected the request")
	default:
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Unexpected error")
	}
}
