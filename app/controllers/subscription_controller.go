package controllers

import (
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/speakloop/speakloop/app/models"
	"github.com/speakloop/speakloop/app/repository"
	"github.com/speakloop/speakloop/internal/pkg/entitlements"
	"github.com/speakloop/speakloop/internal/pkg/gateway"
	"github.com/speakloop/speakloop/internal/pkg/mail"
	"github.com/speakloop/speakloop/internal/pkg/subscription"
	"github.com/speakloop/speakloop/internal/pkg/usercontext"
)

const defaultTrialDays = 7

var (
	gatewayClientMu sync.RWMutex
	gatewayClient   gateway.Client
)

// getGatewayClient returns the process-wide gateway client, creating the
// HTTP client from env config on first use.
func getGatewayClient() gateway.Client {
	gatewayClientMu.RLock()
	client := gatewayClient
	gatewayClientMu.RUnlock()
	if client != nil {
		return client
	}
	gatewayClientMu.Lock()
	defer gatewayClientMu.Unlock()
	if gatewayClient == nil {
		gatewayClient = gateway.NewClientFromEnv()
	}
	return gatewayClient
}

// SetGatewayClient replaces the gateway client, used by tests.
func SetGatewayClient(client gateway.Client) {
	gatewayClientMu.Lock()
	gatewayClient = client
	gatewayClientMu.Unlock()
}

func newSubscriptionService() *subscription.Service {
	return subscription.NewService(repository.GetGlobalRepositories(), getGatewayClient(), mail.Notifier{})
}

func newConverter() *subscription.Converter {
	return subscription.NewConverter(repository.GetGlobalRepositories(), getGatewayClient(), mail.Notifier{})
}

type createTrialRequest struct {
	Plan         string `json:"plan"`
	PaymentToken string `json:"payment_token"`
	TrialDays    int    `json:"trial_days"`
}

// HandleCreateTrial starts a free trial for the authenticated user. The
// payment token is exchanged for a stored card up front so conversion at
// trial end needs no further user interaction.
func HandleCreateTrial(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req createTrialRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Request body must be valid JSON")
	}
	req.Plan = strings.TrimSpace(strings.ToLower(req.Plan))
	if !models.ValidPlan(req.Plan) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_plan", "Plan must be monthly or annual")
	}
	if strings.TrimSpace(req.PaymentToken) == "" {
		return jsonError(c, fiber.StatusBadRequest, "missing_payment_token", "A payment token is required to start a trial")
	}
	if req.TrialDays == 0 {
		req.TrialDays = defaultTrialDays
	}
	if req.TrialDays < 0 || req.TrialDays > 90 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_trial_days", "Trial days must be between 1 and 90")
	}

	result, err := newSubscriptionService().IssueTrial(c.Context(), userCtx.UserID, req.Plan, req.PaymentToken, req.TrialDays)
	if err != nil {
		return mapSubscriptionError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleCancel cancels the user's trial or active subscription.
func HandleCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	sub, err := newSubscriptionService().Cancel(c.Context(), userCtx.UserID)
	if err != nil {
		return mapSubscriptionError(c, err)
	}
	return c.JSON(sub)
}

// HandleCancelTrial cancels only while the subscription is in trial.
func HandleCancelTrial(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	sub, err := newSubscriptionService().CancelTrial(c.Context(), userCtx.UserID)
	if err != nil {
		return mapSubscriptionError(c, err)
	}
	return c.JSON(sub)
}

// HandleRetryConversion re-attempts billing after a failed trial conversion.
func HandleRetryConversion(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	sub, err := newConverter().RetryConversion(c.Context(), userCtx.UserID)
	if err != nil {
		return mapSubscriptionError(c, err)
	}
	return c.JSON(sub)
}

// HandleGetSubscription returns the user's subscription record together with
// the entitlements it currently grants.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	sub, err := newSubscriptionService().Status(userCtx.UserID)
	if err != nil {
		return mapSubscriptionError(c, err)
	}
	return c.JSON(fiber.Map{
		"subscription": sub,
		"entitlements": entitlements.ForSubscription(sub),
	})
}

type promoRequest struct {
	Code string `json:"code"`
}

// HandleValidatePromo checks a promo code without applying it.
func HandleValidatePromo(c *fiber.Ctx) error {
	var req promoRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Request body must be valid JSON")
	}

	canonical, benefit, err := subscription.ResolvePromo(req.Code)
	if err != nil {
		return mapSubscriptionError(c, err)
	}
	return c.JSON(fiber.Map{"code": canonical, "benefit": benefit})
}

// HandleApplyPromo redeems a promo code for the authenticated user.
func HandleApplyPromo(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req promoRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Request body must be valid JSON")
	}

	sub, err := newSubscriptionService().ApplyPromo(c.Context(), userCtx.UserID, req.Code)
	if err != nil {
		return mapSubscriptionError(c, err)
	}
	return c.JSON(sub)
}
