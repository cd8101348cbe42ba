package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/speakloop/speakloop/app/controllers"
	"github.com/speakloop/speakloop/internal/pkg/cache"
	"github.com/speakloop/speakloop/internal/pkg/env"
	"github.com/speakloop/speakloop/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Gateway webhooks authenticate via HMAC signature, not API key
	v1.Post("/webhooks/gateway", controllers.HandleGatewayWebhook)

	// Promo validation is usable before an account has a key
	v1.Post("/promo/validate", controllers.HandleValidatePromo)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware())
	authed.Get("/subscription", controllers.HandleGetSubscription)
	authed.Post("/subscription/trial", controllers.HandleCreateTrial)
	authed.Post("/subscription/cancel", controllers.HandleCancel)
	authed.Post("/subscription/cancel-trial", controllers.HandleCancelTrial)
	authed.Post("/subscription/retry", controllers.HandleRetryConversion)
	authed.Post("/promo/apply", controllers.HandleApplyPromo)
}

// newLimiterStorage backs the rate limiter with Redis so limits hold across
// instances. Configuration is derived from the cache client; database 1 keeps
// limiter keys apart from cache entries.
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
