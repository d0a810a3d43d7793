package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/VitalCareHQ/VitalCare/app/controllers"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/env"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 120),
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))

	v1 := api.Group("/v1")

	// Processor webhook: signature-authenticated, never behind API keys.
	v1.Post("/webhooks/processor", controllers.HandleProcessorWebhook)

	v1.Post("/auth/register", controllers.HandleRegister)
	v1.Post("/auth/login", controllers.HandleLogin)
	v1.Get("/plans", controllers.HandleListPlans)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware())
	authed.Get("/account", controllers.HandleGetAccount)
	authed.Get("/account/payment-methods", controllers.HandleListPaymentMethods)
	authed.Post("/subscriptions", controllers.HandleCreateSubscription)
	authed.Get("/subscriptions", controllers.HandleListSubscriptions)
	authed.Get("/subscriptions/:id", controllers.HandleGetSubscription)
	authed.Post("/subscriptions/:id/cancel", controllers.HandleCancelSubscription)
	authed.Post("/subscriptions/:id/change-plan", controllers.HandleChangePlan)
	authed.Get("/subscriptions/:id/privileges/:name", controllers.HandleGetPrivilege)
	authed.Post("/subscriptions/:id/privileges/:name/use", controllers.HandleUsePrivilege)

	admin := authed.Group("", middleware.RequireAdminMiddleware())
	admin.Post("/sync/:entityType/:id/validate", controllers.HandleSyncValidate)
	admin.Post("/sync/:entityType/:id/repair", controllers.HandleSyncRepair)
	admin.Post("/admin/billing/run", controllers.HandleRunRecurringBilling)
	admin.Post("/admin/subscriptions/:id/renew", controllers.HandleRenewSubscription)
	admin.Post("/admin/billing-records/:id/refund", controllers.HandleRefundBillingRecord)
	admin.Get("/admin/webhook-events", controllers.HandleListWebhookEvents)
}

// newLimiterStorage backs the rate limiter with Redis so limits hold across
// instances. Falls back to the in-memory default when Redis is not
// configured.
func newLimiterStorage() fiber.Storage {
	host := env.GetEnv("CACHE_HOST", "")
	if host == "" {
		return nil
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: env.GetEnvInt("CACHE_LIMITER_DB", 1),
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
