package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/VitalCareHQ/VitalCare/app/controllers"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/cache"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/database"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/env"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/orchestrator"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/router"
)

func main() {
	app := NewApplication()

	scheduler := orchestrator.NewScheduler(controllers.BillingOrchestrator())
	if err := scheduler.Start(); err != nil {
		log.Fatal(err)
	}
	defer scheduler.Stop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "VitalCare",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics behind basic auth
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ROUTER
	router.InstallRouter(app)

	return app
}
