// internal/api/router.go
package api

import (
	"database/sql"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewApp builds the Fiber application with all routes mounted.
func NewApp(h *Handlers, db *sql.DB) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	prometheus := fiberprometheus.New("loanflow")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	applications := api.Group("/applications")
	applications.Post("/", h.CreateApplication)
	applications.Get("/:id", h.GetApplication)
	applications.Get("/:id/pipeline", h.GetPipeline)
	applications.Post("/:id/pipeline/apply", h.ApplyPipeline)
	applications.Get("/:id/requirements", h.GetRequirements)
	applications.Post("/:id/send-to-lender", h.SendToLender)
	applications.Post("/:id/lender-decision", h.LenderDecision)
	applications.Post("/:id/bypass-upload", h.BypassUpload)
	applications.Post("/:id/stage-override", h.OverrideStage)
	applications.Post("/:id/documents", h.UploadDocument)
	applications.Get("/:id/smart-fields", h.GetSmartFields)
	applications.Post("/:id/signing", h.StartSigning)

	api.Post("/documents/:id/review", h.ReviewDocument)

	signing := api.Group("/signing")
	signing.Get("/jobs/:id", h.GetSigningJob)
	signing.Post("/jobs/:id/cancel", h.CancelSigningJob)

	api.Post("/webhooks/signing", h.SigningWebhook)

	return app
}
