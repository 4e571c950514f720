// Package main provides the Nurture API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/nurture/pkg/abtest"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/services"
	"github.com/dukex/nurture/pkg/trigger"
	"github.com/dukex/nurture/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	dispatcher  *trigger.Dispatcher
	canceller   services.Canceller
	// queue receives inbound business events; nil dispatches them in the request.
	queue    eventbus.EventPublisher
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	dispatcher *trigger.Dispatcher,
	canceller services.Canceller,
	queue eventbus.EventPublisher,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		dispatcher:  dispatcher,
		canceller:   canceller,
		queue:       queue,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence)
	executionService := services.NewExecution(a.persistence, a.dispatcher, a.canceller)
	abTestService := services.NewABTest(a.persistence, abtest.NewManager(a.persistence.ABTestRepository(), a.logger))

	handlers := web.NewAPIHandlers(workflowService, executionService, abTestService, a.dispatcher, a.queue, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Nurture API")
	})

	app.Get("/health", handlers.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/toggle", handlers.ToggleWorkflow)
	w.Get("/:id/stats", handlers.GetWorkflowStats)

	// Enrollment and execution inspection
	w.Post("/:id/executions", handlers.EnrollContact)
	w.Get("/:id/executions", handlers.GetExecutions)
	w.Get("/:id/nodes/:nodeId/executions", handlers.GetExecutionsAtNode)

	// A/B tests
	w.Put("/:id/nodes/:nodeId/ab-test", handlers.PutABTest)
	w.Get("/:id/nodes/:nodeId/ab-test", handlers.GetABTest)
	w.Post("/:id/nodes/:nodeId/ab-test/events", handlers.RecordVariantEvent)
	w.Post("/:id/nodes/:nodeId/ab-test/winner", handlers.SelectWinner)
	w.Post("/:id/nodes/:nodeId/ab-test/stop", handlers.StopABTest)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Post("/events", handlers.ReceiveEvent)
	app.Post("/email-events", handlers.ReceiveEmailEvent)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
