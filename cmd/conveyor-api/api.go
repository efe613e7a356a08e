// Package main provides the Conveyor API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/ingress"
	"github.com/brandkit/conveyor/pkg/metrics"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/queue"
	"github.com/brandkit/conveyor/pkg/statemachine"
	"github.com/brandkit/conveyor/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownGrace = 10 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	queue       queue.Queue
	maxDepth    int
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	eventBus eventbus.EventBus,
	jobQueue queue.Queue,
	maxDepth int,
) *API {
	return &API{
		logger:      logger,
		persistence: persist,
		eventBus:    eventBus,
		queue:       jobQueue,
		maxDepth:    maxDepth,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App(aggregator *metrics.Aggregator) *fiber.App {
	ingressService := ingress.NewService(a.eventBus, a.queue, a.maxDepth, a.logger)
	engine := statemachine.NewEngine(statemachine.NewDefaultRegistry(), a.persistence, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(ingressService, engine, a.persistence, aggregator, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Conveyor API")
	})

	handlers.RegisterRoutes(app)

	return app
}

// Start serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (a *API) Start(ctx context.Context, port int) error {
	aggregator := metrics.NewAggregator(nil, a.logger)

	err := aggregator.Register(a.eventBus)
	if err != nil {
		return err
	}

	err = a.eventBus.Subscribe(ctx)
	if err != nil {
		return err
	}

	app := a.App(aggregator)

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(":" + strconv.Itoa(port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("Shutting down API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		return app.ShutdownWithContext(shutdownCtx)
	}
}
