// Package web provides HTTP handlers for the orchestration API.
package web

import (
	"net/http"
	"time"

	"github.com/brandkit/conveyor/pkg/ingress"
	"github.com/brandkit/conveyor/pkg/metrics"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/statemachine"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	ingress     *ingress.Service
	engine      *statemachine.Engine
	persistence persistence.Persistence
	metrics     *metrics.Aggregator
	validator   *validator.Validate
}

func NewAPIHandlers(
	ingressService *ingress.Service,
	engine *statemachine.Engine,
	persist persistence.Persistence,
	aggregator *metrics.Aggregator,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		ingress:     ingressService,
		engine:      engine,
		persistence: persist,
		metrics:     aggregator,
		validator:   validator,
	}
}

// RegisterRoutes wires all API endpoints onto the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Post("/events", h.SubmitEvent)
	app.Get("/workflows/:id", h.GetWorkflow)
	app.Post("/workflows/:id/cancel", h.CancelWorkflow)
	app.Get("/metrics", h.GetMetrics)
	app.Get("/health", h.HealthCheck)
}

// SubmitEvent accepts an inbound trigger and acknowledges it with 202. The
// trigger is processed asynchronously; a saturated queue yields 429 so the
// caller can back off and retry.
func (h *APIHandlers) SubmitEvent(c fiber.Ctx) error {
	var req SubmitEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event, err := h.ingress.Accept(
		c.Context(),
		models.TriggerSource(req.Source),
		req.Type,
		req.EventID,
		req.Payload,
	)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitEventResponse{
		EventID:    event.ID,
		Status:     "accepted",
		ReceivedAt: event.ReceivedAt,
	})
}

// GetWorkflow returns an instance with its full transition history.
func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	instance, err := h.persistence.Instances().GetByID(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	transitions, err := h.persistence.Transitions().ListByWorkflow(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(WorkflowResponse{
		Instance:    instance,
		Transitions: transitions,
	})
}

// CancelWorkflow cancels a non-terminal instance. Cancelling an already
// terminal instance is a no-op and still returns the current state.
func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.engine.Cancel(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	instance, err := h.persistence.Instances().GetByID(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetMetrics(c fiber.Ctx) error {
	return c.JSON(h.metrics.Snapshot(c.Context()))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
