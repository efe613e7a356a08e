package web

import (
	"errors"

	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/queue"
	"github.com/brandkit/conveyor/pkg/statemachine"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func tooManyRequests(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(429).
		WithInstance(c.Path()).
		WithType("queue_saturated").
		WithDetail(detail)

	return c.Status(fiber.StatusTooManyRequests).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleDomainError maps orchestration errors onto problem responses.
func handleDomainError(c fiber.Ctx, err error) error {
	switch {
	case queue.IsSaturated(err):
		return tooManyRequests(c, "job queue is saturated, retry later")

	case persistence.IsInstanceNotFound(err):
		return notFound(c, "workflow not found")

	case statemachine.IsUnsupportedWorkflow(err):
		return badRequest(c, err.Error())

	case errors.Is(err, statemachine.ErrInvalidTriggerPayload):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
