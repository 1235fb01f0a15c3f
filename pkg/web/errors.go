package web

import (
	"errors"

	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	body := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	body := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

// handleError maps persistence and supervisor errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")
	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")
	case errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())
	case errors.Is(err, workflow.ErrWorkflowNotActive):
		return problem(c, fiber.StatusConflict, "workflow_not_active", err.Error())
	case errors.Is(err, workflow.ErrExecutionNotFailed):
		return problem(c, fiber.StatusConflict, "execution_not_failed", err.Error())
	case persistence.IsExecutionNotRunning(err):
		return problem(c, fiber.StatusConflict, "execution_not_running", err.Error())
	case errors.Is(err, workflow.ErrShuttingDown):
		return problem(c, fiber.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		return internalError(c, err)
	}
}
