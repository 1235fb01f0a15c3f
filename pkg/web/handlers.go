// Package web provides the HTTP endpoints for triggering and supervising workflow executions.
package web

import (
	"net/http"
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/registry"
	"github.com/fractal-assets/flowengine/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	persistence persistence.Persistence
	supervisor  *workflow.Supervisor
	listener    *workflow.Listener
	registry    *registry.Registry
	validator   *validator.Validate
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	supervisor *workflow.Supervisor,
	listener *workflow.Listener,
	registry *registry.Registry,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		supervisor:  supervisor,
		listener:    listener,
		registry:    registry,
		validator:   validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().GetAll(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

// SaveWorkflow creates or replaces a workflow definition after validating its step graph.
func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	workflow.ApplyDefaults()

	if err := workflow.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.WorkflowRepository().Save(c.Context(), &workflow); err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	var req TriggerRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	var userID *string
	if header := c.Get(UserIDHeader); header != "" {
		userID = &header
	}

	execution, err := h.supervisor.Trigger(c.Context(), workflow, userID, req.TriggerData, req.Context)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	workflowID := c.Params("id")

	if _, err := h.persistence.WorkflowRepository().GetByID(c.Context(), workflowID); err != nil {
		return handleError(c, err)
	}

	executions, err := h.persistence.ExecutionRepository().ListByWorkflow(c.Context(), workflowID)
	if err != nil {
		return handleError(c, err)
	}

	if status := c.Query("status"); status != "" {
		filtered := make([]*models.Execution, 0, len(executions))

		for _, execution := range executions {
			if string(execution.Status) == status {
				filtered = append(filtered, execution)
			}
		}

		executions = filtered
	}

	return c.JSON(ExecutionListResponse{
		Executions: executions,
		TotalCount: len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, ok, err := h.execution(c)
	if !ok {
		return err
	}

	return c.JSON(execution)
}

func (h *APIHandlers) RetryExecution(c fiber.Ctx) error {
	var req RetryRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	failed, ok, err := h.execution(c)
	if !ok {
		return err
	}

	execution, err := h.supervisor.Retry(c.Context(), failed.ID, workflow.RetryOptions{Resume: req.Resume})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	running, ok, err := h.execution(c)
	if !ok {
		return err
	}

	execution, err := h.supervisor.Cancel(c.Context(), running.ID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

// execution loads the execution named in the path and checks it belongs to the workflow in
// the path. When ok is false the error response has already been written.
func (h *APIHandlers) execution(c fiber.Ctx) (*models.Execution, bool, error) {
	execution, err := h.persistence.ExecutionRepository().GetByID(c.Context(), c.Params("executionId"))
	if err != nil {
		return nil, false, handleError(c, err)
	}

	if execution.WorkflowID != c.Params("id") {
		return nil, false, handleError(c, persistence.NewExecutionError("Get", execution.ID, persistence.ErrExecutionNotFound))
	}

	return execution, true, nil
}

// PublishEvent routes a platform event to the workflows listening for it.
func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	started, err := h.listener.OnEvent(c.Context(), req.Type, req.Payload)
	if err != nil {
		return handleError(c, err)
	}

	ids := make([]string, 0, len(started))
	for _, execution := range started {
		ids = append(ids, execution.ID)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventResponse{
		Type:         req.Type,
		Triggered:    len(ids),
		ExecutionIDs: ids,
	})
}

func (h *APIHandlers) TriggerCatalog(c fiber.Ctx) error {
	return c.JSON(models.TriggerCatalog)
}

func (h *APIHandlers) ActionCatalog(c fiber.Ctx) error {
	return c.JSON(h.registry.Catalog())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	repository := "ok"

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		repository = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repository,
		},
		"in_flight": h.supervisor.InFlight(),
		"timestamp": time.Now().UTC(),
	})
}
