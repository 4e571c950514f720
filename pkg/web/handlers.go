// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/services"
	"github.com/dukex/nurture/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	abTestService    *services.ABTest
	dispatcher       *trigger.Dispatcher
	publisher        eventbus.EventPublisher
	validator        *validator.Validate
}

// NewAPIHandlers creates the API handlers. With a nil publisher inbound events are
// dispatched inline; otherwise they are queued on the event bus for the dispatcher.
func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	abTestService *services.ABTest,
	dispatcher *trigger.Dispatcher,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		abTestService:    abTestService,
		dispatcher:       dispatcher,
		publisher:        publisher,
		validator:        validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Nurture API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Nurture API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.Workflow())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), req.Workflow())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ToggleWorkflow(c fiber.Ctx) error {
	var req ToggleWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflowService.SetActive(c.Context(), c.Params("id"), *req.IsActive)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetWorkflowStats(c fiber.Ctx) error {
	stats, err := h.workflowService.Stats(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) EnrollContact(c fiber.Ctx) error {
	var req services.EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executionService.Enroll(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	filter, err := parseExecutionFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	executions, err := h.executionService.List(c.Context(), c.Params("id"), *filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(executions)
}

func (h *APIHandlers) GetExecutionsAtNode(c fiber.Ctx) error {
	filter, err := parseExecutionFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	executions, err := h.executionService.AtNode(c.Context(), c.Params("id"), c.Params("nodeId"), filter.Limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(executions)
}

// parseExecutionFilter reads status (comma separated), node_id and limit.
func parseExecutionFilter(c fiber.Ctx) (*models.ExecutionFilter, error) {
	filter := &models.ExecutionFilter{NodeID: c.Query("node_id")}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		filter.Limit = limit
	}

	if statusStr := c.Query("status"); statusStr != "" {
		for _, status := range strings.Split(statusStr, ",") {
			filter.Status = append(filter.Status, models.ExecutionStatus(strings.TrimSpace(status)))
		}
	}

	return filter, nil
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) PutABTest(c fiber.Ctx) error {
	var req ABTestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	test, err := h.abTestService.CreateOrUpdate(c.Context(), c.Params("id"), c.Params("nodeId"), req.ABTest())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(test)
}

func (h *APIHandlers) GetABTest(c fiber.Ctx) error {
	test, err := h.abTestService.Get(c.Context(), c.Params("id"), c.Params("nodeId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(test)
}

func (h *APIHandlers) RecordVariantEvent(c fiber.Ctx) error {
	var req VariantEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	test, err := h.abTestService.RecordVariantEvent(c.Context(), c.Params("id"), c.Params("nodeId"), req.VariantID, req.Event)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(test)
}

func (h *APIHandlers) SelectWinner(c fiber.Ctx) error {
	var req SelectWinnerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	test, err := h.abTestService.SelectWinner(c.Context(), c.Params("id"), c.Params("nodeId"), req.VariantID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(test)
}

func (h *APIHandlers) StopABTest(c fiber.Ctx) error {
	test, err := h.abTestService.Stop(c.Context(), c.Params("id"), c.Params("nodeId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(test)
}

// ReceiveEvent accepts an inbound business event. Without an event bus the event is
// dispatched before responding; with one it is queued and acknowledged with 202.
func (h *APIHandlers) ReceiveEvent(c fiber.Ctx) error {
	var event models.Event
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	if h.publisher == nil {
		result, err := h.dispatcher.Dispatch(c.Context(), &event)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(result)
	}

	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return internalError(c, err)
		}

		event.ID = id.String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	err := h.publisher.Publish(c.Context(), event.ContactID, events.BusinessEventReceived{
		BaseEvent: events.NewBaseEvent(events.BusinessEventReceivedEvent, event.WorkflowID),
		Event:     event,
	})
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventAcceptedResponse{EventID: event.ID, Queued: true})
}

// ReceiveEmailEvent accepts a delivery callback from the email provider.
func (h *APIHandlers) ReceiveEmailEvent(c fiber.Ctx) error {
	var event models.EmailEvent
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.abTestService.RecordEmailEvent(c.Context(), &event)
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(EmailEventResponse{ID: event.ID, Created: created})
}
