package services

import (
	"context"
	"fmt"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/trigger"
)

// Canceller stops executions. Implemented by engine.Engine.
type Canceller interface {
	Cancel(ctx context.Context, executionID string) (*models.Execution, error)
}

// EnrollRequest is a manual enrollment of a contact into a workflow.
type EnrollRequest struct {
	ContactID string         `json:"contact_id" validate:"required"`
	Data      map[string]any `json:"data,omitempty"`
}

type Execution struct {
	persistence persistence.Persistence
	dispatcher  *trigger.Dispatcher
	canceller   Canceller
}

func NewExecution(persistence persistence.Persistence, dispatcher *trigger.Dispatcher, canceller Canceller) *Execution {
	return &Execution{
		persistence: persistence,
		dispatcher:  dispatcher,
		canceller:   canceller,
	}
}

// Enroll places a contact at the start node of an active workflow, outside of any trigger.
func (e *Execution) Enroll(ctx context.Context, workflowID string, request EnrollRequest) (*models.Execution, error) {
	if request.ContactID == "" {
		return nil, NewValidationError("Enroll", "INVALID_CONTACT", "contact_id is required", ErrInvalidRequest)
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowInactive, workflowID)
	}

	if _, err := e.persistence.ContactRepository().Contact(ctx, request.ContactID); err != nil {
		return nil, err
	}

	data := map[string]any{"trigger": map[string]any{"type": "manual"}}
	for key, value := range request.Data {
		data[key] = value
	}

	return e.dispatcher.Enroll(ctx, workflow, request.ContactID, data)
}

// Cancel stops an execution. Cancelling a terminal execution returns it unchanged.
func (e *Execution) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	return e.canceller.Cancel(ctx, executionID)
}

// Get retrieves an execution by its ID.
func (e *Execution) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, executionID)
}

// List returns the executions of a workflow matching filter.
func (e *Execution) List(ctx context.Context, workflowID string, filter models.ExecutionFilter) ([]*models.Execution, error) {
	if _, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return e.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID, filter)
}

// AtNode returns the live executions currently positioned at a node.
func (e *Execution) AtNode(ctx context.Context, workflowID, nodeID string, limit int) ([]*models.Execution, error) {
	return e.List(ctx, workflowID, models.ExecutionFilter{
		Status: []models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning},
		NodeID: nodeID,
		Limit:  limit,
	})
}
