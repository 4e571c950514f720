// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/dukex/nurture/pkg/models"

// WorkflowRequest is the body for creating or replacing a workflow definition.
type WorkflowRequest struct {
	Scope       string                  `json:"scope"                 validate:"required"`
	Name        string                  `json:"name"                  validate:"required,min=3"`
	Description string                  `json:"description,omitempty"`
	Owner       string                  `json:"owner"                 validate:"required"`
	OwnerEmail  string                  `json:"owner_email,omitempty" validate:"omitempty,email"`
	Trigger     models.Trigger          `json:"trigger"`
	Nodes       []*models.Node          `json:"nodes"                 validate:"required,min=1"`
	Edges       []*models.Edge          `json:"edges"`
	Goal        *models.GoalDefinition  `json:"goal,omitempty"`
	Settings    models.WorkflowSettings `json:"settings"`
	IsActive    bool                    `json:"is_active"`
}

// Workflow converts the request into a workflow model.
func (r *WorkflowRequest) Workflow() *models.Workflow {
	return &models.Workflow{
		Scope:       r.Scope,
		Name:        r.Name,
		Description: r.Description,
		Owner:       r.Owner,
		OwnerEmail:  r.OwnerEmail,
		Trigger:     r.Trigger,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
		Goal:        r.Goal,
		Settings:    r.Settings,
		IsActive:    r.IsActive,
	}
}

// ToggleWorkflowRequest activates or deactivates a workflow.
type ToggleWorkflowRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// ABTestRequest configures the A/B test of a node.
type ABTestRequest struct {
	Variants        []models.Variant    `json:"variants"                   validate:"required,min=2,dive"`
	SampleSize      int64               `json:"sample_size"                validate:"gt=0"`
	WinnerMetric    models.WinnerMetric `json:"winner_metric"              validate:"required,oneof=open_rate click_rate"`
	ConfidenceLevel float64             `json:"confidence_level,omitempty" validate:"omitempty,gt=0.5,lt=1"`
}

// ABTest converts the request into an A/B test model.
func (r *ABTestRequest) ABTest() *models.ABTest {
	return &models.ABTest{
		Variants:        r.Variants,
		SampleSize:      r.SampleSize,
		WinnerMetric:    r.WinnerMetric,
		ConfidenceLevel: r.ConfidenceLevel,
	}
}

// VariantEventRequest bumps a variant counter.
type VariantEventRequest struct {
	VariantID string                  `json:"variant_id" validate:"required"`
	Event     models.VariantEventType `json:"event"      validate:"required,oneof=sent opened clicked"`
}

// SelectWinnerRequest closes an A/B test with a chosen variant.
type SelectWinnerRequest struct {
	VariantID string `json:"variant_id" validate:"required"`
}

// EventAcceptedResponse is returned when an inbound event is queued on the event bus.
type EventAcceptedResponse struct {
	EventID string `json:"event_id"`
	Queued  bool   `json:"queued"`
}

// EmailEventResponse reports whether a provider callback was new.
type EmailEventResponse struct {
	ID      string `json:"id,omitempty"`
	Created bool   `json:"created"`
}
