// Package testutil provides test data builders and in-memory collaborators for testing.
package testutil

import (
	"time"

	"github.com/dukex/nurture/pkg/models"
)

// Node creates a node carrying the payload; the type is taken from the payload.
func Node(id string, payload models.NodePayload) *models.Node {
	return &models.Node{
		ID:      id,
		Type:    payload.NodeType(),
		Name:    id,
		Payload: payload,
	}
}

// Edge connects two nodes without a handle.
func Edge(source, target string) *models.Edge {
	return &models.Edge{Source: source, Target: target}
}

// Branch connects two nodes along a labeled handle.
func Branch(source, handle, target string) *models.Edge {
	return &models.Edge{Source: source, Handle: handle, Target: target}
}

// Email creates an inline email payload.
func Email(subject, html string) *models.EmailPayload {
	return &models.EmailPayload{Subject: subject, HTML: html}
}

// Delay creates a delay payload.
func Delay(amount int, unit models.DelayUnit) *models.DelayPayload {
	return &models.DelayPayload{Amount: amount, Unit: unit}
}

// CreateTestWorkflow creates an active workflow in scope "acme" with default values that can be overridden.
func CreateTestWorkflow(id string, nodes []*models.Node, edges []*models.Edge, overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:         id,
		Scope:      "acme",
		Name:       "Workflow " + id,
		Owner:      "owner-1",
		OwnerEmail: "owner@example.com",
		Trigger:    models.Trigger{Type: models.TriggerTypeSignup},
		Nodes:      nodes,
		Edges:      edges,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithTrigger sets the workflow trigger.
func WithTrigger(triggerType models.TriggerType, config map[string]any) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Trigger = models.Trigger{Type: triggerType, Config: config}
	}
}

// WithGoal sets the workflow goal.
func WithGoal(spec models.ConditionSpec, eventTypes ...models.EventType) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Goal = &models.GoalDefinition{Name: "goal", Condition: spec, EventTypes: eventTypes}
	}
}

// WithMaxRetries overrides the retry limit of the workflow.
func WithMaxRetries(maxRetries int) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Settings.MaxRetries = &maxRetries
	}
}

// WithAllowMultipleRuns lets a contact hold several active executions of the workflow.
func WithAllowMultipleRuns() func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Settings.AllowMultipleRuns = true
	}
}

// CreateTestContact creates a contact in scope "acme".
func CreateTestContact(id, email string, tags ...string) *models.Contact {
	return &models.Contact{
		ID:        id,
		Scope:     "acme",
		Email:     email,
		FirstName: "Ada",
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}
}
