// Package models defines the core domain models for lifecycle-marketing workflow automation.
package models

import "time"

// TriggerType identifies the class of external event that creates new executions.
type TriggerType string

const (
	TriggerTypeSignup      TriggerType = "signup"
	TriggerTypePurchase    TriggerType = "purchase"
	TriggerTypeTagAdded    TriggerType = "tag_added"
	TriggerTypeWebhook     TriggerType = "webhook"
	TriggerTypeCustomEvent TriggerType = "custom_event"
	TriggerTypeScheduled   TriggerType = "scheduled"
	TriggerTypeInactivity  TriggerType = "inactivity"
)

// TriggerTypes lists every supported trigger type.
var TriggerTypes = []TriggerType{
	TriggerTypeSignup,
	TriggerTypePurchase,
	TriggerTypeTagAdded,
	TriggerTypeWebhook,
	TriggerTypeCustomEvent,
	TriggerTypeScheduled,
	TriggerTypeInactivity,
}

// Trigger defines which events enroll contacts into a workflow.
type Trigger struct {
	Type   TriggerType    `json:"type"             validate:"required,oneof=signup purchase tag_added webhook custom_event scheduled inactivity"`
	Config map[string]any `json:"config,omitempty"`
}

// WorkflowSettings holds per-workflow execution knobs.
type WorkflowSettings struct {
	AllowMultipleRuns bool `json:"allow_multiple_runs"`
	// MaxRetries overrides the engine default when set.
	MaxRetries *int `json:"max_retries,omitempty" validate:"omitempty,min=0,max=20"`
}

// GoalDefinition is a business condition that completes an execution regardless of graph position.
type GoalDefinition struct {
	Name      string        `json:"name,omitempty"`
	Condition ConditionSpec `json:"condition"`
	// EventTypes limits which explicit events naming the contact prompt an early goal check.
	// Empty means every event naming the contact does.
	EventTypes []EventType `json:"event_types,omitempty"`
}

// Workflow represents a stored directed graph of nodes and edges plus a trigger definition.
type Workflow struct {
	ID          string           `json:"id"`
	Scope       string           `json:"scope"                  validate:"required"`
	Name        string           `json:"name"                   validate:"required,min=3"`
	Description string           `json:"description,omitempty"`
	Owner       string           `json:"owner"                  validate:"required"`
	OwnerEmail  string           `json:"owner_email,omitempty"  validate:"omitempty,email"`
	Trigger     Trigger          `json:"trigger"`
	Nodes       []*Node          `json:"nodes"`
	Edges       []*Edge          `json:"edges"`
	Goal        *GoalDefinition  `json:"goal,omitempty"`
	Settings    WorkflowSettings `json:"settings"`
	IsActive    bool             `json:"is_active"`
	Version     int              `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NodeByID returns the node with the given id or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for _, node := range w.Nodes {
		if node != nil && node.ID == id {
			return node
		}
	}

	return nil
}

// WorkflowStats is derived from the executions table and never stored on the workflow.
type WorkflowStats struct {
	WorkflowID     string                    `json:"workflow_id"`
	Total          int64                     `json:"total"`
	ByStatus       map[ExecutionStatus]int64 `json:"by_status"`
	GoalsAchieved  int64                     `json:"goals_achieved"`
	NodeOccupancy  map[string]int64          `json:"node_occupancy"`
	ConversionRate float64                   `json:"conversion_rate"`
}

// Finalize computes the derived ratios once the raw counts are filled in.
func (s *WorkflowStats) Finalize() {
	s.Total = 0
	for _, count := range s.ByStatus {
		s.Total += count
	}

	if s.Total > 0 {
		s.ConversionRate = float64(s.GoalsAchieved) / float64(s.Total)
	}
}
