package models

import "time"

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further step will ever run in this status.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Execution is one contact's progress instance through one workflow.
// ScheduledFor is nil if and only if the execution is terminal.
type Execution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	ContactID     string          `json:"contact_id"`
	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id"`
	ScheduledFor  *time.Time      `json:"scheduled_for,omitempty"`
	// WakeAt is set while the execution is suspended at a delay node.
	WakeAt *time.Time `json:"wake_at,omitempty"`
	// LeasedUntil is set while a scheduler holds the execution for a step.
	LeasedUntil *time.Time     `json:"leased_until,omitempty"`
	Data        map[string]any `json:"data"`
	Visits      map[string]int `json:"visits,omitempty"`
	Attempts    int            `json:"attempts"`
	// Error is the failure code of the last failed node, such as "webhook_timeout".
	Error         string `json:"error,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`
	LastNodeID    string `json:"last_successful_node_id,omitempty"`
	GoalAchieved  bool   `json:"goal_achieved"`
	AllowMultiple bool   `json:"allow_multiple"`
	// Version is bumped on every write; writers must present the version they read.
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the execution has reached a terminal status.
func (e *Execution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// IsDue reports whether the execution should run at now.
func (e *Execution) IsDue(now time.Time) bool {
	return !e.IsTerminal() && e.ScheduledFor != nil && !e.ScheduledFor.After(now)
}

// IsLeased reports whether a scheduler still holds the execution at now.
func (e *Execution) IsLeased(now time.Time) bool {
	return e.LeasedUntil != nil && e.LeasedUntil.After(now)
}

// Visit increments and returns the visit count of a node.
func (e *Execution) Visit(nodeID string) int {
	if e.Visits == nil {
		e.Visits = make(map[string]int)
	}

	e.Visits[nodeID]++

	return e.Visits[nodeID]
}

// VisitCount returns how many times a node has been entered.
func (e *Execution) VisitCount(nodeID string) int {
	return e.Visits[nodeID]
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	Status []ExecutionStatus
	NodeID string
	Limit  int
}
