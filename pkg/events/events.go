// Package events defines the execution lifecycle and inbound business events carried by the event bus.
package events

import (
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const (
	Topic         = "nurture.executions" // execution lifecycle events
	BusinessTopic = "nurture.business"   // inbound business events awaiting dispatch
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionEnrolledEvent       EventType = "execution.enrolled"
	ExecutionStepEvent           EventType = "execution.step"
	ExecutionRetryScheduledEvent EventType = "execution.retry_scheduled"
	ExecutionCompletedEvent      EventType = "execution.completed"
	ExecutionFailedEvent         EventType = "execution.failed"
	ExecutionCancelledEvent      EventType = "execution.cancelled"
	GoalAchievedEvent            EventType = "execution.goal_achieved"

	BusinessEventReceivedEvent EventType = "business.received"
)

// Topic returns the topic events of this type are published on.
func (t EventType) Topic() string {
	if t == BusinessEventReceivedEvent {
		return BusinessTopic
	}

	return Topic
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecutionRef identifies the execution an event is about.
type ExecutionRef struct {
	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
}

type ExecutionEnrolled struct {
	BaseEvent
	ExecutionRef

	TriggerType models.TriggerType `json:"trigger_type,omitempty"`
	StartNodeID string             `json:"start_node_id"`
}

func (e ExecutionEnrolled) GetType() EventType {
	return ExecutionEnrolledEvent
}

// ExecutionStep is published after every node whose effect was applied.
type ExecutionStep struct {
	BaseEvent
	ExecutionRef

	NodeID     string          `json:"node_id"`
	NodeType   models.NodeType `json:"node_type"`
	Handle     string          `json:"handle,omitempty"`
	NextNodeID string          `json:"next_node_id,omitempty"`
	Suspended  bool            `json:"suspended,omitempty"`
}

func (e ExecutionStep) GetType() EventType {
	return ExecutionStepEvent
}

type ExecutionRetryScheduled struct {
	BaseEvent
	ExecutionRef

	NodeID      string    `json:"node_id"`
	Error       string    `json:"error"`
	ErrorDetail string    `json:"error_detail"`
	Attempt     int       `json:"attempt"`
	RetryAt     time.Time `json:"retry_at"`
}

func (e ExecutionRetryScheduled) GetType() EventType {
	return ExecutionRetryScheduledEvent
}

type ExecutionCompleted struct {
	BaseEvent
	ExecutionRef

	NodeID       string        `json:"node_id"`
	GoalAchieved bool          `json:"goal_achieved"`
	Duration     time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent
	ExecutionRef

	NodeID      string `json:"node_id"`
	LastNodeID  string `json:"last_successful_node_id,omitempty"`
	ErrorKind   string `json:"error_kind"`
	Error       string `json:"error"`
	ErrorDetail string `json:"error_detail"`
	Attempts    int    `json:"attempts"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent
	ExecutionRef

	NodeID string `json:"node_id"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// GoalAchieved is published when the workflow goal completes an execution early.
type GoalAchieved struct {
	BaseEvent
	ExecutionRef

	NodeID   string `json:"node_id"`
	GoalName string `json:"goal_name,omitempty"`
}

func (e GoalAchieved) GetType() EventType {
	return GoalAchievedEvent
}

// BusinessEventReceived carries an inbound business event to the trigger dispatcher.
type BusinessEventReceived struct {
	BaseEvent

	Event models.Event `json:"event"`
}

func (e BusinessEventReceived) GetType() EventType {
	return BusinessEventReceivedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// Ref builds the execution reference of an execution.
func Ref(execution *models.Execution) ExecutionRef {
	return ExecutionRef{ExecutionID: execution.ID, ContactID: execution.ContactID}
}
