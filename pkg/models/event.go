package models

import "time"

// EventType classifies inbound business events.
type EventType string

const (
	EventTypeSignup          EventType = "signup"
	EventTypePurchase        EventType = "purchase"
	EventTypeTagAdded        EventType = "tag_added"
	EventTypeWebhook         EventType = "webhook"
	EventTypeCustom          EventType = "custom"
	EventTypeScheduled       EventType = "scheduled"
	EventTypeInactivity      EventType = "inactivity"
	EventTypeCourseCompleted EventType = "course_completed"
)

// Event is an external business event that can enroll contacts or prompt goal checks.
// WorkflowID, when set, restricts dispatch to that workflow (scheduled and inactivity events).
type Event struct {
	ID         string         `json:"id"`
	Scope      string         `json:"scope"                 validate:"required"`
	Type       EventType      `json:"type"                  validate:"required,oneof=signup purchase tag_added webhook custom scheduled inactivity course_completed"`
	ContactID  string         `json:"contact_id"            validate:"required"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Tag        string         `json:"tag,omitempty"`
	ProductID  string         `json:"product_id,omitempty"`
	ListID     string         `json:"list_id,omitempty"`
	WebhookKey string         `json:"webhook_key,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// TriggerType maps the event onto the trigger type that reacts to it, if any.
func (e *Event) TriggerType() (TriggerType, bool) {
	switch e.Type {
	case EventTypeSignup:
		return TriggerTypeSignup, true
	case EventTypePurchase:
		return TriggerTypePurchase, true
	case EventTypeTagAdded:
		return TriggerTypeTagAdded, true
	case EventTypeWebhook:
		return TriggerTypeWebhook, true
	case EventTypeCustom:
		return TriggerTypeCustomEvent, true
	case EventTypeScheduled:
		return TriggerTypeScheduled, true
	case EventTypeInactivity:
		return TriggerTypeInactivity, true
	default:
		return "", false
	}
}
