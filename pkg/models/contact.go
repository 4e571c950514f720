package models

import "time"

// Contact is the recipient of workflow side effects.
type Contact struct {
	ID             string         `json:"id"`
	Scope          string         `json:"scope"`
	Email          string         `json:"email"`
	FirstName      string         `json:"first_name,omitempty"`
	LastName       string         `json:"last_name,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	LastActivityAt *time.Time     `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// HasTag reports whether the contact carries the tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// Purchase is a completed order of a product by a contact.
type Purchase struct {
	ContactID   string    `json:"contact_id"`
	ProductID   string    `json:"product_id"`
	Amount      float64   `json:"amount,omitempty"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// CourseProgress is a contact's progress in one course.
type CourseProgress struct {
	ContactID string    `json:"contact_id"`
	CourseID  string    `json:"course_id"`
	Percent   float64   `json:"percent"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailEventType is a delivery lifecycle callback from the email provider.
type EmailEventType string

const (
	EmailEventSent      EmailEventType = "sent"
	EmailEventDelivered EmailEventType = "delivered"
	EmailEventOpened    EmailEventType = "opened"
	EmailEventClicked   EmailEventType = "clicked"
	EmailEventBounced   EmailEventType = "bounced"
)

// EmailEvent is a provider callback tied to the execution and node that sent the email.
type EmailEvent struct {
	ID          string         `json:"id"`
	ContactID   string         `json:"contact_id"   validate:"required"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	NodeID      string         `json:"node_id"`
	VariantID   string         `json:"variant_id,omitempty"`
	Type        EmailEventType `json:"type"         validate:"required,oneof=sent delivered opened clicked bounced"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// EmailMessage is what the outbound email sender accepts.
type EmailMessage struct {
	To             string            `json:"to"`
	FromName       string            `json:"from_name,omitempty"`
	Subject        string            `json:"subject"`
	HTML           string            `json:"html,omitempty"`
	Text           string            `json:"text,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Notification is an internal message to a workflow owner.
type Notification struct {
	Channel NotifyChannel `json:"channel"`
	To      string        `json:"to,omitempty"`
	Subject string        `json:"subject"`
	Message string        `json:"message"`
	// Key deduplicates deliveries that go through the email sender.
	Key string `json:"key,omitempty"`
}
