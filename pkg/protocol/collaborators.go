// Package protocol defines the contracts the engine consumes from external collaborators.
package protocol

import (
	"context"
	"errors"

	"github.com/dukex/nurture/pkg/models"
)

// ErrContactNotFound is returned by a ContactStore for unknown contacts.
var ErrContactNotFound = errors.New("contact not found")

// ContactStore reads contacts and mutates their tags.
// AddTag and RemoveTag are atomic and report whether the tag set changed.
type ContactStore interface {
	Contact(ctx context.Context, id string) (*models.Contact, error)
	AddTag(ctx context.Context, contactID, tag string) (bool, error)
	RemoveTag(ctx context.Context, contactID, tag string) (bool, error)
}

// CommerceStore exposes read-only purchase and course progress predicates.
type CommerceStore interface {
	Purchases(ctx context.Context, contactID string) ([]models.Purchase, error)
	CourseProgress(ctx context.Context, contactID string) ([]models.CourseProgress, error)
}

// EmailEventStore exposes delivery callbacks recorded for an execution.
type EmailEventStore interface {
	EmailEventsByExecution(ctx context.Context, executionID string) ([]models.EmailEvent, error)
}

// EmailSender hands a message to the outbound transport.
// A nil error means the message was accepted, not delivered.
type EmailSender interface {
	Send(ctx context.Context, message *models.EmailMessage) (messageID string, err error)
}

// WebhookResponse is the outcome of a successful outbound webhook call.
type WebhookResponse struct {
	StatusCode int
	Body       any
}

// WebhookClient posts JSON to external URLs within a bounded timeout.
// Errors are classified with retry.Transient or retry.Permanent.
type WebhookClient interface {
	Post(ctx context.Context, url string, headers map[string]string, body any) (*WebhookResponse, error)
}

// Notifier delivers internal messages to workflow owners.
type Notifier interface {
	Notify(ctx context.Context, notification *models.Notification) error
}

// EventSink accepts business events raised by workflows themselves (fire_event actions).
type EventSink interface {
	Emit(ctx context.Context, event *models.Event) error
}
