package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/protocol"
)

// Outbox is an EmailSender that records every accepted message.
type Outbox struct {
	mu       sync.Mutex
	messages []*models.EmailMessage
	// Err, when set, is returned instead of accepting the message.
	Err error
}

func (o *Outbox) Send(_ context.Context, message *models.EmailMessage) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.Err != nil {
		return "", o.Err
	}

	copied := *message
	o.messages = append(o.messages, &copied)

	return fmt.Sprintf("msg-%d", len(o.messages)), nil
}

// Sent returns the accepted messages in order.
func (o *Outbox) Sent() []*models.EmailMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]*models.EmailMessage(nil), o.messages...)
}

// Subjects returns the subjects of the accepted messages in order.
func (o *Outbox) Subjects() []string {
	var subjects []string
	for _, message := range o.Sent() {
		subjects = append(subjects, message.Subject)
	}

	return subjects
}

// WebhookCall is one recorded webhook request.
type WebhookCall struct {
	URL     string
	Headers map[string]string
	Body    any
}

// WebhookStub is a WebhookClient answering with Respond, or 200 {} when Respond is nil.
type WebhookStub struct {
	mu      sync.Mutex
	calls   []WebhookCall
	Respond func(call int) (*protocol.WebhookResponse, error)
}

func (w *WebhookStub) Post(_ context.Context, url string, headers map[string]string, body any) (*protocol.WebhookResponse, error) {
	w.mu.Lock()
	w.calls = append(w.calls, WebhookCall{URL: url, Headers: headers, Body: body})
	call := len(w.calls)
	respond := w.Respond
	w.mu.Unlock()

	if respond == nil {
		return &protocol.WebhookResponse{StatusCode: 200, Body: map[string]any{}}, nil
	}

	return respond(call)
}

// Calls returns the recorded requests.
func (w *WebhookStub) Calls() []WebhookCall {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]WebhookCall(nil), w.calls...)
}

// NotificationLog is a Notifier that records every notification.
type NotificationLog struct {
	mu            sync.Mutex
	notifications []models.Notification
}

func (n *NotificationLog) Notify(_ context.Context, notification *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, *notification)

	return nil
}

// All returns the recorded notifications.
func (n *NotificationLog) All() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]models.Notification(nil), n.notifications...)
}

// EventSink is a protocol.EventSink that records emitted events.
type EventSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *EventSink) Emit(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)

	return nil
}

// Events returns the emitted events.
func (s *EventSink) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Event(nil), s.events...)
}
