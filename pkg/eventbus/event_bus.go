// Package eventbus publishes execution lifecycle events and carries inbound business events.
package eventbus

import (
	"context"

	"github.com/dukex/nurture/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

type discard struct{}

func (discard) Publish(context.Context, string, Event) error { return nil }

// Discard is a publisher that drops every event.
var Discard EventPublisher = discard{}
