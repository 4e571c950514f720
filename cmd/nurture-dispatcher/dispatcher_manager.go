package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/trigger"
)

// DispatcherManager consumes queued business events and runs the time-based triggers.
type DispatcherManager struct {
	id         string
	eventBus   eventbus.EventSubscriber
	dispatcher *trigger.Dispatcher
	cron       *trigger.Cron
	logger     *slog.Logger
}

func NewDispatcherManager(
	id string,
	eventBus eventbus.EventSubscriber,
	dispatcher *trigger.Dispatcher,
	cron *trigger.Cron,
	logger *slog.Logger,
) *DispatcherManager {
	return &DispatcherManager{
		id:         id,
		eventBus:   eventBus,
		dispatcher: dispatcher,
		cron:       cron,
		logger:     logger.With("module", "nurture-dispatcher", "dispatcher_id", id),
	}
}

// Start blocks until ctx is cancelled.
func (dm *DispatcherManager) Start(ctx context.Context) error {
	dm.logger.InfoContext(ctx, "Starting dispatcher manager")

	err := dm.eventBus.Handle(events.BusinessEventReceivedEvent, dm.handleBusinessEvent)
	if err != nil {
		return err
	}

	err = dm.eventBus.Subscribe(ctx)
	if err != nil {
		dm.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	dm.cron.Start(ctx)
	defer dm.cron.Stop()

	dm.logger.InfoContext(ctx, "Dispatcher started successfully")

	<-ctx.Done()
	dm.logger.InfoContext(ctx, "Shutting down dispatcher...")

	return nil
}

func (dm *DispatcherManager) handleBusinessEvent(ctx context.Context, event any) error {
	received, ok := event.(*events.BusinessEventReceived)
	if !ok {
		dm.logger.ErrorContext(ctx, "Invalid event type for BusinessEventReceived")

		return nil
	}

	logger := dm.logger.With(
		"event_id", received.Event.ID,
		"event_type", received.Event.Type,
		"contact_id", received.Event.ContactID,
	)

	result, err := dm.dispatcher.Dispatch(ctx, &received.Event)
	if errors.Is(err, trigger.ErrInvalidEvent) {
		logger.WarnContext(ctx, "dropping invalid business event", "error", err)

		return nil
	}

	if err != nil {
		logger.ErrorContext(ctx, "failed to dispatch business event", "error", err)

		return err
	}

	logger.InfoContext(ctx, "business event dispatched",
		"enrolled", len(result.Enrolled),
		"skipped", result.Skipped,
		"woken", result.Woken,
	)

	return nil
}
