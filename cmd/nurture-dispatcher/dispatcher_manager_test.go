package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/nurture/pkg/channels/gochannel"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/file"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/dukex/nurture/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) (*DispatcherManager, persistence.Persistence, *eventbus.WatermillEventBus) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	pub, sub := gochannel.CreateChannel(watermill.NewSlogLogger(slog.Default()))
	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	dispatcher := trigger.NewDispatcher(store, nil, slog.Default())

	cron, err := trigger.NewCron(dispatcher, store, "", slog.Default())
	require.NoError(t, err)

	workflow := testutil.CreateTestWorkflow("wf-welcome",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("welcome", testutil.Email("Welcome", "<p>hi</p>")),
		},
		[]*models.Edge{testutil.Edge("start", "welcome")},
	)
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), workflow))
	require.NoError(t, store.ContactRepository().SaveContact(t.Context(), testutil.CreateTestContact("c-1", "ada@example.com")))

	return NewDispatcherManager("test", bus, dispatcher, cron, slog.Default()), store, bus
}

func TestDispatcherManager_HandleBusinessEvent(t *testing.T) {
	manager, store, _ := setupManager(t)

	err := manager.handleBusinessEvent(t.Context(), &events.BusinessEventReceived{
		Event: models.Event{Scope: "acme", Type: models.EventTypeSignup, ContactID: "c-1"},
	})
	require.NoError(t, err)

	executions, err := store.ExecutionRepository().ListActiveByContact(t.Context(), "c-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "wf-welcome", executions[0].WorkflowID)
}

func TestDispatcherManager_DropsInvalidEvents(t *testing.T) {
	manager, _, _ := setupManager(t)

	err := manager.handleBusinessEvent(t.Context(), &events.BusinessEventReceived{
		Event: models.Event{Type: models.EventTypeSignup},
	})
	assert.NoError(t, err, "invalid events are acknowledged, not redelivered")

	assert.NoError(t, manager.handleBusinessEvent(t.Context(), &events.ExecutionCancelled{}))
}

func TestDispatcherManager_ConsumesQueuedEvents(t *testing.T) {
	manager, store, bus := setupManager(t)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- manager.Start(ctx) }()

	event := models.Event{Scope: "acme", Type: models.EventTypeSignup, ContactID: "c-1"}

	require.Eventually(t, func() bool {
		if err := bus.Publish(ctx, "c-1", events.BusinessEventReceived{Event: event}); err != nil {
			return false
		}

		executions, err := store.ExecutionRepository().ListActiveByContact(ctx, "c-1")

		return err == nil && len(executions) == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
