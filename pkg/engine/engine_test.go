package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/abtest"
	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/idempotency"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/file"
	"github.com/dukex/nurture/pkg/protocol"
	"github.com/dukex/nurture/pkg/retry"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t             *testing.T
	store         persistence.Persistence
	engine        *Engine
	outbox        *testutil.Outbox
	webhook       *testutil.WebhookStub
	notifications *testutil.NotificationLog
	sink          *testutil.EventSink
	now           time.Time
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	contacts := store.ContactRepository()

	h := &harness{
		t:             t,
		store:         store,
		outbox:        &testutil.Outbox{},
		webhook:       &testutil.WebhookStub{},
		notifications: &testutil.NotificationLog{},
		sink:          &testutil.EventSink{},
		now:           time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	h.engine = New(Dependencies{
		Workflows:  store.WorkflowRepository(),
		Executions: store.ExecutionRepository(),
		Contacts:   contacts,
		Commerce:   contacts,
		Emails:     contacts,
		ABTests:    abtest.NewManager(store.ABTestRepository(), slog.Default()),
		Markers:    store.MarkerRepository(),
		Email:      h.outbox,
		Webhook:    h.webhook,
		Notifier:   h.notifications,
		Sink:       h.sink,
	}, config, slog.Default())
	h.engine.SetClock(func() time.Time { return h.now })

	require.NoError(t, contacts.SaveContact(t.Context(), testutil.CreateTestContact("c-1", "ada@example.com")))

	return h
}

func (h *harness) enroll(workflow *models.Workflow) *models.Execution {
	h.t.Helper()

	ctx := h.t.Context()
	require.NoError(h.t, h.store.WorkflowRepository().Save(ctx, workflow))

	start, ok := graph.New(workflow).Start()
	require.True(h.t, ok)

	now := h.now
	execution := &models.Execution{
		WorkflowID:    workflow.ID,
		ContactID:     "c-1",
		Status:        models.ExecutionStatusPending,
		CurrentNodeID: start,
		ScheduledFor:  &now,
		Data:          map[string]any{},
	}
	require.NoError(h.t, h.store.ExecutionRepository().Enroll(ctx, execution))

	return execution
}

// tick steps every due execution, like one scheduler pass.
func (h *harness) tick() int {
	h.t.Helper()

	ctx := h.t.Context()

	due, err := h.store.ExecutionRepository().Due(ctx, h.now, 100)
	require.NoError(h.t, err)

	for _, execution := range due {
		require.NoError(h.t, h.engine.Step(ctx, execution))
	}

	return len(due)
}

func (h *harness) get(id string) *models.Execution {
	h.t.Helper()

	execution, err := h.store.ExecutionRepository().GetByID(h.t.Context(), id)
	require.NoError(h.t, err)

	return execution
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// openedWorkflow is trigger -> email(A) -> delay(1 day) -> condition(opened A?) -> {yes: stop, no: email(B)}.
func openedWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow("wf-opened",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("email-a", testutil.Email("Welcome {{.contact.first_name}}", "<p>A</p>")),
			testutil.Node("wait", testutil.Delay(1, models.DelayUnitDays)),
			testutil.Node("opened", &models.ConditionPayload{
				Condition: &models.ConditionSpec{Kind: models.ConditionEmailOpened, NodeID: "email-a"},
			}),
			testutil.Node("done", &models.StopPayload{}),
			testutil.Node("email-b", testutil.Email("Did you miss this?", "<p>B</p>")),
		},
		[]*models.Edge{
			testutil.Edge("start", "email-a"),
			testutil.Edge("email-a", "wait"),
			testutil.Edge("wait", "opened"),
			testutil.Branch("opened", models.HandleYes, "done"),
			testutil.Branch("opened", models.HandleNo, "email-b"),
		},
	)
}

func TestStep_NotOpenedSendsFollowUp(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	execution := h.enroll(openedWorkflow())

	assert.Equal(t, 1, h.tick())

	suspended := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, suspended.Status)
	assert.Equal(t, "wait", suspended.CurrentNodeID)
	assert.Equal(t, h.now.Add(24*time.Hour), *suspended.ScheduledFor)
	assert.Equal(t, []string{"Welcome Ada"}, h.outbox.Subjects())

	h.advance(time.Hour)
	assert.Equal(t, 0, h.tick(), "nothing is due before the delay elapses")

	h.advance(23 * time.Hour)
	assert.Equal(t, 1, h.tick())

	completed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)
	assert.Nil(t, completed.ScheduledFor)
	assert.Equal(t, "email-b", completed.LastNodeID)
	assert.False(t, completed.GoalAchieved)
	assert.Equal(t, []string{"Welcome Ada", "Did you miss this?"}, h.outbox.Subjects())
}

func TestStep_OpenedStops(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	execution := h.enroll(openedWorkflow())

	h.tick()

	_, err := h.store.ContactRepository().RecordEmailEvent(t.Context(), &models.EmailEvent{
		ID:          "evt-1",
		ContactID:   "c-1",
		ExecutionID: execution.ID,
		WorkflowID:  "wf-opened",
		NodeID:      "email-a",
		Type:        models.EmailEventOpened,
		OccurredAt:  h.now,
	})
	require.NoError(t, err)

	h.advance(24 * time.Hour)
	h.tick()

	completed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)
	assert.Equal(t, "done", completed.CurrentNodeID)
	assert.Equal(t, []string{"Welcome Ada"}, h.outbox.Subjects())
}

func TestStep_SideEffectsAreIdempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	execution := h.enroll(openedWorkflow())

	require.NoError(t, h.engine.Step(t.Context(), execution))
	require.Len(t, h.outbox.Sent(), 1)

	// redeliver the email node as if the write after the send had been lost
	rewound := h.get(execution.ID)
	rewound.CurrentNodeID = "email-a"
	rewound.WakeAt = nil
	require.NoError(t, h.store.ExecutionRepository().Update(t.Context(), rewound))

	require.NoError(t, h.engine.Run(t.Context(), execution.ID))

	assert.Len(t, h.outbox.Sent(), 1)
	assert.Equal(t, "wait", h.get(execution.ID).CurrentNodeID)
}

func TestStep_GoalCompletesSuspendedExecution(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	workflow := testutil.CreateTestWorkflow("wf-goal",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("wait", testutil.Delay(3, models.DelayUnitDays)),
			testutil.Node("pitch", testutil.Email("Buy the course", "<p>now</p>")),
		},
		[]*models.Edge{
			testutil.Edge("start", "wait"),
			testutil.Edge("wait", "pitch"),
		},
		testutil.WithGoal(models.ConditionSpec{Kind: models.ConditionPurchased, ProductID: "course-go"}),
	)

	execution := h.enroll(workflow)
	h.tick()
	assert.Equal(t, "wait", h.get(execution.ID).CurrentNodeID)

	require.NoError(t, h.store.ContactRepository().RecordPurchase(t.Context(), &models.Purchase{
		ContactID:   "c-1",
		ProductID:   "course-go",
		PurchasedAt: h.now,
	}))

	h.advance(time.Minute)
	require.NoError(t, h.engine.Run(t.Context(), execution.ID))

	completed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)
	assert.True(t, completed.GoalAchieved)
	assert.Equal(t, "wait", completed.CurrentNodeID)
	assert.Empty(t, h.outbox.Sent())
}

func webhookWorkflow(maxRetries int) *models.Workflow {
	return testutil.CreateTestWorkflow("wf-hook",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("crm", &models.WebhookPayload{URL: "https://crm.example.com/hooks", Extra: map[string]any{"list": "trial"}}),
			testutil.Node("done", &models.StopPayload{}),
		},
		[]*models.Edge{
			testutil.Edge("start", "crm"),
			testutil.Edge("crm", "done"),
		},
		testutil.WithMaxRetries(maxRetries),
	)
}

func TestStep_WebhookTimeoutsExhaustRetries(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.webhook.Respond = func(int) (*protocol.WebhookResponse, error) {
		return nil, retry.Transient(retry.CodeWebhookTimeout, context.DeadlineExceeded)
	}

	execution := h.enroll(webhookWorkflow(3))

	h.tick()

	retrying := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, retrying.Status)
	assert.Equal(t, 1, retrying.Attempts)
	assert.Equal(t, retry.CodeWebhookTimeout, retrying.Error)
	assert.Equal(t, h.now.Add(time.Minute), *retrying.ScheduledFor)

	h.advance(time.Minute)
	h.tick()
	assert.Equal(t, h.now.Add(2*time.Minute), *h.get(execution.ID).ScheduledFor)

	h.advance(2 * time.Minute)
	h.tick()

	failed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, "webhook_timeout", failed.Error)
	assert.Contains(t, failed.ErrorDetail, "deadline exceeded")
	assert.Equal(t, "start", failed.LastNodeID)
	assert.Nil(t, failed.ScheduledFor)
	assert.Len(t, h.webhook.Calls(), 3)

	// stepping a failed execution again is a no-op and never re-notifies
	require.NoError(t, h.engine.Step(t.Context(), failed))

	notifications := h.notifications.All()
	require.Len(t, notifications, 1)
	assert.Equal(t, "owner@example.com", notifications[0].To)
	assert.Contains(t, notifications[0].Message, retry.CodeWebhookTimeout)
}

func TestStep_PermanentFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.webhook.Respond = func(int) (*protocol.WebhookResponse, error) {
		return nil, retry.Permanent(retry.CodeMalformedURL, assert.AnError)
	}

	execution := h.enroll(webhookWorkflow(3))
	h.tick()

	failed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, retry.CodeMalformedURL, failed.Error)
	assert.Len(t, h.webhook.Calls(), 1)
	assert.Len(t, h.notifications.All(), 1)
}

func TestStep_TransientFailureRecovers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.webhook.Respond = func(call int) (*protocol.WebhookResponse, error) {
		if call == 1 {
			return nil, retry.Transient(retry.CodeWebhookRateLimited, assert.AnError)
		}

		return &protocol.WebhookResponse{StatusCode: 200, Body: map[string]any{"id": "crm-1"}}, nil
	}

	execution := h.enroll(webhookWorkflow(3))
	h.tick()

	h.advance(time.Minute)
	h.tick()

	completed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)
	assert.Zero(t, completed.Attempts)
	assert.Empty(t, completed.Error)
	assert.Equal(t, map[string]any{"status": float64(200), "body": map[string]any{"id": "crm-1"}}, completed.Data["webhook:crm"])

	calls := h.webhook.Calls()
	require.Len(t, calls, 2)

	body := calls[1].Body.(map[string]any)
	assert.Equal(t, "ada@example.com", body["contact"].(map[string]any)["email"])
	assert.Equal(t, map[string]any{"list": "trial"}, body["extra"])
	assert.Empty(t, h.notifications.All())
}

func TestStep_UnreachableBranch(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	workflow := testutil.CreateTestWorkflow("wf-branch",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("vip", &models.ConditionPayload{
				Branches: []models.ConditionBranch{
					{Handle: "gold", Condition: models.ConditionSpec{Kind: models.ConditionTag, Tag: "gold"}},
					{Handle: "silver", Condition: models.ConditionSpec{Kind: models.ConditionTag, Tag: "silver"}},
				},
			}),
			testutil.Node("gold-stop", &models.StopPayload{}),
			testutil.Node("silver-stop", &models.StopPayload{}),
		},
		[]*models.Edge{
			testutil.Edge("start", "vip"),
			testutil.Branch("vip", "gold", "gold-stop"),
			testutil.Branch("vip", "silver", "silver-stop"),
		},
	)

	execution := h.enroll(workflow)
	h.tick()

	failed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, retry.CodeUnreachableBranch, failed.Error)
	assert.Equal(t, "vip", failed.CurrentNodeID)
}

func TestStep_DeletedCurrentNodeFails(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	workflow := openedWorkflow()
	execution := h.enroll(workflow)

	h.tick()
	require.Equal(t, "wait", h.get(execution.ID).CurrentNodeID)

	workflow.Nodes = append(workflow.Nodes[:2], workflow.Nodes[3:]...)
	workflow.Edges = []*models.Edge{
		testutil.Edge("start", "email-a"),
		testutil.Edge("email-a", "opened"),
		testutil.Branch("opened", models.HandleYes, "done"),
		testutil.Branch("opened", models.HandleNo, "email-b"),
	}
	require.NoError(t, h.store.WorkflowRepository().Save(t.Context(), workflow))

	h.advance(24 * time.Hour)
	h.tick()

	failed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, retry.CodeUnreachableBranch, failed.Error)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	execution := h.enroll(openedWorkflow())

	h.tick()

	cancelled, err := h.engine.Cancel(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ScheduledFor)

	again, err := h.engine.Cancel(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, again.Status)

	h.advance(48 * time.Hour)
	assert.Equal(t, 0, h.tick())
	assert.Len(t, h.outbox.Sent(), 1)

	_, err = h.engine.Cancel(t.Context(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestStep_ReleasesLease(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	execution := h.enroll(openedWorkflow())

	require.NoError(t, h.store.ExecutionRepository().Claim(t.Context(), execution, h.now.Add(5*time.Minute)))
	require.NotNil(t, execution.LeasedUntil)

	require.NoError(t, h.engine.Step(t.Context(), execution))

	suspended := h.get(execution.ID)
	assert.Nil(t, suspended.LeasedUntil)
	assert.False(t, suspended.IsLeased(h.now))
	assert.Equal(t, "wait", suspended.CurrentNodeID)
}

func TestStep_CycleLoopRevisitsNodes(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	workflow := testutil.CreateTestWorkflow("wf-loop",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("lesson", testutil.Email("Lesson", "<p>next lesson</p>")),
			testutil.Node("repeat", &models.CycleLoopPayload{MaxIterations: 2}),
			testutil.Node("done", &models.StopPayload{}),
		},
		[]*models.Edge{
			testutil.Edge("start", "lesson"),
			testutil.Edge("lesson", "repeat"),
			testutil.Branch("repeat", models.HandleLoop, "lesson"),
			testutil.Branch("repeat", models.HandleDone, "done"),
		},
	)

	execution := h.enroll(workflow)
	h.tick()

	completed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)
	assert.Len(t, h.outbox.Sent(), 3, "each visit of the email node sends once")
	assert.Equal(t, 3, completed.VisitCount("lesson"))

	keys := map[string]bool{}
	for _, message := range h.outbox.Sent() {
		keys[message.IdempotencyKey] = true
	}

	assert.Len(t, keys, 3)
}

func TestStep_HopBudget(t *testing.T) {
	config := DefaultConfig()
	config.HopBudget = 2

	h := newHarness(t, config)

	workflow := testutil.CreateTestWorkflow("wf-hops",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("tag-1", &models.ActionPayload{Action: models.ActionAddTag, Tag: "one"}),
			testutil.Node("tag-2", &models.ActionPayload{Action: models.ActionAddTag, Tag: "two"}),
			testutil.Node("done", &models.StopPayload{}),
		},
		[]*models.Edge{
			testutil.Edge("start", "tag-1"),
			testutil.Edge("tag-1", "tag-2"),
			testutil.Edge("tag-2", "done"),
		},
	)

	execution := h.enroll(workflow)
	h.tick()

	paused := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, paused.Status)
	assert.Equal(t, "tag-2", paused.CurrentNodeID)
	assert.True(t, paused.IsDue(h.now))

	h.tick()

	completed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)

	contact, err := h.store.ContactRepository().Contact(t.Context(), "c-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, contact.Tags)
}

func TestStep_ActionsAndEvents(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	workflow := testutil.CreateTestWorkflow("wf-actions",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("tag", &models.ActionPayload{Action: models.ActionAddTag, Tag: "onboarded"}),
			testutil.Node("fire", &models.ActionPayload{Action: models.ActionFireEvent, Event: "onboarding_done", Payload: map[string]any{"step": 3}}),
			testutil.Node("ping", &models.NotifyPayload{Channel: models.NotifyChannelSlack, Subject: "Onboarded", Message: "{{.contact.email}} is onboarded"}),
		},
		[]*models.Edge{
			testutil.Edge("start", "tag"),
			testutil.Edge("tag", "fire"),
			testutil.Edge("fire", "ping"),
		},
	)

	execution := h.enroll(workflow)
	h.tick()

	assert.Equal(t, models.ExecutionStatusCompleted, h.get(execution.ID).Status)

	contact, err := h.store.ContactRepository().Contact(t.Context(), "c-1")
	require.NoError(t, err)
	assert.Contains(t, contact.Tags, "onboarded")

	emitted := h.sink.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, models.EventTypeCustom, emitted[0].Type)
	assert.Equal(t, "onboarding_done", emitted[0].Name)
	assert.Equal(t, "acme", emitted[0].Scope)

	notifications := h.notifications.All()
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotifyChannelSlack, notifications[0].Channel)
	assert.Equal(t, "ada@example.com is onboarded", notifications[0].Message)

	has, err := h.store.MarkerRepository().HasMarker(t.Context(), idempotency.StepKey(execution.ID, "fire", 1))
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStep_SplitRoutesByVariant(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	workflow := testutil.CreateTestWorkflow("wf-split",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("ab", &models.SplitPayload{}),
			testutil.Node("short", testutil.Email("Short", "<p>short</p>")),
			testutil.Node("long", testutil.Email("Long", "<p>long</p>")),
		},
		[]*models.Edge{
			testutil.Edge("start", "ab"),
			testutil.Branch("ab", "A", "short"),
			testutil.Branch("ab", "B", "long"),
		},
	)

	missing := h.enroll(workflow)
	h.tick()

	failed := h.get(missing.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, retry.CodeABTestNotConfigured, failed.Error)

	require.NoError(t, h.store.ABTestRepository().Save(t.Context(), &models.ABTest{
		WorkflowID:   "wf-split",
		NodeID:       "ab",
		Variants:     []models.Variant{{ID: "A", Percentage: 0}, {ID: "B", Percentage: 100}},
		SampleSize:   100,
		WinnerMetric: models.WinnerMetricOpenRate,
	}))

	execution := h.enroll(workflow)
	h.tick()

	completed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)
	assert.Equal(t, "B", completed.Data["variant:ab"])
	assert.Equal(t, []string{"Long"}, h.outbox.Subjects())
}

func TestStep_EmailVariantOverridesContent(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	workflow := testutil.CreateTestWorkflow("wf-subject",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("email", testutil.Email("Default subject", "<p>body</p>")),
		},
		[]*models.Edge{testutil.Edge("start", "email")},
	)

	require.NoError(t, h.store.ABTestRepository().Save(t.Context(), &models.ABTest{
		WorkflowID: "wf-subject",
		NodeID:     "email",
		Variants: []models.Variant{
			{ID: "curious", Percentage: 100, Payload: map[string]any{"subject": "You won't believe this, {{.contact.first_name}}"}},
			{ID: "plain", Percentage: 0, Payload: map[string]any{"subject": "Weekly update"}},
		},
		SampleSize:   1000,
		WinnerMetric: models.WinnerMetricOpenRate,
	}))

	execution := h.enroll(workflow)
	h.tick()

	sent := h.outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "You won't believe this, Ada", sent[0].Subject)
	assert.Equal(t, "curious", sent[0].Metadata["variant_id"])
	assert.Equal(t, models.ExecutionStatusCompleted, h.get(execution.ID).Status)

	test, err := h.store.ABTestRepository().Get(t.Context(), "wf-subject", "email")
	require.NoError(t, err)
	assert.Equal(t, int64(1), test.Stats["curious"].Sent)
}

func TestStep_MissingTemplateIsPermanent(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	workflow := testutil.CreateTestWorkflow("wf-empty",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("email", &models.EmailPayload{}),
		},
		[]*models.Edge{testutil.Edge("start", "email")},
	)

	execution := h.enroll(workflow)
	h.tick()

	failed := h.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, retry.CodeMissingTemplate, failed.Error)
	assert.Equal(t, 0, failed.Attempts)
}
