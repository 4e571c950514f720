package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/nurture/pkg/abtest"
	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/mocks"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/file"
	"github.com/dukex/nurture/pkg/services"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/dukex/nurture/pkg/trigger"
	"github.com/dukex/nurture/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestHandlers(t *testing.T, store persistence.Persistence, publisher eventbus.EventPublisher) *web.APIHandlers {
	t.Helper()

	contacts := store.ContactRepository()
	dispatcher := trigger.NewDispatcher(store, nil, slog.Default())
	manager := abtest.NewManager(store.ABTestRepository(), slog.Default())

	stepper := engine.New(engine.Dependencies{
		Workflows:  store.WorkflowRepository(),
		Executions: store.ExecutionRepository(),
		Contacts:   contacts,
		Commerce:   contacts,
		Emails:     contacts,
		ABTests:    manager,
		Markers:    store.MarkerRepository(),
	}, engine.DefaultConfig(), slog.Default())

	return web.NewAPIHandlers(
		services.NewWorkflow(store),
		services.NewExecution(store, dispatcher, stepper),
		services.NewABTest(store, manager),
		dispatcher,
		publisher,
		validator.New(validator.WithRequiredStructEnabled()),
	)
}

func setupTestApp(t *testing.T, publisher eventbus.EventPublisher) (*fiber.App, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.ContactRepository().SaveContact(t.Context(), testutil.CreateTestContact("c-1", "ada@example.com")))

	handlers := setupTestHandlers(t, store, publisher)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/toggle", handlers.ToggleWorkflow)
	w.Get("/:id/stats", handlers.GetWorkflowStats)
	w.Post("/:id/executions", handlers.EnrollContact)
	w.Get("/:id/executions", handlers.GetExecutions)
	w.Get("/:id/nodes/:nodeId/executions", handlers.GetExecutionsAtNode)
	w.Put("/:id/nodes/:nodeId/ab-test", handlers.PutABTest)
	w.Get("/:id/nodes/:nodeId/ab-test", handlers.GetABTest)
	w.Post("/:id/nodes/:nodeId/ab-test/events", handlers.RecordVariantEvent)
	w.Post("/:id/nodes/:nodeId/ab-test/winner", handlers.SelectWinner)
	w.Post("/:id/nodes/:nodeId/ab-test/stop", handlers.StopABTest)

	app.Get("/executions/:id", handlers.GetExecution)
	app.Post("/executions/:id/cancel", handlers.CancelExecution)
	app.Post("/events", handlers.ReceiveEvent)
	app.Post("/email-events", handlers.ReceiveEmailEvent)

	return app, store
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		raw, ok := body.(string)
		if !ok {
			encoded, err := json.Marshal(body)
			require.NoError(t, err)

			raw = string(encoded)
		}

		reader = bytes.NewBufferString(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, payload
}

func onboardingRequest() web.WorkflowRequest {
	return web.WorkflowRequest{
		Scope:      "acme",
		Name:       "Onboarding",
		Owner:      "owner-1",
		OwnerEmail: "owner@example.com",
		Trigger:    models.Trigger{Type: models.TriggerTypeSignup},
		Nodes: []*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("welcome", testutil.Email("Welcome {{.contact.first_name}}", "<p>hi</p>")),
			testutil.Node("wait", testutil.Delay(2, models.DelayUnitDays)),
			testutil.Node("tips", testutil.Email("Three tips", "<p>tips</p>")),
		},
		Edges: []*models.Edge{
			testutil.Edge("start", "welcome"),
			testutil.Edge("welcome", "wait"),
			testutil.Edge("wait", "tips"),
		},
		IsActive: true,
	}
}

func createWorkflow(t *testing.T, app *fiber.App) models.Workflow {
	t.Helper()

	status, body := do(t, app, http.MethodPost, "/workflows", onboardingRequest())
	require.Equal(t, http.StatusCreated, status, string(body))

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	return workflow
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app, _ := setupTestApp(t, nil)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "successful creation",
			requestBody:    onboardingRequest(),
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var workflow models.Workflow
				require.NoError(t, json.Unmarshal(body, &workflow))
				assert.NotEmpty(t, workflow.ID)
				assert.Equal(t, "Onboarding", workflow.Name)
				assert.Len(t, workflow.Nodes, 4)
				assert.IsType(t, &models.DelayPayload{}, workflow.NodeByID("wait").Payload)
			},
		},
		{
			name:           "invalid json",
			requestBody:    `{"name": `,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing name",
			requestBody: func() web.WorkflowRequest {
				req := onboardingRequest()
				req.Name = ""

				return req
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid graph lists issues",
			requestBody: func() web.WorkflowRequest {
				req := onboardingRequest()
				req.Edges = append(req.Edges, testutil.Edge("tips", "nowhere"))
				req.Nodes = append(req.Nodes, testutil.Node("island", testutil.Email("Island", "<p>x</p>")))

				return req
			}(),
			expectedStatus: http.StatusBadRequest,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var problem struct {
					Type   string `json:"type"`
					Issues []struct {
						Code   string `json:"code"`
						NodeID string `json:"node_id"`
					} `json:"issues"`
				}
				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, "invalid_graph", problem.Type)

				nodes := make([]string, 0, len(problem.Issues))
				for _, issue := range problem.Issues {
					nodes = append(nodes, issue.NodeID)
				}

				assert.Contains(t, nodes, "island")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t, nil)

			status, body := do(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	app, _ := setupTestApp(t, nil)
	workflow := createWorkflow(t, app)

	status, body := do(t, app, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, status)

	var all []models.Workflow
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Len(t, all, 1)

	update := onboardingRequest()
	update.Name = "Onboarding v2"

	status, body = do(t, app, http.MethodPut, "/workflows/"+workflow.ID, update)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"name":"Onboarding v2"`)

	status, body = do(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/toggle", map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"is_active":false`)

	status, _ = do(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/toggle", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodDelete, "/workflows/"+workflow.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = do(t, app, http.MethodGet, "/workflows/"+workflow.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "workflow_not_found")
}

func TestAPIHandlers_EnrollAndCancel(t *testing.T) {
	app, _ := setupTestApp(t, nil)
	workflow := createWorkflow(t, app)

	status, body := do(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/executions", services.EnrollRequest{ContactID: "c-1"})
	require.Equal(t, http.StatusCreated, status, string(body))

	var execution models.Execution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)

	status, body = do(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/executions", services.EnrollRequest{ContactID: "c-1"})
	assert.Equal(t, http.StatusConflict, status, string(body))

	status, _ = do(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/executions", services.EnrollRequest{ContactID: "ghost"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/executions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, app, http.MethodGet, "/workflows/"+workflow.ID+"/nodes/start/executions", nil)
	require.Equal(t, http.StatusOK, status)

	var atStart []models.Execution
	require.NoError(t, json.Unmarshal(body, &atStart))
	assert.Len(t, atStart, 1)

	status, body = do(t, app, http.MethodPost, "/executions/"+execution.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"status":"cancelled"`)

	status, body = do(t, app, http.MethodGet, "/workflows/"+workflow.ID+"/executions?status=cancelled", nil)
	require.Equal(t, http.StatusOK, status)

	var cancelled []models.Execution
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Len(t, cancelled, 1)

	status, body = do(t, app, http.MethodGet, "/workflows/"+workflow.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"cancelled":1`)

	status, _ = do(t, app, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodGet, "/workflows/"+workflow.ID+"/executions?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ABTest(t *testing.T) {
	app, _ := setupTestApp(t, nil)
	workflow := createWorkflow(t, app)

	path := "/workflows/" + workflow.ID + "/nodes/welcome/ab-test"

	status, _ := do(t, app, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)

	config := web.ABTestRequest{
		Variants: []models.Variant{
			{ID: "plain", Percentage: 50},
			{ID: "curious", Percentage: 50, Payload: map[string]any{"subject": "Guess what"}},
		},
		SampleSize:   100,
		WinnerMetric: models.WinnerMetricOpenRate,
	}

	status, body := do(t, app, http.MethodPut, path, config)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"status":"running"`)

	uneven := config
	uneven.Variants = []models.Variant{{ID: "plain", Percentage: 50}, {ID: "curious", Percentage: 30}}

	status, _ = do(t, app, http.MethodPut, path, uneven)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPut, "/workflows/"+workflow.ID+"/nodes/wait/ab-test", config)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, app, http.MethodPost, path+"/events", web.VariantEventRequest{VariantID: "curious", Event: models.VariantEventSent})
	require.Equal(t, http.StatusOK, status, string(body))

	var test models.ABTest
	require.NoError(t, json.Unmarshal(body, &test))
	assert.Equal(t, int64(1), test.Stats["curious"].Sent)

	status, _ = do(t, app, http.MethodPost, path+"/events", web.VariantEventRequest{VariantID: "curious", Event: "bounced"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, app, http.MethodPost, path+"/winner", web.SelectWinnerRequest{VariantID: "curious"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"winner_variant_id":"curious"`)

	status, body = do(t, app, http.MethodPost, path+"/stop", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"status":"completed"`, "stopping a completed test keeps its winner")
}

func TestAPIHandlers_ReceiveEventDispatchesInline(t *testing.T) {
	app, store := setupTestApp(t, nil)
	workflow := createWorkflow(t, app)

	event := models.Event{Scope: "acme", Type: models.EventTypeSignup, ContactID: "c-1"}

	status, body := do(t, app, http.MethodPost, "/events", event)
	require.Equal(t, http.StatusOK, status, string(body))

	var result trigger.Result
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Len(t, result.Enrolled, 1)

	executions, err := store.ExecutionRepository().ListByWorkflow(t.Context(), workflow.ID, models.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	status, _ = do(t, app, http.MethodPost, "/events", models.Event{Scope: "acme", Type: "birthday", ContactID: "c-1"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ReceiveEventQueuesOnBus(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "c-1", mock.MatchedBy(func(event eventbus.Event) bool {
		received, ok := event.(events.BusinessEventReceived)

		return ok && received.Event.Type == models.EventTypePurchase && received.Event.ID != ""
	})).Return(nil)

	app, _ := setupTestApp(t, bus)

	status, body := do(t, app, http.MethodPost, "/events", models.Event{
		Scope:     "acme",
		Type:      models.EventTypePurchase,
		ContactID: "c-1",
		ProductID: "course-go",
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var accepted web.EventAcceptedResponse
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.True(t, accepted.Queued)
	assert.NotEmpty(t, accepted.EventID)

	bus.AssertExpectations(t)
}

func TestAPIHandlers_ReceiveEmailEvent(t *testing.T) {
	app, store := setupTestApp(t, nil)

	callback := models.EmailEvent{
		ID:          "evt-1",
		ContactID:   "c-1",
		ExecutionID: "exec-1",
		NodeID:      "welcome",
		Type:        models.EmailEventOpened,
	}

	status, body := do(t, app, http.MethodPost, "/email-events", callback)
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = do(t, app, http.MethodPost, "/email-events", callback)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"created":false`)

	stored, err := store.ContactRepository().EmailEventsByExecution(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	status, _ = do(t, app, http.MethodPost, "/email-events", models.EmailEvent{ContactID: "c-1", Type: "spam"})
	assert.Equal(t, http.StatusBadRequest, status)
}
