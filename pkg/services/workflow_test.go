package services

import (
	"errors"
	"testing"

	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/mocks"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/file"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func welcomeWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	return testutil.CreateTestWorkflow("",
		[]*models.Node{
			testutil.Node("start", &models.TriggerPayload{}),
			testutil.Node("welcome", testutil.Email("Welcome {{.contact.first_name}}", "<p>hi</p>")),
		},
		[]*models.Edge{testutil.Edge("start", "welcome")},
		overrides...,
	)
}

func TestNewWorkflow(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	assert.NotNil(t, service)
	assert.Equal(t, persistence, service.persistence)
}

func TestWorkflow_HealthCheck(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	message, ok := service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	message, ok = NewWorkflow(nil).HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Equal(t, "Persistence layer not initialized", message)

	unhealthy := mocks.NewMockPersistence()
	unhealthy.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	message, ok = NewWorkflow(unhealthy).HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Equal(t, "Persistence layer is unhealthy: connection refused", message)
}

func TestWorkflow_CreateStorageFailure(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.GetMockWorkflowRepository().On("Save", mock.Anything, mock.AnythingOfType("*models.Workflow")).Return(errors.New("disk full"))

	_, err := NewWorkflow(store).Create(t.Context(), welcomeWorkflow())
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "failed to create workflow")

	store.GetMockWorkflowRepository().AssertExpectations(t)
}

func TestWorkflow_Create(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store)

	created, err := service.Create(t.Context(), welcomeWorkflow())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	fetched, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
	assert.Len(t, fetched.Nodes, 2)
	assert.IsType(t, &models.EmailPayload{}, fetched.NodeByID("welcome").Payload)
}

func TestWorkflow_CreateRejectsInvalidGraph(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store)

	workflow := welcomeWorkflow(func(w *models.Workflow) {
		w.Nodes = append(w.Nodes, testutil.Node("orphan", testutil.Email("Orphan", "<p>x</p>")))
		w.Edges = append(w.Edges, testutil.Edge("welcome", "missing"))
	})

	_, err := service.Create(t.Context(), workflow)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var validationErr *graph.ValidationError
	require.ErrorAs(t, err, &validationErr)

	codes := make([]string, 0, len(validationErr.Issues))
	for _, issue := range validationErr.Issues {
		codes = append(codes, issue.Code)
	}

	assert.Contains(t, codes, graph.IssueDanglingEdge)
	assert.Contains(t, codes, graph.IssueUnreachableNode)

	all, err := service.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, all, "nothing is stored for a rejected graph")
}

func TestWorkflow_CreateRejectsInvalidFields(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	tests := []struct {
		name     string
		workflow *models.Workflow
	}{
		{name: "nil", workflow: nil},
		{name: "short name", workflow: welcomeWorkflow(func(w *models.Workflow) { w.Name = "ab" })},
		{name: "missing scope", workflow: welcomeWorkflow(func(w *models.Workflow) { w.Scope = "" })},
		{name: "bad owner email", workflow: welcomeWorkflow(func(w *models.Workflow) { w.OwnerEmail = "nope" })},
		{name: "unknown trigger", workflow: welcomeWorkflow(testutil.WithTrigger("birthday", nil))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(t.Context(), tt.workflow)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestWorkflow_Update(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	created, err := service.Create(t.Context(), welcomeWorkflow())
	require.NoError(t, err)

	changed := welcomeWorkflow(func(w *models.Workflow) {
		w.Name = "Renamed onboarding"
		w.IsActive = false
	})

	updated, err := service.Update(t.Context(), created.ID, changed)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Renamed onboarding", updated.Name)
	assert.Equal(t, 2, updated.Version)
	assert.True(t, updated.IsActive, "activation only changes through SetActive")
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = service.Update(t.Context(), "missing", welcomeWorkflow())
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestWorkflow_SetActive(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store)

	created, err := service.Create(t.Context(), welcomeWorkflow())
	require.NoError(t, err)

	paused, err := service.SetActive(t.Context(), created.ID, false)
	require.NoError(t, err)
	assert.False(t, paused.IsActive)

	active, err := store.WorkflowRepository().ListActive(t.Context(), "acme", models.TriggerTypeSignup)
	require.NoError(t, err)
	assert.Empty(t, active)

	resumed, err := service.SetActive(t.Context(), created.ID, true)
	require.NoError(t, err)
	assert.True(t, resumed.IsActive)
}

func TestWorkflow_Delete(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	created, err := service.Create(t.Context(), welcomeWorkflow())
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.FetchByID(t.Context(), created.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = service.Delete(t.Context(), created.ID)
	assert.True(t, IsNotFoundError(err))
}

func TestWorkflow_Stats(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store)

	created, err := service.Create(t.Context(), welcomeWorkflow())
	require.NoError(t, err)

	for _, contactID := range []string{"c-1", "c-2"} {
		require.NoError(t, store.ExecutionRepository().Enroll(t.Context(), &models.Execution{
			WorkflowID:    created.ID,
			ContactID:     contactID,
			Status:        models.ExecutionStatusPending,
			CurrentNodeID: "start",
			Data:          map[string]any{},
		}))
	}

	stats, err := service.Stats(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.ByStatus[models.ExecutionStatusPending])

	_, err = service.Stats(t.Context(), "missing")
	assert.True(t, IsNotFoundError(err))
}
