package postgresql_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

var tables = []string{
	"event_log", "email_events", "course_progress", "purchases", "contact_tags", "contacts",
	"step_markers", "ab_assignments", "ab_variant_counters", "ab_tests", "executions", "workflows",
	"schema_migrations",
}

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range tables {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("nurture_test"),
			postgres.WithUsername("nurture"),
			postgres.WithPassword("nurture"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range tables {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestWorkflowRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		Scope:   "acme",
		Name:    "Welcome series",
		Trigger: models.Trigger{Type: models.TriggerTypeSignup},
		Nodes: []*models.Node{
			{ID: "trigger", Type: models.NodeTypeTrigger, Payload: &models.TriggerPayload{}},
			{ID: "email", Type: models.NodeTypeEmail, Payload: &models.EmailPayload{Subject: "Hi {{.contact.first_name}}", HTML: "<p>Welcome</p>"}},
		},
		Edges:    []*models.Edge{{Source: "trigger", Target: "email"}},
		IsActive: true,
	}

	require.NoError(t, repo.Save(ctx, workflow))
	assert.NotEmpty(t, workflow.ID)

	retrieved, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, retrieved.Name)
	require.Len(t, retrieved.Nodes, 2)

	email, ok := retrieved.Nodes[1].Payload.(*models.EmailPayload)
	require.True(t, ok)
	assert.Equal(t, "Hi {{.contact.first_name}}", email.Subject)

	active, err := repo.ListActive(ctx, "acme", models.TriggerTypeSignup)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	workflow.IsActive = false
	require.NoError(t, repo.Save(ctx, workflow))

	active, err = repo.ListActive(ctx, "acme", models.TriggerTypeSignup)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func pendingExecution(workflowID, contactID string, at time.Time) *models.Execution {
	return &models.Execution{
		WorkflowID:    workflowID,
		ContactID:     contactID,
		Status:        models.ExecutionStatusPending,
		CurrentNodeID: "trigger",
		ScheduledFor:  &at,
		Data:          map[string]any{"source": "test"},
	}
}

func TestExecutionRepository_ConcurrentEnroll(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repo.Enroll(ctx, pendingExecution("wf-1", "c-1", now))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case persistence.IsAlreadyEnrolled(err):
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, conflicts)
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	execution := pendingExecution("wf-1", "c-1", now.Add(-time.Minute))
	require.NoError(t, repo.Enroll(ctx, execution))

	stale, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "test", stale.Data["source"])

	due, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, repo.Claim(ctx, due[0], now.Add(5*time.Minute)))

	leased, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, leased.LeasedUntil)
	assert.True(t, leased.IsLeased(now))

	err = repo.Claim(ctx, stale, now.Add(5*time.Minute))
	assert.True(t, persistence.IsVersionConflict(err))

	due, err = repo.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	current, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)

	current.Status = models.ExecutionStatusCompleted
	current.ScheduledFor = nil
	current.LeasedUntil = nil
	current.Error = "webhook_timeout"
	current.ErrorDetail = "context deadline exceeded"
	current.GoalAchieved = true
	current.Visit("email")
	completedAt := now
	current.CompletedAt = &completedAt
	require.NoError(t, repo.Update(ctx, current))

	stats, err := repo.Stats(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.GoalsAchieved)
	assert.InDelta(t, 1.0, stats.ConversionRate, 0.0001)

	// a terminal execution no longer blocks enrollment
	require.NoError(t, repo.Enroll(ctx, pendingExecution("wf-1", "c-1", now)))

	listed, err := repo.ListByWorkflow(ctx, "wf-1", models.ExecutionFilter{Status: []models.ExecutionStatus{models.ExecutionStatusCompleted}})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 1, listed[0].VisitCount("email"))
	assert.Nil(t, listed[0].LeasedUntil)
	assert.Equal(t, "webhook_timeout", listed[0].Error)
	assert.Equal(t, "context deadline exceeded", listed[0].ErrorDetail)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_OverlappingDueBatchesClaimOnce(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.Enroll(ctx, pendingExecution("wf-1", "c-1", now.Add(-time.Minute))))

	first, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, second, 1, "reading a batch does not hide it from other schedulers")

	require.NoError(t, repo.Claim(ctx, first[0], now.Add(5*time.Minute)))

	err = repo.Claim(ctx, second[0], now.Add(5*time.Minute))
	assert.True(t, persistence.IsVersionConflict(err))
}

func TestExecutionRepository_LastEnrollments(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC()

	// more contacts than a default listing returns
	const contacts = 1005

	for i := range contacts {
		require.NoError(t, repo.Enroll(ctx, pendingExecution("wf-1", fmt.Sprintf("c-%d", i), now)))
	}

	again := pendingExecution("wf-1", "c-0", now)
	again.AllowMultiple = true
	require.NoError(t, repo.Enroll(ctx, again))

	require.NoError(t, repo.Enroll(ctx, pendingExecution("wf-2", "c-other", now)))

	latest, err := repo.LastEnrollments(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, latest, contacts)
	assert.WithinDuration(t, again.CreatedAt, latest["c-0"], time.Millisecond)
	assert.NotContains(t, latest, "c-other")
}

func TestABTestRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ABTestRepository()

	require.NoError(t, repo.Save(ctx, &models.ABTest{
		WorkflowID:   "wf-1",
		NodeID:       "email",
		Variants:     []models.Variant{{ID: "a", Percentage: 50}, {ID: "b", Percentage: 50}},
		SampleSize:   10,
		WinnerMetric: models.WinnerMetricClickRate,
	}))

	first, err := repo.Assign(ctx, &models.VariantAssignment{WorkflowID: "wf-1", NodeID: "email", ExecutionID: "ex-1", VariantID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", first.VariantID)

	again, err := repo.Assign(ctx, &models.VariantAssignment{WorkflowID: "wf-1", NodeID: "email", ExecutionID: "ex-1", VariantID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "b", again.VariantID)

	require.NoError(t, repo.Increment(ctx, "wf-1", "email", "b", models.VariantEventSent))
	require.NoError(t, repo.Increment(ctx, "wf-1", "email", "b", models.VariantEventClicked))

	test, err := repo.Get(ctx, "wf-1", "email")
	require.NoError(t, err)
	assert.Equal(t, models.ABTestStatusRunning, test.Status)
	assert.Equal(t, models.VariantStats{Assigned: 1, Sent: 1, Clicked: 1}, test.Stats["b"])

	require.NoError(t, repo.Complete(ctx, "wf-1", "email", "b", models.ABTestStatusCompleted))

	test, err = repo.Get(ctx, "wf-1", "email")
	require.NoError(t, err)
	assert.Equal(t, "b", test.WinnerVariantID)

	missing, err := repo.GetAssignment(ctx, "wf-1", "email", "ex-2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = repo.Increment(ctx, "wf-1", "other", "a", models.VariantEventSent)
	assert.True(t, persistence.IsABTestNotFound(err))
}

func TestMarkerAndContactRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	created, err := p.MarkerRepository().SetMarker(ctx, "ex-1:email:1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = p.MarkerRepository().SetMarker(ctx, "ex-1:email:1")
	require.NoError(t, err)
	assert.False(t, created)

	contacts := p.ContactRepository()

	require.NoError(t, contacts.SaveContact(ctx, &models.Contact{
		ID:     "c-1",
		Scope:  "acme",
		Email:  "ana@example.com",
		Fields: map[string]any{"plan": "pro"},
		Tags:   []string{"lead"},
	}))

	added, err := contacts.AddTag(ctx, "c-1", "vip")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = contacts.AddTag(ctx, "c-1", "vip")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = contacts.AddTag(ctx, "nobody", "vip")
	assert.True(t, persistence.IsContactNotFound(err))

	contact, err := contacts.Contact(ctx, "c-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lead", "vip"}, contact.Tags)
	assert.Equal(t, "pro", contact.Fields["plan"])

	ids, err := contacts.ContactsWithTag(ctx, "acme", "vip")
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1"}, ids)

	require.NoError(t, contacts.RecordPurchase(ctx, &models.Purchase{ContactID: "c-1", ProductID: "pro", Amount: 49}))
	purchases, err := contacts.Purchases(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	event := &models.EmailEvent{ID: "evt-1", ContactID: "c-1", ExecutionID: "ex-1", NodeID: "email", Type: models.EmailEventOpened}
	isNew, err := contacts.RecordEmailEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = contacts.RecordEmailEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, isNew)

	require.NoError(t, p.EventLogRepository().Append(ctx, &models.Event{Scope: "acme", Type: models.EventTypeSignup, ContactID: "c-1"}))
	events, err := p.EventLogRepository().List(ctx, "c-1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
