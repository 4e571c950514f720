package goal

import (
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/condition"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func purchasedGoal(eventTypes ...models.EventType) *models.GoalDefinition {
	return &models.GoalDefinition{
		Name:       "bought the course",
		Condition:  models.ConditionSpec{Kind: models.ConditionPurchased, ProductID: "course-go"},
		EventTypes: eventTypes,
	}
}

func TestMet(t *testing.T) {
	snapshot := &condition.Snapshot{
		Contact:   &models.Contact{ID: "c-1"},
		Execution: &models.Execution{ID: "ex-1"},
	}

	met, err := Met(nil, snapshot)
	require.NoError(t, err)
	assert.False(t, met)

	met, err = Met(purchasedGoal(), snapshot)
	require.NoError(t, err)
	assert.False(t, met)

	snapshot.Purchases = []models.Purchase{{ContactID: "c-1", ProductID: "course-go"}}

	met, err = Met(purchasedGoal(), snapshot)
	require.NoError(t, err)
	assert.True(t, met)

	_, err = Met(&models.GoalDefinition{Condition: models.ConditionSpec{Kind: "bogus"}}, snapshot)
	assert.ErrorIs(t, err, condition.ErrInvalidCondition)
}

func TestPrompts(t *testing.T) {
	assert.False(t, Prompts(nil, models.EventTypePurchase))
	assert.True(t, Prompts(purchasedGoal(), models.EventTypeTagAdded))
	assert.True(t, Prompts(purchasedGoal(models.EventTypePurchase), models.EventTypePurchase))
	assert.False(t, Prompts(purchasedGoal(models.EventTypePurchase), models.EventTypeTagAdded))
}

func TestDetector_Check(t *testing.T) {
	ctx := t.Context()
	contacts := file.NewPersistence(t.TempDir()).ContactRepository()
	detector := NewDetector(condition.NewLoader(contacts, contacts, contacts))

	require.NoError(t, contacts.SaveContact(ctx, &models.Contact{ID: "c-1", Scope: "acme", Email: "ada@example.com"}))

	workflow := &models.Workflow{ID: "wf-1"}
	execution := &models.Execution{ID: "ex-1", WorkflowID: "wf-1", ContactID: "c-1"}

	met, err := detector.Check(ctx, workflow, execution)
	require.NoError(t, err)
	assert.False(t, met, "workflows without a goal never complete early")

	workflow.Goal = purchasedGoal()

	met, err = detector.Check(ctx, workflow, execution)
	require.NoError(t, err)
	assert.False(t, met)

	require.NoError(t, contacts.RecordPurchase(ctx, &models.Purchase{
		ContactID:   "c-1",
		ProductID:   "course-go",
		PurchasedAt: time.Now(),
	}))

	met, err = detector.Check(ctx, workflow, execution)
	require.NoError(t, err)
	assert.True(t, met)
}
