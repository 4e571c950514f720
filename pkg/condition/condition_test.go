package condition

import (
	"testing"

	"github.com/dukex/nurture/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSnapshot() *Snapshot {
	return &Snapshot{
		Workflow: &models.Workflow{ID: "wf-1", Name: "Onboarding"},
		Execution: &models.Execution{
			ID:   "ex-1",
			Data: map[string]any{"score": 42.0, "source": "landing"},
		},
		Contact: &models.Contact{
			ID:        "c-1",
			Email:     "ada@example.com",
			FirstName: "Ada",
			Tags:      []string{"vip", "newsletter"},
			Fields:    map[string]any{"plan": "pro", "seats": 3},
		},
		Purchases: []models.Purchase{{ContactID: "c-1", ProductID: "course-go"}},
		Courses: map[string]models.CourseProgress{
			"course-go": {CourseID: "course-go", Percent: 60},
			"course-db": {CourseID: "course-db", Percent: 100, Completed: true},
		},
		EmailEvents: []models.EmailEvent{
			{NodeID: "email-a", Type: models.EmailEventOpened},
			{NodeID: "email-b", Type: models.EmailEventClicked},
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		spec     models.ConditionSpec
		expected bool
	}{
		{"tag present", models.ConditionSpec{Kind: models.ConditionTag, Tag: "vip"}, true},
		{"tag missing", models.ConditionSpec{Kind: models.ConditionTag, Tag: "churned"}, false},
		{"email opened at node", models.ConditionSpec{Kind: models.ConditionEmailOpened, NodeID: "email-a"}, true},
		{"click implies open", models.ConditionSpec{Kind: models.ConditionEmailOpened, NodeID: "email-b"}, true},
		{"email not opened", models.ConditionSpec{Kind: models.ConditionEmailOpened, NodeID: "email-c"}, false},
		{"email clicked", models.ConditionSpec{Kind: models.ConditionEmailClicked, NodeID: "email-a"}, false},
		{"any email clicked", models.ConditionSpec{Kind: models.ConditionEmailClicked}, true},
		{"purchased product", models.ConditionSpec{Kind: models.ConditionPurchased, ProductID: "course-go"}, true},
		{"purchased other", models.ConditionSpec{Kind: models.ConditionPurchased, ProductID: "course-rust"}, false},
		{"purchased anything", models.ConditionSpec{Kind: models.ConditionPurchased}, true},
		{"course above threshold", models.ConditionSpec{Kind: models.ConditionCourseProgress, CourseID: "course-go", MinPercent: 50}, true},
		{"course below threshold", models.ConditionSpec{Kind: models.ConditionCourseProgress, CourseID: "course-go", MinPercent: 75}, false},
		{"course completion required", models.ConditionSpec{Kind: models.ConditionCourseProgress, CourseID: "course-go"}, false},
		{"course completed", models.ConditionSpec{Kind: models.ConditionCourseProgress, CourseID: "course-db"}, true},
		{"unknown course", models.ConditionSpec{Kind: models.ConditionCourseProgress, CourseID: "course-x"}, false},
		{"field eq custom field", models.ConditionSpec{Kind: models.ConditionField, Field: "plan", Operator: models.OperatorEq, Value: "pro"}, true},
		{"field eq numeric", models.ConditionSpec{Kind: models.ConditionField, Field: "seats", Operator: models.OperatorEq, Value: 3.0}, true},
		{"field gt data", models.ConditionSpec{Kind: models.ConditionField, Field: "data.score", Operator: models.OperatorGt, Value: 40}, true},
		{"field lte data", models.ConditionSpec{Kind: models.ConditionField, Field: "score", Operator: models.OperatorLte, Value: "41"}, false},
		{"field neq", models.ConditionSpec{Kind: models.ConditionField, Field: "first_name", Operator: models.OperatorNeq, Value: "Bob"}, true},
		{"field contains", models.ConditionSpec{Kind: models.ConditionField, Field: "email", Operator: models.OperatorContains, Value: "@example.com"}, true},
		{"tags contains", models.ConditionSpec{Kind: models.ConditionField, Field: "contact.tags", Operator: models.OperatorContains, Value: "newsletter"}, true},
		{"field exists", models.ConditionSpec{Kind: models.ConditionField, Field: "source", Operator: models.OperatorExists}, true},
		{"field missing", models.ConditionSpec{Kind: models.ConditionField, Field: "referrer", Operator: models.OperatorExists}, false},
		{"expression", models.ConditionSpec{Kind: models.ConditionExpression, Expression: `{{ eq .contact.fields.plan "pro" }}`}, true},
		{"expression false", models.ConditionSpec{Kind: models.ConditionExpression, Expression: `{{ .data.missing }}`}, false},
		{
			"all",
			models.ConditionSpec{Kind: models.ConditionAll, Conditions: []models.ConditionSpec{
				{Kind: models.ConditionTag, Tag: "vip"},
				{Kind: models.ConditionPurchased, ProductID: "course-go"},
			}},
			true,
		},
		{
			"any",
			models.ConditionSpec{Kind: models.ConditionAny, Conditions: []models.ConditionSpec{
				{Kind: models.ConditionTag, Tag: "churned"},
				{Kind: models.ConditionTag, Tag: "newsletter"},
			}},
			true,
		},
		{
			"not",
			models.ConditionSpec{Kind: models.ConditionNot, Conditions: []models.ConditionSpec{
				{Kind: models.ConditionTag, Tag: "vip"},
			}},
			false,
		},
	}

	snapshot := newSnapshot()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Evaluate(&tt.spec, snapshot)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluate_InvalidSpec(t *testing.T) {
	snapshot := newSnapshot()

	_, err := Evaluate(&models.ConditionSpec{Kind: "mood"}, snapshot)
	require.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Evaluate(&models.ConditionSpec{Kind: models.ConditionField, Field: "plan", Operator: "like"}, snapshot)
	require.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Evaluate(nil, snapshot)
	require.ErrorIs(t, err, ErrInvalidCondition)
}

func TestEvaluate_ReadsLiveState(t *testing.T) {
	snapshot := newSnapshot()
	spec := &models.ConditionSpec{Kind: models.ConditionTag, Tag: "customer"}

	result, err := Evaluate(spec, snapshot)
	require.NoError(t, err)
	assert.False(t, result)

	snapshot.Contact.Tags = append(snapshot.Contact.Tags, "customer")

	result, err = Evaluate(spec, snapshot)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestSelect(t *testing.T) {
	snapshot := newSnapshot()

	handle, err := Select(&models.ConditionPayload{
		Condition: &models.ConditionSpec{Kind: models.ConditionEmailOpened, NodeID: "email-c"},
	}, snapshot)
	require.NoError(t, err)
	assert.Equal(t, models.HandleNo, handle)

	handle, err = Select(&models.ConditionPayload{
		Branches: []models.ConditionBranch{
			{Handle: "buyers", Condition: models.ConditionSpec{Kind: models.ConditionPurchased, ProductID: "course-rust"}},
			{Handle: "vips", Condition: models.ConditionSpec{Kind: models.ConditionTag, Tag: "vip"}},
			{Handle: "everyone", Condition: models.ConditionSpec{Kind: models.ConditionPurchased}},
		},
	}, snapshot)
	require.NoError(t, err)
	assert.Equal(t, "vips", handle)

	handle, err = Select(&models.ConditionPayload{
		Branches: []models.ConditionBranch{
			{Handle: "buyers", Condition: models.ConditionSpec{Kind: models.ConditionPurchased, ProductID: "course-rust"}},
		},
	}, snapshot)
	require.NoError(t, err)
	assert.Equal(t, models.HandleDefault, handle)

	_, err = Select(&models.ConditionPayload{}, snapshot)
	require.ErrorIs(t, err, ErrInvalidCondition)
}

func TestValidate(t *testing.T) {
	valid := []models.ConditionSpec{
		{Kind: models.ConditionTag, Tag: "vip"},
		{Kind: models.ConditionEmailOpened},
		{Kind: models.ConditionCourseProgress, CourseID: "go", MinPercent: 80},
		{Kind: models.ConditionField, Field: "plan", Operator: models.OperatorEq, Value: "pro"},
		{Kind: models.ConditionExpression, Expression: "{{ .data.score }}"},
		{Kind: models.ConditionNot, Conditions: []models.ConditionSpec{{Kind: models.ConditionPurchased}}},
	}

	for _, spec := range valid {
		assert.NoError(t, Validate(&spec), spec.Kind)
	}

	invalid := []models.ConditionSpec{
		{Kind: models.ConditionTag},
		{Kind: models.ConditionCourseProgress, CourseID: "go", MinPercent: 120},
		{Kind: models.ConditionField, Field: "plan", Operator: "like"},
		{Kind: models.ConditionExpression, Expression: "{{ .data.score"},
		{Kind: models.ConditionAll},
		{Kind: models.ConditionAny, Conditions: []models.ConditionSpec{{Kind: "mood"}}},
		{Kind: "mood"},
	}

	for _, spec := range invalid {
		assert.ErrorIs(t, Validate(&spec), ErrInvalidCondition, spec.Kind)
	}
}
