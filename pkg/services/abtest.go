package services

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/dukex/nurture/pkg/abtest"
	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

// testableNodes are the node types whose behavior an A/B test can vary.
var testableNodes = []models.NodeType{
	models.NodeTypeSplit,
	models.NodeTypeEmail,
	models.NodeTypeCourseEmail,
}

type ABTest struct {
	persistence persistence.Persistence
	manager     *abtest.Manager
	validate    *validator.Validate
}

func NewABTest(persistence persistence.Persistence, manager *abtest.Manager) *ABTest {
	return &ABTest{
		persistence: persistence,
		manager:     manager,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateOrUpdate stores the test definition of a node. Counters, status and winner of an
// existing test are kept so a running experiment can be tuned without losing its sample.
func (a *ABTest) CreateOrUpdate(ctx context.Context, workflowID, nodeID string, test *models.ABTest) (*models.ABTest, error) {
	if test == nil {
		return nil, NewValidationError("CreateOrUpdate", "INVALID_AB_TEST", "ab test cannot be nil", ErrInvalidRequest)
	}

	workflow, err := a.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	node := workflow.NodeByID(nodeID)
	if node == nil || !slices.Contains(testableNodes, node.Type) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotTested, nodeID)
	}

	test.WorkflowID = workflowID
	test.NodeID = nodeID

	if err := a.validate.Struct(test); err != nil {
		return nil, NewValidationError("CreateOrUpdate", "INVALID_AB_TEST", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	if err := checkVariants(test.Variants); err != nil {
		return nil, err
	}

	if node.Type == models.NodeTypeSplit {
		if err := checkRoutes(graph.New(workflow), nodeID, test.Variants); err != nil {
			return nil, err
		}
	}

	existing, err := a.persistence.ABTestRepository().Get(ctx, workflowID, nodeID)

	switch {
	case err == nil:
		test.Status = existing.Status
		test.WinnerVariantID = existing.WinnerVariantID
		test.CompletedAt = existing.CompletedAt
		test.Stats = existing.Stats
	case persistence.IsABTestNotFound(err):
		test.Status = models.ABTestStatusRunning
		test.WinnerVariantID = ""
		test.CompletedAt = nil
		test.Stats = nil
	default:
		return nil, err
	}

	if err := a.persistence.ABTestRepository().Save(ctx, test); err != nil {
		return nil, fmt.Errorf("failed to save ab test: %w", err)
	}

	return a.persistence.ABTestRepository().Get(ctx, workflowID, nodeID)
}

func checkVariants(variants []models.Variant) error {
	seen := make(map[string]bool, len(variants))
	total := 0.0

	for _, variant := range variants {
		if seen[variant.ID] {
			return fmt.Errorf("%w: duplicate variant %q", ErrInvalidVariant, variant.ID)
		}

		seen[variant.ID] = true
		total += variant.Percentage
	}

	if math.Abs(total-100) > 0.01 {
		return fmt.Errorf("%w: percentages sum to %.2f, want 100", ErrInvalidVariant, total)
	}

	return nil
}

// checkRoutes rejects split variants that no outgoing edge of the node would follow.
func checkRoutes(g *graph.Graph, nodeID string, variants []models.Variant) error {
	for _, variant := range variants {
		if _, _, ok := g.Next(nodeID, variant.ID); !ok {
			return fmt.Errorf("%w: no edge of split %s handles variant %q", ErrInvalidVariant, nodeID, variant.ID)
		}
	}

	return nil
}

// Get returns the test of a node with its live counters.
func (a *ABTest) Get(ctx context.Context, workflowID, nodeID string) (*models.ABTest, error) {
	return a.persistence.ABTestRepository().Get(ctx, workflowID, nodeID)
}

// RecordVariantEvent bumps one counter of a variant and re-evaluates the test.
func (a *ABTest) RecordVariantEvent(ctx context.Context, workflowID, nodeID, variantID string, event models.VariantEventType) (*models.ABTest, error) {
	switch event {
	case models.VariantEventSent, models.VariantEventOpened, models.VariantEventClicked:
	default:
		return nil, NewValidationError("RecordVariantEvent", "INVALID_EVENT", "unknown variant event "+string(event), ErrInvalidRequest)
	}

	if err := a.manager.RecordEvent(ctx, workflowID, nodeID, variantID, event); err != nil {
		return nil, err
	}

	return a.Get(ctx, workflowID, nodeID)
}

// SelectWinner closes the test with a manually chosen variant.
func (a *ABTest) SelectWinner(ctx context.Context, workflowID, nodeID, variantID string) (*models.ABTest, error) {
	if err := a.manager.SelectWinner(ctx, workflowID, nodeID, variantID); err != nil {
		return nil, err
	}

	return a.Get(ctx, workflowID, nodeID)
}

// Stop ends a running test early.
func (a *ABTest) Stop(ctx context.Context, workflowID, nodeID string) (*models.ABTest, error) {
	if err := a.manager.Stop(ctx, workflowID, nodeID); err != nil {
		return nil, err
	}

	return a.Get(ctx, workflowID, nodeID)
}

// RecordEmailEvent stores a delivery callback from the email provider. Opens and clicks of
// an email sent under an A/B test feed the counters of the variant the execution took.
// It reports whether the callback was new.
func (a *ABTest) RecordEmailEvent(ctx context.Context, event *models.EmailEvent) (bool, error) {
	if event == nil {
		return false, NewValidationError("RecordEmailEvent", "INVALID_EVENT", "email event cannot be nil", ErrInvalidRequest)
	}

	if err := a.validate.Struct(event); err != nil {
		return false, NewValidationError("RecordEmailEvent", "INVALID_EVENT", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	if event.VariantID == "" && event.ExecutionID != "" && event.NodeID != "" {
		assignment, err := a.persistence.ABTestRepository().GetAssignment(ctx, event.WorkflowID, event.NodeID, event.ExecutionID)
		if err != nil {
			return false, err
		}

		if assignment != nil {
			event.VariantID = assignment.VariantID
		}
	}

	created, err := a.persistence.ContactRepository().RecordEmailEvent(ctx, event)
	if err != nil || !created {
		return created, err
	}

	counter, ok := variantCounter(event.Type)
	if !ok || event.VariantID == "" {
		return true, nil
	}

	if err := a.manager.RecordEvent(ctx, event.WorkflowID, event.NodeID, event.VariantID, counter); err != nil {
		return true, err
	}

	return true, nil
}

func variantCounter(eventType models.EmailEventType) (models.VariantEventType, bool) {
	switch eventType {
	case models.EmailEventOpened:
		return models.VariantEventOpened, true
	case models.EmailEventClicked:
		return models.VariantEventClicked, true
	default:
		return "", false
	}
}
