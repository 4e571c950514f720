package file

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
)

const (
	abTestsDir     = "abtests"
	assignmentsDir = "assignments"
)

// ABTestRepository stores A/B tests with their counters and variant assignments.
type ABTestRepository struct {
	store *store
}

func abTestKey(workflowID, nodeID string) string {
	return workflowID + ":" + nodeID
}

// Get returns the A/B test configured on a node.
func (ar *ABTestRepository) Get(_ context.Context, workflowID, nodeID string) (*models.ABTest, error) {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	return ar.load(workflowID, nodeID)
}

func (ar *ABTestRepository) load(workflowID, nodeID string) (*models.ABTest, error) {
	var test models.ABTest

	found, err := ar.store.read(abTestsDir, abTestKey(workflowID, nodeID), &test)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: node %s in workflow %s", persistence.ErrABTestNotFound, nodeID, workflowID)
	}

	if test.Stats == nil {
		test.Stats = make(map[string]models.VariantStats)
	}

	return &test, nil
}

// Save creates or replaces the test definition. Counters already collected are kept.
func (ar *ABTestRepository) Save(_ context.Context, test *models.ABTest) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	now := time.Now().UTC()

	existing, err := ar.load(test.WorkflowID, test.NodeID)

	switch {
	case err == nil:
		test.CreatedAt = existing.CreatedAt
		if len(test.Stats) == 0 {
			test.Stats = existing.Stats
		}
	case persistence.IsABTestNotFound(err):
		test.CreatedAt = now
	default:
		return err
	}

	if test.Status == "" {
		test.Status = models.ABTestStatusRunning
	}

	test.UpdatedAt = now

	return ar.store.write(abTestsDir, abTestKey(test.WorkflowID, test.NodeID), test)
}

// Assign stores the assignment unless one exists and returns the stored assignment.
func (ar *ABTestRepository) Assign(_ context.Context, assignment *models.VariantAssignment) (*models.VariantAssignment, error) {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	key := abTestKey(assignment.WorkflowID, assignment.NodeID) + ":" + assignment.ExecutionID

	var stored models.VariantAssignment

	found, err := ar.store.read(assignmentsDir, key, &stored)
	if err != nil {
		return nil, err
	}

	if found {
		return &stored, nil
	}

	test, err := ar.load(assignment.WorkflowID, assignment.NodeID)
	if err != nil {
		return nil, err
	}

	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}

	if err := ar.store.write(assignmentsDir, key, assignment); err != nil {
		return nil, err
	}

	stats := test.Stats[assignment.VariantID]
	stats.Assigned++
	test.Stats[assignment.VariantID] = stats

	if err := ar.store.write(abTestsDir, abTestKey(test.WorkflowID, test.NodeID), test); err != nil {
		return nil, err
	}

	return assignment, nil
}

// GetAssignment returns the variant assignment of an execution at a node, or nil when unassigned.
func (ar *ABTestRepository) GetAssignment(_ context.Context, workflowID, nodeID, executionID string) (*models.VariantAssignment, error) {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	var stored models.VariantAssignment

	found, err := ar.store.read(assignmentsDir, abTestKey(workflowID, nodeID)+":"+executionID, &stored)
	if err != nil || !found {
		return nil, err
	}

	return &stored, nil
}

// Increment bumps one counter of a variant.
func (ar *ABTestRepository) Increment(_ context.Context, workflowID, nodeID, variantID string, event models.VariantEventType) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	test, err := ar.load(workflowID, nodeID)
	if err != nil {
		return err
	}

	stats := test.Stats[variantID]

	switch event {
	case models.VariantEventSent:
		stats.Sent++
	case models.VariantEventOpened:
		stats.Opened++
	case models.VariantEventClicked:
		stats.Clicked++
	default:
		return fmt.Errorf("unknown variant event %q", event)
	}

	test.Stats[variantID] = stats
	test.UpdatedAt = time.Now().UTC()

	return ar.store.write(abTestsDir, abTestKey(workflowID, nodeID), test)
}

// Complete records the final status and winner of a running test.
func (ar *ABTestRepository) Complete(_ context.Context, workflowID, nodeID, winnerVariantID string, status models.ABTestStatus) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	test, err := ar.load(workflowID, nodeID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	test.Status = status
	test.WinnerVariantID = winnerVariantID
	test.CompletedAt = &now
	test.UpdatedAt = now

	return ar.store.write(abTestsDir, abTestKey(workflowID, nodeID), test)
}
